package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/clients/evm"
	"github.com/speedrun-hq/fundgraph/clients/ipfs"
	"github.com/speedrun-hq/fundgraph/cmd/indexer/httpjson"
	"github.com/speedrun-hq/fundgraph/config"
	"github.com/speedrun-hq/fundgraph/db"
	"github.com/speedrun-hq/fundgraph/events"
	"github.com/speedrun-hq/fundgraph/http"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/queue"
	"github.com/speedrun-hq/fundgraph/services"
)

const (
	shutdownTimeout = 30 * time.Second
	startupTimeout  = time.Minute
)

func main() {
	flags := parseFlags()
	log := logging.New(os.Stdout, flags.LogLevel, flags.LogJSON)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log.Info().
		Str("network", cfg.Network.Name).
		Uint64(logging.FieldChain, cfg.Network.ChainID).
		Int("endpoints", len(cfg.Endpoints)).
		Msg("Loaded configuration")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startupCtx, startupCancel := context.WithTimeout(ctx, startupTimeout)
	defer startupCancel()

	// Initialize database
	log.Info().Msg("Initializing database connection")
	database, err := db.NewPostgresDB(startupCtx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	log.Info().Msg("Database connection established successfully")

	// Initialize redis backed job queue
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse redis URL")
	}

	rdb := redis.NewClient(redisOpts)
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close redis client")
		}
	}()

	if err := rdb.Ping(startupCtx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}

	jobs := queue.New(rdb, queue.Options{}, log)

	// Initialize chain client
	chain, err := evm.New(startupCtx, cfg.Endpoints, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize chain client")
	}
	defer chain.Close()

	if chain.ChainID() != cfg.Network.ChainID {
		log.Fatal().
			Uint64("expected", cfg.Network.ChainID).
			Uint64("actual", chain.ChainID()).
			Msg("RPC endpoints serve an unexpected chain")
	}

	indexer, err := createIndexer(cfg, chain, database, jobs, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create indexer")
	}

	indexer.Start(ctx)
	log.Info().Msg("Started indexer")

	// Create and start the server
	server := httpjson.New(httpjson.Config{
		Addr:           fmt.Sprintf(":%s", cfg.Port),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		Logger:         log,
		LogRequests:    true,
		Dependencies: httpjson.Dependencies{
			Database: database,
			Health:   indexer.health,
			Queue:    jobs,
			Metrics:  indexer.metrics,
		},
	})

	serverShutdown, serverErrs := http.StartAsync(server, log)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("Shutdown signal received, cleaning up services...")
	case err := <-indexer.Errors():
		log.Error().Err(err).Msg("Indexer component failed, shutting down")
	case err := <-serverErrs:
		log.Error().Err(err).Msg("HTTP server failed, shutting down")
	}

	// Shutdown HTTP server first
	serverShutdown(context.Background())

	if err := indexer.Shutdown(shutdownTimeout); err != nil {
		log.Error().Err(errors.Wrap(err, "failed to shutdown indexer")).Msg("Error during shutdown")
		return
	}

	if err := indexer.notifier.Wait(shutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("Abandoning cache invalidation notifications")
	}

	log.Info().Msg("All services shut down successfully")
}

type app struct {
	*services.Indexer
	health   *services.Health
	metrics  *services.MetricsService
	notifier *events.Notifier
}

// createIndexer wires the event handlers, poller and queue workers.
func createIndexer(
	cfg *config.Config,
	chain *evm.Client,
	database db.Database,
	jobs *queue.Queue,
	logger zerolog.Logger,
) (*app, error) {
	contracts := cfg.Network.Contracts

	splitsReader, err := events.NewDripsSplitsReader(chain, contracts.Drips)
	if err != nil {
		return nil, err
	}

	var (
		documents  = ipfs.New(cfg.IPFSGatewayURL, ipfs.DefaultTimeout, logger)
		reconciler = events.NewReconciler(splitsReader, logger)
		registry   = events.NewDefaultRegistry(documents, reconciler, cfg.VisibilityThresholdBlock)
		notifier   = events.NewNotifier(cfg.CacheInvalidationURL, logger)
		router     = events.NewRouter(database, registry, notifier, logger)
	)

	decoder, err := events.NewDecoder(contracts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create event decoder")
	}

	metrics := services.NewMetricsService(logger)
	health := services.NewHealth(chain, database, cfg.HealthBlockThreshold, logger)
	metrics.RegisterQueue(jobs)
	metrics.RegisterHealth(health)

	poller, err := services.NewPoller(
		chain,
		database,
		decoder,
		registry,
		jobs,
		metrics,
		services.PollerConfig{
			Contracts:       contracts.Addresses(),
			ChunkSize:       cfg.ChunkSize,
			Confirmations:   cfg.Confirmations,
			PollingInterval: cfg.PollingInterval,
			StartBlock:      cfg.StartBlock,
		},
		logger,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create poller")
	}

	processor := services.NewProcessor(router, metrics, logger)
	indexer := services.NewIndexer(poller, jobs, processor, metrics, cfg.QueueConcurrency, logger)

	return &app{Indexer: indexer, health: health, metrics: metrics, notifier: notifier}, nil
}

type flagSet struct {
	LogJSON  bool
	LogLevel zerolog.Level
}

func parseFlags() flagSet {
	var (
		logJSON  bool
		logLevel string
	)

	flag.BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")
	flag.StringVar(&logLevel, "log-level", "info", "Set log level (trace, debug, info, warn, error)")
	flag.Parse()

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return flagSet{LogJSON: logJSON, LogLevel: level}
}
