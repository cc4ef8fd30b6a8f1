package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	defaultPollingInterval      = 5000 * time.Millisecond
	defaultChunkSize            = 1000
	defaultConfirmations        = 1
	defaultQueueConcurrency     = 5
	defaultHealthBlockThreshold = 10
	defaultPort                 = "8080"
	defaultDatabaseURL          = "postgresql://localhost:5432/fundgraph?sslmode=disable"
	defaultRedisURL             = "redis://localhost:6379/0"
	defaultIPFSGatewayURL       = "https://drips.mypinata.cloud"
	defaultNetwork              = "mainnet"
)

// RPCEndpoint is a JSON-RPC URL with an optional bearer token.
type RPCEndpoint struct {
	URL         string
	AccessToken string
}

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port string

	// Storage
	DatabaseURL string
	RedisURL    string

	// Chain
	Network   Network
	Endpoints []RPCEndpoint

	// Poller
	PollingInterval time.Duration
	ChunkSize       uint64
	Confirmations   uint64
	StartBlock      uint64

	// Processing
	QueueConcurrency         int
	CacheInvalidationURL     string
	VisibilityThresholdBlock uint64
	IPFSGatewayURL           string

	// Health
	HealthBlockThreshold uint64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	network, err := NetworkByName(getEnvOrDefault("NETWORK", defaultNetwork))
	if err != nil {
		return nil, err
	}

	network, err = applyContractOverrides(network)
	if err != nil {
		return nil, err
	}

	endpoints, err := resolveEndpoints()
	if err != nil {
		return nil, err
	}

	pollingMs, err := getUintEnv("POLLING_INTERVAL", uint64(defaultPollingInterval/time.Millisecond))
	if err != nil {
		return nil, err
	}

	chunkSize, err := getUintEnv("CHUNK_SIZE", defaultChunkSize)
	if err != nil {
		return nil, err
	}

	confirmations, err := getUintEnv("CONFIRMATIONS", defaultConfirmations)
	if err != nil {
		return nil, err
	}

	startBlock, err := getUintEnv("START_BLOCK", network.StartBlock)
	if err != nil {
		return nil, err
	}

	concurrency, err := getUintEnv("QUEUE_CONCURRENCY", defaultQueueConcurrency)
	if err != nil {
		return nil, err
	}

	visibilityThreshold, err := getUintEnv("VISIBILITY_THRESHOLD_BLOCK_NUMBER", 0)
	if err != nil {
		return nil, err
	}

	healthThreshold, err := getUintEnv("HEALTH_BLOCK_THRESHOLD", defaultHealthBlockThreshold)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                     getEnvOrDefault("PORT", defaultPort),
		DatabaseURL:              getEnvOrDefault("DATABASE_URL", defaultDatabaseURL),
		RedisURL:                 getEnvOrDefault("REDIS_URL", defaultRedisURL),
		Network:                  network,
		Endpoints:                endpoints,
		PollingInterval:          time.Duration(pollingMs) * time.Millisecond,
		ChunkSize:                chunkSize,
		Confirmations:            confirmations,
		StartBlock:               startBlock,
		QueueConcurrency:         int(concurrency),
		CacheInvalidationURL:     os.Getenv("CACHE_INVALIDATION_ENDPOINT"),
		VisibilityThresholdBlock: visibilityThreshold,
		IPFSGatewayURL:           getEnvOrDefault("IPFS_GATEWAY_URL", defaultIPFSGatewayURL),
		HealthBlockThreshold:     healthThreshold,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants the rest of the application relies on.
func (c *Config) Validate() error {
	switch {
	case len(c.Endpoints) == 0:
		return errors.New("at least one RPC endpoint is required (PRIMARY_RPC_URL)")
	case c.ChunkSize == 0:
		return errors.New("CHUNK_SIZE must be positive")
	case c.PollingInterval <= 0:
		return errors.New("POLLING_INTERVAL must be positive")
	case c.QueueConcurrency <= 0:
		return errors.New("QUEUE_CONCURRENCY must be positive")
	case c.HealthBlockThreshold == 0:
		return errors.New("HEALTH_BLOCK_THRESHOLD must be positive")
	case c.HealthBlockThreshold <= c.Confirmations:
		// the cursor trails the head by at least Confirmations blocks
		return errors.Errorf(
			"HEALTH_BLOCK_THRESHOLD (%d) must exceed CONFIRMATIONS (%d)",
			c.HealthBlockThreshold, c.Confirmations,
		)
	}

	return nil
}

func resolveEndpoints() ([]RPCEndpoint, error) {
	primary := os.Getenv("PRIMARY_RPC_URL")
	if primary == "" {
		return nil, errors.New("PRIMARY_RPC_URL is required")
	}

	endpoints := []RPCEndpoint{{URL: primary, AccessToken: os.Getenv("PRIMARY_RPC_ACCESS_TOKEN")}}

	fallbacks := splitList(os.Getenv("FALLBACK_RPC_URLS"))
	tokens := strings.Split(os.Getenv("FALLBACK_RPC_ACCESS_TOKENS"), ",")

	for i, url := range fallbacks {
		endpoint := RPCEndpoint{URL: url}
		if i < len(tokens) {
			endpoint.AccessToken = strings.TrimSpace(tokens[i])
		}
		endpoints = append(endpoints, endpoint)
	}

	return endpoints, nil
}

func applyContractOverrides(n Network) (Network, error) {
	overrides := map[string]*common.Address{
		"DRIPS_ADDRESS":                   &n.Contracts.Drips,
		"NFT_DRIVER_ADDRESS":              &n.Contracts.NFTDriver,
		"REPO_DRIVER_ADDRESS":             &n.Contracts.RepoDriver,
		"IMMUTABLE_SPLITS_DRIVER_ADDRESS": &n.Contracts.ImmutableSplitsDriver,
	}

	for key, target := range overrides {
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		if !common.IsHexAddress(value) {
			return n, errors.Errorf("%s is not a valid address: %q", key, value)
		}
		*target = common.HexToAddress(value)
	}

	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getUintEnv(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}

	return parsed, nil
}
