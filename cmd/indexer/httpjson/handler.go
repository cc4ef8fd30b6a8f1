package httpjson

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/db"
	web "github.com/speedrun-hq/fundgraph/http"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/services"
)

type handler struct {
	*gin.Engine

	deps   Dependencies
	logger zerolog.Logger
}

type Config struct {
	Dependencies

	Addr           string
	AllowedOrigins string
	LogRequests    bool

	Logger zerolog.Logger
}

type Dependencies struct {
	Database db.Database
	Health   HealthChecker
	Queue    services.QueueStatsSource
	Metrics  *services.MetricsService
}

// HealthChecker reports the indexer's lag behind the chain head.
type HealthChecker interface {
	Check(ctx context.Context) (services.HealthStatus, error)
}

const (
	requestTimeout    = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	writeGrace        = 5 * time.Second
	idleTimeout       = time.Minute
	maxHeaderBytes    = 64 << 10
)

var ErrNotFound = errors.New("not found")

func New(cfg Config) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(cfg, gin.New()),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      requestTimeout + writeGrace,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
}

func newHandler(cfg Config, router *gin.Engine) *handler {
	h := &handler{
		Engine: router,
		deps:   cfg.Dependencies,
		logger: cfg.Logger.With().Str(logging.FieldModule, "api").Logger(),
	}

	logLevel := zerolog.DebugLevel
	if cfg.LogRequests {
		logLevel = zerolog.InfoLevel
	}

	h.Use(
		gin.Recovery(),
		web.Zerolog(cfg.Logger, logLevel),
		web.Timeout(requestTimeout, cfg.Logger),
		web.CORS(cfg.AllowedOrigins),
	)

	h.NoRoute(func(c *gin.Context) {
		web.ErrNotFound(c, ErrNotFound)
	})

	h.setupAPIRoutes()
	h.setupObservabilityRoutes()

	return h
}

func (h *handler) setupAPIRoutes() {
	v1 := h.Group("/api/v1")

	h.setupAccountRoutes(v1)

	if h.deps.Queue != nil {
		v1.GET("/queue", h.getQueueStats)
	}
}

func (h *handler) setupObservabilityRoutes() {
	h.GET("/health", h.getHealthCheck)

	if h.deps.Metrics != nil {
		h.GET("/metrics", gin.WrapH(h.deps.Metrics.GetHandler()))
	}
}

// getHealthCheck answers 503 while the indexer lags behind the chain head.
func (h *handler) getHealthCheck(c *gin.Context) {
	status, err := h.deps.Health.Check(c.Request.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Health check failed")
		web.ErrServiceUnavailable(c, err)
		return
	}

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, status)
}

func (h *handler) getQueueStats(c *gin.Context) {
	stats, err := h.deps.Queue.Stats(c.Request.Context())
	if err != nil {
		web.ErrInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pending":    stats.Pending,
		"processing": stats.Processing,
		"delayed":    stats.Delayed,
		"failed":     stats.Failed,
	})
}
