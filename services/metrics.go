package services

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/events"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/queue"
)

const MetricsUpdateInterval = 15 * time.Second

// QueueStatsSource reports queue sizes.
type QueueStatsSource interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// MetricsService handles Prometheus metrics collection and exposition
type MetricsService struct {
	cursorBlock     prometheus.Gauge
	chainHeadBlock  prometheus.Gauge
	indexerHealthy  prometheus.Gauge
	queueJobs       *prometheus.GaugeVec
	jobsEnqueued    prometheus.Counter
	eventsProcessed *prometheus.CounterVec
	pollErrors      prometheus.Counter
	lastPoll        prometheus.Gauge

	queue  QueueStatsSource
	health *Health

	logger   zerolog.Logger
	registry *prometheus.Registry
}

// NewMetricsService creates a new metrics service
func NewMetricsService(logger zerolog.Logger) *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		cursorBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fundgraph_cursor_block",
			Help: "Last block whose logs were enqueued",
		}),
		chainHeadBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fundgraph_chain_head_block",
			Help: "Latest block reported by the chain client",
		}),
		indexerHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fundgraph_indexer_healthy",
			Help: "Whether the indexer is within the block lag threshold (1 = healthy, 0 = unhealthy)",
		}),
		queueJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fundgraph_queue_jobs",
			Help: "Number of jobs per queue state",
		}, []string{"state"}),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fundgraph_jobs_enqueued_total",
			Help: "Total number of new jobs enqueued by the poller",
		}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fundgraph_events_processed_total",
			Help: "Total number of executed events per outcome",
		}, []string{"status"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fundgraph_poll_errors_total",
			Help: "Total number of failed poller ticks",
		}),
		lastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fundgraph_last_poll_timestamp",
			Help: "Timestamp of the last successful poller tick",
		}),
		logger:   logger.With().Str(logging.FieldModule, "metrics").Logger(),
		registry: registry,
	}

	registry.MustRegister(
		m.cursorBlock,
		m.chainHeadBlock,
		m.indexerHealthy,
		m.queueJobs,
		m.jobsEnqueued,
		m.eventsProcessed,
		m.pollErrors,
		m.lastPoll,
	)

	return m
}

// RegisterQueue makes UpdateMetrics report the sizes of q.
func (m *MetricsService) RegisterQueue(q QueueStatsSource) {
	m.queue = q
}

// RegisterHealth makes UpdateMetrics report the health signal.
func (m *MetricsService) RegisterHealth(h *Health) {
	m.health = h
}

func (m *MetricsService) SetCursor(block uint64)    { m.cursorBlock.Set(float64(block)) }
func (m *MetricsService) SetChainHead(block uint64) { m.chainHeadBlock.Set(float64(block)) }
func (m *MetricsService) AddEnqueued(n int)         { m.jobsEnqueued.Add(float64(n)) }
func (m *MetricsService) IncPollErrors()            { m.pollErrors.Inc() }
func (m *MetricsService) MarkPoll(t time.Time)      { m.lastPoll.Set(float64(t.Unix())) }

func (m *MetricsService) ObserveEvent(status events.Status) {
	m.eventsProcessed.WithLabelValues(string(status)).Inc()
}

// UpdateMetrics collects gauges from the registered queue and health check
func (m *MetricsService) UpdateMetrics(ctx context.Context) {
	if m.queue != nil {
		stats, err := m.queue.Stats(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Failed to read queue stats")
		} else {
			m.queueJobs.WithLabelValues(queue.StatePending).Set(float64(stats.Pending))
			m.queueJobs.WithLabelValues(queue.StateProcessing).Set(float64(stats.Processing))
			m.queueJobs.WithLabelValues(queue.StateDelayed).Set(float64(stats.Delayed))
			m.queueJobs.WithLabelValues(queue.StateFailed).Set(float64(stats.Failed))
		}
	}

	if m.health != nil {
		status, err := m.health.Check(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Failed to check indexer health")
			m.indexerHealthy.Set(0)
			return
		}
		m.SetChainHead(status.LatestBlock)
		if status.Healthy {
			m.indexerHealthy.Set(1)
		} else {
			m.indexerHealthy.Set(0)
		}
	}
}

// RunUpdater periodically updates metrics until ctx is done
func (m *MetricsService) RunUpdater(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info().Msg("Started Prometheus metrics updater")

	for {
		select {
		case <-ticker.C:
			m.UpdateMetrics(ctx)
		case <-ctx.Done():
			m.logger.Info().Msg("Stopped Prometheus metrics updater")
			return
		}
	}
}

// GetHandler returns the Prometheus metrics HTTP handler
func (m *MetricsService) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}
