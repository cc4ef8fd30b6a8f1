package services

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/queue"
)

const (
	DefaultQueueConcurrency   = 5
	DefaultErrorChannelBuffer = 10
)

// JobProcessor runs queue workers until ctx is done.
type JobProcessor interface {
	Process(ctx context.Context, concurrency int, handler queue.Handler) error
}

// Indexer runs the poller, the queue workers and the metrics updater, and
// tears them down together.
type Indexer struct {
	poller      *Poller
	jobs        JobProcessor
	processor   *Processor
	metrics     *MetricsService
	concurrency int

	activeGoroutines int32
	errChannel       chan error

	cancel      context.CancelFunc
	goroutineWg sync.WaitGroup
	isShutdown  bool
	shutdownMu  sync.RWMutex

	logger zerolog.Logger
}

func NewIndexer(
	poller *Poller,
	jobs JobProcessor,
	processor *Processor,
	metrics *MetricsService,
	concurrency int,
	logger zerolog.Logger,
) *Indexer {
	if concurrency <= 0 {
		concurrency = DefaultQueueConcurrency
	}

	return &Indexer{
		poller:      poller,
		jobs:        jobs,
		processor:   processor,
		metrics:     metrics,
		concurrency: concurrency,
		errChannel:  make(chan error, DefaultErrorChannelBuffer),
		logger:      logger.With().Str(logging.FieldModule, "indexer").Logger(),
	}
}

// Start launches all components. They stop when ctx is done or on Shutdown.
func (i *Indexer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	i.cancel = cancel

	i.startGoroutine("poller", func() {
		if err := i.poller.Run(ctx); err != nil {
			i.reportError(errors.Wrap(err, "poller stopped"))
		}
	})

	i.startGoroutine("workers", func() {
		if err := i.jobs.Process(ctx, i.concurrency, i.processor.Handle); err != nil {
			i.reportError(errors.Wrap(err, "queue workers stopped"))
		}
	})

	i.startGoroutine("metrics", func() {
		i.metrics.RunUpdater(ctx, MetricsUpdateInterval)
	})

	i.logger.Info().Int("concurrency", i.concurrency).Msg("Indexer started")
}

// Errors delivers fatal component errors.
func (i *Indexer) Errors() <-chan error {
	return i.errChannel
}

// ActiveGoroutines returns the current count of active goroutines
func (i *Indexer) ActiveGoroutines() int32 {
	return atomic.LoadInt32(&i.activeGoroutines)
}

func (i *Indexer) reportError(err error) {
	select {
	case i.errChannel <- err:
	default:
		i.logger.Error().Err(err).Msg("Error channel full, dropping error")
	}
}

// Shutdown stops all components and waits for them up to timeout
func (i *Indexer) Shutdown(timeout time.Duration) error {
	i.shutdownMu.Lock()
	if i.isShutdown {
		i.shutdownMu.Unlock()
		return nil
	}
	i.isShutdown = true
	i.shutdownMu.Unlock()

	i.logger.Info().Msg("Shutting down indexer...")

	if i.cancel != nil {
		i.cancel()
	}

	done := make(chan struct{})
	go func() {
		i.goroutineWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		i.logger.Info().Msg("Indexer shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		i.logger.Error().Dur("timeout", timeout).Msg("Indexer shutdown timed out")
		return errors.Errorf("shutdown timed out after %v", timeout)
	}
}

// startGoroutine runs fn tracked by the shutdown wait group, recovering panics.
func (i *Indexer) startGoroutine(name string, fn func()) {
	i.shutdownMu.RLock()
	if i.isShutdown {
		i.shutdownMu.RUnlock()
		i.logger.Debug().Str("goroutine_name", name).Msg("Cannot start goroutine: indexer is shutdown")
		return
	}
	i.shutdownMu.RUnlock()

	i.goroutineWg.Add(1)
	atomic.AddInt32(&i.activeGoroutines, 1)

	go func() {
		defer func() {
			i.goroutineWg.Done()
			atomic.AddInt32(&i.activeGoroutines, -1)

			if r := recover(); r != nil {
				i.reportError(errors.Errorf("panic in goroutine %s: %v", name, r))
				i.logger.Error().
					Str("goroutine_name", name).
					Any("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("CRITICAL: Panic in goroutine")
			}
		}()

		fn()
	}()
}
