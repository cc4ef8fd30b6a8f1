package services

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/events"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/models"
	"github.com/speedrun-hq/fundgraph/queue"
)

// EventExecutor runs one event payload.
type EventExecutor interface {
	Execute(ctx context.Context, payload *models.EventPayload) (events.Result, error)
}

// Processor adapts the event router to the job queue.
type Processor struct {
	executor EventExecutor
	metrics  *MetricsService
	logger   zerolog.Logger
}

func NewProcessor(executor EventExecutor, metrics *MetricsService, logger zerolog.Logger) *Processor {
	return &Processor{
		executor: executor,
		metrics:  metrics,
		logger:   logger.With().Str(logging.FieldModule, "processor").Logger(),
	}
}

// Handle is a queue.Handler. Events that can never succeed are parked
// right away, everything else goes through the retry schedule.
func (p *Processor) Handle(ctx context.Context, job *queue.Job) error {
	var payload models.EventPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		p.metrics.ObserveEvent(events.StatusFailed)
		return queue.Permanent(errors.Wrapf(err, "failed to decode job %s", job.ID))
	}

	result, err := p.executor.Execute(ctx, &payload)
	p.metrics.ObserveEvent(result.Status)
	if err == nil {
		return nil
	}

	if result.Status == events.StatusFailed {
		return queue.Permanent(err)
	}

	if job.Attempts > 0 {
		p.logger.Debug().Str(logging.FieldJob, job.ID).Int("attempts", job.Attempts).Msg("Event failed again")
	}

	return err
}
