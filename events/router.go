package events

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/db"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/models"
)

// AfterHandler is notified once a handler's transaction committed.
type AfterHandler interface {
	AfterHandle(ctx context.Context, accounts []accountid.AccountID, blockTimestamp time.Time)
}

// Result is the tagged outcome of Router.Execute.
type Result struct {
	Status   Status
	Err      error
	Accounts []accountid.AccountID
}

// Router executes events against their registered handlers.
type Router struct {
	db       db.Database
	registry *Registry
	notifier AfterHandler
	logger   zerolog.Logger
}

func NewRouter(database db.Database, registry *Registry, notifier AfterHandler, logger zerolog.Logger) *Router {
	return &Router{
		db:       database,
		registry: registry,
		notifier: notifier,
		logger:   logger.With().Str(logging.FieldModule, "router").Logger(),
	}
}

// Execute runs the handler for payload in one transaction.
// The returned error is non-nil iff the job should not be acknowledged.
func (r *Router) Execute(ctx context.Context, payload *models.EventPayload) (Result, error) {
	logger := r.logger.With().
		Str(logging.FieldEvent, payload.EventSignature).
		Uint64(logging.FieldBlock, payload.BlockNumber).
		Str(logging.FieldTx, payload.TransactionHash).
		Uint(logging.FieldLog, payload.LogIndex).
		Logger()

	result := r.execute(ctx, payload, logger)

	switch result.Status {
	case StatusOK:
		logger.Debug().Msg("Event processed")
		if r.notifier != nil && len(result.Accounts) > 0 {
			r.notifier.AfterHandle(ctx, result.Accounts, payload.BlockTimestamp)
		}
		return result, nil
	case StatusRejected:
		logger.Warn().Err(result.Err).Msg("Event rejected")
		return result, nil
	case StatusFatal:
		logger.Error().Err(result.Err).Msg("Invariant violated while processing event")
	case StatusFailed:
		logger.Error().Err(result.Err).Msg("Event cannot be processed")
	default:
		logger.Warn().Err(result.Err).Msg("Event processing will be retried")
	}

	return result, result.Err
}

func (r *Router) execute(ctx context.Context, payload *models.EventPayload, logger zerolog.Logger) Result {
	handler, ok := r.registry.Lookup(payload.EventSignature)
	if !ok {
		err := errors.Wrap(ErrNoHandler, payload.EventSignature)
		return Result{Status: StatusFailed, Err: err}
	}

	args, err := payload.DecodeArgs()
	if err != nil {
		return Result{Status: StatusFailed, Err: malformed(err)}
	}

	req := &Request{Payload: payload, Args: args, Logger: logger}

	var outcome Outcome
	err = r.db.WithTx(ctx, func(tx db.Tx) (txErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				txErr = invariant(errors.Errorf("handler panicked: %v", rec))
				logger.Error().Str("stack", string(debug.Stack())).Msg("Recovered handler panic")
			}
		}()

		outcome, txErr = handler.Handle(ctx, tx, req)
		return txErr
	})

	if err != nil {
		return Result{Status: classify(err), Err: err}
	}

	if outcome.Rejected != nil {
		return Result{Status: StatusRejected, Err: outcome.Rejected}
	}

	if outcome.Pending != nil {
		return Result{Status: StatusRetry, Err: outcome.Pending, Accounts: outcome.Accounts}
	}

	return Result{Status: StatusOK, Accounts: outcome.Accounts}
}
