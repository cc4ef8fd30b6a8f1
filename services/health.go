package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/logging"
)

const DefaultHealthBlockThreshold = 10

// BlockNumberReader reads the latest chain block.
type BlockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// CursorReader reads the persisted poller cursor.
type CursorReader interface {
	GetCursor(ctx context.Context) (uint64, bool, error)
}

// HealthStatus is the indexer's health signal.
type HealthStatus struct {
	Healthy      bool   `json:"healthy"`
	LatestBlock  uint64 `json:"latestBlock"`
	IndexedBlock uint64 `json:"indexedBlock"`
	Lag          uint64 `json:"lag"`
}

// Health compares the chain head to the indexed cursor.
type Health struct {
	chain     BlockNumberReader
	cursor    CursorReader
	threshold uint64
	logger    zerolog.Logger
}

func NewHealth(chain BlockNumberReader, cursor CursorReader, threshold uint64, logger zerolog.Logger) *Health {
	if threshold == 0 {
		threshold = DefaultHealthBlockThreshold
	}
	return &Health{
		chain:     chain,
		cursor:    cursor,
		threshold: threshold,
		logger:    logger.With().Str(logging.FieldModule, "health").Logger(),
	}
}

// IsHealthy reports whether indexed lags latest by less than threshold blocks.
func IsHealthy(latest, indexed, threshold uint64) bool {
	if indexed >= latest {
		return true
	}
	return latest-indexed < threshold
}

func (h *Health) Check(ctx context.Context) (HealthStatus, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, DefaultRPCTimeout)
	latest, err := h.chain.BlockNumber(rpcCtx)
	cancel()
	if err != nil {
		return HealthStatus{}, errors.Wrap(err, "failed to read latest block")
	}

	dbCtx, cancel := context.WithTimeout(ctx, DefaultDBTimeout)
	indexed, _, err := h.cursor.GetCursor(dbCtx)
	cancel()
	if err != nil {
		return HealthStatus{}, errors.Wrap(err, "failed to read cursor")
	}

	status := HealthStatus{
		Healthy:      IsHealthy(latest, indexed, h.threshold),
		LatestBlock:  latest,
		IndexedBlock: indexed,
	}
	if latest > indexed {
		status.Lag = latest - indexed
	}

	if !status.Healthy {
		h.logger.Debug().
			Uint64("latest", latest).
			Uint64("indexed", indexed).
			Uint64("threshold", h.threshold).
			Msg("Indexer lagging behind chain head")
	}

	return status, nil
}
