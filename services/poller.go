package services

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/events"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/models"
)

// Timeout configurations
const (
	DefaultDBTimeout  = 10 * time.Second
	DefaultRPCTimeout = 15 * time.Second
	FilterLogsTimeout = 3 * time.Minute

	DefaultChunkSize       = 1000
	DefaultPollingInterval = 5 * time.Second

	blockTimeCacheSize = 4096
	cursorMaxRetries   = 5
)

// ErrTickInFlight is returned by Tick when another tick is running.
var ErrTickInFlight = errors.New("poller tick already in flight")

// ChainReader is the subset of the chain client used by the poller.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// CursorStore persists the last block whose logs were enqueued.
type CursorStore interface {
	CursorReader
	UpdateCursor(ctx context.Context, blockNumber uint64) error
}

// Enqueuer idempotently adds a job.
type Enqueuer interface {
	Enqueue(ctx context.Context, id string, payload []byte) (bool, error)
}

type PollerConfig struct {
	Contracts       []common.Address
	ChunkSize       uint64
	Confirmations   uint64
	PollingInterval time.Duration
	StartBlock      uint64
}

// Poller turns confirmed log ranges into queue jobs.
type Poller struct {
	chain    ChainReader
	cursors  CursorStore
	decoder  *events.Decoder
	registry *events.Registry
	queue    Enqueuer
	metrics  *MetricsService
	cfg      PollerConfig

	blockTimes *lru.Cache[uint64, time.Time]
	newBackOff func() backoff.BackOff

	tickMu  sync.Mutex
	indexed atomic.Uint64

	logger zerolog.Logger
}

func NewPoller(
	chain ChainReader,
	cursors CursorStore,
	decoder *events.Decoder,
	registry *events.Registry,
	q Enqueuer,
	metrics *MetricsService,
	cfg PollerConfig,
	logger zerolog.Logger,
) (*Poller, error) {
	if len(cfg.Contracts) == 0 {
		return nil, errors.New("poller needs at least one contract address")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = DefaultPollingInterval
	}

	blockTimes, err := lru.New[uint64, time.Time](blockTimeCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create block time cache")
	}

	return &Poller{
		chain:      chain,
		cursors:    cursors,
		decoder:    decoder,
		registry:   registry,
		queue:      q,
		metrics:    metrics,
		cfg:        cfg,
		blockTimes: blockTimes,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cursorMaxRetries)
		},
		logger: logger.With().Str(logging.FieldModule, "poller").Logger(),
	}, nil
}

// LastIndexedBlock returns the cursor as of the last tick.
func (p *Poller) LastIndexedBlock() uint64 {
	return p.indexed.Load()
}

// Run ticks until ctx is done. A full chunk reschedules immediately,
// anything else waits for the polling interval.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().
		Uint64("chunk_size", p.cfg.ChunkSize).
		Uint64("confirmations", p.cfg.Confirmations).
		Dur("interval", p.cfg.PollingInterval).
		Msg("Starting poller")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Stopped poller")
			return nil
		case <-timer.C:
		}

		full, err := p.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.metrics.IncPollErrors()
			p.logger.Warn().Err(err).Msg("Poller tick failed")
		}

		delay := p.cfg.PollingInterval
		if full && err == nil {
			delay = 0
		}
		timer.Reset(delay)
	}
}

// Tick processes one chunk of confirmed blocks. It reports whether the chunk
// was full, meaning more confirmed blocks are likely waiting.
func (p *Poller) Tick(ctx context.Context) (bool, error) {
	if !p.tickMu.TryLock() {
		return false, ErrTickInFlight
	}
	defer p.tickMu.Unlock()

	cursor, err := p.loadCursor(ctx)
	if err != nil {
		return false, err
	}

	rpcCtx, cancel := context.WithTimeout(ctx, DefaultRPCTimeout)
	latest, err := p.chain.BlockNumber(rpcCtx)
	cancel()
	if err != nil {
		return false, errors.Wrap(err, "failed to get latest block")
	}
	p.metrics.SetChainHead(latest)

	toBlock := p.nextBlock(cursor, latest)
	if toBlock <= cursor {
		p.logger.Debug().Uint64("cursor", cursor).Uint64("latest", latest).Msg("No confirmed blocks to fetch")
		p.metrics.MarkPoll(time.Now())
		return false, nil
	}

	logger := p.logger.With().Uint64("from", cursor+1).Uint64("to", toBlock).Logger()

	filterCtx, cancel := context.WithTimeout(ctx, FilterLogsTimeout)
	logs, err := p.chain.FilterLogs(filterCtx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(cursor + 1),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: p.cfg.Contracts,
	})
	cancel()
	if err != nil {
		return false, errors.Wrapf(err, "failed to fetch logs for range %d-%d", cursor+1, toBlock)
	}

	enqueued, err := p.enqueueLogs(ctx, logs, logger)
	if err != nil {
		return false, err
	}

	if err := p.saveCursor(ctx, toBlock); err != nil {
		return false, err
	}

	logger.Info().Int("logs", len(logs)).Int("enqueued", enqueued).Msg("Processed block range")
	p.metrics.AddEnqueued(enqueued)
	p.metrics.MarkPoll(time.Now())

	return toBlock == cursor+p.cfg.ChunkSize, nil
}

// nextBlock is min(cursor+chunk, latest-confirmations), with the safe head
// clamped at zero.
func (p *Poller) nextBlock(cursor, latest uint64) uint64 {
	var safeHead uint64
	if latest > p.cfg.Confirmations {
		safeHead = latest - p.cfg.Confirmations
	}

	toBlock := cursor + p.cfg.ChunkSize
	if safeHead < toBlock {
		toBlock = safeHead
	}
	return toBlock
}

func (p *Poller) enqueueLogs(ctx context.Context, logs []types.Log, logger zerolog.Logger) (int, error) {
	enqueued := 0

	for _, vLog := range logs {
		if ctx.Err() != nil {
			return enqueued, ctx.Err()
		}

		if vLog.Removed {
			continue
		}

		payload, err := p.decoder.Decode(vLog, time.Time{})
		if errors.Is(err, events.ErrUnknownEvent) {
			logger.Debug().Err(err).Str(logging.FieldTx, vLog.TxHash.Hex()).Msg("Skipping unknown log")
			continue
		}
		if err != nil {
			return enqueued, errors.Wrapf(err, "failed to decode log %s/%d", vLog.TxHash.Hex(), vLog.Index)
		}

		if !p.registry.Has(payload.EventSignature) {
			continue
		}

		ts, err := p.blockTime(ctx, vLog.BlockNumber)
		if err != nil {
			return enqueued, err
		}
		payload.BlockTimestamp = ts

		created, err := p.enqueue(ctx, payload)
		if err != nil {
			return enqueued, err
		}
		if created {
			enqueued++
		}
	}

	return enqueued, nil
}

func (p *Poller) enqueue(ctx context.Context, payload *models.EventPayload) (bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, errors.Wrap(err, "failed to encode job payload")
	}

	key := payload.JobKey()
	created, err := p.queue.Enqueue(ctx, key, data)
	if err != nil {
		return false, errors.Wrapf(err, "failed to enqueue %s", key)
	}

	if !created {
		p.logger.Debug().Str(logging.FieldJob, key).Msg("Job already enqueued")
	}

	return created, nil
}

func (p *Poller) blockTime(ctx context.Context, block uint64) (time.Time, error) {
	if ts, ok := p.blockTimes.Get(block); ok {
		return ts, nil
	}

	rpcCtx, cancel := context.WithTimeout(ctx, DefaultRPCTimeout)
	header, err := p.chain.HeaderByNumber(rpcCtx, new(big.Int).SetUint64(block))
	cancel()
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to get header of block %d", block)
	}

	ts := time.Unix(int64(header.Time), 0).UTC()
	p.blockTimes.Add(block, ts)
	return ts, nil
}

func (p *Poller) loadCursor(ctx context.Context) (uint64, error) {
	dbCtx, cancel := context.WithTimeout(ctx, DefaultDBTimeout)
	defer cancel()

	cursor, ok, err := p.cursors.GetCursor(dbCtx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read cursor")
	}

	if !ok {
		if p.cfg.StartBlock > 0 {
			cursor = p.cfg.StartBlock - 1
		}
		p.logger.Info().Uint64("cursor", cursor).Msg("No cursor stored, starting from configured block")
	}

	p.indexed.Store(cursor)
	return cursor, nil
}

func (p *Poller) saveCursor(ctx context.Context, block uint64) error {
	op := func() error {
		dbCtx, cancel := context.WithTimeout(ctx, DefaultDBTimeout)
		defer cancel()
		return p.cursors.UpdateCursor(dbCtx, block)
	}

	notify := func(err error, wait time.Duration) {
		p.logger.Warn().Err(err).Dur("retry_in", wait).Uint64(logging.FieldBlock, block).Msg("Failed to persist cursor")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(p.newBackOff(), ctx), notify); err != nil {
		return errors.Wrapf(err, "failed to persist cursor %d", block)
	}

	p.indexed.Store(block)
	p.metrics.SetCursor(block)
	return nil
}
