package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/logging"
)

const (
	DefaultPrefix         = "fundgraph:events"
	DefaultMaxAttempts    = 10
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultLeaseTimeout   = 5 * time.Minute
	DefaultJobTimeout     = 2 * time.Minute
	DefaultRetention      = 7 * 24 * time.Hour

	defaultPollTimeout     = 250 * time.Millisecond
	defaultPromoteInterval = 250 * time.Millisecond
	defaultSweepInterval   = 30 * time.Second
	redisTimeout           = 5 * time.Second
)

// Job states stored in the job hash.
const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateDelayed    = "delayed"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// enqueueScript creates the job hash and pushes its id only when the id is new.
var enqueueScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], 'payload', ARGV[2]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'attempts', 0, 'state', 'pending', 'enqueued_at', ARGV[3])
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

type Options struct {
	Prefix         string
	MaxAttempts    int
	InitialBackoff time.Duration
	LeaseTimeout   time.Duration
	JobTimeout     time.Duration
	// Retention is how long completed job hashes are kept to deduplicate re-enqueues.
	Retention time.Duration

	// PollTimeout is how long an idle worker waits before polling pending again.
	PollTimeout     time.Duration
	PromoteInterval time.Duration
	SweepInterval   time.Duration
}

func (o *Options) setDefaults() {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = DefaultLeaseTimeout
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = DefaultJobTimeout
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = defaultPollTimeout
	}
	if o.PromoteInterval <= 0 {
		o.PromoteInterval = defaultPromoteInterval
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = defaultSweepInterval
	}
}

// Job is one unit of work handed to a Handler.
type Job struct {
	ID       string
	Payload  []byte
	Attempts int
}

// Handler processes a job. A nil error acknowledges it.
type Handler func(ctx context.Context, job *Job) error

// Stats are the sizes of the queue's lists and sets.
type Stats struct {
	Pending    int64
	Processing int64
	Delayed    int64
	Failed     int64
}

// Queue is a durable at-least-once job queue stored in Redis.
type Queue struct {
	rdb    *redis.Client
	opts   Options
	logger zerolog.Logger
}

func New(rdb *redis.Client, opts Options, logger zerolog.Logger) *Queue {
	opts.setDefaults()

	return &Queue{
		rdb:    rdb,
		opts:   opts,
		logger: logger.With().Str(logging.FieldModule, "queue").Logger(),
	}
}

func (q *Queue) jobKey(id string) string { return q.opts.Prefix + ":job:" + id }
func (q *Queue) pendingKey() string     { return q.opts.Prefix + ":pending" }
func (q *Queue) processingKey() string  { return q.opts.Prefix + ":processing" }
func (q *Queue) leasesKey() string      { return q.opts.Prefix + ":leases" }
func (q *Queue) delayedKey() string     { return q.opts.Prefix + ":delayed" }
func (q *Queue) failedKey() string      { return q.opts.Prefix + ":failed" }

// Enqueue stores payload under id. It reports false when id was already enqueued.
func (q *Queue) Enqueue(ctx context.Context, id string, payload []byte) (bool, error) {
	if id == "" {
		return false, errors.New("empty job id")
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	created, err := enqueueScript.Run(
		ctxTimeout,
		q.rdb,
		[]string{q.jobKey(id), q.pendingKey()},
		id, payload, time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return false, errors.Wrapf(err, "failed to enqueue job %s", id)
	}

	return created == 1, nil
}

// Stats returns current list and set sizes.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	pipe := q.rdb.Pipeline()
	pending := pipe.LLen(ctxTimeout, q.pendingKey())
	processing := pipe.LLen(ctxTimeout, q.processingKey())
	delayed := pipe.ZCard(ctxTimeout, q.delayedKey())
	failed := pipe.LLen(ctxTimeout, q.failedKey())

	if _, err := pipe.Exec(ctxTimeout); err != nil {
		return Stats{}, errors.Wrap(err, "failed to read queue stats")
	}

	return Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Failed:     failed.Val(),
	}, nil
}

// State returns the stored state and attempt count of a job.
func (q *Queue) State(ctx context.Context, id string) (string, int, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	fields, err := q.rdb.HMGet(ctxTimeout, q.jobKey(id), "state", "attempts").Result()
	if err != nil {
		return "", 0, errors.Wrapf(err, "failed to read job %s", id)
	}
	if fields[0] == nil {
		return "", 0, redis.Nil
	}

	state, _ := fields[0].(string)
	attempts, _ := strconv.Atoi(toString(fields[1]))

	return state, attempts, nil
}

// RetryDelay is the wait before the given (1-based) retry: initial * 2^(attempt-1).
func RetryDelay(initial time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 24 * time.Hour
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}

	return delay
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the job is parked immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}
