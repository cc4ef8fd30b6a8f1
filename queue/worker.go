package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/speedrun-hq/fundgraph/logging"
)

// Process runs concurrency workers plus the delayed-job promoter and the
// stalled-job sweep until ctx is cancelled. In-flight jobs run to completion.
func (q *Queue) Process(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		return errors.Errorf("invalid concurrency %d", concurrency)
	}

	errGroup, groupCtx := errgroup.WithContext(ctx)

	for i := 0; i < concurrency; i++ {
		workerLogger := q.logger.With().Str("worker", uuid.NewString()).Logger()
		errGroup.Go(func() error {
			q.work(groupCtx, handler, workerLogger)
			return nil
		})
	}

	errGroup.Go(func() error {
		q.every(groupCtx, q.opts.PromoteInterval, q.promoteDelayed)
		return nil
	})

	errGroup.Go(func() error {
		q.every(groupCtx, q.opts.SweepInterval, q.requeueStalled)
		return nil
	})

	q.logger.Info().Int("concurrency", concurrency).Msg("Queue workers started")

	return errGroup.Wait()
}

func (q *Queue) every(ctx context.Context, interval time.Duration, fn func(context.Context) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fn(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error().Err(err).Msg("Queue maintenance failed")
			}
		}
	}
}

func (q *Queue) work(ctx context.Context, handler Handler, logger zerolog.Logger) {
	for ctx.Err() == nil {
		job, err := q.claim(ctx)
		switch {
		case err == redis.Nil:
			sleepCtx(ctx, q.opts.PollTimeout)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("Failed to claim job")
			sleepCtx(ctx, time.Second)
			continue
		}

		// a shutdown must not abort a job half way through
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.opts.JobTimeout)
		handleErr := q.runHandler(jobCtx, handler, job)
		cancel()

		jobLogger := logger.With().Str(logging.FieldJob, job.ID).Int("attempt", job.Attempts+1).Logger()
		if handleErr == nil {
			if err := q.ack(context.WithoutCancel(ctx), job.ID); err != nil {
				jobLogger.Error().Err(err).Msg("Failed to acknowledge job")
			}
			continue
		}

		if err := q.fail(context.WithoutCancel(ctx), job, handleErr, jobLogger); err != nil {
			jobLogger.Error().Err(err).Msg("Failed to record job failure")
		}
	}
}

func (q *Queue) runHandler(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

// claimScript moves the oldest pending id to processing and leases it in one
// step, so a claimed job always has a lease the sweep can expire.
var claimScript = redis.NewScript(`
local id = redis.call('RPOPLPUSH', KEYS[1], KEYS[2])
if not id then
	return false
end
redis.call('ZADD', KEYS[3], ARGV[1], id)
local jobKey = ARGV[2] .. id
redis.call('HSET', jobKey, 'state', ARGV[3])
local fields = redis.call('HMGET', jobKey, 'payload', 'attempts')
return {id, fields[1] or '', fields[2] or '0'}
`)

// reclaimScript returns processing ids without a lease to pending.
var reclaimScript = redis.NewScript(`
local moved = 0
for _, id in ipairs(redis.call('LRANGE', KEYS[1], 0, -1)) do
	if not redis.call('ZSCORE', KEYS[2], id) and redis.call('LREM', KEYS[1], 1, id) > 0 then
		redis.call('HSET', ARGV[1] .. id, 'state', ARGV[2])
		redis.call('LPUSH', KEYS[3], id)
		moved = moved + 1
	end
end
return moved
`)

// claim leases the next pending job. It returns redis.Nil when none is pending.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	ctxTimeout, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisTimeout)
	defer cancel()

	deadline := time.Now().Add(q.opts.LeaseTimeout).UnixMilli()

	res, err := claimScript.Run(
		ctxTimeout,
		q.rdb,
		[]string{q.pendingKey(), q.processingKey(), q.leasesKey()},
		deadline, q.jobKey(""), StateProcessing,
	).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to claim job")
	}
	if len(res) != 3 {
		return nil, errors.Errorf("unexpected claim reply %v", res)
	}

	attempts, _ := strconv.Atoi(res[2])

	return &Job{
		ID:       res[0],
		Payload:  []byte(res[1]),
		Attempts: attempts,
	}, nil
}

func (q *Queue) ack(ctx context.Context, id string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctxTimeout, q.processingKey(), 1, id)
	pipe.ZRem(ctxTimeout, q.leasesKey(), id)
	pipe.HSet(ctxTimeout, q.jobKey(id), "state", StateCompleted, "last_error", "")
	pipe.Expire(ctxTimeout, q.jobKey(id), q.opts.Retention)
	_, err := pipe.Exec(ctxTimeout)

	return err
}

// fail schedules a retry with exponential backoff, or parks the job once its
// attempts are exhausted or the error is permanent.
func (q *Queue) fail(ctx context.Context, job *Job, cause error, logger zerolog.Logger) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	attempts, err := q.rdb.HIncrBy(ctxTimeout, q.jobKey(job.ID), "attempts", 1).Result()
	if err != nil {
		return errors.Wrapf(err, "failed to count attempt of job %s", job.ID)
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctxTimeout, q.processingKey(), 1, job.ID)
	pipe.ZRem(ctxTimeout, q.leasesKey(), job.ID)

	if IsPermanent(cause) || int(attempts) >= q.opts.MaxAttempts {
		pipe.HSet(ctxTimeout, q.jobKey(job.ID), "state", StateFailed, "last_error", cause.Error())
		pipe.LPush(ctxTimeout, q.failedKey(), job.ID)
		logger.Error().Err(cause).Int64("attempts", attempts).Msg("Job failed permanently")
	} else {
		delay := RetryDelay(q.opts.InitialBackoff, int(attempts))
		due := time.Now().Add(delay).UnixMilli()
		pipe.HSet(ctxTimeout, q.jobKey(job.ID), "state", StateDelayed, "last_error", cause.Error())
		pipe.ZAdd(ctxTimeout, q.delayedKey(), redis.Z{Score: float64(due), Member: job.ID})
		logger.Warn().Err(cause).Dur("retry_in", delay).Msg("Job failed, scheduled for retry")
	}

	_, err = pipe.Exec(ctxTimeout)
	return err
}

// promoteDelayed moves due delayed jobs back to pending. Only the caller whose
// ZREM removed the id pushes it, so concurrent promoters never duplicate a job.
func (q *Queue) promoteDelayed(ctx context.Context) (int, error) {
	return q.moveDue(ctx, q.delayedKey(), "")
}

// requeueStalled returns jobs whose lease expired, and processing ids that
// have no lease at all, to pending.
func (q *Queue) requeueStalled(ctx context.Context) (int, error) {
	n, err := q.moveDue(ctx, q.leasesKey(), q.processingKey())
	if err != nil {
		return n, err
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	orphans, err := reclaimScript.Run(
		ctxTimeout,
		q.rdb,
		[]string{q.processingKey(), q.leasesKey(), q.pendingKey()},
		q.jobKey(""), StatePending,
	).Int()
	if err != nil {
		return n, errors.Wrap(err, "failed to reclaim unleased jobs")
	}
	n += orphans

	if n > 0 {
		q.logger.Warn().Int("jobs", n).Int("unleased", orphans).Msg("Requeued stalled jobs")
	}
	return n, nil
}

func (q *Queue) moveDue(ctx context.Context, set, fromList string) (int, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	ids, err := q.rdb.ZRangeByScore(ctxTimeout, set, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to scan %s", set)
	}

	moved := 0
	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctxTimeout, set, id).Result()
		if err != nil {
			return moved, errors.Wrapf(err, "failed to remove %s from %s", id, set)
		}
		if removed == 0 {
			continue
		}

		pipe := q.rdb.TxPipeline()
		if fromList != "" {
			pipe.LRem(ctxTimeout, fromList, 1, id)
		}
		pipe.HSet(ctxTimeout, q.jobKey(id), "state", StatePending)
		pipe.LPush(ctxTimeout, q.pendingKey(), id)
		if _, err := pipe.Exec(ctxTimeout); err != nil {
			return moved, errors.Wrapf(err, "failed to requeue %s", id)
		}
		moved++
	}

	return moved, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
