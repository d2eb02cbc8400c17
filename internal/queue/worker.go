package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// pollInterval is how often an idle worker re-polls its ready zset, and how
// often the scheduler promotes due delayed jobs. Sorted sets have no
// blocking pop primitive the way lists do, so this package polls instead.
const pollInterval = 250 * time.Millisecond

// Run starts `concurrency` worker goroutines per configured queue plus one
// scheduler goroutine that promotes due delayed jobs, and blocks until ctx
// is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for name, cfg := range q.cfgs {
		for i := 0; i < cfg.Concurrency; i++ {
			wg.Add(1)
			go func(queueName string, cfg Config, workerIdx int) {
				defer wg.Done()
				q.runWorker(ctx, queueName, cfg, workerIdx)
			}(name, cfg, i)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.runScheduler(ctx)
	}()

	wg.Wait()
	return nil
}

func (q *Queue) runWorker(ctx context.Context, queueName string, cfg Config, workerIdx int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.popAndProcessOne(ctx, queueName, cfg)
		}
	}
}

func (q *Queue) popAndProcessOne(ctx context.Context, queueName string, cfg Config) {
	result, err := q.rdb.ZPopMin(ctx, readyKey(queueName), 1).Result()
	if err != nil || len(result) == 0 {
		return
	}
	jobID, ok := result[0].Member.(string)
	if !ok {
		return
	}

	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		q.log.Warn().Err(err).Str("job_id", jobID).Str("queue", queueName).Msg("queue: dropping unreadable job")
		return
	}

	job.Status = StatusActive
	if err := q.storeJob(ctx, job); err != nil {
		q.log.Warn().Err(err).Str("job_id", jobID).Msg("queue: failed to mark job active")
	}

	q.execute(ctx, job, cfg)
}

// execute runs the registered processor under the queue's hard deadline and
// applies the retry/dead-letter policy on failure.
func (q *Queue) execute(ctx context.Context, job Job, cfg Config) {
	proc, ok := q.processor[job.Queue+":"+job.Name]
	if !ok {
		q.log.Error().Str("queue", job.Queue).Str("name", job.Name).Msg("queue: no processor registered for job")
		q.fail(ctx, job, cfg, fmt.Errorf("no processor registered for %s:%s", job.Queue, job.Name))
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
	defer cancel()

	err := runWithRecover(runCtx, job, proc)
	if err != nil {
		q.fail(ctx, job, cfg, err)
		return
	}

	job.Status = StatusCompleted
	if err := q.storeJob(ctx, job); err != nil {
		q.log.Warn().Err(err).Str("job_id", job.ID).Msg("queue: failed to persist completed job")
	}
}

// runWithRecover isolates the processor call so a panicking handler is
// counted as a failed attempt rather than crashing the worker goroutine.
func runWithRecover(ctx context.Context, job Job, proc Processor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job processor panicked: %v", r)
		}
	}()
	return proc(ctx, job)
}

func (q *Queue) fail(ctx context.Context, job Job, cfg Config, cause error) {
	job.AttemptsMade++

	if job.AttemptsMade < job.MaxAttempts {
		delay := cfg.Backoff.delay(job.AttemptsMade)
		job.Status = StatusWaiting
		job.NextRunAt = time.Now().Add(delay)
		if err := q.storeAndSchedule(ctx, job); err != nil {
			q.log.Error().Err(err).Str("job_id", job.ID).Msg("queue: failed to reschedule job after failure")
		}
		q.log.Warn().Str("job_id", job.ID).Str("queue", job.Queue).Int("attempts", job.AttemptsMade).
			Err(cause).Msg("job failed, retry scheduled")
		return
	}

	job.Status = StatusDead
	q.log.Error().Str("job_id", job.ID).Str("queue", job.Queue).Int("attempts", job.AttemptsMade).
		Err(cause).Msg("job exhausted retries, moving to DLQ")

	if err := q.moveToDLQ(ctx, job, cause); err != nil {
		// The move failed even after its own retries: the source job is
		// still marked dead so it is never re-run, but the DLQ copy may be
		// missing — a genuine loss-of-visibility condition, not a routine
		// warning.
		q.log.Error().Err(err).Str("job_id", job.ID).Str("queue", job.Queue).
			Msg("CRITICAL: job may be LOST — DLQ move failed after exhausting retries")
	}

	if err := q.storeJob(ctx, job); err != nil {
		q.log.Error().Err(err).Str("job_id", job.ID).Msg("queue: failed to persist dead job")
	}
}

// runScheduler periodically promotes delayed/retry-scheduled jobs whose
// next_run_at has elapsed from each queue's scheduled zset into its ready
// zset.
func (q *Queue) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name := range q.cfgs {
				q.promoteDue(ctx, name)
			}
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context, queueName string) {
	now := float64(time.Now().UnixNano()) / 1e6
	due, err := q.rdb.ZRangeByScore(ctx, scheduledKey(queueName), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil || len(due) == 0 {
		return
	}

	for _, jobID := range due {
		job, err := q.loadJob(ctx, jobID)
		if err != nil {
			q.rdb.ZRem(ctx, scheduledKey(queueName), jobID)
			continue
		}
		score := priorityScore(job.Priority, job.NextRunAt)
		if err := q.rdb.ZAdd(ctx, readyKey(queueName), redis.Z{Score: score, Member: jobID}).Err(); err != nil {
			continue
		}
		q.rdb.ZRem(ctx, scheduledKey(queueName), jobID)
	}
}
