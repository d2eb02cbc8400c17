package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// dlqMoveAttempts bounds the retry loop around the DLQ push itself; the
// move must survive a transient backend blip, not a hard outage.
const (
	dlqMoveAttempts  = 3
	dlqMoveBaseDelay = 100 * time.Millisecond
)

// moveToDLQ constructs a DLQ entry for job and pushes it onto its paired
// DLQ, trimming to the retention cap. Called once a job has exhausted its
// retries. The push is retried with backoff before the caller's
// CRITICAL-log-and-mark-dead fallback kicks in.
func (q *Queue) moveToDLQ(ctx context.Context, job Job, cause error) error {
	entry := DLQEntry{
		OriginalQueue:   job.Queue,
		OriginalJobID:   job.ID,
		OriginalName:    job.Name,
		OriginalPayload: job.Payload,
		FailureReason:   cause.Error(),
		FailedAt:        time.Now(),
		AttemptsMade:    job.AttemptsMade,
		IdempotencyKey:  job.IdempotencyKey,
		TenantID:        job.TenantID,
	}
	raw, err := entry.marshal()
	if err != nil {
		return fmt.Errorf("queue: marshaling DLQ entry: %w", err)
	}

	key := dlqKey(job.Queue)
	var lastErr error
	for attempt := 1; attempt <= dlqMoveAttempts; attempt++ {
		if attempt > 1 {
			q.log.Warn().Str("job_id", job.ID).Str("queue", job.Queue).Int("attempt", attempt).
				Err(lastErr).Msg("queue: retrying DLQ move")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(dlqMoveBaseDelay * time.Duration(1<<(attempt-2))):
			}
		}

		if err := q.rdb.LPush(ctx, key, raw).Err(); err != nil {
			lastErr = fmt.Errorf("queue: pushing DLQ entry: %w", err)
			continue
		}
		if err := q.rdb.LTrim(ctx, key, 0, dlqRetentionCap-1).Err(); err != nil {
			// The entry is on the DLQ; a failed trim only delays retention
			// enforcement until the next successful move.
			q.log.Warn().Err(err).Str("queue", job.Queue).Msg("queue: DLQ trim failed")
		}
		return nil
	}
	return lastErr
}

// RetryDLQ drains a dead-letter queue back onto a live one: every entry
// currently on queueName's DLQ is re-enqueued on targetQueue with the
// retried-from-DLQ flag and the original job id, preserving idempotency
// keys, and removed from the DLQ. Returns how many entries were replayed.
func (q *Queue) RetryDLQ(ctx context.Context, queueName, targetQueue string) (int, error) {
	cfg, ok := q.cfgs[targetQueue]
	if !ok {
		return 0, fmt.Errorf("queue: unknown target queue %q", targetQueue)
	}
	key := dlqKey(queueName)

	count := 0
	for {
		raw, err := q.rdb.RPop(ctx, key).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			q.log.Warn().Err(err).Str("queue", queueName).Msg("queue: error popping DLQ entry during retry")
			break
		}
		entry, err := unmarshalDLQEntry(raw)
		if err != nil {
			q.log.Warn().Err(err).Str("queue", queueName).Msg("queue: dropping unreadable DLQ entry on retry")
			continue
		}

		now := time.Now()
		job := Job{
			ID:             entry.OriginalJobID,
			Queue:          targetQueue,
			Name:           entry.OriginalName,
			Payload:        entry.OriginalPayload,
			IdempotencyKey: entry.IdempotencyKey,
			TenantID:       entry.TenantID,
			AttemptsMade:   0,
			MaxAttempts:    cfg.MaxAttempts,
			NextRunAt:      now,
			CreatedAt:      now,
			Status:         StatusWaiting,
			RetriedFromDLQ: true,
		}
		if err := q.storeAndReady(ctx, job); err != nil {
			q.log.Error().Err(err).Str("job_id", job.ID).Msg("queue: failed to re-enqueue DLQ entry")
			continue
		}
		count++
	}
	return count, nil
}
