package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightcampus/schoolcore/pkg/logger"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfgs := DefaultConfigs()
	// Tighten retry delays so tests drive the state machine synchronously.
	for name, cfg := range cfgs {
		cfg.Backoff = BackoffConfig{Kind: BackoffFixed, BaseDelay: time.Millisecond}
		cfg.JobTimeout = 200 * time.Millisecond
		cfgs[name] = cfg
	}
	return New(rdb, cfgs, logger.New("queue-test", "test")), mr
}

// drainOne pops and processes a single ready job, bypassing the polling
// worker loop so tests stay deterministic.
func drainOne(t *testing.T, q *Queue, queueName string) {
	t.Helper()
	q.popAndProcessOne(context.Background(), queueName, q.cfgs[queueName])
}

type testPayload struct {
	StudentID string `json:"student_id"`
	Note      string `json:"note"`
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	payload := testPayload{StudentID: "s-1", Note: "term fees reminder"}
	var got testPayload
	q.RegisterProcessor("notifications", "send", func(ctx context.Context, job Job) error {
		return json.Unmarshal(job.Payload, &got)
	})

	res, err := q.Enqueue(ctx, "notifications", "send", payload, EnqueueOptions{})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	require.NotEmpty(t, res.JobID)

	drainOne(t, q, "notifications")

	assert.Equal(t, payload, got)
	job, err := q.loadJob(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestEnqueueIdempotencyKey(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	opts := EnqueueOptions{IdempotencyKey: "attendance-2026-04-01"}
	first, err := q.Enqueue(ctx, "attendance", "rollup", testPayload{StudentID: "s-1"}, opts)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := q.Enqueue(ctx, "attendance", "rollup", testPayload{StudentID: "s-1"}, opts)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.JobID, second.JobID)

	// Exactly one job is on the ready queue, not two.
	n, err := q.rdb.ZCard(ctx, readyKey("attendance")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEnqueueAutoIdempotencyFromPayload(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	// Identical payloads without explicit keys collapse to one job.
	first, err := q.Enqueue(ctx, "reports", "monthly", testPayload{StudentID: "s-1"}, EnqueueOptions{})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "reports", "monthly", testPayload{StudentID: "s-1"}, EnqueueOptions{})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.JobID, second.JobID)

	// A different payload is a different job.
	third, err := q.Enqueue(ctx, "reports", "monthly", testPayload{StudentID: "s-2"}, EnqueueOptions{})
	require.NoError(t, err)
	assert.False(t, third.Duplicate)
}

func TestEnqueueUnknownQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.Enqueue(context.Background(), "nonexistent", "job", nil, EnqueueOptions{})
	assert.Error(t, err)
}

func TestEnqueueWithoutBackendFailsFast(t *testing.T) {
	q := New(nil, DefaultConfigs(), logger.New("queue-test", "test"))
	_, err := q.Enqueue(context.Background(), "notifications", "send", nil, EnqueueOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue")
	assert.Equal(t, "unavailable", q.Health(context.Background()).Status)
}

func TestFailedJobRetriesThenDeadLetters(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var attempts atomic.Int32
	q.RegisterProcessor("notifications", "send", func(ctx context.Context, job Job) error {
		attempts.Add(1)
		return errors.New("smtp unreachable")
	})

	res, err := q.Enqueue(ctx, "notifications", "send", testPayload{StudentID: "s-1"}, EnqueueOptions{
		IdempotencyKey: "dlq-test", TenantID: "t-1",
	})
	require.NoError(t, err)

	maxAttempts := q.cfgs["notifications"].MaxAttempts
	for i := 0; i < maxAttempts; i++ {
		// Each failed attempt lands on the scheduled zset with a short
		// backoff; promote it and process again.
		drainOne(t, q, "notifications")
		q.promoteDue(ctx, "notifications")
		time.Sleep(5 * time.Millisecond)
		q.promoteDue(ctx, "notifications")
	}

	assert.Equal(t, int32(maxAttempts), attempts.Load())

	job, err := q.loadJob(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusDead, job.Status)
	assert.Equal(t, maxAttempts, job.AttemptsMade)

	// The DLQ entry mirrors the dead job.
	raw, err := q.rdb.LRange(ctx, dlqKey("notifications"), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 1)
	entry, err := unmarshalDLQEntry([]byte(raw[0]))
	require.NoError(t, err)
	assert.Equal(t, res.JobID, entry.OriginalJobID)
	assert.Equal(t, "notifications", entry.OriginalQueue)
	assert.Equal(t, "dlq-test", entry.IdempotencyKey)
	assert.Equal(t, "t-1", entry.TenantID)
	assert.Contains(t, entry.FailureReason, "smtp unreachable")

	health := q.Health(ctx)
	assert.GreaterOrEqual(t, health.DLQCount["notifications"], int64(1))
}

func TestRetryDLQReenqueuesAndClears(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var failing atomic.Bool
	failing.Store(true)
	var completed atomic.Int32
	q.RegisterProcessor("notifications", "send", func(ctx context.Context, job Job) error {
		if failing.Load() {
			return errors.New("boom")
		}
		completed.Add(1)
		assert.True(t, job.RetriedFromDLQ)
		return nil
	})

	res, err := q.Enqueue(ctx, "notifications", "send", testPayload{StudentID: "s-1"}, EnqueueOptions{IdempotencyKey: "retry-test"})
	require.NoError(t, err)

	for i := 0; i < q.cfgs["notifications"].MaxAttempts; i++ {
		drainOne(t, q, "notifications")
		time.Sleep(5 * time.Millisecond)
		q.promoteDue(ctx, "notifications")
	}

	// Dead and dead-lettered; now the processor is fixed.
	failing.Store(false)
	count, err := q.RetryDLQ(ctx, "notifications", "notifications")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// DLQ is empty and the job runs to completion.
	n, _ := q.rdb.LLen(ctx, dlqKey("notifications")).Result()
	assert.Equal(t, int64(0), n)

	drainOne(t, q, "notifications")
	assert.Equal(t, int32(1), completed.Load())

	job, err := q.loadJob(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, "retry-test", job.IdempotencyKey)
}

func TestJobTimeoutCountsAsFailedAttempt(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.RegisterProcessor("default", "slow", func(ctx context.Context, job Job) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	res, err := q.Enqueue(ctx, "default", "slow", nil, EnqueueOptions{})
	require.NoError(t, err)

	drainOne(t, q, "default")

	job, err := q.loadJob(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Equal(t, StatusWaiting, job.Status)
}

func TestPanickingProcessorIsAFailedAttempt(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.RegisterProcessor("default", "bad", func(ctx context.Context, job Job) error {
		panic("nil map write")
	})

	res, err := q.Enqueue(ctx, "default", "bad", nil, EnqueueOptions{})
	require.NoError(t, err)

	drainOne(t, q, "default")

	job, err := q.loadJob(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.AttemptsMade)
}

func TestPriorityDrainsHighestFirst(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var order []string
	q.RegisterProcessor("default", "task", func(ctx context.Context, job Job) error {
		var p testPayload
		_ = json.Unmarshal(job.Payload, &p)
		order = append(order, p.Note)
		return nil
	})

	_, err := q.Enqueue(ctx, "default", "task", testPayload{Note: "low", StudentID: "1"}, EnqueueOptions{Priority: 2})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "default", "task", testPayload{Note: "high", StudentID: "2"}, EnqueueOptions{Priority: 0})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "default", "task", testPayload{Note: "mid", StudentID: "3"}, EnqueueOptions{Priority: 1})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		drainOne(t, q, "default")
	}
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestDelayedJobIsNotReadyUntilPromoted(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	res, err := q.Enqueue(ctx, "default", "later", nil, EnqueueOptions{DelayMs: 60_000})
	require.NoError(t, err)

	// The job sits on the scheduled zset, not the ready one, and the
	// scheduler refuses to promote it before its due time.
	n, _ := q.rdb.ZCard(ctx, readyKey("default")).Result()
	assert.Equal(t, int64(0), n)

	q.promoteDue(ctx, "default")
	n, _ = q.rdb.ZCard(ctx, readyKey("default")).Result()
	assert.Equal(t, int64(0), n)

	job, err := q.loadJob(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, job.Status)

	// A short-delay job becomes ready once due.
	res2, err := q.Enqueue(ctx, "default", "soon", nil, EnqueueOptions{DelayMs: 1})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	q.promoteDue(ctx, "default")
	score, err := q.rdb.ZScore(ctx, readyKey("default"), res2.JobID).Result()
	require.NoError(t, err)
	assert.Greater(t, score, 0.0)
}

func TestBackoffDelays(t *testing.T) {
	fixed := BackoffConfig{Kind: BackoffFixed, BaseDelay: 2 * time.Second}
	assert.Equal(t, 2*time.Second, fixed.delay(1))
	assert.Equal(t, 4*time.Second, fixed.delay(2))

	exp := BackoffConfig{Kind: BackoffExponential, BaseDelay: time.Second}
	assert.Equal(t, time.Second, exp.delay(1))
	assert.Equal(t, 2*time.Second, exp.delay(2))
	assert.Equal(t, 4*time.Second, exp.delay(3))

	capped := BackoffConfig{Kind: BackoffExponential, BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, 3*time.Second, capped.delay(4))
}
