package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/brightcampus/schoolcore/pkg/errors"
	"github.com/brightcampus/schoolcore/pkg/logger"
)

const (
	idempotencyTTL  = 24 * time.Hour
	dlqRetentionCap = 10000
)

// Processor handles one job for a given (queue, name) pair. An error return
// counts as a failed attempt; the job is retried or dead-lettered per the
// queue's Config.
type Processor func(ctx context.Context, job Job) error

// Queue is the Redis-backed job queue with per-queue dead-letter handling.
type Queue struct {
	rdb       *redis.Client
	cfgs      map[string]Config
	log       *logger.Logger
	processor map[string]Processor // "<queue>:<name>" -> handler
}

// New constructs a Queue over the shared Redis client. cfgs should
// ordinarily be DefaultConfigs(), optionally overridden per deployment.
func New(rdb *redis.Client, cfgs map[string]Config, log *logger.Logger) *Queue {
	return &Queue{rdb: rdb, cfgs: cfgs, log: log, processor: make(map[string]Processor)}
}

// RegisterProcessor binds a handler for every job enqueued as (queueName,
// jobName). A ready job with no registered processor counts as a failed
// attempt and eventually dead-letters, since a missing handler is a wiring
// bug, not a transient condition.
func (q *Queue) RegisterProcessor(queueName, jobName string, p Processor) {
	q.processor[queueName+":"+jobName] = p
}

func readyKey(queueName string) string { return fmt.Sprintf("queue:%s:ready", queueName) }
func scheduledKey(queueName string) string { return fmt.Sprintf("queue:%s:scheduled", queueName) }
func jobKey(jobID string) string { return "queue:job:" + jobID }
func dlqKey(queueName string) string { return "queue:" + dlqName(queueName) }
func idempotencyKey(queueName, jobName, key string) string {
	return fmt.Sprintf("idemp:%s:%s:%s", queueName, jobName, key)
}

// EnqueueOptions carries the optional fields of the enqueue contract.
type EnqueueOptions struct {
	IdempotencyKey string
	TenantID       string
	Priority       int // lower value = higher priority
	DelayMs        int64
}

// EnqueueResult is the outcome of Enqueue.
type EnqueueResult struct {
	JobID     string
	Duplicate bool
}

// Enqueue adds a job, deduplicating on the idempotency key and honoring
// priority and optional delay. A duplicate returns the original job id
// without enqueuing a second record.
func (q *Queue) Enqueue(ctx context.Context, queueName, jobName string, payload any, opts EnqueueOptions) (EnqueueResult, error) {
	if q.rdb == nil {
		return EnqueueResult{}, errors.QueueUnavailable()
	}
	cfg, ok := q.cfgs[queueName]
	if !ok {
		return EnqueueResult{}, errors.Validation(map[string]string{"queue": fmt.Sprintf("unknown queue %q", queueName)})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue: marshaling payload: %w", err)
	}

	idemKey := opts.IdempotencyKey
	if idemKey == "" {
		idemKey = autoIdempotencyKey(queueName, jobName, raw)
	}
	ik := idempotencyKey(queueName, jobName, idemKey)

	jobID := uuid.NewString()
	set, err := q.rdb.SetNX(ctx, ik, jobID, idempotencyTTL).Result()
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue: checking idempotency store: %w", err)
	}
	if !set {
		existing, err := q.rdb.Get(ctx, ik).Result()
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("queue: reading idempotency store: %w", err)
		}
		return EnqueueResult{JobID: existing, Duplicate: true}, nil
	}

	now := time.Now()
	job := Job{
		ID:             jobID,
		Queue:          queueName,
		Name:           jobName,
		Payload:        raw,
		IdempotencyKey: opts.IdempotencyKey,
		TenantID:       opts.TenantID,
		Priority:       opts.Priority,
		AttemptsMade:   0,
		MaxAttempts:    cfg.MaxAttempts,
		NextRunAt:      now,
		CreatedAt:      now,
		Status:         StatusWaiting,
	}

	if opts.DelayMs > 0 {
		job.NextRunAt = now.Add(time.Duration(opts.DelayMs) * time.Millisecond)
		if err := q.storeAndSchedule(ctx, job); err != nil {
			return EnqueueResult{}, err
		}
		return EnqueueResult{JobID: jobID}, nil
	}

	if err := q.storeAndReady(ctx, job); err != nil {
		return EnqueueResult{}, err
	}
	return EnqueueResult{JobID: jobID}, nil
}

// autoIdempotencyKey derives a deterministic key from {queue,name,payload}
// when the caller supplies none, so identical submissions collapse even
// without an explicit key.
func autoIdempotencyKey(queueName, jobName string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(queueName))
	h.Write([]byte{0})
	h.Write([]byte(jobName))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// priorityScore combines priority and enqueue time so a ZPopMin scan always
// returns the highest-priority, then oldest, job first: lower priority
// values sort first, and within the same priority, earlier jobs sort first.
func priorityScore(priority int, at time.Time) float64 {
	return float64(priority)*1e15 + float64(at.UnixNano())/1e6
}

func (q *Queue) storeJob(ctx context.Context, job Job) error {
	raw, err := job.marshal()
	if err != nil {
		return fmt.Errorf("queue: marshaling job: %w", err)
	}
	return q.rdb.Set(ctx, jobKey(job.ID), raw, 0).Err()
}

func (q *Queue) storeAndReady(ctx context.Context, job Job) error {
	if err := q.storeJob(ctx, job); err != nil {
		return err
	}
	score := priorityScore(job.Priority, job.NextRunAt)
	return q.rdb.ZAdd(ctx, readyKey(job.Queue), redis.Z{Score: score, Member: job.ID}).Err()
}

func (q *Queue) storeAndSchedule(ctx context.Context, job Job) error {
	if err := q.storeJob(ctx, job); err != nil {
		return err
	}
	score := float64(job.NextRunAt.UnixNano()) / 1e6
	return q.rdb.ZAdd(ctx, scheduledKey(job.Queue), redis.Z{Score: score, Member: job.ID}).Err()
}

func (q *Queue) loadJob(ctx context.Context, jobID string) (Job, error) {
	raw, err := q.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		return Job{}, err
	}
	return unmarshalJob(raw)
}

// Health reports the queue backend's reachability and per-queue DLQ depth
// for /health/queues.
type Health struct {
	Status   string           `json:"status"`
	DLQCount map[string]int64 `json:"dlq_count"`
}

func (q *Queue) Health(ctx context.Context) Health {
	if q.rdb == nil {
		return Health{Status: "unavailable"}
	}
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return Health{Status: "unavailable"}
	}
	counts := make(map[string]int64, len(QueueNames))
	for _, name := range QueueNames {
		n, err := q.rdb.LLen(ctx, dlqKey(name)).Result()
		if err != nil {
			continue
		}
		counts[name] = n
	}
	return Health{Status: "ok", DLQCount: counts}
}
