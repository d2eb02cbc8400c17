// Package queue implements the Redis-backed job queue and dead-letter
// handling for background work: a fixed set of named queues, each with its
// own concurrency/backoff/timeout policy, an idempotency store guarding
// enqueue, and a bounded-retention DLQ per queue. Ready jobs live on a
// sorted set scored by priority and enqueue time so higher-priority work
// always drains first.
package queue

import (
	"encoding/json"
	"time"
)

// Status is a job's position in the lifecycle state machine.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

// Job is one unit of work tracked by the queue.
type Job struct {
	ID             string          `json:"id"`
	Queue          string          `json:"queue"`
	Name           string          `json:"name"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	TenantID       string          `json:"tenant_id,omitempty"`
	Priority       int             `json:"priority"`
	AttemptsMade   int             `json:"attempts_made"`
	MaxAttempts    int             `json:"max_attempts"`
	NextRunAt      time.Time       `json:"next_run_at"`
	CreatedAt      time.Time       `json:"created_at"`
	Status         Status          `json:"status"`
	RetriedFromDLQ bool            `json:"retried_from_dlq,omitempty"`
}

func (j Job) marshal() ([]byte, error) {
	return json.Marshal(j)
}

func unmarshalJob(raw []byte) (Job, error) {
	var j Job
	err := json.Unmarshal(raw, &j)
	return j, err
}

// DLQEntry is the record kept in a dead-letter queue for operator
// inspection and replay.
type DLQEntry struct {
	OriginalQueue   string          `json:"original_queue"`
	OriginalJobID   string          `json:"original_job_id"`
	OriginalName    string          `json:"original_name"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	FailureReason   string          `json:"failure_reason"`
	FailedAt        time.Time       `json:"failed_at"`
	AttemptsMade    int             `json:"attempts_made"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	TenantID        string          `json:"tenant_id,omitempty"`
}

func (e DLQEntry) marshal() ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalDLQEntry(raw []byte) (DLQEntry, error) {
	var e DLQEntry
	err := json.Unmarshal(raw, &e)
	return e, err
}
