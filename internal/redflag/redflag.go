// Package redflag is the operator alert engine: components raise typed
// flags when a metric crosses a threshold, the registry deduplicates
// re-raises within a TTL, and the go-live dashboard reads the active set to
// compute its GREEN/YELLOW/RED verdict.
package redflag

import (
	"sort"
	"sync"
	"time"

	"github.com/brightcampus/schoolcore/internal/metrics"
	"github.com/brightcampus/schoolcore/pkg/logger"
)

// Severity ranks a flag's operational impact.
type Severity string

const (
	P0 Severity = "P0"
	P1 Severity = "P1"
	P2 Severity = "P2"
)

// Well-known flag types. Components may raise additional ad-hoc types; these
// are the ones the threshold evaluator emits.
const (
	TypeLoginFailureSpike = "LOGIN_FAILURE_SPIKE"
	TypeRBACDenySpike     = "RBAC_DENY_SPIKE"
	TypeDBLatencyHigh     = "DB_LATENCY_HIGH"
	TypeRedisLatencyHigh  = "REDIS_LATENCY_HIGH"
	TypeQueueLagHigh      = "QUEUE_LAG_HIGH"
	TypeDLQBacklog        = "DLQ_BACKLOG"
	TypeTenantIsolation   = "TENANT_ISOLATION_MISMATCH"
)

// ttl is how long a raised flag stays active, and therefore how long
// re-raises of the same id are suppressed.
const ttl = 5 * time.Minute

// Flag is one active alert. ID is always type + ":" + (tenant id or
// "global"), which is also the dedup key.
type Flag struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Value      float64   `json:"value,omitempty"`
	Threshold  float64   `json:"threshold,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
	TenantID   string    `json:"tenant_id,omitempty"`
}

// Registry holds the active flag set. Constructed once at startup; all
// methods are safe for concurrent use. Expired flags are swept
// opportunistically on every read.
type Registry struct {
	mu    sync.Mutex
	flags map[string]Flag
	log   *logger.Logger
	now   func() time.Time
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{flags: make(map[string]Flag), log: log, now: time.Now}
}

func flagID(flagType, tenantID string) string {
	if tenantID == "" {
		return flagType + ":global"
	}
	return flagType + ":" + tenantID
}

// Raise records a flag unless the same id was already raised within the TTL.
// Returns true when the flag was newly recorded.
func (r *Registry) Raise(flagType string, severity Severity, message string, tenantID string, value, threshold float64) bool {
	id := flagID(flagType, tenantID)
	now := r.now()

	r.mu.Lock()
	r.sweepLocked(now)
	if existing, ok := r.flags[id]; ok && now.Sub(existing.DetectedAt) < ttl {
		r.mu.Unlock()
		return false
	}
	r.flags[id] = Flag{
		ID:         id,
		Type:       flagType,
		Severity:   severity,
		Message:    message,
		Value:      value,
		Threshold:  threshold,
		DetectedAt: now,
		TenantID:   tenantID,
	}
	r.mu.Unlock()

	r.log.Warn().
		Str("flag_id", id).
		Str("severity", string(severity)).
		Float64("value", value).
		Float64("threshold", threshold).
		Str("tenant_id", tenantID).
		Msg(message)
	return true
}

// Active returns every unexpired flag, most severe first, newest first
// within a severity.
func (r *Registry) Active() []Flag {
	now := r.now()
	r.mu.Lock()
	r.sweepLocked(now)
	out := make([]Flag, 0, len(r.flags))
	for _, f := range r.flags {
		out = append(out, f)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity < out[j].Severity
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out
}

// HasP0 reports whether any P0 flag is currently active.
func (r *Registry) HasP0() bool {
	for _, f := range r.Active() {
		if f.Severity == P0 {
			return true
		}
	}
	return false
}

// Clear removes a flag before its TTL expires. Used by tests and by
// operator tooling after remediation.
func (r *Registry) Clear(flagType, tenantID string) {
	r.mu.Lock()
	delete(r.flags, flagID(flagType, tenantID))
	r.mu.Unlock()
}

func (r *Registry) sweepLocked(now time.Time) {
	for id, f := range r.flags {
		if now.Sub(f.DetectedAt) >= ttl {
			delete(r.flags, id)
		}
	}
}

// Thresholds are the default trigger levels the Evaluator applies.
type Thresholds struct {
	LoginFailuresPerMinP0 int64
	RBACDeniesPerMinP1    int64
	DBQueryP95MsP0        float64
	RedisLatencyMsP1      float64
	QueueLagMsP1          float64
	DLQSizeP1             int64
}

// DefaultThresholds returns the standard trigger levels.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LoginFailuresPerMinP0: 20,
		RBACDeniesPerMinP1:    50,
		DBQueryP95MsP0:        1000,
		RedisLatencyMsP1:      200,
		QueueLagMsP1:          30000,
		DLQSizeP1:             10,
	}
}

// Evaluator periodically reads the metrics registry and raises flags when a
// signal crosses its threshold.
type Evaluator struct {
	registry   *Registry
	metrics    *metrics.Registry
	thresholds Thresholds
	dlqSize    func() int64
}

// NewEvaluator constructs an Evaluator. dlqSize reports the total DLQ
// backlog across all queues; pass nil when no queue backend is wired.
func NewEvaluator(registry *Registry, m *metrics.Registry, th Thresholds, dlqSize func() int64) *Evaluator {
	return &Evaluator{registry: registry, metrics: m, thresholds: th, dlqSize: dlqSize}
}

// Evaluate runs one pass over every signal. Called on a short interval by
// the server's background loop, and directly by tests.
func (e *Evaluator) Evaluate() {
	th := e.thresholds

	if v := e.metrics.RatePerMinute("auth.login_failures"); v >= th.LoginFailuresPerMinP0 {
		e.registry.Raise(TypeLoginFailureSpike, P0,
			"login failures per minute exceeded threshold", "", float64(v), float64(th.LoginFailuresPerMinP0))
	}
	if v := e.metrics.RatePerMinute("rbac.deny_count"); v >= th.RBACDeniesPerMinP1 {
		e.registry.Raise(TypeRBACDenySpike, P1,
			"RBAC denials per minute exceeded threshold", "", float64(v), float64(th.RBACDeniesPerMinP1))
	}
	if v := e.metrics.Histogram("db.query_latency").P95; v > th.DBQueryP95MsP0 {
		e.registry.Raise(TypeDBLatencyHigh, P0,
			"database query p95 latency exceeded threshold", "", v, th.DBQueryP95MsP0)
	}
	if v := e.metrics.Histogram("redis.latency").P95; v > th.RedisLatencyMsP1 {
		e.registry.Raise(TypeRedisLatencyHigh, P1,
			"redis latency exceeded threshold", "", v, th.RedisLatencyMsP1)
	}
	if v := e.metrics.Histogram("queue.lag").P95; v > th.QueueLagMsP1 {
		e.registry.Raise(TypeQueueLagHigh, P1,
			"queue lag exceeded threshold", "", v, th.QueueLagMsP1)
	}
	if e.dlqSize != nil {
		if v := e.dlqSize(); v > th.DLQSizeP1 {
			e.registry.Raise(TypeDLQBacklog, P1,
				"dead-letter backlog exceeded threshold", "", float64(v), float64(th.DLQSizeP1))
		}
	}
}

// RaiseIsolationMismatch records the P0 tenant isolation flag. Isolation
// violations trigger on any single occurrence, so this bypasses the
// threshold evaluator entirely.
func (r *Registry) RaiseIsolationMismatch(tenantID string) {
	r.Raise(TypeTenantIsolation, P0,
		"credential tenant disagrees with bound schema", tenantID, 1, 0)
}
