// Package audit emits audit trail events for identity and money mutations.
// Entries recorded during a transaction are buffered and published only
// after the transaction commits: a rolled-back mutation never produces an
// audit event, and publishing never runs inside the transaction itself.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/brightcampus/schoolcore/pkg/actor"
	"github.com/brightcampus/schoolcore/pkg/database"
	"github.com/brightcampus/schoolcore/pkg/logger"
)

// EventPublisher is the fan-out sink for committed audit entries.
// Satisfied by the messaging publisher; tests substitute a recorder.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// Entry is one audit record.
type Entry struct {
	ActorID    string         `json:"actor_id"`
	TenantID   string         `json:"tenant_id"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entity_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// buffer accumulates entries for one transaction.
type buffer struct {
	mu      sync.Mutex
	entries []Entry
}

type bufferKey struct{}

// Record appends an entry to the transaction's audit buffer. Outside a
// Transact call it is a no-op; repositories call it unconditionally and the
// decorator decides whether anything is captured.
func Record(ctx context.Context, e Entry) {
	b, ok := ctx.Value(bufferKey{}).(*buffer)
	if !ok {
		return
	}
	if e.ActorID == "" {
		if a := actor.FromContext(ctx); a != nil {
			e.ActorID = a.ID
			if e.TenantID == "" {
				e.TenantID = a.TenantID
			}
		} else {
			e.ActorID = actor.System().ID
		}
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
}

// Auditor decorates the transaction runner with post-commit audit
// publishing.
type Auditor struct {
	db  *database.DB
	pub EventPublisher
	log *logger.Logger
}

// New constructs an Auditor. pub may be nil, in which case entries are
// logged but not fanned out.
func New(db *database.DB, pub EventPublisher, log *logger.Logger) *Auditor {
	return &Auditor{db: db, pub: pub, log: log}
}

// Transact runs fn inside a schema-bound transaction with an audit buffer
// attached to the context. Entries recorded by fn are published only after
// the commit succeeds; on rollback the buffer is discarded.
func (a *Auditor) Transact(ctx context.Context, schema string, fn func(context.Context) error) error {
	b := &buffer{}
	err := a.db.BindTenantSchema(ctx, schema, func(txCtx context.Context) error {
		return fn(context.WithValue(txCtx, bufferKey{}, b))
	})
	if err != nil {
		return err
	}

	for _, e := range b.entries {
		a.publish(ctx, e)
	}
	return nil
}

func (a *Auditor) publish(ctx context.Context, e Entry) {
	a.log.Info().
		Str("actor_id", e.ActorID).
		Str("tenant_id", e.TenantID).
		Str("action", e.Action).
		Str("entity", e.Entity).
		Str("entity_id", e.EntityID).
		Msg("audit event")

	if a.pub == nil {
		return
	}
	if err := a.pub.Publish(ctx, "audit."+e.Entity+"."+e.Action, e); err != nil {
		// Audit fan-out is best effort once the commit has happened; the
		// structured log line above remains the durable record.
		a.log.Warn().Err(err).Str("action", e.Action).Msg("audit event publish failed")
	}
}
