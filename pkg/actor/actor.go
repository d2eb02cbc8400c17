// Package actor identifies who is performing an action: the authenticated
// user on a request path, or the system itself for provisioning, queue
// workers, and scheduled jobs. The audit trail reads the actor from the
// request context so every mutation records its principal.
package actor

import (
	"context"
	"fmt"
)

// systemActorID is the fixed id for system-initiated operations.
const systemActorID = "00000000-0000-0000-0000-000000000000"

// Actor is the entity performing an action.
type Actor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role,omitempty"`
}

// String renders the actor for log lines.
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	return fmt.Sprintf("%s (%s)", a.Name, a.Email)
}

// IsSystem reports whether the actor is the system principal.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.ID == systemActorID
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context, or nil when none is
// bound (system operations).
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// MustFromContext retrieves the Actor and panics when absent. Use only
// behind the authenticator, where a missing actor is a programming error.
func MustFromContext(ctx context.Context) *Actor {
	a := FromContext(ctx)
	if a == nil {
		panic("actor not found in context")
	}
	return a
}

// System returns the Actor for system-initiated operations: provisioning
// runs, queue workers, scheduled jobs.
func System() *Actor {
	return &Actor{
		ID:    systemActorID,
		Name:  "System",
		Email: "system@schoolcore.local",
	}
}
