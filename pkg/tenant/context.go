package tenant

import (
	"context"
	"errors"
)

// Status is the lifecycle state of a Tenant Identity.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusSuspended Status = "suspended"
)

// Identity is the immutable tenant identity bound to a Request Context: it
// is constructed once, by the tenant resolver, and never mutated afterward.
type Identity struct {
	ID     string
	Slug   string
	Schema string
	Status Status
	PlanID string
}

// contextKey is a private type for context keys to prevent collisions
type contextKey string

const (
	tenantIDKey     contextKey = "tenant_id"
	tenantSlugKey   contextKey = "tenant_slug"
	tenantSchemaKey contextKey = "tenant_schema"
	tenantStatusKey contextKey = "tenant_status"
	tenantPlanKey   contextKey = "tenant_plan_id"
)

var (
	// ErrNoTenantInContext is returned when tenant context is missing
	ErrNoTenantInContext = errors.New("no tenant in context")
)

// WithTenantContext adds all tenant information to the context
// This should be called by middleware after extracting tenant from JWT
func WithTenantContext(ctx context.Context, id, slug, schema string) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, id)
	ctx = context.WithValue(ctx, tenantSlugKey, slug)
	ctx = context.WithValue(ctx, tenantSchemaKey, schema)
	return ctx
}

// WithIdentity binds a full frozen Tenant Identity to the context, including
// status and plan. Prefer this over WithTenantContext in the request
// pipeline's tenant resolver; WithTenantContext remains for call sites that
// only ever had the three original fields.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = WithTenantContext(ctx, id.ID, id.Slug, id.Schema)
	ctx = context.WithValue(ctx, tenantStatusKey, string(id.Status))
	ctx = context.WithValue(ctx, tenantPlanKey, id.PlanID)
	return ctx
}

// FromContext reconstructs the Identity bound to ctx, or returns
// ErrNoTenantInContext if no tenant schema is bound.
func FromContext(ctx context.Context) (Identity, error) {
	schema, err := TenantSchema(ctx)
	if err != nil {
		return Identity{}, err
	}
	id, _ := TenantID(ctx)
	slug, _ := TenantSlug(ctx)
	status, _ := ctx.Value(tenantStatusKey).(string)
	plan, _ := ctx.Value(tenantPlanKey).(string)
	return Identity{ID: id, Slug: slug, Schema: schema, Status: Status(status), PlanID: plan}, nil
}

// WithTenantID adds only tenant ID to context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// WithTenantSlug adds only tenant slug to context
func WithTenantSlug(ctx context.Context, tenantSlug string) context.Context {
	return context.WithValue(ctx, tenantSlugKey, tenantSlug)
}

// WithTenantSchema adds only tenant schema to context
func WithTenantSchema(ctx context.Context, tenantSchema string) context.Context {
	return context.WithValue(ctx, tenantSchemaKey, tenantSchema)
}

// TenantID extracts tenant ID from context
// Returns ErrNoTenantInContext if tenant ID is not found
func TenantID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(tenantIDKey).(string)
	if !ok || id == "" {
		return "", ErrNoTenantInContext
	}
	return id, nil
}

// TenantSlug extracts tenant slug from context
// Returns ErrNoTenantInContext if tenant slug is not found
func TenantSlug(ctx context.Context) (string, error) {
	slug, ok := ctx.Value(tenantSlugKey).(string)
	if !ok || slug == "" {
		return "", ErrNoTenantInContext
	}
	return slug, nil
}

// TenantSchema extracts tenant schema name from context
// Returns ErrNoTenantInContext if tenant schema is not found
// This is the most important function - used by repositories to set search_path
func TenantSchema(ctx context.Context) (string, error) {
	schema, ok := ctx.Value(tenantSchemaKey).(string)
	if !ok || schema == "" {
		return "", ErrNoTenantInContext
	}
	return schema, nil
}

// MustTenantID extracts tenant ID from context and panics if not found
// Use only in cases where missing tenant is a programming error
func MustTenantID(ctx context.Context) string {
	id, err := TenantID(ctx)
	if err != nil {
		panic("tenant ID not found in context")
	}
	return id
}

// MustTenantSchema extracts tenant schema from context and panics if not found
// Use only in cases where missing tenant is a programming error
func MustTenantSchema(ctx context.Context) string {
	schema, err := TenantSchema(ctx)
	if err != nil {
		panic("tenant schema not found in context")
	}
	return schema
}
