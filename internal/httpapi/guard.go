package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/brightcampus/schoolcore/internal/metrics"
	"github.com/brightcampus/schoolcore/pkg/errors"
	"github.com/brightcampus/schoolcore/pkg/httputil"
	"github.com/brightcampus/schoolcore/pkg/logger"
	"github.com/brightcampus/schoolcore/pkg/rbac"
	"github.com/brightcampus/schoolcore/pkg/tenant"
)

// PermissionResolver computes an actor's effective permission set.
// Satisfied by the rbac resolver; tests substitute a stub.
type PermissionResolver interface {
	Resolve(ctx context.Context, tenantID, schema, userID string) (rbac.Set, error)
}

// Guard enforces permissions on routes. It resolves the actor's effective
// permission set per request (cached by the resolver) and evaluates the
// route's requirement. There is no implicit admin bypass anywhere in this
// type: a route that wants to privilege a role must list that role's
// permissions explicitly.
type Guard struct {
	resolver PermissionResolver
	metrics  *metrics.Registry
	log      *logger.Logger
	// strictLog reports whether denials should be logged without being
	// enforced (rollout shadow mode). Tenant isolation failures are never
	// shadowed; they are handled upstream by IsolationGuard.
	strictLog func() bool
}

// NewGuard constructs a Guard. strictLog may be nil for always-enforce.
func NewGuard(resolver PermissionResolver, m *metrics.Registry, log *logger.Logger, strictLog func() bool) *Guard {
	if strictLog == nil {
		strictLog = func() bool { return false }
	}
	return &Guard{resolver: resolver, metrics: m, log: log, strictLog: strictLog}
}

// RequireAny allows the request when the actor holds at least one of the
// listed permissions.
func (g *Guard) RequireAny(permissions ...string) func(http.Handler) http.Handler {
	return g.require(rbac.AnyOf, permissions)
}

// RequireAll allows the request only when the actor holds every listed
// permission.
func (g *Guard) RequireAll(permissions ...string) func(http.Handler) http.Handler {
	return g.require(rbac.AllOf, permissions)
}

func (g *Guard) require(mode rbac.Mode, required []string) func(http.Handler) http.Handler {
	// Requirements are route-author literals; a malformed key is a wiring
	// bug that must surface at registration, not as a silent never-match.
	for _, p := range required {
		if !rbac.Valid(p) {
			panic("httpapi: malformed permission key " + p)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := httputil.GetUserID(ctx)
			if userID == "" {
				httputil.Error(w, errors.Unauthorized("not authenticated"))
				return
			}
			identity, err := tenant.FromContext(ctx)
			if err != nil {
				httputil.Error(w, errors.TenantBindingMissing())
				return
			}

			start := time.Now()
			set, err := g.resolver.Resolve(ctx, identity.ID, identity.Schema, userID)
			g.metrics.ObserveSince("rbac.resolution_latency", start)
			if err != nil {
				g.log.Error().Err(err).Str("user_id", userID).Msg("rbac resolution failed")
				httputil.Error(w, errors.Internal("permission resolution failed"))
				return
			}

			if rbac.Check(set, mode, required) {
				next.ServeHTTP(w, r)
				return
			}

			g.metrics.Inc("rbac.deny_count")
			g.log.Warn().
				Str("request_id", httputil.GetRequestID(ctx)).
				Str("user_id", userID).
				Str("route", r.URL.Path).
				Strs("required", required).
				Bool("shadow", g.strictLog()).
				Msg("rbac denial")

			if g.strictLog() {
				next.ServeHTTP(w, r)
				return
			}
			httputil.Error(w, errors.Forbidden("insufficient permissions"))
		})
	}
}
