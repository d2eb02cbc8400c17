package httpapi

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/brightcampus/schoolcore/internal/auth/jwt"
	"github.com/brightcampus/schoolcore/internal/redflag"
	"github.com/brightcampus/schoolcore/pkg/actor"
	"github.com/brightcampus/schoolcore/pkg/database"
	"github.com/brightcampus/schoolcore/pkg/errors"
	"github.com/brightcampus/schoolcore/pkg/httputil"
	"github.com/brightcampus/schoolcore/pkg/logger"
	"github.com/brightcampus/schoolcore/pkg/tenant"
)

// Directory resolves tenant identities from the global catalog.
type Directory interface {
	BySchema(ctx context.Context, schema string) (tenant.Identity, error)
	BySlug(ctx context.Context, slug string) (tenant.Identity, error)
}

// CatalogDirectory is the Directory backed by public.institutions.
type CatalogDirectory struct {
	db *database.DB
}

// NewCatalogDirectory constructs a CatalogDirectory.
func NewCatalogDirectory(db *database.DB) *CatalogDirectory {
	return &CatalogDirectory{db: db}
}

type institutionRow struct {
	ID     string         `db:"id"`
	Slug   string         `db:"slug"`
	Schema string         `db:"schema_name"`
	Status string         `db:"status"`
	PlanID sql.NullString `db:"plan_id"`
}

func (r institutionRow) identity() tenant.Identity {
	id := tenant.Identity{
		ID:     r.ID,
		Slug:   r.Slug,
		Schema: r.Schema,
		Status: tenant.Status(r.Status),
	}
	if r.PlanID.Valid {
		id.PlanID = r.PlanID.String
	}
	return id
}

// BySchema looks a tenant up by its schema name.
func (d *CatalogDirectory) BySchema(ctx context.Context, schema string) (tenant.Identity, error) {
	if !database.ValidSchemaName(schema) {
		return tenant.Identity{}, errors.TenantUnresolved()
	}
	var row institutionRow
	err := d.db.GetContext(ctx, &row, `
		SELECT id, slug, schema_name, status, plan_id
		FROM public.institutions WHERE schema_name = $1`, schema)
	if err == sql.ErrNoRows {
		return tenant.Identity{}, errors.TenantUnresolved()
	}
	if err != nil {
		return tenant.Identity{}, fmt.Errorf("resolving tenant by schema: %w", err)
	}
	return row.identity(), nil
}

// BySlug looks a tenant up by its subdomain slug.
func (d *CatalogDirectory) BySlug(ctx context.Context, slug string) (tenant.Identity, error) {
	var row institutionRow
	err := d.db.GetContext(ctx, &row, `
		SELECT id, slug, schema_name, status, plan_id
		FROM public.institutions WHERE slug = $1`, slug)
	if err == sql.ErrNoRows {
		return tenant.Identity{}, errors.TenantUnresolved()
	}
	if err != nil {
		return tenant.Identity{}, fmt.Errorf("resolving tenant by slug: %w", err)
	}
	return row.identity(), nil
}

// TenantResolver resolves the tenant for each request and freezes it into
// the context. Resolution inputs, in priority order: the x-schema-name
// header (only from an allowlisted internal caller that also presents the
// matching x-tenant-id), the bearer token's tenant claims, the host
// subdomain, and finally a tenant cookie.
type TenantResolver struct {
	dir        Directory
	jwtManager *jwt.Manager
	flags      *redflag.Registry
	log        *logger.Logger
	rootDomain string
	// allowlist of caller identities permitted to name schemas directly via
	// the x-schema-name header. Keyed by the x-internal-caller header value.
	internalCallers map[string]bool
}

// NewTenantResolver constructs a TenantResolver. internalCallers is the set
// of caller identities allowed to use x-schema-name; empty means the header
// is never honored.
func NewTenantResolver(dir Directory, jwtManager *jwt.Manager, flags *redflag.Registry,
	log *logger.Logger, rootDomain string, internalCallers []string) *TenantResolver {
	allow := make(map[string]bool, len(internalCallers))
	for _, c := range internalCallers {
		allow[c] = true
	}
	return &TenantResolver{
		dir:             dir,
		jwtManager:      jwtManager,
		flags:           flags,
		log:             log,
		rootDomain:      rootDomain,
		internalCallers: allow,
	}
}

// Middleware resolves the tenant, or rejects with TENANT_UNRESOLVED when the
// route requires one and no input yields a usable identity.
func (tr *TenantResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := tr.resolve(r)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		ctx := tenant.WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (tr *TenantResolver) resolve(r *http.Request) (tenant.Identity, error) {
	ctx := r.Context()

	// 1. Privileged schema header, gated on the internal-caller allowlist
	// and a matching tenant id header. Anything else presenting the header
	// is logged and ignored, never honored.
	if schema := r.Header.Get("x-schema-name"); schema != "" {
		caller := r.Header.Get("x-internal-caller")
		if tr.internalCallers[caller] && r.Header.Get("x-tenant-id") != "" {
			id, err := tr.dir.BySchema(ctx, schema)
			if err != nil {
				return tenant.Identity{}, err
			}
			if id.ID != r.Header.Get("x-tenant-id") {
				return tenant.Identity{}, errors.TenantUnresolved()
			}
			return id, nil
		}
		tr.log.Warn().
			Str("request_id", httputil.GetRequestID(ctx)).
			Str("remote_addr", r.RemoteAddr).
			Msg("x-schema-name presented by non-allowlisted caller, ignoring")
	}

	// 2. Bearer token tenant claims.
	if claims := tr.peekClaims(r); claims != nil && claims.TenantSchema != "" {
		return tenant.Identity{
			ID:     claims.TenantID,
			Slug:   claims.TenantSlug,
			Schema: claims.TenantSchema,
			Status: tenant.StatusActive,
		}, nil
	}

	// 3. Host subdomain under the configured root domain.
	if slug := tr.subdomain(r.Host); slug != "" {
		id, err := tr.dir.BySlug(ctx, slug)
		if err == nil {
			return id, nil
		}
	}

	// 4. Tenant cookie.
	if c, err := r.Cookie("tenant_slug"); err == nil && c.Value != "" {
		if id, err := tr.dir.BySlug(ctx, c.Value); err == nil {
			return id, nil
		}
	}

	return tenant.Identity{}, errors.TenantUnresolved()
}

// peekClaims validates the bearer token if present, returning nil on any
// failure. The authenticator middleware later enforces validity for
// protected routes; here the token is only an input to tenant resolution.
func (tr *TenantResolver) peekClaims(r *http.Request) *jwt.Claims {
	raw := bearerToken(r)
	if raw == "" {
		return nil
	}
	claims, err := tr.jwtManager.ValidateAccessToken(raw)
	if err != nil {
		return nil
	}
	return claims
}

func (tr *TenantResolver) subdomain(host string) string {
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	suffix := "." + tr.rootDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	sub := strings.TrimSuffix(host, suffix)
	if sub == "" || strings.Contains(sub, ".") {
		return ""
	}
	return sub
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// Authenticator validates the bearer credential and populates the actor.
type Authenticator struct {
	jwtManager *jwt.Manager
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(m *jwt.Manager) *Authenticator {
	return &Authenticator{jwtManager: m}
}

// Middleware enforces a valid access token. A user flagged
// must_change_password is routed away from everything except the
// password-change endpoint.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			httputil.Error(w, errors.Unauthorized("missing bearer token"))
			return
		}
		claims, err := a.jwtManager.ValidateAccessToken(raw)
		if err != nil {
			httputil.Error(w, err)
			return
		}

		if claims.MustChangePassword && !strings.HasSuffix(r.URL.Path, "/auth/change-password") {
			httputil.Error(w, errors.Forbidden("password change required"))
			return
		}

		ctx := httputil.WithUserContext(r.Context(), claims.UserID, claims.Email, claims.Role)
		ctx = actor.WithActor(ctx, &actor.Actor{
			ID:       claims.UserID,
			Name:     claims.Name,
			Email:    claims.Email,
			TenantID: claims.TenantID,
			Role:     claims.Role,
		})
		ctx = context.WithValue(ctx, claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type claimsKey struct{}

var claimsContextKey claimsKey

// ClaimsFromContext returns the validated access token claims, or nil on
// unauthenticated routes.
func ClaimsFromContext(ctx context.Context) *jwt.Claims {
	c, _ := ctx.Value(claimsContextKey).(*jwt.Claims)
	return c
}

// IsolationGuard rejects any request whose authenticated principal asserts
// a different tenant than the one bound to the request, raising a P0 flag
// on every occurrence. Runs after both the tenant resolver and the
// authenticator.
func IsolationGuard(flags *redflag.Registry, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			bound, err := tenant.FromContext(r.Context())
			if claims != nil && err == nil && claims.TenantSchema != "" && claims.TenantSchema != bound.Schema {
				flags.RaiseIsolationMismatch(bound.ID)
				log.Error().
					Str("request_id", httputil.GetRequestID(r.Context())).
					Str("user_id", claims.UserID).
					Str("bound_schema", bound.Schema).
					Msg("tenant mismatch between credential and bound schema")
				httputil.Error(w, errors.TenantMismatch())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
