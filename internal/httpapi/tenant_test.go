package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightcampus/schoolcore/internal/auth/jwt"
	"github.com/brightcampus/schoolcore/internal/redflag"
	"github.com/brightcampus/schoolcore/pkg/config"
	"github.com/brightcampus/schoolcore/pkg/errors"
	"github.com/brightcampus/schoolcore/pkg/logger"
	"github.com/brightcampus/schoolcore/pkg/tenant"
)

// stubDirectory serves a fixed set of tenants keyed by schema and slug.
type stubDirectory struct {
	tenants map[string]tenant.Identity
}

func (d *stubDirectory) BySchema(_ context.Context, schema string) (tenant.Identity, error) {
	for _, t := range d.tenants {
		if t.Schema == schema {
			return t, nil
		}
	}
	return tenant.Identity{}, errors.TenantUnresolved()
}

func (d *stubDirectory) BySlug(_ context.Context, slug string) (tenant.Identity, error) {
	if t, ok := d.tenants[slug]; ok {
		return t, nil
	}
	return tenant.Identity{}, errors.TenantUnresolved()
}

func testJWTManager() *jwt.Manager {
	return jwt.NewManager(&config.JWTConfig{
		Secret:        "test-secret",
		AccessExpiry:  time.Hour,
		RefreshExpiry: 24 * time.Hour,
		Issuer:        "schoolcore-test",
	})
}

func newTestResolver(internalCallers []string) (*TenantResolver, *redflag.Registry, *jwt.Manager) {
	log := logger.New("httpapi-test", "test")
	flags := redflag.NewRegistry(log)
	m := testJWTManager()
	dir := &stubDirectory{tenants: map[string]tenant.Identity{
		"greenfield": {ID: "t-1", Slug: "greenfield", Schema: "tenant_greenfield", Status: tenant.StatusActive},
		"hillside":   {ID: "t-2", Slug: "hillside", Schema: "tenant_hillside", Status: tenant.StatusActive},
	}}
	return NewTenantResolver(dir, m, flags, log, "schoolcore.local", internalCallers), flags, m
}

func tokenFor(m *jwt.Manager, user *jwt.UserInfo) string {
	pair, err := m.GenerateTokenPair(user, "session-1")
	if err != nil {
		panic(err)
	}
	return pair.AccessToken
}

func resolveThrough(tr *TenantResolver, req *http.Request) (tenant.Identity, int) {
	var got tenant.Identity
	h := tr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := tenant.FromContext(r.Context()); err == nil {
			got = id
		}
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return got, rr.Code
}

func TestResolverHonorsSchemaHeaderForAllowlistedCaller(t *testing.T) {
	tr, _, _ := newTestResolver([]string{"test-harness"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-schema-name", "tenant_greenfield")
	req.Header.Set("x-internal-caller", "test-harness")
	req.Header.Set("x-tenant-id", "t-1")

	got, code := resolveThrough(tr, req)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "tenant_greenfield", got.Schema)
}

func TestResolverIgnoresSchemaHeaderFromUntrustedCaller(t *testing.T) {
	tr, _, _ := newTestResolver(nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-schema-name", "tenant_hillside")

	_, code := resolveThrough(tr, req)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestResolverRejectsSchemaHeaderWithMismatchedTenantID(t *testing.T) {
	tr, _, _ := newTestResolver([]string{"test-harness"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-schema-name", "tenant_greenfield")
	req.Header.Set("x-internal-caller", "test-harness")
	req.Header.Set("x-tenant-id", "t-2")

	_, code := resolveThrough(tr, req)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestResolverUsesBearerClaims(t *testing.T) {
	tr, _, m := newTestResolver(nil)

	token := tokenFor(m, &jwt.UserInfo{
		ID: "u-1", Email: "u@school.com", Role: "teacher",
		TenantID: "t-1", TenantSlug: "greenfield", TenantSchema: "tenant_greenfield",
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	got, code := resolveThrough(tr, req)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "tenant_greenfield", got.Schema)
	assert.Equal(t, "t-1", got.ID)
}

func TestResolverFallsBackToSubdomain(t *testing.T) {
	tr, _, _ := newTestResolver(nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "hillside.schoolcore.local:8080"

	got, code := resolveThrough(tr, req)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "tenant_hillside", got.Schema)
}

func TestResolverFallsBackToCookie(t *testing.T) {
	tr, _, _ := newTestResolver(nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "app.example.com"
	req.AddCookie(&http.Cookie{Name: "tenant_slug", Value: "greenfield"})

	got, code := resolveThrough(tr, req)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "tenant_greenfield", got.Schema)
}

func TestResolverUnresolved(t *testing.T) {
	tr, _, _ := newTestResolver(nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "app.example.com"

	_, code := resolveThrough(tr, req)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestIsolationGuardRejectsMismatchAndRaisesP0(t *testing.T) {
	log := logger.New("httpapi-test", "test")
	flags := redflag.NewRegistry(log)
	m := testJWTManager()

	// Token asserts tenant_a, but the request is bound to tenant_b.
	claims, err := m.ValidateAccessToken(tokenFor(m, &jwt.UserInfo{
		ID: "u-1", TenantID: "t-1", TenantSlug: "a", TenantSchema: "tenant_a",
	}))
	require.NoError(t, err)

	var reached bool
	h := IsolationGuard(flags, log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := tenant.WithIdentity(req.Context(), tenant.Identity{ID: "t-2", Slug: "b", Schema: "tenant_b"})
	ctx = context.WithValue(ctx, claimsContextKey, claims)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(ctx))

	assert.False(t, reached)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.True(t, flags.HasP0())
}

func TestIsolationGuardPassesMatchingTenant(t *testing.T) {
	log := logger.New("httpapi-test", "test")
	flags := redflag.NewRegistry(log)
	m := testJWTManager()

	claims, err := m.ValidateAccessToken(tokenFor(m, &jwt.UserInfo{
		ID: "u-1", TenantID: "t-1", TenantSlug: "a", TenantSchema: "tenant_a",
	}))
	require.NoError(t, err)

	var reached bool
	h := IsolationGuard(flags, log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := tenant.WithIdentity(req.Context(), tenant.Identity{ID: "t-1", Slug: "a", Schema: "tenant_a"})
	ctx = context.WithValue(ctx, claimsContextKey, claims)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(ctx))

	assert.True(t, reached)
	assert.False(t, flags.HasP0())
}

func TestAuthenticatorRejectsMissingAndInvalidTokens(t *testing.T) {
	a := NewAuthenticator(testJWTManager())
	h := a.Middleware(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthenticatorForcesPasswordChange(t *testing.T) {
	m := testJWTManager()
	a := NewAuthenticator(m)
	h := a.Middleware(okHandler())

	token := tokenFor(m, &jwt.UserInfo{ID: "u-1", MustChangePassword: true})

	req := httptest.NewRequest(http.MethodGet, "/api/v2/school/fees/payments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/tenant/auth/change-password", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
