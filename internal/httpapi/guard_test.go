package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brightcampus/schoolcore/internal/metrics"
	"github.com/brightcampus/schoolcore/pkg/httputil"
	"github.com/brightcampus/schoolcore/pkg/logger"
	"github.com/brightcampus/schoolcore/pkg/rbac"
	"github.com/brightcampus/schoolcore/pkg/tenant"
)

type stubResolver struct {
	set rbac.Set
	err error
}

func (s *stubResolver) Resolve(context.Context, string, string, string) (rbac.Set, error) {
	return s.set, s.err
}

func guardRequest() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v2/school/fees/payments", nil)
	ctx := tenant.WithIdentity(req.Context(), tenant.Identity{ID: "t-1", Slug: "a", Schema: "tenant_a"})
	ctx = httputil.WithUserContext(ctx, "u-1", "u@school.com", "teacher")
	return req.WithContext(ctx)
}

func runGuard(g *Guard, mw func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, bool) {
	var reached bool
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, reached
}

func TestGuardAllowsGrantedPermission(t *testing.T) {
	m := metrics.NewRegistry(nil)
	g := NewGuard(&stubResolver{set: rbac.NewSet("fees.view")}, m, logger.New("test", "test"), nil)

	rr, reached := runGuard(g, g.RequireAny("fees.view"), guardRequest())
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, reached)
	assert.Equal(t, int64(0), m.Counter("rbac.deny_count").Total)
}

func TestGuardDeniesAndCounts(t *testing.T) {
	m := metrics.NewRegistry(nil)
	g := NewGuard(&stubResolver{set: rbac.NewSet("fees.view")}, m, logger.New("test", "test"), nil)

	rr, reached := runGuard(g, g.RequireAny("fees.collect"), guardRequest())
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.False(t, reached)
	assert.Equal(t, int64(1), m.Counter("rbac.deny_count").Total)
}

func TestGuardWildcardSatisfiesAnyCheck(t *testing.T) {
	m := metrics.NewRegistry(nil)
	g := NewGuard(&stubResolver{set: rbac.NewSet("*")}, m, logger.New("test", "test"), nil)

	rr, reached := runGuard(g, g.RequireAll("fees.collect", "fees.refund"), guardRequest())
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, reached)
}

func TestGuardAdminRoleGetsNoImplicitBypass(t *testing.T) {
	m := metrics.NewRegistry(nil)
	g := NewGuard(&stubResolver{set: rbac.NewSet("academics.students.view")}, m, logger.New("test", "test"), nil)

	// The actor's role claim says admin, but the resolved permission set
	// does not include the required key: denied.
	req := guardRequest()
	ctx := httputil.WithUserContext(req.Context(), "u-1", "u@school.com", "admin")
	rr, reached := runGuard(g, g.RequireAny("fees.collect"), req.WithContext(ctx))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.False(t, reached)
}

func TestGuardShadowModeLogsWithoutEnforcing(t *testing.T) {
	m := metrics.NewRegistry(nil)
	g := NewGuard(&stubResolver{set: rbac.NewSet()}, m, logger.New("test", "test"), func() bool { return true })

	rr, reached := runGuard(g, g.RequireAny("fees.collect"), guardRequest())
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, reached)
	// The denial is still counted even though it was not enforced.
	assert.Equal(t, int64(1), m.Counter("rbac.deny_count").Total)
}

func TestGuardRequiresAuthenticationAndTenant(t *testing.T) {
	m := metrics.NewRegistry(nil)
	g := NewGuard(&stubResolver{set: rbac.NewSet("*")}, m, logger.New("test", "test"), nil)

	// No user in context.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := tenant.WithIdentity(req.Context(), tenant.Identity{ID: "t-1", Schema: "tenant_a"})
	rr, _ := runGuard(g, g.RequireAny("fees.view"), req.WithContext(ctx))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// No tenant in context.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	ctx = httputil.WithUserContext(req.Context(), "u-1", "u@school.com", "teacher")
	rr, _ = runGuard(g, g.RequireAny("fees.view"), req.WithContext(ctx))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
