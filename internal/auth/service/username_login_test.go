package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightcampus/schoolcore/internal/auth/service"
)

// ============================================================================
// TEST: same username across schools resolves per subdomain
// ============================================================================

// Every school seeds an "admin" account, so the bare username exists in
// every tenant. The subdomain's slug is what disambiguates; these tests
// pin down that two schools' admins can never be confused for each other.
func TestUsernameLogin_SameUsernameAcrossSchools(t *testing.T) {
	ctx := context.Background()

	schoolA := suite.SetupUserTenant(t, ctx, "greenfield-academy")
	schoolB := suite.SetupUserTenant(t, ctx, "hillside-public")

	userA := seedUser(t, ctx, schoolA, "admin@greenfield-academy.de", "admin", "Alpha-Pass1!", "admin", []string{"*"})
	userB := seedUser(t, ctx, schoolB, "admin@hillside-public.de", "admin", "Beta-Pass2!", "admin", []string{"*"})

	svc := newAuthService()

	t.Run("school A subdomain yields school A's admin", func(t *testing.T) {
		resp, err := svc.Login(ctx, &service.LoginRequest{
			Identifier: "admin", Password: "Alpha-Pass1!", TenantSlug: &schoolA.Slug,
		}, "go-test", "127.0.0.1")
		require.NoError(t, err)

		assert.Equal(t, userA.ID, resp.User.ID)
		assert.Equal(t, schoolA.Slug, resp.User.TenantSlug)
	})

	t.Run("school B subdomain yields school B's admin", func(t *testing.T) {
		resp, err := svc.Login(ctx, &service.LoginRequest{
			Identifier: "admin", Password: "Beta-Pass2!", TenantSlug: &schoolB.Slug,
		}, "go-test", "127.0.0.1")
		require.NoError(t, err)

		assert.Equal(t, userB.ID, resp.User.ID)
		assert.Equal(t, schoolB.Slug, resp.User.TenantSlug)
	})

	t.Run("school A password rejected under school B's subdomain", func(t *testing.T) {
		// Same username, wrong school: the slug-scoped lookup resolves to
		// school B's account, whose hash does not match school A's password.
		_, err := svc.Login(ctx, &service.LoginRequest{
			Identifier: "admin", Password: "Alpha-Pass1!", TenantSlug: &schoolB.Slug,
		}, "go-test", "127.0.0.1")
		require.Error(t, err)
	})

	t.Run("unknown subdomain resolves nothing", func(t *testing.T) {
		ghost := "no-such-school"
		_, err := svc.Login(ctx, &service.LoginRequest{
			Identifier: "admin", Password: "Alpha-Pass1!", TenantSlug: &ghost,
		}, "go-test", "127.0.0.1")
		require.Error(t, err)
	})
}

// TestUsernameLogin_TokensCarryTenant pins the isolation-relevant claim:
// a token minted under school A's subdomain must embed school A's schema,
// because the isolation guard compares it against the bound schema later.
func TestUsernameLogin_TokensCarryTenant(t *testing.T) {
	ctx := context.Background()
	school := suite.SetupUserTenant(t, ctx, "token-claims-school")
	seedUser(t, ctx, school, "head@token-claims.de", "head", "Secret-9!", "admin", []string{"*"})

	svc := newAuthService()
	resp, err := svc.Login(ctx, &service.LoginRequest{
		Identifier: "head", Password: "Secret-9!", TenantSlug: &school.Slug,
	}, "go-test", "127.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, school.ID, resp.User.TenantID)
	assert.Equal(t, school.Slug, resp.User.TenantSlug)
}
