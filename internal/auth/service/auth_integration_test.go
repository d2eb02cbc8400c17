package service_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightcampus/schoolcore/internal/auth/jwt"
	"github.com/brightcampus/schoolcore/internal/auth/repository"
	"github.com/brightcampus/schoolcore/internal/auth/service"
	"github.com/brightcampus/schoolcore/internal/rbac"
	"github.com/brightcampus/schoolcore/pkg/config"
	"github.com/brightcampus/schoolcore/pkg/testutil"
)

// ============================================================================
// INTEGRATION TESTS: full login / refresh / logout flow against Postgres
// ============================================================================

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()
	var err error

	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		panic("failed to create integration suite: " + err.Error())
	}
	defer suite.Cleanup(ctx)

	os.Exit(m.Run())
}

func newAuthService() *service.AuthService {
	jwtManager := jwt.NewManager(&config.JWTConfig{
		Secret:        "integration-test-secret-32-chars!!!!",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 24 * time.Hour,
		Issuer:        "schoolcore",
	})
	return service.NewAuthService(
		repository.NewSessionRepository(suite.DB),
		repository.NewUserTenantLookupRepository(suite.DB),
		repository.NewCredentialsRepository(suite.DB),
		rbac.New(suite.DB, nil, suite.Logger),
		jwtManager,
		suite.Logger,
	)
}

type seededUser struct {
	ID       string
	Email    string
	Username *string
	Password string
}

// seedUser inserts an account into the tenant schema, links it to one of
// the seeded roles, grants the role its permissions, and registers the
// account in the global login directory.
func seedUser(t *testing.T, ctx context.Context, tn *testutil.TestTenant, email, username, password, roleSlug string, perms []string) seededUser {
	t.Helper()

	opts := []func(*testutil.UserFixture){testutil.WithEmail(email), testutil.WithPassword(password)}
	if username != "" {
		opts = append(opts, testutil.WithUsername(username))
	}
	u := suite.Fixtures.User(opts...)

	userID := u.ID
	var usernameVal *string
	if u.Username != "" {
		usernameVal = &u.Username
	}

	_, err := suite.RawDB.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.users (id, email, username, password_hash, first_name, last_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, tn.SchemaName),
		userID, u.Email, usernameVal, u.PasswordHash, u.FirstName, u.LastName, u.Status)
	require.NoError(t, err)

	var roleID string
	require.NoError(t, suite.RawDB.GetContext(ctx, &roleID,
		fmt.Sprintf(`SELECT id FROM %s.roles WHERE slug = $1`, tn.SchemaName), roleSlug))

	_, err = suite.RawDB.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s.user_roles (user_id, role_id) VALUES ($1, $2)`, tn.SchemaName), userID, roleID)
	require.NoError(t, err)

	for _, p := range perms {
		_, err = suite.RawDB.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s.role_permissions (role_id, permission) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`, tn.SchemaName), roleID, p)
		require.NoError(t, err)
	}

	lookupRepo := repository.NewUserTenantLookupRepository(suite.DB)
	require.NoError(t, lookupRepo.Upsert(ctx, &repository.UserTenantLookup{
		Email:        email,
		Username:     usernameVal,
		UserID:       userID,
		TenantID:     tn.ID,
		TenantSlug:   tn.Slug,
		TenantSchema: tn.SchemaName,
	}))

	return seededUser{ID: userID, Email: email, Username: usernameVal, Password: password}
}

func TestLogin_EmailSuccess(t *testing.T) {
	ctx := context.Background()
	tn := suite.SetupUserTenant(t, ctx, "login-email-school")
	seedUser(t, ctx, tn, "u@school.com", "", "P@ssw0rd!", "teacher",
		[]string{"academics.students.view", "attendance.mark"})

	svc := newAuthService()
	resp, err := svc.Login(ctx, &service.LoginRequest{
		Identifier: "u@school.com",
		Password:   "P@ssw0rd!",
	}, "go-test", "127.0.0.1")
	require.NoError(t, err)

	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "teacher", resp.User.Role)
	assert.ElementsMatch(t, []string{"academics.students.view", "attendance.mark"}, resp.User.Permissions)
	assert.Equal(t, tn.Slug, resp.User.TenantSlug)

	// The session row lands in the tenant schema, nowhere else.
	var count int
	require.NoError(t, suite.RawDB.GetContext(ctx, &count,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s.sessions WHERE user_id = $1`, tn.SchemaName), resp.User.ID))
	assert.Equal(t, 1, count)
}

func TestLogin_Failures(t *testing.T) {
	ctx := context.Background()
	tn := suite.SetupUserTenant(t, ctx, "login-failure-school")
	seedUser(t, ctx, tn, "clerk@school.com", "clerk", "Correct-1!", "admin", []string{"*"})

	svc := newAuthService()

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, &service.LoginRequest{
			Identifier: "clerk@school.com", Password: "Wrong-1!",
		}, "go-test", "127.0.0.1")
		require.Error(t, err)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.Login(ctx, &service.LoginRequest{
			Identifier: "nobody@school.com", Password: "Correct-1!",
		}, "go-test", "127.0.0.1")
		require.Error(t, err)
	})

	t.Run("email with mismatched tenant slug", func(t *testing.T) {
		wrong := "some-other-school"
		_, err := svc.Login(ctx, &service.LoginRequest{
			Identifier: "clerk@school.com", Password: "Correct-1!", TenantSlug: &wrong,
		}, "go-test", "127.0.0.1")
		require.Error(t, err, "a token for school A must never be minted via school B's subdomain")
	})

	t.Run("username without tenant slug", func(t *testing.T) {
		_, err := svc.Login(ctx, &service.LoginRequest{
			Identifier: "clerk", Password: "Correct-1!",
		}, "go-test", "127.0.0.1")
		require.Error(t, err, "bare usernames are ambiguous across schools")
	})

	t.Run("username with tenant slug succeeds", func(t *testing.T) {
		resp, err := svc.Login(ctx, &service.LoginRequest{
			Identifier: "clerk", Password: "Correct-1!", TenantSlug: &tn.Slug,
		}, "go-test", "127.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, "admin", resp.User.Role)
	})
}

func TestLogin_InactiveAccount(t *testing.T) {
	ctx := context.Background()
	tn := suite.SetupUserTenant(t, ctx, "login-inactive-school")
	u := seedUser(t, ctx, tn, "gone@school.com", "", "P@ssw0rd!", "student", nil)

	_, err := suite.RawDB.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s.users SET status = 'suspended' WHERE id = $1`, tn.SchemaName), u.ID)
	require.NoError(t, err)

	_, err = newAuthService().Login(ctx, &service.LoginRequest{
		Identifier: "gone@school.com", Password: "P@ssw0rd!",
	}, "go-test", "127.0.0.1")
	require.Error(t, err)
}

func TestRefresh_RotatesToken(t *testing.T) {
	ctx := context.Background()
	tn := suite.SetupUserTenant(t, ctx, "refresh-school")
	seedUser(t, ctx, tn, "rotate@school.com", "", "P@ssw0rd!", "teacher", []string{"attendance.mark"})

	svc := newAuthService()
	login, err := svc.Login(ctx, &service.LoginRequest{
		Identifier: "rotate@school.com", Password: "P@ssw0rd!",
	}, "go-test", "127.0.0.1")
	require.NoError(t, err)

	pair, err := svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, login.RefreshToken, pair.RefreshToken)

	// Rotation invalidates the previous refresh token.
	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.Error(t, err, "a rotated-out refresh token must stop working")

	// The successor keeps working.
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestLogout_RevokesSession(t *testing.T) {
	ctx := context.Background()
	tn := suite.SetupUserTenant(t, ctx, "logout-school")
	seedUser(t, ctx, tn, "leave@school.com", "", "P@ssw0rd!", "teacher", nil)

	svc := newAuthService()
	login, err := svc.Login(ctx, &service.LoginRequest{
		Identifier: "leave@school.com", Password: "P@ssw0rd!",
	}, "go-test", "127.0.0.1")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, login.RefreshToken))

	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.Error(t, err, "a revoked session must not refresh")
}

func TestChangePassword_RotatesCredentialAndSessions(t *testing.T) {
	ctx := context.Background()
	tn := suite.SetupUserTenant(t, ctx, "password-change-school")
	u := seedUser(t, ctx, tn, "rotate-pw@school.com", "", "Old-Pass1!", "teacher", nil)

	svc := newAuthService()
	login, err := svc.Login(ctx, &service.LoginRequest{
		Identifier: u.Email, Password: "Old-Pass1!",
	}, "go-test", "127.0.0.1")
	require.NoError(t, err)

	tenantCtx := testutil.WithTestTenant(ctx, tn)

	t.Run("wrong current password is rejected", func(t *testing.T) {
		err := svc.ChangePassword(tenantCtx, u.ID, "Not-The-Password", "New-Pass2!")
		require.Error(t, err)
	})

	t.Run("change succeeds and invalidates old state", func(t *testing.T) {
		require.NoError(t, svc.ChangePassword(tenantCtx, u.ID, "Old-Pass1!", "New-Pass2!"))

		_, err := svc.Login(ctx, &service.LoginRequest{
			Identifier: u.Email, Password: "Old-Pass1!",
		}, "go-test", "127.0.0.1")
		require.Error(t, err, "the old password must stop working")

		_, err = svc.Refresh(ctx, login.RefreshToken)
		require.Error(t, err, "pre-change sessions must be revoked")

		resp, err := svc.Login(ctx, &service.LoginRequest{
			Identifier: u.Email, Password: "New-Pass2!",
		}, "go-test", "127.0.0.1")
		require.NoError(t, err)
		assert.False(t, resp.User.MustChangePassword)
	})

	t.Run("missing tenant context is rejected", func(t *testing.T) {
		err := svc.ChangePassword(ctx, u.ID, "New-Pass2!", "Another-3!")
		require.Error(t, err)
	})
}
