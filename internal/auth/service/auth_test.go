package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightcampus/schoolcore/internal/auth/jwt"
	"github.com/brightcampus/schoolcore/pkg/config"
	"github.com/brightcampus/schoolcore/pkg/logger"
)

// ============================================================================
// LOGIN REQUEST DECODING
// ============================================================================

func TestLoginRequest_Decoding(t *testing.T) {
	t.Run("tenant_slug is optional for email logins", func(t *testing.T) {
		var req LoginRequest
		err := json.Unmarshal([]byte(`{"identifier": "clerk@greenfield.school", "password": "P@ssw0rd!"}`), &req)
		require.NoError(t, err)

		assert.Equal(t, "clerk@greenfield.school", req.Identifier)
		assert.Equal(t, "P@ssw0rd!", req.Password)
		assert.Nil(t, req.TenantSlug)
	})

	t.Run("tenant_slug carries the subdomain for username logins", func(t *testing.T) {
		var req LoginRequest
		err := json.Unmarshal([]byte(`{"identifier": "admin", "password": "P@ssw0rd!", "tenant_slug": "greenfield-academy"}`), &req)
		require.NoError(t, err)

		require.NotNil(t, req.TenantSlug)
		assert.Equal(t, "greenfield-academy", *req.TenantSlug)
	})

	t.Run("empty tenant_slug decodes as present-but-blank", func(t *testing.T) {
		var req LoginRequest
		err := json.Unmarshal([]byte(`{"identifier": "admin", "password": "P@ssw0rd!", "tenant_slug": ""}`), &req)
		require.NoError(t, err)

		// The service treats blank the same as absent; the decoder must not.
		require.NotNil(t, req.TenantSlug)
		assert.Equal(t, "", *req.TenantSlug)
	})
}

// ============================================================================
// IDENTIFIER CLASSIFICATION
// ============================================================================

func TestIsEmail(t *testing.T) {
	for _, tt := range []struct {
		identifier string
		want       bool
	}{
		{"clerk@greenfield.school", true},
		{"admin@hillside-public.de", true},
		{"user@school.local", true},
		{"admin", false},
		{"j.fischer", false},
		{"user_204", false},
		{"", false},
	} {
		t.Run(tt.identifier, func(t *testing.T) {
			assert.Equal(t, tt.want, isEmail(tt.identifier))
		})
	}
}

// ============================================================================
// TOKEN RESPONSE SHAPE
// ============================================================================

func TestLoginResponse_WireFormat(t *testing.T) {
	// The SPA reads data.accessToken / data.refreshToken; a silent rename
	// here logs every user out.
	body, err := json.Marshal(&LoginResponse{
		AccessToken:  "a",
		RefreshToken: "r",
		TokenType:    "Bearer",
		User:         &UserInfo{ID: "u1", Email: "clerk@greenfield.school"},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Contains(t, decoded, "accessToken")
	assert.Contains(t, decoded, "refreshToken")
	assert.NotContains(t, decoded, "access_token")
}

func TestUserInfo_FullName(t *testing.T) {
	u := &UserInfo{FirstName: "Priya", LastName: "Sharma"}
	assert.Equal(t, "Priya Sharma", u.FullName())

	solo := &UserInfo{FirstName: "Priya"}
	assert.Equal(t, "Priya", solo.FullName())
}

// ============================================================================
// LOGOUT WITHOUT A VALID TOKEN
// ============================================================================

func TestLogout_InvalidTokenIsNoop(t *testing.T) {
	// Logout must never fail the client: an expired or garbage refresh
	// token means there is no session left to revoke. No repository is
	// touched on this path, so nil deps are safe.
	svc := NewAuthService(nil, nil, nil, nil, jwt.NewManager(&config.JWTConfig{
		Secret:        "test-secret-at-least-32-characters!!",
		AccessExpiry:  time.Minute,
		RefreshExpiry: time.Minute,
		Issuer:        "schoolcore",
	}), logger.New("test", "test"))

	assert.NoError(t, svc.Logout(context.Background(), "definitely-not-a-jwt"))
	assert.NoError(t, svc.Logout(context.Background(), ""))
}
