package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/brightcampus/schoolcore/pkg/config"
	apperrors "github.com/brightcampus/schoolcore/pkg/errors"
)

// Claims is the access-token payload. The tenant triple is authoritative:
// the request pipeline trusts these fields over anything else the client
// sends, and the isolation guard compares them against the bound schema.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	// MustChangePassword forces every other route to redirect to the
	// password-change endpoint until cleared.
	MustChangePassword bool `json:"must_change_password,omitempty"`

	TenantID     string `json:"tenant_id"`
	TenantSlug   string `json:"tenant_slug"`
	TenantSchema string `json:"tenant_schema"`
}

// RefreshClaims is the refresh-token payload. It carries the tenant triple
// so a refresh can re-load the user from the right schema without another
// directory lookup.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	TenantID     string `json:"tenant_id"`
	TenantSlug   string `json:"tenant_slug"`
	TenantSchema string `json:"tenant_schema"`
}

// Manager signs and validates token pairs with the shared HMAC secret.
type Manager struct {
	config *config.JWTConfig
}

// NewManager constructs a Manager.
func NewManager(cfg *config.JWTConfig) *Manager {
	return &Manager{config: cfg}
}

// UserInfo is the snapshot of an authenticated principal that gets baked
// into a new token pair at login or refresh time.
type UserInfo struct {
	ID                 string
	Email              string
	FirstName          string
	LastName           string
	Role               string
	Permissions        []string
	MustChangePassword bool

	TenantID     string
	TenantSlug   string
	TenantSchema string
}

// FullName joins first and last name for the token's display name claim.
func (u *UserInfo) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

// GenerateTokenPair mints a fresh access+refresh pair for a user. The
// refresh token embeds sessionID so rotation can find its session row.
func (m *Manager) GenerateTokenPair(user *UserInfo, sessionID string) (*TokenPair, error) {
	now := time.Now()
	accessExpiry := now.Add(m.config.AccessExpiry)

	accessClaims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(accessExpiry),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		UserID:             user.ID,
		Email:              user.Email,
		Name:               user.FullName(),
		Role:               user.Role,
		Permissions:        user.Permissions,
		MustChangePassword: user.MustChangePassword,
		TenantID:           user.TenantID,
		TenantSlug:         user.TenantSlug,
		TenantSchema:       user.TenantSchema,
	}
	accessToken, err := m.sign(accessClaims)
	if err != nil {
		return nil, err
	}

	refreshClaims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.RefreshExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		UserID:       user.ID,
		SessionID:    sessionID,
		TenantID:     user.TenantID,
		TenantSlug:   user.TenantSlug,
		TenantSchema: user.TenantSchema,
	}
	refreshToken, err := m.sign(refreshClaims)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExpiry,
		TokenType:    "Bearer",
	}, nil
}

func (m *Manager) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.Secret))
}

// ValidateAccessToken parses and verifies an access token.
func (m *Manager) ValidateAccessToken(tokenString string) (*Claims, error) {
	var claims Claims
	if err := m.parse(tokenString, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// ValidateRefreshToken parses and verifies a refresh token.
func (m *Manager) ValidateRefreshToken(tokenString string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := m.parse(tokenString, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (m *Manager) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(m.config.Secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return apperrors.TokenExpired()
		}
		return apperrors.TokenInvalid()
	}
	if !token.Valid {
		return apperrors.TokenInvalid()
	}
	return nil
}

// GetTokenExpiry returns the access token lifetime.
func (m *Manager) GetTokenExpiry() time.Duration {
	return m.config.AccessExpiry
}

// GetRefreshExpiry returns the refresh token lifetime.
func (m *Manager) GetRefreshExpiry() time.Duration {
	return m.config.RefreshExpiry
}
