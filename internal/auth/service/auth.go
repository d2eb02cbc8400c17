package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/brightcampus/schoolcore/internal/auth/jwt"
	"github.com/brightcampus/schoolcore/internal/auth/repository"
	"github.com/brightcampus/schoolcore/internal/rbac"
	"github.com/brightcampus/schoolcore/pkg/errors"
	"github.com/brightcampus/schoolcore/pkg/logger"
	"github.com/brightcampus/schoolcore/pkg/tenant"
)

// generateSessionID generates a unique session ID
func generateSessionID() string {
	return uuid.New().String()
}

// AuthService handles authentication logic. Credential lookup happens
// in-process against the tenant schema: there is no internal HTTP hop, and
// permissions come from the same RBAC resolver the request pipeline uses,
// so login and mid-session authorization never disagree.
type AuthService struct {
	sessions    *repository.SessionRepository
	lookup      *repository.UserTenantLookupRepository
	credentials *repository.CredentialsRepository
	rbacResolve *rbac.Resolver
	jwtManager  *jwt.Manager
	logger      *logger.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(
	sessions *repository.SessionRepository,
	lookup *repository.UserTenantLookupRepository,
	credentials *repository.CredentialsRepository,
	rbacResolve *rbac.Resolver,
	jwtManager *jwt.Manager,
	log *logger.Logger,
) *AuthService {
	return &AuthService{
		sessions:    sessions,
		lookup:      lookup,
		credentials: credentials,
		rbacResolve: rbacResolve,
		jwtManager:  jwtManager,
		logger:      log,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Identifier string  `json:"identifier" validate:"required,min=1"` // Email or username
	Password   string  `json:"password" validate:"required,min=6"`
	TenantSlug *string `json:"tenant_slug,omitempty"` // From subdomain (required for username login)
}

// LoginResponse represents a login response. Token fields are camelCase on
// the wire; the web client reads data.accessToken / data.refreshToken.
type LoginResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	TokenType    string    `json:"tokenType"`
	User         *UserInfo `json:"user"`
}

// UserInfo represents user information returned alongside tokens
type UserInfo struct {
	ID                 string   `json:"id"`
	Email              string   `json:"email"`
	FirstName          string   `json:"first_name"`
	LastName           string   `json:"last_name"`
	Role               string   `json:"role"`
	Permissions        []string `json:"permissions"`
	MustChangePassword bool     `json:"must_change_password"`

	// Tenant context - populated by the lookup table during login
	TenantID   string `json:"tenant_id,omitempty"`
	TenantSlug string `json:"tenant_slug,omitempty"`
}

// FullName returns the user's full name
func (u *UserInfo) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Login authenticates a user and returns tokens
func (s *AuthService) Login(ctx context.Context, req *LoginRequest, userAgent, ipAddress string) (*LoginResponse, error) {
	user, lookup, err := s.validateCredentials(ctx, req.Identifier, req.Password, req.TenantSlug)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(s.jwtManager.GetRefreshExpiry())

	tokenInfo := &jwt.UserInfo{
		ID:                 user.ID,
		Email:              user.Email,
		FirstName:          user.FirstName,
		LastName:           user.LastName,
		Role:               user.Role,
		Permissions:        user.Permissions,
		MustChangePassword: user.MustChangePassword,

		TenantID:     user.TenantID,
		TenantSlug:   user.TenantSlug,
		TenantSchema: lookup.TenantSchema,
	}

	sessionID := generateSessionID()

	tokens, err := s.jwtManager.GenerateTokenPair(tokenInfo, sessionID)
	if err != nil {
		return nil, errors.Internal("failed to generate tokens")
	}

	if _, err := s.sessions.CreateWithID(ctx, lookup.TenantSchema, sessionID, user.ID, tokens.RefreshToken, expiresAt, userAgent, ipAddress); err != nil {
		s.logger.Error().Err(err).Msg("failed to create session")
		return nil, errors.Internal("failed to create session")
	}

	if err := s.credentials.TouchLastLogin(ctx, lookup.TenantSchema, user.ID); err != nil {
		s.logger.Warn().Err(err).Msg("failed to record last login")
	}

	return &LoginResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
		TokenType:    tokens.TokenType,
		User:         user,
	}, nil
}

// Logout revokes the presented refresh token's session. An invalid or
// expired token still logs the caller out successfully: there is nothing
// left to revoke.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil
	}
	if err := s.sessions.RevokeByRefreshToken(ctx, claims.TenantSchema, refreshToken); err != nil {
		s.logger.Warn().Err(err).Msg("failed to revoke session")
	}
	return nil
}

// Refresh refreshes the access token using a refresh token
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*jwt.TokenPair, error) {
	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.GetByRefreshToken(ctx, claims.TenantSchema, refreshToken)
	if err != nil {
		return nil, errors.Unauthorized("invalid session")
	}

	user, err := s.loadUser(ctx, claims.TenantSchema, claims.UserID, claims.TenantID, claims.TenantSlug)
	if err != nil {
		return nil, err
	}

	tokenInfo := &jwt.UserInfo{
		ID:                 user.ID,
		Email:              user.Email,
		FirstName:          user.FirstName,
		LastName:           user.LastName,
		Role:               user.Role,
		Permissions:        user.Permissions,
		MustChangePassword: user.MustChangePassword,

		TenantID:     claims.TenantID,
		TenantSlug:   claims.TenantSlug,
		TenantSchema: claims.TenantSchema,
	}

	tokens, err := s.jwtManager.GenerateTokenPair(tokenInfo, session.ID)
	if err != nil {
		return nil, errors.Internal("failed to generate tokens")
	}

	if err := s.sessions.RotateRefreshToken(ctx, claims.TenantSchema, session.ID, tokens.RefreshToken); err != nil {
		s.logger.Error().Err(err).Msg("failed to rotate refresh token")
		return nil, errors.Internal("failed to update session")
	}

	return tokens, nil
}

// GetCurrentUser gets the current user from the Tenant Identity already
// bound to ctx by the request pipeline (explicit context, never trusted
// headers) plus the caller's user ID from validated JWT claims.
func (s *AuthService) GetCurrentUser(ctx context.Context, userID string) (*UserInfo, error) {
	id, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, errors.Unauthorized("tenant context missing")
	}
	return s.loadUser(ctx, id.Schema, userID, id.ID, id.Slug)
}

// ChangePassword verifies the caller's current password, stores the new
// hash, and revokes every session the user holds, the caller's own
// included, so stolen refresh tokens die with the old password. The tenant comes from the bound
// Request Context, never from the request body.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	id, err := tenant.FromContext(ctx)
	if err != nil {
		return errors.Unauthorized("tenant context missing")
	}

	creds, err := s.credentials.ByID(ctx, id.Schema, userID)
	if err != nil {
		return errors.Unauthorized("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(currentPassword)); err != nil {
		return errors.InvalidCredentials()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errors.Internal("failed to hash password")
	}

	if err := s.credentials.UpdatePassword(ctx, id.Schema, userID, string(hash)); err != nil {
		s.logger.Error().Err(err).Msg("failed to update password")
		return errors.Internal("failed to update password")
	}

	if err := s.sessions.RevokeAllForUser(ctx, id.Schema, userID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to revoke sessions after password change")
	}
	return nil
}

// isEmail checks if the identifier looks like an email address
func isEmail(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// validateCredentials resolves the caller's tenant via the global lookup
// table (O(1) for email, slug-scoped for username since usernames are only
// unique within a tenant) and verifies the bcrypt password hash in-process
// against that tenant's schema.
//
// Email: Uses O(1) lookup table for tenant resolution (tenant_slug optional but validated if provided)
// Username: Requires tenant_slug from subdomain since username is only unique within tenant
func (s *AuthService) validateCredentials(ctx context.Context, identifier, password string, tenantSlug *string) (*UserInfo, *repository.UserTenantLookup, error) {
	var lookup *repository.UserTenantLookup
	var err error

	if isEmail(identifier) {
		lookup, err = s.lookup.GetByEmail(ctx, identifier)
		if err != nil {
			s.logger.Debug().Str("email", identifier).Msg("email not found in lookup table")
			return nil, nil, errors.InvalidCredentials()
		}

		if tenantSlug != nil && *tenantSlug != "" && *tenantSlug != lookup.TenantSlug {
			return nil, nil, errors.BadRequest("tenant_mismatch")
		}
	} else {
		if tenantSlug == nil || *tenantSlug == "" {
			return nil, nil, errors.BadRequest("username_requires_subdomain")
		}

		lookup, err = s.lookup.GetByUsernameAndSlug(ctx, identifier, *tenantSlug)
		if err != nil {
			return nil, nil, errors.InvalidCredentials()
		}
	}

	creds, err := s.credentials.ByID(ctx, lookup.TenantSchema, lookup.UserID)
	if err != nil {
		// Fall back to an email/username lookup inside the tenant schema in
		// case the global lookup row predates the user's current ID.
		if isEmail(identifier) {
			creds, err = s.credentials.ByEmail(ctx, lookup.TenantSchema, identifier)
		} else {
			creds, err = s.credentials.ByUsername(ctx, lookup.TenantSchema, identifier)
		}
		if err != nil {
			return nil, nil, errors.InvalidCredentials()
		}
	}

	if creds.Status != "active" {
		return nil, nil, errors.Forbidden("account is not active")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return nil, nil, errors.InvalidCredentials()
	}

	perms, err := s.rbacResolve.Resolve(ctx, lookup.TenantID, lookup.TenantSchema, creds.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to resolve permissions at login")
		return nil, nil, errors.Internal("failed to resolve permissions")
	}

	user := &UserInfo{
		ID:                 creds.ID,
		Email:              creds.Email,
		FirstName:          creds.FirstName,
		LastName:           creds.LastName,
		Role:               creds.RoleSlug,
		Permissions:        perms.Slice(),
		MustChangePassword: creds.MustChangePassword,
		TenantID:           lookup.TenantID,
		TenantSlug:         lookup.TenantSlug,
	}

	return user, lookup, nil
}

// loadUser re-fetches the current credentials row and effective permission
// set for an already-authenticated principal (used by refresh and "me").
func (s *AuthService) loadUser(ctx context.Context, schema, userID, tenantID, tenantSlug string) (*UserInfo, error) {
	creds, err := s.credentials.ByID(ctx, schema, userID)
	if err != nil {
		return nil, errors.NotFound("user")
	}

	perms, err := s.rbacResolve.Resolve(ctx, tenantID, schema, userID)
	if err != nil {
		return nil, errors.Internal("failed to resolve permissions")
	}

	return &UserInfo{
		ID:                 creds.ID,
		Email:              creds.Email,
		FirstName:          creds.FirstName,
		LastName:           creds.LastName,
		Role:               creds.RoleSlug,
		Permissions:        perms.Slice(),
		MustChangePassword: creds.MustChangePassword,
		TenantID:           tenantID,
		TenantSlug:         tenantSlug,
	}, nil
}
