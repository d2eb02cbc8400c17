package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/brightcampus/schoolcore/pkg/database"
	"github.com/brightcampus/schoolcore/pkg/errors"
)

// Session is a refresh-token session row. Sessions live inside the tenant
// schema like every other user-owned row, so a suspended tenant's sessions
// disappear from reach together with the rest of its data.
type Session struct {
	ID               string     `db:"id"`
	UserID           string     `db:"user_id"`
	RefreshTokenHash string     `db:"refresh_token_hash"`
	UserAgent        *string    `db:"user_agent"`
	IPAddress        *string    `db:"ip_address"`
	ExpiresAt        time.Time  `db:"expires_at"`
	CreatedAt        time.Time  `db:"created_at"`
	LastUsedAt       *time.Time `db:"last_used_at"`
	RevokedAt        *time.Time `db:"revoked_at"`
}

// SessionRepository persists sessions. Only the SHA-256 of the refresh
// token is stored; the raw token exists nowhere but the client.
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository constructs a SessionRepository.
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateWithID inserts a session under a caller-chosen id. The id is minted
// before token generation because the JWT embeds it as the session claim.
func (r *SessionRepository) CreateWithID(ctx context.Context, schema, id, userID, refreshToken string, expiresAt time.Time, userAgent, ipAddress string) (*Session, error) {
	now := time.Now()
	s := &Session{
		ID:               id,
		UserID:           userID,
		RefreshTokenHash: hashToken(refreshToken),
		UserAgent:        &userAgent,
		IPAddress:        &ipAddress,
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
		LastUsedAt:       &now,
	}

	err := r.db.BindTenantSchema(ctx, schema, func(sctx context.Context) error {
		_, err := r.db.ExecContext(sctx, `
			INSERT INTO sessions (id, user_id, refresh_token_hash, user_agent, ip_address, expires_at, created_at, last_used_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			s.ID, s.UserID, s.RefreshTokenHash, s.UserAgent, s.IPAddress,
			s.ExpiresAt, s.CreatedAt, s.LastUsedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByRefreshToken finds the live session matching a presented refresh
// token. Expired and revoked sessions are invisible here; the caller only
// distinguishes "usable session" from "no session".
func (r *SessionRepository) GetByRefreshToken(ctx context.Context, schema, refreshToken string) (*Session, error) {
	var s Session
	err := r.db.BindTenantSchema(ctx, schema, func(sctx context.Context) error {
		return r.db.GetContext(sctx, &s, `
			SELECT id, user_id, refresh_token_hash, user_agent, ip_address, expires_at, created_at, last_used_at, revoked_at
			FROM sessions
			WHERE refresh_token_hash = $1 AND revoked_at IS NULL AND expires_at > now()`,
			hashToken(refreshToken))
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("session")
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// RotateRefreshToken swaps in the new token's hash during refresh, so the
// previous refresh token stops working the moment its successor is issued.
func (r *SessionRepository) RotateRefreshToken(ctx context.Context, schema, id, newRefreshToken string) error {
	return r.db.BindTenantSchema(ctx, schema, func(sctx context.Context) error {
		_, err := r.db.ExecContext(sctx,
			`UPDATE sessions SET refresh_token_hash = $1, last_used_at = now() WHERE id = $2`,
			hashToken(newRefreshToken), id)
		return err
	})
}

// RevokeByRefreshToken marks the session revoked on logout. Revoking an
// unknown token is a no-op: logout must not fail.
func (r *SessionRepository) RevokeByRefreshToken(ctx context.Context, schema, refreshToken string) error {
	return r.db.BindTenantSchema(ctx, schema, func(sctx context.Context) error {
		_, err := r.db.ExecContext(sctx,
			`UPDATE sessions SET revoked_at = now() WHERE refresh_token_hash = $1 AND revoked_at IS NULL`,
			hashToken(refreshToken))
		return err
	})
}

// RevokeAllForUser revokes every live session a user holds, used when an
// account is deactivated or its password force-changed.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, schema, userID string) error {
	return r.db.BindTenantSchema(ctx, schema, func(sctx context.Context) error {
		_, err := r.db.ExecContext(sctx,
			`UPDATE sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`,
			userID)
		return err
	})
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
