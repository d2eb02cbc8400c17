package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/brightcampus/schoolcore/pkg/database"
	"github.com/brightcampus/schoolcore/pkg/errors"
)

// Credentials is the row shape returned by a successful lookup of a user
// inside a tenant schema, ready for bcrypt comparison by the caller.
type Credentials struct {
	ID                 string     `db:"id"`
	Email              string     `db:"email"`
	PasswordHash       string     `db:"password_hash"`
	FirstName          string     `db:"first_name"`
	LastName           string     `db:"last_name"`
	Status             string     `db:"status"`
	MustChangePassword bool       `db:"must_change_password"`
	RoleID             string     `db:"role_id"`
	RoleSlug           string     `db:"role_slug"`
	LastLoginAt        *time.Time `db:"last_login_at"`
}

// CredentialsRepository looks up a tenant-schema user row for the
// authenticator. It never computes permissions itself — that is the RBAC
// resolver's job — it only returns enough identity to drive a bcrypt
// comparison and a JWT subject.
type CredentialsRepository struct {
	db *database.DB
}

// NewCredentialsRepository constructs a CredentialsRepository.
func NewCredentialsRepository(db *database.DB) *CredentialsRepository {
	return &CredentialsRepository{db: db}
}

// ByEmail looks up a user by email inside the given tenant schema.
func (r *CredentialsRepository) ByEmail(ctx context.Context, schema, email string) (*Credentials, error) {
	return r.lookup(ctx, schema, "email = $1", email)
}

// ByUsername looks up a user by username inside the given tenant schema.
// Username is only unique within a tenant, unlike email.
func (r *CredentialsRepository) ByUsername(ctx context.Context, schema, username string) (*Credentials, error) {
	return r.lookup(ctx, schema, "username = $1", username)
}

// ByID loads a user's credentials row by primary key, used to refresh the
// actor snapshot embedded in new tokens during refresh.
func (r *CredentialsRepository) ByID(ctx context.Context, schema, userID string) (*Credentials, error) {
	return r.lookup(ctx, schema, "id = $1", userID)
}

func (r *CredentialsRepository) lookup(ctx context.Context, schema, predicate, arg string) (*Credentials, error) {
	var c Credentials
	err := r.db.BindTenantSchema(ctx, schema, func(sctx context.Context) error {
		query := `
			SELECT u.id, u.email, u.password_hash, u.first_name, u.last_name,
			       u.status, u.must_change_password, u.last_login_at,
			       COALESCE(r.id, '') AS role_id, COALESCE(r.slug, '') AS role_slug
			FROM users u
			LEFT JOIN user_roles ur ON ur.user_id = u.id
			LEFT JOIN roles r ON r.id = ur.role_id
			WHERE u.` + predicate + ` AND u.deleted_at IS NULL
			ORDER BY r.is_system DESC
			LIMIT 1`
		return r.db.GetContext(sctx, &c, query, arg)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// TouchLastLogin records the login timestamp inside the tenant schema.
func (r *CredentialsRepository) TouchLastLogin(ctx context.Context, schema, userID string) error {
	return r.db.BindTenantSchema(ctx, schema, func(sctx context.Context) error {
		_, err := r.db.ExecContext(sctx, `UPDATE users SET last_login_at = now() WHERE id = $1`, userID)
		return err
	})
}

// UpdatePassword stores a new password hash and clears the forced-change
// flag in the same transaction, so a crash cannot leave a user with a new
// password but a still-armed redirect.
func (r *CredentialsRepository) UpdatePassword(ctx context.Context, schema, userID, passwordHash string) error {
	return r.db.BindTenantSchema(ctx, schema, func(sctx context.Context) error {
		_, err := r.db.ExecContext(sctx, `
			UPDATE users SET password_hash = $1, must_change_password = FALSE
			WHERE id = $2 AND deleted_at IS NULL`,
			passwordHash, userID)
		return err
	})
}
