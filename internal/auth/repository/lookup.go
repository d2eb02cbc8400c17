package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/brightcampus/schoolcore/pkg/database"
)

// UserTenantLookup is one row of the global login directory: it maps a
// login identifier to the tenant whose schema holds the actual account.
// Email is globally unique across all schools; username is only unique
// within one school, so username rows are always read slug-scoped.
type UserTenantLookup struct {
	Email        string    `db:"email"`
	Username     *string   `db:"username"`
	UserID       string    `db:"user_id"`
	TenantID     string    `db:"tenant_id"`
	TenantSlug   string    `db:"tenant_slug"`
	TenantSchema string    `db:"tenant_schema"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

const lookupColumns = `email, username, user_id, tenant_id, tenant_slug, tenant_schema, created_at, updated_at`

// UserTenantLookupRepository reads and writes public.user_tenant_lookup,
// the only place where login identifiers exist outside a tenant schema.
type UserTenantLookupRepository struct {
	db *database.DB
}

// NewUserTenantLookupRepository constructs the repository.
func NewUserTenantLookupRepository(db *database.DB) *UserTenantLookupRepository {
	return &UserTenantLookupRepository{db: db}
}

// GetByEmail resolves the tenant for an email login in one indexed read.
func (r *UserTenantLookupRepository) GetByEmail(ctx context.Context, email string) (*UserTenantLookup, error) {
	var l UserTenantLookup
	err := r.db.GetContext(ctx, &l,
		`SELECT `+lookupColumns+` FROM public.user_tenant_lookup WHERE email = $1`, email)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetByUsername matches a bare username across all tenants. Because the
// same username can exist in several schools this may return any of them;
// login flows that know the school (from the subdomain) must use
// GetByUsernameAndSlug.
func (r *UserTenantLookupRepository) GetByUsername(ctx context.Context, username string) (*UserTenantLookup, error) {
	var l UserTenantLookup
	err := r.db.GetContext(ctx, &l,
		`SELECT `+lookupColumns+` FROM public.user_tenant_lookup WHERE username = $1`, username)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetByUsernameAndSlug resolves a username within one school.
func (r *UserTenantLookupRepository) GetByUsernameAndSlug(ctx context.Context, username, tenantSlug string) (*UserTenantLookup, error) {
	var l UserTenantLookup
	err := r.db.GetContext(ctx, &l,
		`SELECT `+lookupColumns+` FROM public.user_tenant_lookup WHERE username = $1 AND tenant_slug = $2`,
		username, tenantSlug)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetByUserID returns every directory row pointing at a user id, for
// reverse cleanup when an account is removed.
func (r *UserTenantLookupRepository) GetByUserID(ctx context.Context, userID string) ([]*UserTenantLookup, error) {
	var ls []*UserTenantLookup
	err := r.db.SelectContext(ctx, &ls,
		`SELECT `+lookupColumns+` FROM public.user_tenant_lookup WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	return ls, nil
}

// Upsert writes a directory row, replacing whatever the email previously
// pointed at. Called by the user lifecycle consumer, never by requests.
func (r *UserTenantLookupRepository) Upsert(ctx context.Context, l *UserTenantLookup) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO public.user_tenant_lookup (email, username, user_id, tenant_id, tenant_slug, tenant_schema)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE SET
			username = EXCLUDED.username,
			user_id = EXCLUDED.user_id,
			tenant_id = EXCLUDED.tenant_id,
			tenant_slug = EXCLUDED.tenant_slug,
			tenant_schema = EXCLUDED.tenant_schema,
			updated_at = NOW()`,
		l.Email, l.Username, l.UserID, l.TenantID, l.TenantSlug, l.TenantSchema)
	return err
}

// DeleteByEmail removes one directory row.
func (r *UserTenantLookupRepository) DeleteByEmail(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM public.user_tenant_lookup WHERE email = $1`, email)
	return err
}

// DeleteByUserID removes every directory row for a user id.
func (r *UserTenantLookupRepository) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM public.user_tenant_lookup WHERE user_id = $1`, userID)
	return err
}

// UpdateEmail moves a row to a new email address. Email is the primary key,
// so the move is a delete+insert under one transaction; a crash between the
// two must not lose the tenant mapping.
func (r *UserTenantLookupRepository) UpdateEmail(ctx context.Context, oldEmail, newEmail, userID string) error {
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var l UserTenantLookup
		if err := tx.GetContext(ctx, &l,
			`SELECT `+lookupColumns+` FROM public.user_tenant_lookup WHERE email = $1`, oldEmail); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM public.user_tenant_lookup WHERE email = $1`, oldEmail); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO public.user_tenant_lookup (email, username, user_id, tenant_id, tenant_slug, tenant_schema)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			newEmail, l.Username, l.UserID, l.TenantID, l.TenantSlug, l.TenantSchema)
		return err
	})
}

// Exists reports whether an email is already claimed by any tenant.
func (r *UserTenantLookupRepository) Exists(ctx context.Context, email string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM public.user_tenant_lookup WHERE email = $1`, email)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
