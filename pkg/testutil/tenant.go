package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brightcampus/schoolcore/pkg/tenant"
)

// TestTenant represents a tenant created for testing
type TestTenant struct {
	ID         string
	Name       string
	Slug       string
	SchemaName string
}

// TenantManager manages test tenant schemas
type TenantManager struct {
	db      *sqlx.DB
	tenants []TestTenant
	mu      sync.Mutex
}

// NewTenantManager creates a new tenant manager for tests
func NewTenantManager(db *sqlx.DB) *TenantManager {
	return &TenantManager{
		db:      db,
		tenants: make([]TestTenant, 0),
	}
}

// CreateTenant creates a new isolated tenant schema for testing.
// Each test can have its own tenant to ensure complete isolation.
//
// Usage:
//
//	tm := testutil.NewTenantManager(db)
//	tenant, err := tm.CreateTenant(ctx, "test-school")
//	ctx = testutil.WithTestTenant(ctx, tenant)
//
//	// Now all repository operations will use this tenant's schema
//	student, err := studentRepo.GetByID(ctx, studentID)
func (tm *TenantManager) CreateTenant(ctx context.Context, name string) (*TestTenant, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	id := uuid.New().String()
	slug := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	schemaName := fmt.Sprintf("tenant_%s", strings.ReplaceAll(slug, "-", "_"))

	// Create schema
	_, err := tm.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant schema: %w", err)
	}

	// Register tenant in the global catalog
	_, err = tm.db.ExecContext(ctx, `
		INSERT INTO public.institutions (id, name, slug, schema_name, status)
		VALUES ($1, $2, $3, $4, 'active')
		ON CONFLICT (slug) DO NOTHING
	`, id, name, slug, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to register tenant: %w", err)
	}

	t := TestTenant{
		ID:         id,
		Name:       name,
		Slug:       slug,
		SchemaName: schemaName,
	}

	tm.tenants = append(tm.tenants, t)
	return &t, nil
}

// CreateTenantWithMigrations creates a tenant and applies the given migrations
func (tm *TenantManager) CreateTenantWithMigrations(ctx context.Context, name string, migrations []string) (*TestTenant, error) {
	t, err := tm.CreateTenant(ctx, name)
	if err != nil {
		return nil, err
	}

	// Set search_path and apply migrations
	for _, migration := range migrations {
		_, err = tm.db.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s, public", t.SchemaName))
		if err != nil {
			return nil, fmt.Errorf("failed to set search_path: %w", err)
		}

		_, err = tm.db.ExecContext(ctx, migration)
		if err != nil {
			return nil, fmt.Errorf("failed to apply migration: %w", err)
		}
	}

	// Reset search_path
	_, err = tm.db.ExecContext(ctx, "SET search_path TO public")
	if err != nil {
		return nil, fmt.Errorf("failed to reset search_path: %w", err)
	}

	return t, nil
}

// DropTenant removes a tenant schema completely
func (tm *TenantManager) DropTenant(ctx context.Context, t *TestTenant) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Drop schema with CASCADE (removes all objects)
	_, err := tm.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", t.SchemaName))
	if err != nil {
		return fmt.Errorf("failed to drop tenant schema: %w", err)
	}

	// Remove from the catalog
	_, err = tm.db.ExecContext(ctx, "DELETE FROM public.institutions WHERE id = $1", t.ID)
	if err != nil {
		return fmt.Errorf("failed to delete tenant record: %w", err)
	}

	// Remove from tracked tenants
	for i, tracked := range tm.tenants {
		if tracked.ID == t.ID {
			tm.tenants = append(tm.tenants[:i], tm.tenants[i+1:]...)
			break
		}
	}

	return nil
}

// Cleanup drops all tenant schemas created by this manager.
// Call this in TestMain or test cleanup.
func (tm *TenantManager) Cleanup(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var lastErr error
	for _, t := range tm.tenants {
		_, err := tm.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", t.SchemaName))
		if err != nil {
			lastErr = err
		}
		_, err = tm.db.ExecContext(ctx, "DELETE FROM public.institutions WHERE id = $1", t.ID)
		if err != nil {
			lastErr = err
		}
	}

	tm.tenants = make([]TestTenant, 0)
	return lastErr
}

// WithTestTenant creates a context with tenant information for testing.
// This is the primary way to set up tenant context in tests.
func WithTestTenant(ctx context.Context, t *TestTenant) context.Context {
	return tenant.WithTenantContext(ctx, t.ID, t.Slug, t.SchemaName)
}

// WithTestTenantValues creates a context with custom tenant values.
// Useful for testing error cases or edge conditions.
func WithTestTenantValues(ctx context.Context, id, slug, schema string) context.Context {
	return tenant.WithTenantContext(ctx, id, slug, schema)
}

// TestTenantContext creates a context with a fake tenant for simple unit tests
// that don't need actual database isolation.
func TestTenantContext() context.Context {
	return tenant.WithTenantContext(
		context.Background(),
		"test-tenant-id",
		"test-tenant",
		"tenant_test",
	)
}

// UserMigrations returns the identity and RBAC tables for tests that only
// need the user slice of a tenant schema. The shapes match what the
// provisioner materializes.
func UserMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS roles (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			role_type TEXT NOT NULL DEFAULT 'custom',
			is_system BOOLEAN NOT NULL DEFAULT FALSE,
			asset_type TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email TEXT NOT NULL UNIQUE,
			username TEXT UNIQUE,
			password_hash TEXT NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			must_change_password BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL DEFAULT 'active',
			last_login_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS user_roles (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			PRIMARY KEY (user_id, role_id)
		)`,

		`CREATE TABLE IF NOT EXISTS role_permissions (
			role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			permission TEXT NOT NULL,
			PRIMARY KEY (role_id, permission)
		)`,

		`CREATE TABLE IF NOT EXISTS user_permissions (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			permission TEXT NOT NULL,
			PRIMARY KEY (user_id, permission)
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			refresh_token_hash TEXT NOT NULL,
			user_agent TEXT,
			ip_address TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL,
			last_used_at TIMESTAMPTZ,
			revoked_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS rbac_epoch (
			id SMALLINT PRIMARY KEY DEFAULT 1,
			epoch BIGINT NOT NULL DEFAULT 1,
			bumped_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT rbac_epoch_singleton CHECK (id = 1)
		)`,

		`INSERT INTO rbac_epoch (id, epoch) VALUES (1, 1) ON CONFLICT (id) DO NOTHING`,

		`INSERT INTO roles (id, name, slug, role_type, is_system) VALUES
			('00000000-0000-0000-0000-0000000000a1', 'Admin', 'admin', 'system', true),
			('00000000-0000-0000-0000-0000000000a2', 'Teacher', 'teacher', 'system', false),
			('00000000-0000-0000-0000-0000000000a3', 'Student', 'student', 'system', false)
		ON CONFLICT (id) DO NOTHING`,
	}
}

// AcademicMigrations returns the academic structure tables for tests.
// Apply after UserMigrations (teachers references users).
func AcademicMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS academic_sessions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL,
			starts_on DATE NOT NULL,
			ends_on DATE NOT NULL,
			is_current BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		`CREATE TABLE IF NOT EXISTS classes (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sections (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			class_id UUID NOT NULL REFERENCES classes(id),
			name TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS subjects (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL,
			code TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS teachers (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID REFERENCES users(id),
			employee_number TEXT UNIQUE
		)`,

		`CREATE TABLE IF NOT EXISTS students (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			admission_number TEXT NOT NULL UNIQUE,
			section_id UUID REFERENCES sections(id),
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS attendance_settings (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			grace_period_minutes INT NOT NULL DEFAULT 10,
			half_day_threshold_minutes INT NOT NULL DEFAULT 240
		)`,

		`CREATE TABLE IF NOT EXISTS student_attendance (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			student_id UUID NOT NULL REFERENCES students(id),
			marked_on DATE NOT NULL,
			status TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS exams (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			academic_session_id UUID NOT NULL REFERENCES academic_sessions(id),
			name TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS marks (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			exam_id UUID NOT NULL REFERENCES exams(id),
			student_id UUID NOT NULL REFERENCES students(id),
			subject_id UUID NOT NULL REFERENCES subjects(id),
			marks_obtained NUMERIC(6,2)
		)`,
	}
}

// FeeMigrations returns the fee domain tables for tests. Apply after
// AcademicMigrations (structures reference sessions, payments reference
// students).
func FeeMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS fee_structures (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			academic_session_id UUID NOT NULL REFERENCES academic_sessions(id),
			category TEXT NOT NULL,
			final_amount NUMERIC(14,2) NOT NULL,
			late_fee_per_day NUMERIC(14,2) NOT NULL DEFAULT 0,
			due_day INT NOT NULL DEFAULT 10
		)`,

		`CREATE TABLE IF NOT EXISTS fee_assignments (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			student_id UUID NOT NULL REFERENCES students(id),
			fee_structure_id UUID NOT NULL REFERENCES fee_structures(id),
			final_amount NUMERIC(14,2) NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS fee_payments (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			student_id UUID NOT NULL REFERENCES students(id),
			fee_structure_id UUID NOT NULL REFERENCES fee_structures(id),
			academic_session_id UUID NOT NULL REFERENCES academic_sessions(id),
			receipt_number TEXT NOT NULL UNIQUE,
			amount_paid NUMERIC(14,2) NOT NULL,
			late_fee NUMERIC(14,2) NOT NULL DEFAULT 0,
			mode TEXT NOT NULL,
			reference TEXT,
			status TEXT NOT NULL DEFAULT 'success',
			idempotency_key TEXT UNIQUE,
			voided_by UUID,
			void_reason TEXT,
			remarks TEXT,
			paid_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS institution_receipt_counters (
			institution_id UUID NOT NULL,
			year INT NOT NULL,
			last_number INT NOT NULL DEFAULT 0,
			PRIMARY KEY (institution_id, year)
		)`,
	}
}
