// Package testutil provides testing utilities for the control plane:
// testcontainers for PostgreSQL, tenant schema helpers, mock factories, and
// common test fixtures.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "schoolcore_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container configured
// for schema-per-tenant testing.
//
// Usage:
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    container, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer container.Terminate(ctx)
//
//	    code := m.Run()
//	    os.Exit(code)
//	}
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Image == "" {
		cfg.Image = "postgres:15-alpine"
	}
	if cfg.Database == "" {
		cfg.Database = "schoolcore_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

// Connect returns a sqlx.DB connection to the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.PostgresContainer.Terminate(ctx)
}

// CreatePublicSchema creates the shared global catalog: institutions, plans,
// catalog tables, and the cross-tenant login lookup. Tenant-scoped tables
// are materialized per schema by the provisioner, never here.
func (c *PostgresContainer) CreatePublicSchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
		CREATE OR REPLACE FUNCTION public.update_updated_at()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = NOW();
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		CREATE TABLE IF NOT EXISTS public.plans (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(100) NOT NULL,
			slug VARCHAR(100) UNIQUE NOT NULL,
			max_students INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS public.institutions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			slug VARCHAR(100) UNIQUE NOT NULL,
			schema_name VARCHAR(63) UNIQUE NOT NULL,
			status VARCHAR(50) NOT NULL DEFAULT 'trial',
			plan_id UUID REFERENCES public.plans(id),
			settings JSONB DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS public.modules (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(100) NOT NULL,
			slug VARCHAR(100) UNIQUE NOT NULL
		);

		CREATE TABLE IF NOT EXISTS public.features (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			module_id UUID NOT NULL REFERENCES public.modules(id),
			name VARCHAR(100) NOT NULL,
			slug VARCHAR(100) NOT NULL,
			UNIQUE(module_id, slug)
		);

		CREATE TABLE IF NOT EXISTS public.permissions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			key VARCHAR(150) UNIQUE NOT NULL,
			description TEXT
		);

		CREATE TABLE IF NOT EXISTS public.role_templates (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(100) NOT NULL,
			slug VARCHAR(100) UNIQUE NOT NULL,
			permissions JSONB DEFAULT '[]'
		);

		-- Cross-tenant login lookup: email -> tenant, O(1) at login time.
		CREATE TABLE IF NOT EXISTS public.user_tenant_lookup (
			email VARCHAR(255) PRIMARY KEY,
			username VARCHAR(100),
			user_id UUID NOT NULL,
			tenant_id UUID NOT NULL REFERENCES public.institutions(id) ON DELETE CASCADE,
			tenant_slug VARCHAR(100) NOT NULL,
			tenant_schema VARCHAR(63) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`

	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create public schema: %w", err)
	}

	return nil
}

// InsertInstitution registers a school in the global catalog and returns its
// id. The tenant's own schema must be provisioned separately.
func (c *PostgresContainer) InsertInstitution(ctx context.Context, db *sqlx.DB, name, slug, schemaName, status string) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `
		INSERT INTO public.institutions (name, slug, schema_name, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (slug) DO UPDATE SET status = EXCLUDED.status
		RETURNING id`, name, slug, schemaName, status).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to insert institution: %w", err)
	}
	return id, nil
}
