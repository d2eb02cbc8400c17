// Package provision implements the Tenant Provisioner: idempotently builds
// a complete per-tenant database schema from the blueprint in blueprint.go,
// and verifies completeness before a tenant may be declared live.
//
// The pipeline runs schema creation, table materialization in dependency
// order, structural migrations, baseline seed, and verification, on the
// same lib/pq + sqlx driver stack as the rest of the core so it shares one
// transaction and error-mapping discipline.
package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/brightcampus/schoolcore/pkg/database"
	"github.com/brightcampus/schoolcore/pkg/logger"
)

// Result reports one provisioning run.
type Result struct {
	Success       bool     `json:"success"`
	Schema        string   `json:"schema"`
	TableCount    int      `json:"table_count"`
	TablesCreated int      `json:"tables_created"`
	DurationMS    int64    `json:"duration_ms"`
	Logs          []string `json:"logs"`
	Warnings      []string `json:"warnings,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Verification is the response shape for the per-tenant readiness probe
// surfaced at /health/golive/tenant/{schema}.
type Verification struct {
	Schema              string `json:"schema"`
	Provisioned         bool   `json:"provisioned"`
	TableCount          int    `json:"table_count"`
	CriticalSetComplete bool   `json:"critical_set_complete"`
	AdminCount          int    `json:"admin_count"`
	ReadyForLive        bool   `json:"ready_for_live"`
}

// Migration is one ordered structural DDL script applied after baseline
// table materialization. Text may contain the literal placeholder
// "${SCHEMA_NAME}", substituted with the quoted schema identifier before
// execution. Concurrent index statements are declared pre-split (one
// statement per entry in Statements) because CREATE INDEX CONCURRENTLY
// cannot run inside a transaction block.
type Migration struct {
	Name       string
	Statements []string
	Concurrent bool
}

// Provisioner runs the tenant provisioning pipeline.
type Provisioner struct {
	db         *database.DB
	log        *logger.Logger
	migrations []Migration
}

// New constructs a Provisioner. Additional structural migrations beyond the
// baseline blueprint can be supplied; they are applied in slice order.
func New(db *database.DB, log *logger.Logger, migrations ...Migration) *Provisioner {
	return &Provisioner{db: db, log: log, migrations: migrations}
}

// Provision runs the full pipeline for schemaName. It is idempotent: a
// second call on an already-provisioned schema reports zero new table
// creations, inserts no new seed rows, and still returns success=true.
func (p *Provisioner) Provision(ctx context.Context, schemaName string) Result {
	start := time.Now()
	res := Result{Schema: schemaName, Logs: []string{}}

	quoted, err := database.QuoteSchemaName(schemaName)
	if err != nil {
		res.Error = err.Error()
		res.DurationMS = time.Since(start).Milliseconds()
		return res
	}

	// Step 1: schema creation. Each pipeline statement runs on its own,
	// outside any enclosing transaction, so a later step's failure can't
	// roll back the namespace itself, preserving resumability.
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoted)); err != nil {
		res.Error = fmt.Sprintf("schema creation failed: %v", err)
		res.DurationMS = time.Since(start).Milliseconds()
		return res
	}
	res.Logs = append(res.Logs, fmt.Sprintf("schema %s ensured", schemaName))

	// Step 2: table materialization, in dependency order. Failures on one
	// table are logged and do not abort the remaining tables, so a later
	// call can continue the job.
	created := 0
	for _, t := range tables {
		existedBefore := p.tableExisted(ctx, schemaName, t.Name)
		ddl := fmt.Sprintf(t.DDL, quoted)
		result, err := p.db.ExecContext(ctx, ddl)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("table %s: %v", t.Name, err))
			p.log.Error().Err(err).Str("table", t.Name).Str("schema", schemaName).Msg("table materialization failed")
			continue
		}
		if rows, _ := result.RowsAffected(); rows >= 0 {
			// CREATE TABLE IF NOT EXISTS doesn't reliably report whether it
			// created vs skipped across drivers; track creation via a
			// pre-check instead so table_count/tables_created are accurate.
			_ = rows
		}
		if !existedBefore {
			created++
		}
		res.Logs = append(res.Logs, fmt.Sprintf("table %s ensured", t.Name))
	}
	res.TablesCreated = created

	// Step 3: structural migrations.
	applied, migLogs, migErr := p.applyMigrations(ctx, schemaName, quoted)
	res.Logs = append(res.Logs, migLogs...)
	if migErr != nil {
		res.Warnings = append(res.Warnings, migErr.Error())
	}
	_ = applied

	// Step 4: baseline seed (roles, attendance defaults) — upserted.
	if err := p.seedBaseline(ctx, schemaName); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("seed: %v", err))
	} else {
		res.Logs = append(res.Logs, "baseline seed applied")
	}

	// Step 5: verification.
	v := p.Verify(ctx, schemaName)
	res.TableCount = v.TableCount
	if v.TableCount < minReadyTableCount {
		res.Warnings = append(res.Warnings, fmt.Sprintf("table count %d below minimum %d", v.TableCount, minReadyTableCount))
	}
	if !v.CriticalSetComplete {
		res.Warnings = append(res.Warnings, "critical table set incomplete")
	}

	res.Success = true
	res.DurationMS = time.Since(start).Milliseconds()
	return res
}

// tableExisted reports whether a tenant table already existed before this
// call (used only to compute tables_created for idempotent re-runs; the
// DDL itself is always IF NOT EXISTS so this never affects correctness).
func (p *Provisioner) tableExisted(ctx context.Context, schema, table string) bool {
	var exists bool
	query := `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2
	)`
	// Provision calls this just before the table's CREATE TABLE IF NOT
	// EXISTS runs, so true means this call did not create the table: on a
	// second Provision() call every table already exists, so tables_created
	// reports 0.
	_ = p.db.GetContext(ctx, &exists, query, schema, table)
	return exists
}

// applyMigrations executes ordered structural migrations against schema.
// A migration statement that fails with "already exists"/"duplicate
// column"/"duplicate object" classes is treated as already-applied, not a
// failure, satisfying the idempotent re-run contract.
func (p *Provisioner) applyMigrations(ctx context.Context, schema, quotedSchema string) (int, []string, error) {
	var logs []string
	applied := 0
	for _, m := range p.migrations {
		for _, stmt := range m.Statements {
			rendered := strings.ReplaceAll(stmt, "${SCHEMA_NAME}", quotedSchema)
			if m.Concurrent {
				// CREATE INDEX CONCURRENTLY cannot run inside a transaction;
				// run it standalone on one connection with the schema's
				// search_path set for the statement.
				conn, err := p.db.Connx(ctx)
				if err == nil {
					_, err = conn.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s, public", quotedSchema))
					if err == nil {
						_, err = conn.ExecContext(ctx, rendered)
					}
					_, _ = conn.ExecContext(ctx, "RESET search_path")
					conn.Close()
				}
				if err != nil && !isAlreadyApplied(err) {
					return applied, logs, fmt.Errorf("migration %s: %w", m.Name, err)
				}
			} else {
				_, err := p.db.ExecContext(ctx, rendered)
				if err != nil && !isAlreadyApplied(err) {
					return applied, logs, fmt.Errorf("migration %s: %w", m.Name, err)
				}
			}
			applied++
		}
		logs = append(logs, fmt.Sprintf("migration %s applied", m.Name))
	}
	return applied, logs, nil
}

// isAlreadyApplied classifies a Postgres DDL error as "this change was
// already made" rather than a genuine failure.
func isAlreadyApplied(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate column") ||
		strings.Contains(msg, "duplicate object")
}

// seedBaseline inserts the three default roles and default attendance
// configuration using upsert semantics keyed on (id), so a second call
// inserts zero new rows.
func (p *Provisioner) seedBaseline(ctx context.Context, schema string) error {
	return p.db.BindTenantSchema(ctx, schema, func(sctx context.Context) error {
		for _, r := range wellKnownRoles {
			_, err := p.db.ExecContext(sctx, `
				INSERT INTO roles (id, name, slug, role_type, is_system)
				VALUES ($1, $2, $3, 'system', $4)
				ON CONFLICT (id) DO NOTHING`,
				r.ID, r.Name, r.Slug, r.IsSystem)
			if err != nil {
				return fmt.Errorf("seed role %s: %w", r.Slug, err)
			}
		}
		_, err := p.db.ExecContext(sctx, `
			INSERT INTO attendance_settings (id, grace_period_minutes, half_day_threshold_minutes)
			VALUES ('00000000-0000-0000-0000-00000000a000', 10, 240)
			ON CONFLICT (id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("seed attendance_settings: %w", err)
		}
		if _, err := p.db.ExecContext(sctx, `
			INSERT INTO rbac_epoch (id, epoch) VALUES (1, 1)
			ON CONFLICT (id) DO NOTHING`); err != nil {
			return fmt.Errorf("seed rbac_epoch: %w", err)
		}
		return nil
	})
}

// Verify counts tables and checks the critical set for schema, without
// mutating anything. Used both at the end of Provision and directly by the
// /health/golive/tenant/{schema} endpoint.
func (p *Provisioner) Verify(ctx context.Context, schema string) Verification {
	v := Verification{Schema: schema}

	var count int
	_ = p.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1`, schema)
	v.TableCount = count
	v.Provisioned = count > 0

	var existing []string
	query, args, err := sqlx.In(`
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = ? AND table_name IN (?)`, schema, criticalSet)
	if err == nil {
		query = p.db.Rebind(query)
		_ = p.db.SelectContext(ctx, &existing, query, args...)
	}
	v.CriticalSetComplete = len(existing) == len(criticalSet)

	var adminCount int
	_ = p.db.GetContext(ctx, &adminCount, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s.user_roles ur
		JOIN %[1]s.roles r ON r.id = ur.role_id
		JOIN %[1]s.users u ON u.id = ur.user_id
		WHERE r.slug = 'admin' AND u.status = 'active' AND u.deleted_at IS NULL`, mustQuote(schema)))
	v.AdminCount = adminCount

	v.ReadyForLive = v.CriticalSetComplete && v.TableCount >= minReadyTableCount && v.AdminCount >= 1
	return v
}

func mustQuote(schema string) string {
	q, err := database.QuoteSchemaName(schema)
	if err != nil {
		// Verify is only ever called with schema names that already passed
		// through the resolver/provisioner's own validation; a failure here
		// means a caller bypassed that gate, which is a programming error.
		panic(err)
	}
	return q
}
