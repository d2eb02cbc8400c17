package database

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type txKey struct{}

// schemaNameRe is the whole-class injection defense: any schema name that
// reaches a DDL/DML string MUST first pass this whitelist. It rejects
// anything that isn't a lowercase identifier starting with a letter or
// underscore, at most 63 characters (Postgres's own identifier limit).
var schemaNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidSchemaName reports whether name is safe to interpolate into DDL/DML
// after being additionally passed through pq.QuoteIdentifier.
func ValidSchemaName(name string) bool {
	return schemaNameRe.MatchString(name)
}

// QuoteSchemaName validates name against the whitelist and, only if valid,
// returns it quoted for safe use in a DDL/DML string. It is the single
// choke point every caller in this package uses before building SQL that
// names a tenant schema.
func QuoteSchemaName(name string) (string, error) {
	if !ValidSchemaName(name) {
		return "", fmt.Errorf("database: schema name %q fails validation", name)
	}
	return pq.QuoteIdentifier(name), nil
}

// BindTenantSchema executes fn inside a transaction whose search_path is
// bound to the given per-tenant schema for the duration of the call
// (SET LOCAL, so it cannot leak to a recycled pooled connection). This is
// the schema binder described by the request pipeline: every repository
// call issued from fn inherits the tenant schema implicitly through the
// transaction stored in the returned context.
func (db *DB) BindTenantSchema(ctx context.Context, schemaName string, fn func(context.Context) error) error {
	quoted, err := QuoteSchemaName(schemaName)
	if err != nil {
		return err
	}
	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, public", quoted)); err != nil {
			return fmt.Errorf("failed to bind search_path to %s: %w", schemaName, err)
		}
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

// WithTenantSchema is the repository-facing name for BindTenantSchema: most
// call sites read more naturally as "with the tenant schema bound, do X"
// than "bind the schema, then do X". Same behavior, same signature.
func (db *DB) WithTenantSchema(ctx context.Context, schemaName string, fn func(context.Context) error) error {
	return db.BindTenantSchema(ctx, schemaName, fn)
}

// getTx extracts transaction from context if present
func (db *DB) getTx(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}
