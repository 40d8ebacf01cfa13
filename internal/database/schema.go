package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// SchemaVersion is the current schema version. Bump it when a schema file changes.
const SchemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func schemaSQL(dialect Dialect) (string, error) {
	data, err := schemaFS.ReadFile("schema/" + string(dialect) + ".sql")
	if err != nil {
		return "", fmt.Errorf("read %s schema: %w", dialect, err)
	}
	return string(data), nil
}

func (d *DB) initSchema(ctx context.Context) error {
	var probe string
	switch d.dialect {
	case Postgres:
		probe = "SELECT COUNT(1) FROM information_schema.tables WHERE table_name = 'schema_version'"
	default:
		probe = "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'"
	}
	var tableExists int
	if err := d.db.QueryRowContext(ctx, probe).Scan(&tableExists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return d.createSchema(ctx)
	}

	var version int
	if err := d.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != SchemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database or migrate it manually)",
			ErrSchemaMismatch, version, SchemaVersion)
	}
	return nil
}

func (d *DB) createSchema(ctx context.Context) error {
	ddl, err := schemaSQL(d.dialect)
	if err != nil {
		return err
	}
	return d.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	})
}
