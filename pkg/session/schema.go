package session

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current resumption-record schema.
const SchemaVersion = 1

// A session is identified by an opaque session_id; every key written
// under it is a JSON-encoded value, so adding fields to a record never
// needs a schema migration of its own.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL
	);`,
	`INSERT INTO schema_meta (id, schema_version)
		VALUES (1, 0)
		ON CONFLICT(id) DO NOTHING;`,
	`CREATE TABLE IF NOT EXISTS session_state (
		session_id TEXT NOT NULL,
		key TEXT NOT NULL,
		record_version INTEGER NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY(session_id, key)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_session_state_session ON session_state(session_id);`,
}

// Migrate brings the session schema up to date inside one transaction.
// Idempotent: re-running against a current database changes nothing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE schema_meta SET schema_version = ? WHERE id = 1 AND schema_version <> ?`,
		SchemaVersion, SchemaVersion); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}

	return tx.Commit()
}
