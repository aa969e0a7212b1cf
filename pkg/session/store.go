// Package session implements the resumption store: an opaque, versioned
// key-value record that lets a scan pick up where it left off after an
// interruption. Values live in a local SQLite file (WAL + busy_timeout
// tuned), with a single schema_meta row tracking an integer schema
// version migrated forward idempotently.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

const sqlDriver = "libsql"

// Config selects where the session store lives.
type Config struct {
	// Path is a local filesystem path to the session database. ":memory:"
	// opens a private in-memory store, useful for tests and one-shot scans
	// that never need resumption.
	Path string
}

// Open opens (creating if necessary) the session database, applies the
// local-file pragmas, and brings the schema up to date.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("session store path is required")
	}

	dsn := path
	localFile := strings.HasPrefix(path, "file:")
	if path != ":memory:" && !localFile {
		if dir := filepath.Dir(filepath.Clean(path)); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create session store directory: %w", err)
			}
		}
		dsn = "file:" + filepath.Clean(path)
		localFile = true
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping session store: %w", err)
	}

	if localFile {
		if err := tuneLocalFile(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// tuneLocalFile applies the pragmas a single-process CLI wants from a
// file-backed store: WAL so an interrupt never corrupts the record, and
// a busy timeout so a concurrent status reader doesn't error out.
func tuneLocalFile(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var discard any
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if err := db.QueryRowContext(ctx, pragma).Scan(&discard); err != nil {
			return fmt.Errorf("session store %s: %w", pragma, err)
		}
	}
	return nil
}
