// Package session (continued): the generic key-value Store plus the
// concrete ScanState record a scan persists so a resumed scan can skip
// the targets it already finished. A target left unfinished is scanned
// again from the start on resume.
//
// Store.Save upserts by primary key (ON CONFLICT DO UPDATE) rather than
// a delete-then-insert pair, so a crash mid-write never leaves the row
// missing.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fathomsec/fathom/pkg/recurse"
)

// Store wraps a session database with JSON-valued key-value access scoped
// to a session_id. Safe for concurrent use; the underlying *sql.DB pools
// its own connections.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-opened, already-migrated database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save JSON-encodes value and upserts it under (sessionID, key).
func (s *Store) Save(ctx context.Context, sessionID, key string, value any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("session: marshal %s/%s: %w", sessionID, key, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_state (session_id, key, record_version, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, key) DO UPDATE SET
		   record_version = excluded.record_version,
		   value = excluded.value,
		   updated_at = excluded.updated_at`,
		sessionID, key, SchemaVersion, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("session: save %s/%s: %w", sessionID, key, err)
	}
	return nil
}

// Load decodes the value stored under (sessionID, key) into dest, reporting
// false (no error) if nothing is stored there yet.
func (s *Store) Load(ctx context.Context, sessionID, key string, dest any) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM session_state WHERE session_id = ? AND key = ?`,
		sessionID, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session: load %s/%s: %w", sessionID, key, err)
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("session: decode %s/%s: %w", sessionID, key, err)
	}
	return true, nil
}

// DeleteSession removes every key recorded under sessionID, used once a
// scan completes and its resumption record is no longer needed.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_state WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("session: delete %s: %w", sessionID, err)
	}
	return nil
}

const scanStateKey = "scan_state"

// TargetState is one target's resumable progress: pending recursion
// prefixes and the running counters the Coordinator reports in its
// Summary. Candidate-level dedup state is deliberately not persisted:
// resuming re-derives it from the wordlist, which is cheap and avoids an
// unbounded resumption record for large wordlists.
type TargetState struct {
	Ref       string            `json:"ref"`
	Pending   []recurse.SubScan `json:"pending"`
	Requested int64             `json:"requested"`
	Kept      int64             `json:"kept"`
	Filtered  int64             `json:"filtered"`
	Errors    int64             `json:"errors"`
	Done      bool              `json:"done"`
}

// ScanState is the full resumption record for one scan invocation across
// every target.
type ScanState struct {
	Targets map[string]TargetState `json:"targets"`
}

// SaveScanState persists state under sessionID.
func SaveScanState(ctx context.Context, store *Store, sessionID string, state ScanState) error {
	return store.Save(ctx, sessionID, scanStateKey, state)
}

// LoadScanState retrieves the scan state previously saved under sessionID,
// if any.
func LoadScanState(ctx context.Context, store *Store, sessionID string) (ScanState, bool, error) {
	var state ScanState
	found, err := store.Load(ctx, sessionID, scanStateKey, &state)
	if err != nil || !found {
		return ScanState{}, found, err
	}
	return state, true, nil
}
