// Package ledger persists per-molecule docking outcomes.
//
// The ledger is the single source of truth for resumability: a batch
// interrupted by a kill, node failure, or timeout re-dispatches exactly
// the molecules the ledger does not show as finished. Storage is a local
// SQLite file (WAL, single connection) next to the run's other outputs.
//
// The store itself is safe for serialized use only; the dispatcher
// routes all writes through a single aggregator goroutine, which is the
// sole writer during a batch.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// DefaultFileName is the ledger file name under the run output dir.
const DefaultFileName = "ledger.db"

// ErrNotFound is returned by Get for molecules with no recorded outcome.
var ErrNotFound = errors.New("ledger: molecule not recorded")

// Entry is one recorded outcome.
type Entry struct {
	MoleculeID string
	State      State
	Message    string
	ExitCode   int
	RunID      string
	UpdatedAt  time.Time
}

type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the ledger database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	if dir := filepath.Dir(filepath.Clean(path)); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// Keep a single connection and use WAL to reduce lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmaCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var journalMode string
	if err := db.QueryRowContext(pragmaCtx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(pragmaCtx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the ledger file path.
func (s *Store) Path() string { return s.path }

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO ledger_meta (id, schema_version, created_at) VALUES (1, ?, ?);`,
		`CREATE TABLE IF NOT EXISTS molecule_outcomes (
			molecule_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			message TEXT,
			exit_code INTEGER,
			run_id TEXT,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_molecule_outcomes_state ON molecule_outcomes(state);`,
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, stmt := range stmts {
		if i == 1 {
			if _, err := s.db.ExecContext(ctx, stmt, schemaVersion, now); err != nil {
				return fmt.Errorf("init ledger meta: %w", err)
			}
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init ledger schema: %w", err)
		}
	}
	return nil
}

// Record upserts a molecule outcome.
//
// Transitions are monotonic: recording a state that is not a legal
// successor of the stored one is rejected, so a terminal outcome can
// never be silently downgraded. Use Reset to clear rows for forced
// re-runs.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.MoleculeID) == "" {
		return errors.New("ledger: molecule id is required")
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}

	prev, err := s.Get(ctx, e.MoleculeID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err == nil && prev.State != e.State && !CanTransition(prev.State, e.State) {
		return fmt.Errorf("ledger: illegal transition %s -> %s for %s", prev.State, e.State, e.MoleculeID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO molecule_outcomes (molecule_id, state, message, exit_code, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(molecule_id) DO UPDATE SET
			state=excluded.state,
			message=excluded.message,
			exit_code=excluded.exit_code,
			run_id=excluded.run_id,
			updated_at=excluded.updated_at
	`, e.MoleculeID, string(e.State), e.Message, e.ExitCode, e.RunID, e.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("ledger: record %s: %w", e.MoleculeID, err)
	}
	return nil
}

// Get returns the recorded outcome for one molecule.
func (s *Store) Get(ctx context.Context, moleculeID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT molecule_id, state, COALESCE(message, ''), COALESCE(exit_code, 0), COALESCE(run_id, ''), updated_at
		FROM molecule_outcomes WHERE molecule_id = ?
	`, moleculeID)
	return scanEntry(row.Scan)
}

// List returns all outcomes in molecule-id order.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT molecule_id, state, COALESCE(message, ''), COALESCE(exit_code, 0), COALESCE(run_id, ''), updated_at
		FROM molecule_outcomes ORDER BY molecule_id
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Counts returns the number of molecules in each state.
func (s *Store) Counts(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM molecule_outcomes GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("ledger: counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[State(state)] = n
	}
	return counts, rows.Err()
}

// Reset deletes the rows for the given molecules so they can be
// re-dispatched (force re-run or --retry-failed).
func (s *Store) Reset(ctx context.Context, moleculeIDs ...string) error {
	for _, id := range moleculeIDs {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM molecule_outcomes WHERE molecule_id = ?`, id); err != nil {
			return fmt.Errorf("ledger: reset %s: %w", id, err)
		}
	}
	return nil
}

func scanEntry(scan func(...any) error) (*Entry, error) {
	var e Entry
	var state, updated string
	if err := scan(&e.MoleculeID, &state, &e.Message, &e.ExitCode, &e.RunID, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ledger: scan outcome: %w", err)
	}
	e.State = State(state)
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		e.UpdatedAt = ts
	}
	return &e, nil
}
