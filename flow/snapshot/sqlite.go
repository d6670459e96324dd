package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists snapshots in a single-file SQLite database.
//
// Designed for local durability with zero setup: the schema is created
// on first use, WAL mode is enabled for concurrent reads, and writes
// are transactional. Use ":memory:" as the path for an ephemeral
// database in tests.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path and prepares
// the snapshot schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS run_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			taken_at INTEGER NOT NULL,
			data TEXT NOT NULL
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create snapshot table: %w", err)
	}
	index := `CREATE INDEX IF NOT EXISTS idx_run_snapshots_run ON run_snapshots(run_id, id)`
	if _, err := db.ExecContext(ctx, index); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create snapshot index: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Save persists one snapshot row.
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_snapshots (run_id, workflow_id, status, taken_at, data) VALUES (?, ?, ?, ?, ?)`,
		snap.RunID, snap.WorkflowID, string(snap.Status), snap.Timestamp, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Latest returns the newest snapshot for a run.
func (s *SQLiteStore) Latest(ctx context.Context, runID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM run_snapshots WHERE run_id = ? ORDER BY id DESC LIMIT 1`, runID)

	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return decodeRow(data)
}

// List returns every snapshot for a run, oldest first.
func (s *SQLiteStore) List(ctx context.Context, runID string) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM run_snapshots WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snap, err := decodeRow(data)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Prune keeps the newest max snapshots for a run.
func (s *SQLiteStore) Prune(ctx context.Context, runID string, max int) error {
	if max < 0 {
		max = 0
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM run_snapshots
		WHERE run_id = ? AND id NOT IN (
			SELECT id FROM run_snapshots WHERE run_id = ? ORDER BY id DESC LIMIT ?
		)`, runID, runID, max)
	if err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeRow(data string) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot row: %w", err)
	}
	return &snap, nil
}
