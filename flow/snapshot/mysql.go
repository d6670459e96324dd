package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists snapshots in a MySQL database, for deployments
// where several processes share one snapshot history.
//
// The DSN uses the go-sql-driver format, e.g.
// "user:pass@tcp(localhost:3306)/flowrun?parseTime=true".
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore connects to the database, verifies the connection, and
// prepares the snapshot schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach mysql: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS run_snapshots (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(191) NOT NULL,
			workflow_id VARCHAR(191) NOT NULL,
			status VARCHAR(32) NOT NULL,
			taken_at BIGINT NOT NULL,
			data LONGTEXT NOT NULL,
			INDEX idx_run_snapshots_run (run_id, id)
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create snapshot table: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// Save persists one snapshot row.
func (s *MySQLStore) Save(ctx context.Context, snap *Snapshot) error {
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
func (s *MySQLStore) Latest(ctx context.Context, runID string) (*Snapshot, error) {
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
func (s *MySQLStore) List(ctx context.Context, runID string) ([]*Snapshot, error) {
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

// Prune keeps the newest max snapshots for a run. MySQL cannot delete
// from a table it subqueries, so the ids to keep are collected first.
func (s *MySQLStore) Prune(ctx context.Context, runID string, max int) error {
	if max < 0 {
		max = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM run_snapshots WHERE run_id = ? ORDER BY id DESC LIMIT ?`, runID, max)
	if err != nil {
		return fmt.Errorf("failed to select snapshots to keep: %w", err)
	}
	defer rows.Close()

	var keep []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan snapshot id: %w", err)
		}
		keep = append(keep, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(keep) == 0 {
		_, err = s.db.ExecContext(ctx, `DELETE FROM run_snapshots WHERE run_id = ?`, runID)
	} else {
		oldest := keep[len(keep)-1]
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM run_snapshots WHERE run_id = ? AND id < ?`, runID, oldest)
	}
	if err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
