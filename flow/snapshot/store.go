package snapshot

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a run has no stored snapshots.
var ErrNotFound = errors.New("snapshot not found")

// Store persists snapshots keyed by run id. Each run keeps an ordered
// set of snapshots; the manager prunes it to a bounded size.
//
// Implementations in this package: MemoryStore for tests and
// single-process use, SQLiteStore for local durability, MySQLStore for
// shared databases.
type Store interface {
	// Save persists a snapshot. Snapshots for the same run accumulate;
	// Save never overwrites earlier captures.
	Save(ctx context.Context, snap *Snapshot) error

	// Latest returns the most recently saved snapshot for a run.
	// Returns ErrNotFound if the run has none.
	Latest(ctx context.Context, runID string) (*Snapshot, error)

	// List returns every stored snapshot for a run, oldest first.
	List(ctx context.Context, runID string) ([]*Snapshot, error)

	// Prune deletes all but the newest max snapshots for a run.
	Prune(ctx context.Context, runID string, max int) error

	// Close releases the store's resources.
	Close() error
}
