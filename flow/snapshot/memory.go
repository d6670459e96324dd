package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-process use.
// Snapshots are isolated through a JSON round trip, so callers cannot
// mutate stored data through retained references.
//
// Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]*Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]*Snapshot)}
}

// Save persists a deep copy of the snapshot.
func (m *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	copied, err := copySnapshot(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[snap.RunID] = append(m.runs[snap.RunID], copied)
	return nil
}

// Latest returns the newest snapshot for a run.
func (m *MemoryStore) Latest(_ context.Context, runID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := m.runs[runID]
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	return copySnapshot(snaps[len(snaps)-1])
}

// List returns every snapshot for a run, oldest first.
func (m *MemoryStore) List(_ context.Context, runID string) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := m.runs[runID]
	out := make([]*Snapshot, 0, len(snaps))
	for _, s := range snaps {
		copied, err := copySnapshot(s)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}

// Prune keeps the newest max snapshots for a run.
func (m *MemoryStore) Prune(_ context.Context, runID string, max int) error {
	if max < 0 {
		max = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := m.runs[runID]
	if len(snaps) <= max {
		return nil
	}
	m.runs[runID] = append([]*Snapshot(nil), snaps[len(snaps)-max:]...)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

func copySnapshot(snap *Snapshot) (*Snapshot, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to copy snapshot: %w", err)
	}
	var out Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy snapshot: %w", err)
	}
	return &out, nil
}
