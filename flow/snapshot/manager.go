package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidhsmith/flowrun-go/flow"
)

// DefaultMaxRetained is the per-run snapshot retention bound.
const DefaultMaxRetained = 10

// ManagerOptions configures a Manager. Zero values are valid.
type ManagerOptions struct {
	// MaxRetained caps how many snapshots are kept per run. Values
	// below 1 use DefaultMaxRetained.
	MaxRetained int

	// Logger receives diagnostics from automatic capture. Defaults to
	// a no-op logger.
	Logger *zerolog.Logger

	// Metrics, when set, counts captures.
	Metrics *flow.Metrics
}

// Manager captures and restores run snapshots against a Store, capping
// per-run retention.
type Manager struct {
	store   Store
	max     int
	logger  zerolog.Logger
	metrics *flow.Metrics
}

// NewManager creates a manager over the given store.
func NewManager(store Store, opts ManagerOptions) *Manager {
	max := opts.MaxRetained
	if max < 1 {
		max = DefaultMaxRetained
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Manager{store: store, max: max, logger: logger, metrics: opts.Metrics}
}

// Capture builds a snapshot from the run's current state, validates it,
// saves it, and prunes the run's history to the retention bound.
//
// Capturing mid-step is safe: the store hands out a consistent copy of
// the state. The snapshot reflects some prefix of the run's mutations.
func (m *Manager) Capture(ctx context.Context, run *flow.Run) (*Snapshot, error) {
	state := run.GetRunState()

	snap := &Snapshot{
		Version:          Version,
		Timestamp:        time.Now().UnixMilli(),
		RunID:            state.RunID,
		WorkflowID:       state.WorkflowID,
		Status:           state.Status,
		StepResults:      state.StepResults,
		ExecutionPath:    state.ExecutionPath,
		SuspendedPaths:   state.SuspendedPaths,
		Events:           state.Events,
		Logs:             state.Logs,
		Graph:            run.ExecutionGraph(),
		ExecutionContext: state.ExecutionContext,
	}
	if v, ok := state.State["result"]; ok {
		snap.Result = v
	}
	if v, ok := state.State["error"].(string); ok {
		snap.Error = v
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, snap); err != nil {
		return nil, err
	}
	if err := m.store.Prune(ctx, snap.RunID, m.max); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.SnapshotCaptured(snap.WorkflowID)
	}
	return snap, nil
}

// Restore rebuilds a run's store from a snapshot.
//
// The snapshot must validate, carry a compatible version, and have been
// captured from a workflow with the same flow hash as the target run's.
// The target store is reset, then status, step results, execution path
// and suspended paths are applied in order; finally the snapshot's log
// and event history replaces the history generated by the restore
// itself. The runtime context is not restored; pass a fresh one to
// Resume.
func (m *Manager) Restore(snap *Snapshot, run *flow.Run) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if !compatible(snap.Version) {
		return fmt.Errorf("unsupported snapshot version %q (this package reads %s)", snap.Version, Version)
	}
	if hash, ok := snap.ExecutionContext["flowHash"].(string); ok && hash != run.FlowHash() {
		return fmt.Errorf("snapshot was captured from a different flow shape (hash %s, workflow has %s)", hash, run.FlowHash())
	}
	if snap.RunID != run.RunID() {
		return fmt.Errorf("snapshot belongs to run %s, not %s", snap.RunID, run.RunID())
	}

	store := run.Store()
	store.Reset()
	store.SetStatus(snap.Status)

	ids := make([]string, 0, len(snap.StepResults))
	for id := range snap.StepResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		store.UpdateStepResult(id, snap.StepResults[id])
	}

	store.UpdateExecutionPath(snap.ExecutionPath)
	store.UpdateSuspendedPaths(snap.SuspendedPaths)
	store.UpdateExecutionContext(snap.ExecutionContext)

	kv := map[string]any{}
	if snap.Result != nil {
		kv["result"] = snap.Result
	}
	if snap.Error != "" {
		kv["error"] = snap.Error
	}
	if len(kv) > 0 {
		store.UpdateState(kv)
	}

	store.RestoreHistory(snap.Logs, snap.Events)
	return nil
}

// FieldChange holds one differing field's values in a Diff.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Diff is a sparse record of the differences between two snapshots.
// Nil pointer fields and absent map keys mean "unchanged".
type Diff struct {
	Status         *FieldChange           `json:"status,omitempty"`
	ExecutionPath  *FieldChange           `json:"executionPath,omitempty"`
	SuspendedPaths *FieldChange           `json:"suspendedPaths,omitempty"`
	Result         *FieldChange           `json:"result,omitempty"`
	Error          *FieldChange           `json:"error,omitempty"`
	EventCount     *FieldChange           `json:"eventCount,omitempty"`
	StepResults    map[string]FieldChange `json:"stepResults,omitempty"`
}

// Empty reports whether the two snapshots were identical on every
// compared field.
func (d Diff) Empty() bool {
	return d.Status == nil && d.ExecutionPath == nil && d.SuspendedPaths == nil &&
		d.Result == nil && d.Error == nil && d.EventCount == nil && len(d.StepResults) == 0
}

// Compare diffs two snapshots, from older to newer. Step results are
// compared per step id; a step present in only one snapshot appears
// with a nil side.
func Compare(from, to *Snapshot) Diff {
	var d Diff

	if from.Status != to.Status {
		d.Status = &FieldChange{From: from.Status, To: to.Status}
	}
	if !jsonEqual(from.ExecutionPath, to.ExecutionPath) {
		d.ExecutionPath = &FieldChange{From: from.ExecutionPath, To: to.ExecutionPath}
	}
	if !jsonEqual(from.SuspendedPaths, to.SuspendedPaths) {
		d.SuspendedPaths = &FieldChange{From: from.SuspendedPaths, To: to.SuspendedPaths}
	}
	if !jsonEqual(from.Result, to.Result) {
		d.Result = &FieldChange{From: from.Result, To: to.Result}
	}
	if from.Error != to.Error {
		d.Error = &FieldChange{From: from.Error, To: to.Error}
	}
	if len(from.Events) != len(to.Events) {
		d.EventCount = &FieldChange{From: len(from.Events), To: len(to.Events)}
	}

	for id, older := range from.StepResults {
		newer, ok := to.StepResults[id]
		if !ok {
			d.addStep(id, FieldChange{From: older})
			continue
		}
		if !jsonEqual(older, newer) {
			d.addStep(id, FieldChange{From: older, To: newer})
		}
	}
	for id, newer := range to.StepResults {
		if _, ok := from.StepResults[id]; !ok {
			d.addStep(id, FieldChange{To: newer})
		}
	}
	return d
}

func (d *Diff) addStep(id string, change FieldChange) {
	if d.StepResults == nil {
		d.StepResults = make(map[string]FieldChange)
	}
	d.StepResults[id] = change
}

func jsonEqual(a, b any) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(da, db)
}

// AutoCapture takes snapshots of a run on a wall-clock interval until
// stopped or the run finishes. Capture failures are logged and the
// ticker continues.
type AutoCapture struct {
	stop     chan struct{}
	finished chan struct{}
	once     sync.Once
}

// AutoCapture starts interval-based capture for the run. Call Stop when
// done; the wrapper also stops itself when the run reaches a terminal
// state, after one final capture.
func (m *Manager) AutoCapture(run *flow.Run, interval time.Duration) *AutoCapture {
	ac := &AutoCapture{
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	go func() {
		defer close(ac.finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.capture(run)
			case <-run.Done():
				m.capture(run)
				return
			case <-ac.stop:
				return
			}
		}
	}()
	return ac
}

func (m *Manager) capture(run *flow.Run) {
	if _, err := m.Capture(context.Background(), run); err != nil {
		m.logger.Warn().
			Err(err).
			Str("runId", run.RunID()).
			Msg("automatic snapshot capture failed")
	}
}

// Stop halts automatic capture and waits for the worker to exit.
// Idempotent.
func (a *AutoCapture) Stop() {
	a.once.Do(func() { close(a.stop) })
	<-a.finished
}
