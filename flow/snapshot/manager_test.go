package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davidhsmith/flowrun-go/flow"
)

// approvalWorkflow suspends at its middle step until resumed with
// {approved: true}.
func approvalWorkflow(t *testing.T) *flow.Workflow {
	t.Helper()

	wf := flow.NewWorkflow(flow.WorkflowConfig{ID: "approval"}).
		Then(&flow.Step{
			ID: "prepare",
			Execute: func(ctx context.Context, sc *flow.StepContext) (any, error) {
				return map[string]any{"amount": float64(900)}, nil
			},
		}).
		Then(&flow.Step{
			ID: "approve",
			Execute: func(ctx context.Context, sc *flow.StepContext) (any, error) {
				if sc.IsResuming() {
					return "approved", nil
				}
				return nil, sc.Suspend(map[string]any{"reason": "manual approval"})
			},
		}).
		Then(&flow.Step{
			ID: "finish",
			Execute: func(ctx context.Context, sc *flow.StepContext) (any, error) {
				return sc.InputData, nil
			},
		})
	if err := wf.Commit(); err != nil {
		t.Fatalf("Commit() = %v", err)
	}
	return wf
}

func suspendRun(t *testing.T, wf *flow.Workflow, runID string) *flow.Run {
	t.Helper()
	run, err := wf.CreateRun(flow.RunOptions{RunID: runID})
	if err != nil {
		t.Fatalf("CreateRun() = %v", err)
	}
	result, err := run.Start(context.Background(), flow.StartParams{})
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if result.Status != flow.ResultSuspended {
		t.Fatalf("status = %q, want suspended", result.Status)
	}
	return run
}

func TestCaptureRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	wf := approvalWorkflow(t)
	manager := NewManager(NewMemoryStore(), ManagerOptions{})

	run := suspendRun(t, wf, "run-rt")
	snap, err := manager.Capture(ctx, run)
	if err != nil {
		t.Fatalf("Capture() = %v", err)
	}
	if snap.Status != flow.StatusSuspended {
		t.Errorf("captured status = %q", snap.Status)
	}
	if snap.StepResults["approve"].Status != flow.StepSuspended {
		t.Errorf("captured approve = %+v", snap.StepResults["approve"])
	}
	if _, ok := snap.SuspendedPaths["approve"]; !ok {
		t.Error("captured snapshot missing suspended path")
	}
	if len(snap.Graph) == 0 {
		t.Error("captured snapshot missing execution graph")
	}

	// Simulate a process restart: a fresh run, same id, rebuilt from
	// the stored snapshot.
	stored, err := manager.store.Latest(ctx, "run-rt")
	if err != nil {
		t.Fatalf("Latest() = %v", err)
	}
	restored, err := wf.CreateRun(flow.RunOptions{RunID: "run-rt"})
	if err != nil {
		t.Fatalf("CreateRun() = %v", err)
	}
	if err := manager.Restore(stored, restored); err != nil {
		t.Fatalf("Restore() = %v", err)
	}

	state := restored.GetRunState()
	if state.Status != flow.StatusSuspended {
		t.Errorf("restored status = %q", state.Status)
	}
	if state.StepResults["prepare"].Status != flow.StepCompleted {
		t.Errorf("restored prepare = %+v", state.StepResults["prepare"])
	}
	if len(state.Logs) != len(snap.Logs) || len(state.Events) != len(snap.Events) {
		t.Errorf("restored history %d/%d, want %d/%d",
			len(state.Logs), len(state.Events), len(snap.Logs), len(snap.Events))
	}

	result, err := restored.Resume(ctx, flow.ResumeParams{
		Step: "approve",
	})
	if err != nil {
		t.Fatalf("Resume() after restore = %v", err)
	}
	if result.Status != flow.ResultCompleted {
		t.Fatalf("resumed status = %q (error: %s)", result.Status, result.Error)
	}
	if result.Result != "approved" {
		t.Errorf("result = %v, want approved", result.Result)
	}
}

func TestRestoreRejections(t *testing.T) {
	ctx := context.Background()
	wf := approvalWorkflow(t)
	manager := NewManager(NewMemoryStore(), ManagerOptions{})

	run := suspendRun(t, wf, "run-rej")
	snap, err := manager.Capture(ctx, run)
	if err != nil {
		t.Fatalf("Capture() = %v", err)
	}

	t.Run("different flow shape", func(t *testing.T) {
		other := flow.NewWorkflow(flow.WorkflowConfig{ID: "other"}).
			Then(&flow.Step{
				ID: "only",
				Execute: func(ctx context.Context, sc *flow.StepContext) (any, error) {
					return nil, nil
				},
			})
		if err := other.Commit(); err != nil {
			t.Fatalf("Commit() = %v", err)
		}
		target, _ := other.CreateRun(flow.RunOptions{RunID: "run-rej"})
		if err := manager.Restore(snap, target); err == nil {
			t.Error("Restore() = nil, want flow hash mismatch")
		}
	})

	t.Run("wrong run id", func(t *testing.T) {
		target, _ := wf.CreateRun(flow.RunOptions{RunID: "someone-else"})
		if err := manager.Restore(snap, target); err == nil {
			t.Error("Restore() = nil, want run id mismatch")
		}
	})

	t.Run("incompatible version", func(t *testing.T) {
		bad := *snap
		bad.Version = "9.0.0"
		target, _ := wf.CreateRun(flow.RunOptions{RunID: "run-rej"})
		if err := manager.Restore(&bad, target); err == nil {
			t.Error("Restore() = nil, want version error")
		}
	})
}

func TestManagerRetention(t *testing.T) {
	ctx := context.Background()
	wf := approvalWorkflow(t)
	manager := NewManager(NewMemoryStore(), ManagerOptions{MaxRetained: 3})

	run := suspendRun(t, wf, "run-ret")
	for i := 0; i < 7; i++ {
		if _, err := manager.Capture(ctx, run); err != nil {
			t.Fatalf("Capture() = %v", err)
		}
	}

	snaps, err := manager.store.List(ctx, "run-ret")
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(snaps) != 3 {
		t.Errorf("retained %d snapshots, want 3", len(snaps))
	}
}

func TestCaptureDiffAcrossResume(t *testing.T) {
	ctx := context.Background()
	wf := approvalWorkflow(t)
	manager := NewManager(NewMemoryStore(), ManagerOptions{})

	run := suspendRun(t, wf, "run-diff")
	before, err := manager.Capture(ctx, run)
	if err != nil {
		t.Fatalf("Capture() = %v", err)
	}

	if _, err := run.Resume(ctx, flow.ResumeParams{Step: "approve"}); err != nil {
		t.Fatalf("Resume() = %v", err)
	}
	after, err := manager.Capture(ctx, run)
	if err != nil {
		t.Fatalf("Capture() = %v", err)
	}

	d := Compare(before, after)
	if d.Empty() {
		t.Fatal("diff across resume is empty")
	}
	if d.Status == nil {
		t.Error("status change not reported")
	}
	if _, ok := d.StepResults["approve"]; !ok {
		t.Error("approve transition not reported")
	}
	if d.SuspendedPaths == nil {
		t.Error("suspendedPaths change not reported")
	}
}

func TestAutoCapture(t *testing.T) {
	ctx := context.Background()
	wf := approvalWorkflow(t)
	store := NewMemoryStore()
	manager := NewManager(store, ManagerOptions{})

	run := suspendRun(t, wf, "run-auto")
	ac := manager.AutoCapture(run, 5*time.Millisecond)

	time.Sleep(25 * time.Millisecond)
	ac.Stop()

	snaps, err := store.List(ctx, "run-auto")
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(snaps) == 0 {
		t.Fatal("automatic capture took no snapshots")
	}

	// Stop is idempotent.
	ac.Stop()
}

func TestAutoCaptureToleratesFailures(t *testing.T) {
	wf := approvalWorkflow(t)
	manager := NewManager(failingStore{}, ManagerOptions{})

	run := suspendRun(t, wf, "run-autofail")
	ac := manager.AutoCapture(run, 5*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	ac.Stop()
	// Reaching this point without a panic is the assertion: capture
	// failures are logged and the ticker keeps going.
}

type failingStore struct{}

func (failingStore) Save(context.Context, *Snapshot) error { return errors.New("disk full") }
func (failingStore) Latest(context.Context, string) (*Snapshot, error) {
	return nil, ErrNotFound
}
func (failingStore) List(context.Context, string) ([]*Snapshot, error) { return nil, nil }
func (failingStore) Prune(context.Context, string, int) error          { return nil }
func (failingStore) Close() error                                      { return nil }
