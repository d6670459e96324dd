package flow

import (
	"context"
	"errors"
	"testing"
)

func addStep(id string) *Step {
	return &Step{
		ID: id,
		Execute: func(ctx context.Context, sc *StepContext) (any, error) {
			in := sc.InputData.(map[string]any)
			return map[string]any{"value": in["a"].(float64) + in["b"].(float64)}, nil
		},
	}
}

func passthrough(id string) *Step {
	return &Step{
		ID: id,
		Execute: func(ctx context.Context, sc *StepContext) (any, error) {
			return sc.InputData, nil
		},
	}
}

func TestWorkflowCommit(t *testing.T) {
	t.Run("empty workflow cannot commit", func(t *testing.T) {
		wf := NewWorkflow(WorkflowConfig{ID: "empty"})
		if err := wf.Commit(); !errors.Is(err, ErrNoEntries) {
			t.Errorf("Commit() = %v, want ErrNoEntries", err)
		}
	})

	t.Run("empty workflow id is a builder error", func(t *testing.T) {
		wf := NewWorkflow(WorkflowConfig{}).Then(passthrough("a"))
		if err := wf.Commit(); err == nil {
			t.Error("Commit() = nil, want id error")
		}
	})

	t.Run("commit is idempotent", func(t *testing.T) {
		wf := NewWorkflow(WorkflowConfig{ID: "w"}).Then(passthrough("a"))
		if err := wf.Commit(); err != nil {
			t.Fatalf("first Commit() = %v", err)
		}
		if err := wf.Commit(); err != nil {
			t.Errorf("second Commit() = %v, want nil", err)
		}
	})

	t.Run("builder errors surface at commit", func(t *testing.T) {
		cases := []struct {
			name string
			wf   *Workflow
		}{
			{"nil step", NewWorkflow(WorkflowConfig{ID: "w"}).Then(nil)},
			{"empty step id", NewWorkflow(WorkflowConfig{ID: "w"}).Then(&Step{Execute: func(ctx context.Context, sc *StepContext) (any, error) { return nil, nil }})},
			{"step without execute", NewWorkflow(WorkflowConfig{ID: "w"}).Then(&Step{ID: "x"})},
			{"empty parallel", NewWorkflow(WorkflowConfig{ID: "w"}).Parallel()},
			{"empty branch", NewWorkflow(WorkflowConfig{ID: "w"}).Branch()},
			{"nil predicate", NewWorkflow(WorkflowConfig{ID: "w"}).Branch(BranchPair{Step: passthrough("x")})},
			{"nil loop condition", NewWorkflow(WorkflowConfig{ID: "w"}).DoWhile(passthrough("x"), nil)},
			{"empty map config", NewWorkflow(WorkflowConfig{ID: "w"}).Map(MapConfig{})},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if err := tc.wf.Commit(); err == nil {
					t.Error("Commit() = nil, want builder error")
				}
			})
		}
	})

	t.Run("modify after commit is an error", func(t *testing.T) {
		wf := NewWorkflow(WorkflowConfig{ID: "w"}).Then(passthrough("a"))
		if err := wf.Commit(); err != nil {
			t.Fatalf("Commit() = %v", err)
		}
		wf.Then(passthrough("b"))
		if got := len(wf.ExecutionGraph()); got != 1 {
			t.Errorf("graph has %d entries after post-commit append, want 1", got)
		}
	})
}

func TestWorkflowCreateRun(t *testing.T) {
	t.Run("draft workflow cannot create runs", func(t *testing.T) {
		wf := NewWorkflow(WorkflowConfig{ID: "w"}).Then(passthrough("a"))
		if _, err := wf.CreateRun(RunOptions{}); !errors.Is(err, ErrNotCommitted) {
			t.Errorf("CreateRun() = %v, want ErrNotCommitted", err)
		}
	})

	t.Run("explicit run id is honored", func(t *testing.T) {
		wf := NewWorkflow(WorkflowConfig{ID: "w"}).Then(passthrough("a"))
		if err := wf.Commit(); err != nil {
			t.Fatalf("Commit() = %v", err)
		}
		run, err := wf.CreateRun(RunOptions{RunID: "run-1"})
		if err != nil {
			t.Fatalf("CreateRun() = %v", err)
		}
		if run.RunID() != "run-1" {
			t.Errorf("RunID() = %q, want run-1", run.RunID())
		}
	})

	t.Run("generated run ids are unique", func(t *testing.T) {
		wf := NewWorkflow(WorkflowConfig{ID: "w"}).Then(passthrough("a"))
		if err := wf.Commit(); err != nil {
			t.Fatalf("Commit() = %v", err)
		}
		a, _ := wf.CreateRun(RunOptions{})
		b, _ := wf.CreateRun(RunOptions{})
		if a.RunID() == b.RunID() {
			t.Errorf("two runs share id %q", a.RunID())
		}
	})

	t.Run("active runs are tracked until terminal", func(t *testing.T) {
		wf := NewWorkflow(WorkflowConfig{ID: "w"}).Then(passthrough("a"))
		if err := wf.Commit(); err != nil {
			t.Fatalf("Commit() = %v", err)
		}
		run, _ := wf.CreateRun(RunOptions{RunID: "tracked"})
		if got := wf.ActiveRuns(); len(got) != 1 || got[0] != "tracked" {
			t.Fatalf("ActiveRuns() = %v, want [tracked]", got)
		}
		if _, err := run.Start(context.Background(), StartParams{InputData: "x"}); err != nil {
			t.Fatalf("Start() = %v", err)
		}
		if got := wf.ActiveRuns(); len(got) != 0 {
			t.Errorf("ActiveRuns() after completion = %v, want empty", got)
		}
	})
}

func TestFlowHash(t *testing.T) {
	build := func(id string) *Workflow {
		wf := NewWorkflow(WorkflowConfig{ID: id}).
			Then(passthrough("a")).
			Parallel(passthrough("b"), passthrough("c"))
		if err := wf.Commit(); err != nil {
			t.Fatalf("Commit() = %v", err)
		}
		return wf
	}

	t.Run("same shape hashes equal", func(t *testing.T) {
		if build("w").FlowHash() != build("w").FlowHash() {
			t.Error("identical flows produced different hashes")
		}
	})

	t.Run("different shape hashes differ", func(t *testing.T) {
		other := NewWorkflow(WorkflowConfig{ID: "w"}).
			Then(passthrough("a")).
			Then(passthrough("b"))
		if err := other.Commit(); err != nil {
			t.Fatalf("Commit() = %v", err)
		}
		if build("w").FlowHash() == other.FlowHash() {
			t.Error("different flows produced the same hash")
		}
	})
}

func TestWorkflowToStep(t *testing.T) {
	inner := NewWorkflow(WorkflowConfig{ID: "double"}).
		Then(&Step{
			ID: "mul",
			Execute: func(ctx context.Context, sc *StepContext) (any, error) {
				return sc.InputData.(float64) * 2, nil
			},
		})
	if err := inner.Commit(); err != nil {
		t.Fatalf("inner Commit() = %v", err)
	}

	outer := NewWorkflow(WorkflowConfig{ID: "outer"}).
		Then(inner.ToStep()).
		Then(&Step{
			ID: "inc",
			Execute: func(ctx context.Context, sc *StepContext) (any, error) {
				return sc.InputData.(float64) + 1, nil
			},
		})
	if err := outer.Commit(); err != nil {
		t.Fatalf("outer Commit() = %v", err)
	}

	result, err := outer.Start(context.Background(), float64(21))
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if result.Status != ResultCompleted {
		t.Fatalf("status = %q, want completed (error: %s)", result.Status, result.Error)
	}
	if got := result.Result.(float64); got != 43 {
		t.Errorf("result = %v, want 43", got)
	}
}
