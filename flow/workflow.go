package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WorkflowConfig describes a new workflow.
type WorkflowConfig struct {
	// ID names the workflow. Required. When the workflow is used as a
	// step, this becomes the step id.
	ID string

	// Description is optional documentation.
	Description string

	// InputSchema validates the input passed to Start.
	InputSchema *Schema

	// OutputSchema documents the run's result shape. Reserved; the
	// engine does not validate terminal output against it.
	OutputSchema *Schema

	// RetryConfig is reserved. See RetryConfig.
	RetryConfig *RetryConfig
}

// Workflow is a named, finalizable sequence of flow entries.
//
// A workflow starts in draft state: the fluent builder methods (Then,
// Map, Parallel, Branch, DoWhile, DoUntil, Foreach) append entries.
// Commit freezes the flow; CreateRun and Start fail on a draft.
//
// Builder errors (nil step, empty id, no branches) are recorded and
// surfaced by Commit, so chains stay fluent:
//
//	wf := flow.NewWorkflow(flow.WorkflowConfig{ID: "math", InputSchema: in}).
//	    Then(add).
//	    Then(multiply)
//	if err := wf.Commit(); err != nil {
//	    log.Fatal(err)
//	}
type Workflow struct {
	id           string
	description  string
	inputSchema  *Schema
	outputSchema *Schema
	retry        *RetryConfig

	mu        sync.Mutex
	entries   []flowEntry
	committed bool
	buildErr  error
	graph     []GraphNode
	flowHash  string
	runs      map[string]*Run
}

// NewWorkflow creates a draft workflow.
func NewWorkflow(cfg WorkflowConfig) *Workflow {
	w := &Workflow{
		id:           cfg.ID,
		description:  cfg.Description,
		inputSchema:  cfg.InputSchema,
		outputSchema: cfg.OutputSchema,
		retry:        cfg.RetryConfig,
		runs:         make(map[string]*Run),
	}
	if cfg.ID == "" {
		w.buildErr = fmt.Errorf("workflow id cannot be empty")
	}
	return w
}

// ID returns the workflow id.
func (w *Workflow) ID() string { return w.id }

// Description returns the workflow description.
func (w *Workflow) Description() string { return w.description }

// Then appends a single step entry.
func (w *Workflow) Then(step *Step) *Workflow {
	w.append(func() (flowEntry, error) {
		if err := checkStep(step); err != nil {
			return flowEntry{}, err
		}
		return flowEntry{kind: kindStep, step: step}, nil
	})
	return w
}

// Map appends a synthetic step that rebuilds the input for the next
// entry from the declared sources. The synthetic step's id is
// "map@<entryIndex>".
func (w *Workflow) Map(cfg MapConfig) *Workflow {
	w.append(func() (flowEntry, error) {
		if len(cfg) == 0 {
			return flowEntry{}, fmt.Errorf("map config cannot be empty")
		}
		return flowEntry{kind: kindStep, step: mapStep(len(w.entries), cfg)}, nil
	})
	return w
}

// MapWith appends a synthetic mapping step computing the next entry's
// input with a function, as in the functional Map form.
func (w *Workflow) MapWith(fn func(ctx context.Context, sc *StepContext) (any, error)) *Workflow {
	w.append(func() (flowEntry, error) {
		if fn == nil {
			return flowEntry{}, fmt.Errorf("map function cannot be nil")
		}
		return flowEntry{kind: kindStep, step: mapFuncStep(len(w.entries), fn)}, nil
	})
	return w
}

// Parallel appends an unordered fan-out over the given steps. Each child
// receives the same upstream input; the entry's output maps child step
// ids to their outputs.
func (w *Workflow) Parallel(steps ...*Step) *Workflow {
	w.append(func() (flowEntry, error) {
		if len(steps) == 0 {
			return flowEntry{}, fmt.Errorf("parallel requires at least one step")
		}
		for _, s := range steps {
			if err := checkStep(s); err != nil {
				return flowEntry{}, err
			}
		}
		return flowEntry{kind: kindParallel, steps: append([]*Step(nil), steps...)}, nil
	})
	return w
}

// Branch appends an ordered if/else-if chain. The first predicate that
// returns true selects its step; when none matches the entry completes
// with no output.
func (w *Workflow) Branch(pairs ...BranchPair) *Workflow {
	w.append(func() (flowEntry, error) {
		if len(pairs) == 0 {
			return flowEntry{}, fmt.Errorf("branch requires at least one pair")
		}
		for _, p := range pairs {
			if p.When == nil {
				return flowEntry{}, fmt.Errorf("branch predicate cannot be nil")
			}
			if err := checkStep(p.Step); err != nil {
				return flowEntry{}, err
			}
		}
		return flowEntry{kind: kindConditional, branches: append([]BranchPair(nil), pairs...)}, nil
	})
	return w
}

// DoWhile appends a loop that re-executes the body while the condition
// holds. The condition is evaluated after each iteration on the body's
// output.
func (w *Workflow) DoWhile(step *Step, cond Condition) *Workflow {
	return w.loopEntry(step, cond, loopDoWhile)
}

// DoUntil appends a loop that re-executes the body until the condition
// holds.
func (w *Workflow) DoUntil(step *Step, cond Condition) *Workflow {
	return w.loopEntry(step, cond, loopDoUntil)
}

func (w *Workflow) loopEntry(step *Step, cond Condition, kind loopKind) *Workflow {
	w.append(func() (flowEntry, error) {
		if err := checkStep(step); err != nil {
			return flowEntry{}, err
		}
		if cond == nil {
			return flowEntry{}, fmt.Errorf("loop condition cannot be nil")
		}
		return flowEntry{kind: kindLoop, step: step, condition: cond, loop: kind}, nil
	})
	return w
}

// Foreach appends an entry that executes the step once per element of an
// array input with bounded parallelism. The entry's output is the array
// of element outputs in input order.
func (w *Workflow) Foreach(step *Step, opts ForeachOptions) *Workflow {
	w.append(func() (flowEntry, error) {
		if err := checkStep(step); err != nil {
			return flowEntry{}, err
		}
		concurrency := opts.Concurrency
		if concurrency < 1 {
			concurrency = 1
		}
		return flowEntry{kind: kindForeach, step: step, concurrency: concurrency}, nil
	})
	return w
}

func (w *Workflow) append(build func() (flowEntry, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.committed {
		w.buildErr = fmt.Errorf("cannot modify a committed workflow")
		return
	}
	if w.buildErr != nil {
		return
	}
	entry, err := build()
	if err != nil {
		w.buildErr = err
		return
	}
	w.entries = append(w.entries, entry)
}

func checkStep(step *Step) error {
	if step == nil {
		return fmt.Errorf("step cannot be nil")
	}
	if step.ID == "" {
		return fmt.Errorf("step id cannot be empty")
	}
	if step.Execute == nil {
		return fmt.Errorf("step %q has no execute function", step.ID)
	}
	return nil
}

// Commit freezes the flow, builds the execution-graph view, and flips
// the workflow from draft to committed. Idempotent once committed.
// Returns the first builder error, or ErrNoEntries for an empty flow.
func (w *Workflow) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.committed {
		return nil
	}
	if w.buildErr != nil {
		return w.buildErr
	}
	if len(w.entries) == 0 {
		return ErrNoEntries
	}

	w.graph = make([]GraphNode, 0, len(w.entries))
	for i := range w.entries {
		w.graph = append(w.graph, w.entries[i].graphNode())
	}
	w.flowHash = hashGraph(w.graph)
	w.committed = true
	return nil
}

// Committed reports whether Commit has succeeded.
func (w *Workflow) Committed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.committed
}

// ExecutionGraph returns the serializable adjacency view built at
// Commit, or nil for a draft.
func (w *Workflow) ExecutionGraph() []GraphNode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]GraphNode(nil), w.graph...)
}

// FlowHash returns a stable hash of the committed flow shape. Restored
// snapshots are checked against it to detect graph drift.
func (w *Workflow) FlowHash() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flowHash
}

// hashGraph computes an FNV-1a hash over the serialized graph. The
// serialized form only contains ids, descriptions and opaque markers, so
// the hash is stable across processes.
func hashGraph(graph []GraphNode) string {
	data, err := json.Marshal(graph)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("fnv1a:%016x", h.Sum64())
}

// CreateRun binds the committed flow to a fresh store and engine.
// Returns ErrNotCommitted for a draft workflow.
func (w *Workflow) CreateRun(opts RunOptions) (*Run, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.committed {
		return nil, ErrNotCommitted
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	run := newRun(w, runID, opts.Emitter, logger, opts.Metrics)
	w.runs[runID] = run
	run.cleanup = func() {
		w.mu.Lock()
		delete(w.runs, runID)
		w.mu.Unlock()
	}
	return run, nil
}

// Start is a convenience that creates a run with default options and
// starts it with the given input.
func (w *Workflow) Start(ctx context.Context, input any) (WorkflowResult, error) {
	run, err := w.CreateRun(RunOptions{})
	if err != nil {
		return WorkflowResult{}, err
	}
	return run.Start(ctx, StartParams{InputData: input})
}

// ActiveRuns returns the ids of runs created but not yet finished.
func (w *Workflow) ActiveRuns() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.runs))
	for id := range w.runs {
		ids = append(ids, id)
	}
	return ids
}

// ToStep exposes the committed workflow as a step. The step's id is the
// workflow id and its schemas are the workflow's input and output
// schemas; its execute performs a nested run and returns the nested
// run's result value.
//
// A nested failure surfaces as the embedding step's error. Nested
// suspension is not propagated across the embedding boundary; it also
// surfaces as an error.
func (w *Workflow) ToStep() *Step {
	return &Step{
		ID:           w.id,
		Description:  w.description,
		InputSchema:  w.inputSchema,
		OutputSchema: w.outputSchema,
		Execute: func(ctx context.Context, sc *StepContext) (any, error) {
			run, err := w.CreateRun(RunOptions{})
			if err != nil {
				return nil, err
			}
			result, err := run.Start(ctx, StartParams{
				InputData:      sc.InputData,
				RuntimeContext: sc.RuntimeContext(),
			})
			if err != nil {
				return nil, err
			}
			switch result.Status {
			case ResultCompleted:
				return result.Result, nil
			case ResultSuspended:
				return nil, fmt.Errorf("nested workflow %q suspended; resume it through its own run", w.id)
			default:
				return nil, fmt.Errorf("nested workflow %q failed: %s", w.id, result.Error)
			}
		},
	}
}
