package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/davidhsmith/flowrun-go/flow/events"
)

// Run is one execution of a committed workflow. A run owns its state
// store and engine and survives suspension: the same Run value is used
// to Start, Resume, observe and snapshot the execution.
//
// Start and Resume are synchronous; they return when the run reaches a
// terminal or suspended state. At most one of them may be in flight at
// a time.
type Run struct {
	wf      *Workflow
	runID   string
	store   *RunStore
	engine  *Engine
	logger  zerolog.Logger
	metrics *Metrics
	cleanup func()

	mu       sync.Mutex
	inFlight bool
	started  bool
	runtime  *RuntimeContext

	done      chan struct{}
	finalOnce sync.Once
	final     WorkflowResult
}

// StartParams configures Start.
type StartParams struct {
	// InputData is validated against the workflow's input schema and
	// becomes the first entry's input.
	InputData any

	// RuntimeContext seeds the run's scratchpad. Nil creates an empty
	// one.
	RuntimeContext *RuntimeContext
}

// ResumeParams configures Resume.
type ResumeParams struct {
	// Step names a single suspended step to resume. Mutually exclusive
	// with Steps.
	Step string

	// Steps names several suspended steps to resume together, as after
	// a parallel entry suspended more than one child.
	Steps []string

	// ResumeData is validated against each target step's resume schema
	// and handed to the step through StepContext.ResumeData.
	ResumeData any

	// RuntimeContext replaces the run's scratchpad for the resumed
	// walk. Nil keeps the existing one. Runs restored from snapshots
	// start with an empty scratchpad; rebuild it here.
	RuntimeContext *RuntimeContext
}

func newRun(wf *Workflow, runID string, emitter events.Emitter, logger zerolog.Logger, metrics *Metrics) *Run {
	store := NewRunStore(runID, wf.id, emitter)
	return &Run{
		wf:      wf,
		runID:   runID,
		store:   store,
		engine:  newEngine(wf, store, logger, metrics),
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// RunID returns the run's identifier.
func (r *Run) RunID() string { return r.runID }

// Store returns the run's state store, for subscription and snapshot
// restoration.
func (r *Run) Store() *RunStore { return r.store }

// ExecutionGraph returns the committed workflow's serializable graph.
func (r *Run) ExecutionGraph() []GraphNode { return r.wf.ExecutionGraph() }

// FlowHash returns the committed workflow's flow hash.
func (r *Run) FlowHash() string { return r.wf.FlowHash() }

// Done returns a channel closed when the run reaches a terminal state
// (COMPLETED or FAILED). Suspension does not close it.
func (r *Run) Done() <-chan struct{} { return r.done }

// Start executes the workflow from the first entry.
//
// A workflow-input schema violation does not return a Go error; it
// fails the run, and the failed result carries the violation details.
// Calling Start twice, or while a Start or Resume is in flight, returns
// an error.
func (r *Run) Start(ctx context.Context, params StartParams) (WorkflowResult, error) {
	if err := r.begin(true, params.RuntimeContext); err != nil {
		return WorkflowResult{}, err
	}
	defer r.end()

	r.logger.Info().
		Str("runId", r.runID).
		Str("workflowId", r.wf.id).
		Msg("run starting")

	if err := r.wf.inputSchema.Validate(params.InputData); err != nil {
		serr := &SchemaError{Target: "workflow input", Causes: validationCauses(err)}
		r.store.UpdateState(map[string]any{"error": serr.Error()})
		r.store.SetStatus(StatusFailed)
		if r.metrics != nil {
			r.metrics.runFinished(r.wf.id, ResultFailed)
		}
		result := WorkflowResult{
			Status: ResultFailed,
			Error:  serr.Error(),
			Steps:  r.store.State().StepResults,
		}
		r.finish(result)
		return result, nil
	}

	r.engine.initData = params.InputData
	result := r.engine.run(ctx, r.runtime, nil)
	if result.Status != ResultSuspended {
		r.finish(result)
	}
	return result, nil
}

// Resume continues a suspended run at the named step or steps.
//
// With neither Step nor Steps set, every currently suspended step is
// resumed with the same payload. Naming a step that is not suspended is
// an error. Resuming a finished run returns ErrRunFinished; resuming a
// run with nothing suspended returns ErrNoSuspendedSteps.
func (r *Run) Resume(ctx context.Context, params ResumeParams) (WorkflowResult, error) {
	if err := r.begin(false, params.RuntimeContext); err != nil {
		return WorkflowResult{}, err
	}
	defer r.end()

	state := r.store.State()
	switch state.Status {
	case StatusCompleted, StatusFailed:
		return WorkflowResult{}, ErrRunFinished
	}
	if len(state.SuspendedPaths) == 0 {
		return WorkflowResult{}, ErrNoSuspendedSteps
	}

	targets, err := resumeTargets(params, state.SuspendedPaths)
	if err != nil {
		return WorkflowResult{}, err
	}

	// A restored run's engine has no initial input in memory; recover
	// it from the execution context captured at start.
	if r.engine.initData == nil {
		r.engine.initData = state.ExecutionContext["initData"]
	}

	r.logger.Info().
		Str("runId", r.runID).
		Int("steps", len(targets)).
		Msg("run resuming")

	r.store.SetStatus(StatusResumed)
	result := r.engine.run(ctx, r.runtime, &resumeDescriptor{steps: targets, data: params.ResumeData})
	if result.Status != ResultSuspended {
		r.finish(result)
	}
	return result, nil
}

func resumeTargets(params ResumeParams, suspended map[string][]int) (map[string]bool, error) {
	if params.Step != "" && len(params.Steps) > 0 {
		return nil, fmt.Errorf("set Step or Steps, not both")
	}

	names := params.Steps
	if params.Step != "" {
		names = []string{params.Step}
	}
	if len(names) == 0 {
		all := make(map[string]bool, len(suspended))
		for id := range suspended {
			all[id] = true
		}
		return all, nil
	}

	targets := make(map[string]bool, len(names))
	for _, id := range names {
		if _, ok := suspended[id]; !ok {
			return nil, fmt.Errorf("step %q is not suspended", id)
		}
		targets[id] = true
	}
	return targets, nil
}

// GetRunState returns a copy of the run's full state.
func (r *Run) GetRunState() RunState {
	return r.store.State()
}

// GetState returns a copy of the run's opaque state bag.
func (r *Run) GetState() map[string]any {
	return r.store.State().State
}

// UpdateState merges key-value pairs into the run's opaque state bag.
func (r *Run) UpdateState(kv map[string]any) {
	r.store.UpdateState(kv)
}

// begin claims the run for one Start or Resume walk.
func (r *Run) begin(isStart bool, runtime *RuntimeContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight {
		return fmt.Errorf("run %s already has an execution in flight", r.runID)
	}
	if isStart {
		if r.started {
			return fmt.Errorf("run %s was already started; create a new run", r.runID)
		}
		r.started = true
	} else if !r.started {
		// A run restored from a snapshot is resumed without a prior
		// Start in this process.
		r.started = true
	}
	if runtime != nil {
		r.runtime = runtime
	}
	if r.runtime == nil {
		r.runtime = NewRuntimeContext()
	}
	r.inFlight = true
	return nil
}

func (r *Run) end() {
	r.mu.Lock()
	r.inFlight = false
	r.mu.Unlock()
}

// finish records the terminal result, releases the workflow's run
// registration and closes Done.
func (r *Run) finish(result WorkflowResult) {
	r.finalOnce.Do(func() {
		r.final = result
		if r.cleanup != nil {
			r.cleanup()
		}
		close(r.done)
	})
}

// FinalResult returns the terminal result and whether the run has
// finished.
func (r *Run) FinalResult() (WorkflowResult, bool) {
	select {
	case <-r.done:
		return r.final, true
	default:
		return WorkflowResult{}, false
	}
}
