package flow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Engine walks a committed flow and drives the run's state store.
//
// Scheduling: a single-worker priority FIFO queue serializes every
// top-level entry evaluation, so for two entries A before B, all store
// mutations of A strictly precede all of B. Parallel and foreach entries
// fan out on their own bounded groups; their children's store mutations
// interleave, but each mutation is atomic and totally ordered by the
// store.
//
// The engine never returns a Go error for a normal step failure; it
// returns a failed WorkflowResult. Failures of its own invariants would
// surface as panics and are bugs.
type Engine struct {
	wf      *Workflow
	store   *RunStore
	runtime *RuntimeContext
	primary *taskQueue
	logger  zerolog.Logger
	metrics *Metrics

	initData any
}

// resumeDescriptor carries the target step ids and payload of a resume
// through the walk.
type resumeDescriptor struct {
	steps map[string]bool
	data  any
}

func (r *resumeDescriptor) targets(id string) bool {
	return r != nil && r.steps[id]
}

// entryResult is the outcome of evaluating one flow entry.
type entryResult struct {
	status  StepStatus
	output  any
	failure string

	// feed overrides output as the next entry's input when set
	// (conditional entries feed a {childId: output} record).
	feed    any
	hasFeed bool
}

func (r entryResult) nextInput() any {
	if r.hasFeed {
		return r.feed
	}
	return r.output
}

func newEngine(wf *Workflow, store *RunStore, logger zerolog.Logger, metrics *Metrics) *Engine {
	return &Engine{
		wf:      wf,
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// run executes the walk. For a fresh start, resume is nil and initData
// is the validated workflow input; for a resume, the store retains the
// prior step results and resume names the target steps.
func (e *Engine) run(ctx context.Context, runtime *RuntimeContext, resume *resumeDescriptor) WorkflowResult {
	e.runtime = runtime
	if e.runtime == nil {
		e.runtime = NewRuntimeContext()
	}

	e.primary = newTaskQueue(1)
	defer e.primary.Close()

	e.store.UpdateExecutionContext(map[string]any{
		"initData": e.initData,
		"flowHash": e.wf.flowHash,
	})
	if e.wf.retry != nil {
		e.store.UpdateExecutionContext(map[string]any{
			"retryConfig": map[string]any{
				"attempts": e.wf.retry.Attempts,
				"delay":    e.wf.retry.Delay.Milliseconds(),
			},
		})
	}

	e.store.SetStatus(StatusRunning)

	input := e.initData
	for i := range e.wf.entries {
		if err := ctx.Err(); err != nil {
			return e.fail(fmt.Sprintf("run cancelled: %v", err))
		}

		entry := &e.wf.entries[i]
		e.store.UpdateExecutionPath([]int{i})

		var res entryResult
		done := e.primary.Submit(0, func() {
			res = e.dispatch(ctx, []int{i}, entry, input, resume)
		})
		<-done

		switch res.status {
		case StepFailed:
			return e.fail(res.failure)
		case StepSuspended:
			return e.suspend()
		}
		input = res.nextInput()
	}

	e.store.UpdateState(map[string]any{"result": input})
	e.store.SetStatus(StatusCompleted)
	if e.metrics != nil {
		e.metrics.runFinished(e.wf.id, ResultCompleted)
	}
	return WorkflowResult{
		Status: ResultCompleted,
		Result: input,
		Steps:  e.store.State().StepResults,
	}
}

func (e *Engine) fail(message string) WorkflowResult {
	e.store.UpdateState(map[string]any{"error": message})
	e.store.SetStatus(StatusFailed)
	if e.metrics != nil {
		e.metrics.runFinished(e.wf.id, ResultFailed)
	}
	return WorkflowResult{
		Status: ResultFailed,
		Error:  message,
		Steps:  e.store.State().StepResults,
	}
}

func (e *Engine) suspend() WorkflowResult {
	e.store.SetStatus(StatusSuspended)
	if e.metrics != nil {
		e.metrics.runSuspended(e.wf.id)
	}
	state := e.store.State()
	suspended := make([]SuspendedStep, 0, len(state.SuspendedPaths))
	for id, result := range state.StepResults {
		if result.Status != StepSuspended {
			continue
		}
		suspended = append(suspended, SuspendedStep{
			StepID: id,
			Path:   state.SuspendedPaths[id],
			Output: result.Output,
		})
	}
	sort.Slice(suspended, func(i, j int) bool {
		return lessPath(suspended[i].Path, suspended[j].Path)
	})
	return WorkflowResult{
		Status:    ResultSuspended,
		Suspended: suspended,
		Steps:     state.StepResults,
	}
}

func lessPath(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func (e *Engine) dispatch(ctx context.Context, path []int, entry *flowEntry, input any, resume *resumeDescriptor) entryResult {
	switch entry.kind {
	case kindStep:
		return e.executeStep(ctx, path, entry.step, input, resume)
	case kindParallel:
		return e.executeParallel(ctx, path, entry, input, resume)
	case kindConditional:
		return e.executeConditional(ctx, path, entry, input, resume)
	case kindLoop:
		return e.executeLoop(ctx, path, entry, input, resume)
	case kindForeach:
		return e.executeForeach(ctx, path, entry, input, resume)
	}
	return entryResult{status: StepFailed, failure: "unknown entry kind"}
}

// executeStep runs one step: input validation, execute with suspend and
// panic trapping, output validation, and store bookkeeping.
func (e *Engine) executeStep(ctx context.Context, path []int, step *Step, input any, resume *resumeDescriptor) entryResult {
	isTarget := resume.targets(step.ID)

	// Resume walk: completed non-target steps are skipped; their cached
	// output feeds the next entry.
	if resume != nil && !isTarget {
		if cached, ok := e.store.State().StepResults[step.ID]; ok && cached.Status == StepCompleted {
			return entryResult{status: StepCompleted, output: cached.Output}
		}
	}

	var resumeData any
	if isTarget {
		if err := step.ResumeSchema.Validate(resume.data); err != nil {
			serr := &SchemaError{StepID: step.ID, Target: "resume", Causes: validationCauses(err)}
			e.store.UpdateStepResult(step.ID, StepResult{Status: StepFailed, Error: serr.Error()})
			return entryResult{status: StepFailed, failure: serr.Error()}
		}
		resumeData = resume.data
	} else {
		// Input validation happens before the running transition so a
		// rejected payload leaves the step's result untouched.
		if err := step.InputSchema.Validate(input); err != nil {
			serr := &SchemaError{StepID: step.ID, Target: "input", Causes: validationCauses(err)}
			return entryResult{status: StepFailed, failure: serr.Error()}
		}
	}

	e.store.SetCurrentStep(step.ID)
	defer e.store.SetCurrentStep("")

	e.store.UpdateStepResult(step.ID, StepResult{Status: StepRunning})
	if e.metrics != nil {
		e.metrics.stepStarted(e.wf.id)
	}

	sc := &StepContext{
		stepID:       step.ID,
		InputData:    input,
		isResuming:   isTarget,
		resumeData:   resumeData,
		allowSuspend: !step.mapping,
		suspendCheck: step.SuspendSchema,
		runtime:      e.runtime,
		engine:       e,
	}

	started := time.Now()
	output, err := invokeStep(ctx, step, sc)

	var signal *suspendSignal
	suspended := errors.As(err, &signal)
	if e.metrics != nil {
		status := StepCompleted
		switch {
		case suspended:
			status = StepSuspended
		case err != nil:
			status = StepFailed
		}
		e.metrics.stepFinished(e.wf.id, step.ID, string(status), time.Since(started))
	}

	if err != nil {
		if suspended {
			suspendedPath := append([]int(nil), path...)
			e.store.UpdateStepResult(step.ID, StepResult{
				Status:        StepSuspended,
				Output:        signal.payload,
				SuspendedPath: suspendedPath,
			})
			e.store.setSuspendedPath(step.ID, suspendedPath)
			e.logger.Debug().Str("step", step.ID).Msg("step suspended")
			return entryResult{status: StepSuspended, output: signal.payload}
		}
		e.store.UpdateStepResult(step.ID, StepResult{Status: StepFailed, Error: err.Error()})
		return entryResult{status: StepFailed, failure: err.Error()}
	}

	if err := step.OutputSchema.Validate(output); err != nil {
		serr := &SchemaError{StepID: step.ID, Target: "output", Causes: validationCauses(err)}
		e.store.UpdateStepResult(step.ID, StepResult{Status: StepFailed, Error: serr.Error()})
		return entryResult{status: StepFailed, failure: serr.Error()}
	}

	e.store.UpdateStepResult(step.ID, StepResult{Status: StepCompleted, Output: output})
	if isTarget {
		e.store.clearSuspendedPath(step.ID)
	}
	return entryResult{status: StepCompleted, output: output}
}

// invokeStep calls the step body, converting panics into step failures
// so the walk keeps its bookkeeping on every exit path.
func invokeStep(ctx context.Context, step *Step, sc *StepContext) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %q panicked: %v", step.ID, r)
		}
	}()
	return step.Execute(ctx, sc)
}

// executeParallel dispatches all children concurrently on a group sized
// to the child count. Each child receives the same upstream input. The
// first failure in flow order wins; otherwise every suspended child is
// recorded and the entry surfaces the first suspended child's payload;
// otherwise the entry completes with a {childId: output} record.
func (e *Engine) executeParallel(ctx context.Context, base []int, entry *flowEntry, input any, resume *resumeDescriptor) entryResult {
	// Resume walk: a parallel entry whose children all completed is
	// reconstructed from the cache.
	if resume != nil {
		if output, ok := e.cachedParallelOutput(entry); ok {
			return entryResult{status: StepCompleted, output: output}
		}
	}

	n := len(entry.steps)
	results := make([]entryResult, n)

	var g errgroup.Group
	g.SetLimit(n)
	for i, child := range entry.steps {
		i, child := i, child
		childPath := append(append([]int(nil), base...), i)
		g.Go(func() error {
			results[i] = e.executeStep(ctx, childPath, child, input, resume)
			return nil
		})
	}
	_ = g.Wait()

	for i := range results {
		if results[i].status == StepFailed {
			return results[i]
		}
	}
	for i := range results {
		if results[i].status == StepSuspended {
			return entryResult{status: StepSuspended, output: results[i].output}
		}
	}

	output := make(map[string]any, n)
	for i, child := range entry.steps {
		output[child.ID] = results[i].output
	}
	return entryResult{status: StepCompleted, output: output}
}

func (e *Engine) cachedParallelOutput(entry *flowEntry) (map[string]any, bool) {
	state := e.store.State()
	output := make(map[string]any, len(entry.steps))
	for _, child := range entry.steps {
		cached, ok := state.StepResults[child.ID]
		if !ok || cached.Status != StepCompleted {
			return nil, false
		}
		output[child.ID] = cached.Output
	}
	return output, true
}

// executeConditional evaluates predicates in order and executes the
// first matching child. No match completes the entry with no output.
// The next entry receives a {childId: output} record.
func (e *Engine) executeConditional(ctx context.Context, base []int, entry *flowEntry, input any, resume *resumeDescriptor) entryResult {
	for i, branch := range entry.branches {
		sc := &StepContext{
			stepID:    branch.Step.ID,
			InputData: input,
			runtime:   e.runtime,
			engine:    e,
		}
		matched, err := branch.When(ctx, sc)
		if err != nil {
			return entryResult{
				status:  StepFailed,
				failure: fmt.Sprintf("branch condition %d failed: %v", i, err),
			}
		}
		if !matched {
			continue
		}

		childPath := append(append([]int(nil), base...), i)
		res := e.executeStep(ctx, childPath, branch.Step, input, resume)
		if res.status == StepCompleted {
			res.feed = map[string]any{branch.Step.ID: res.output}
			res.hasFeed = true
		}
		return res
	}
	return entryResult{status: StepCompleted}
}

// executeLoop runs the body, then evaluates the condition on the body's
// output. do-while continues while true, do-until while false. Failure
// or suspension in the body terminates the loop with that result.
// Infinite loops are the caller's responsibility.
func (e *Engine) executeLoop(ctx context.Context, base []int, entry *flowEntry, input any, resume *resumeDescriptor) entryResult {
	// Resume walk: a loop whose body already completed is skipped with
	// its cached final output.
	if resume != nil && !resume.targets(entry.step.ID) {
		if cached, ok := e.store.State().StepResults[entry.step.ID]; ok && cached.Status == StepCompleted {
			return entryResult{status: StepCompleted, output: cached.Output}
		}
	}

	current := input
	iterResume := resume
	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return entryResult{status: StepFailed, failure: fmt.Sprintf("run cancelled: %v", err)}
		}

		iterPath := append(append([]int(nil), base...), iteration)
		res := e.executeStep(ctx, iterPath, entry.step, current, iterResume)
		iterResume = nil
		if res.status != StepCompleted {
			return res
		}

		sc := &StepContext{
			stepID:    entry.step.ID,
			InputData: res.output,
			runtime:   e.runtime,
			engine:    e,
		}
		matched, err := entry.condition(ctx, sc)
		if err != nil {
			return entryResult{status: StepFailed, failure: fmt.Sprintf("loop condition failed: %v", err)}
		}

		done := false
		switch entry.loop {
		case loopDoWhile:
			done = !matched
		case loopDoUntil:
			done = matched
		}
		if done {
			return entryResult{status: StepCompleted, output: res.output}
		}
		current = res.output
	}
}

// executeForeach validates the array input, then processes it in chunks
// of the configured concurrency: chunks run in order, elements within a
// chunk run concurrently. A failure aborts immediately; a suspension is
// surfaced after its chunk drains. The entry's output preserves input
// order, and the body step's final recorded result is the whole array.
func (e *Engine) executeForeach(ctx context.Context, base []int, entry *flowEntry, input any, resume *resumeDescriptor) entryResult {
	if resume != nil && !resume.targets(entry.step.ID) {
		if cached, ok := e.store.State().StepResults[entry.step.ID]; ok && cached.Status == StepCompleted {
			return entryResult{status: StepCompleted, output: cached.Output}
		}
	}

	items, ok := asSlice(input)
	if !ok {
		failure := fmt.Sprintf("step %q: %v (got %T)", entry.step.ID, errForeachInput, input)
		e.store.UpdateStepResult(entry.step.ID, StepResult{Status: StepFailed, Error: failure})
		return entryResult{status: StepFailed, failure: failure}
	}

	outputs := make([]any, len(items))
	results := make([]entryResult, len(items))

	for start := 0; start < len(items); start += entry.concurrency {
		end := start + entry.concurrency
		if end > len(items) {
			end = len(items)
		}

		var g errgroup.Group
		g.SetLimit(entry.concurrency)
		for j := start; j < end; j++ {
			j := j
			itemPath := append(append([]int(nil), base...), j)
			g.Go(func() error {
				results[j] = e.executeStep(ctx, itemPath, entry.step, items[j], resume)
				return nil
			})
		}
		_ = g.Wait()

		for j := start; j < end; j++ {
			switch results[j].status {
			case StepFailed:
				return results[j]
			case StepSuspended:
				return entryResult{status: StepSuspended, output: results[j].output}
			}
			outputs[j] = results[j].output
		}
	}

	e.store.UpdateStepResult(entry.step.ID, StepResult{Status: StepCompleted, Output: outputs})
	return entryResult{status: StepCompleted, output: outputs}
}

// asSlice converts slice and array inputs to []any. Strings and byte
// slices are not treated as arrays.
func asSlice(input any) ([]any, bool) {
	if items, ok := input.([]any); ok {
		return items, true
	}
	v := reflect.ValueOf(input)
	if !v.IsValid() {
		return nil, false
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, false
	}
	if v.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = v.Index(i).Interface()
	}
	return out, true
}
