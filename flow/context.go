package flow

import (
	"errors"
	"sync"
)

// RuntimeContext is a per-run key-value scratchpad passed into step
// executions for side-channel data. It is not persisted in snapshots;
// callers reconstruct it when resuming a restored run.
//
// Safe for concurrent use by parallel step executions.
type RuntimeContext struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewRuntimeContext creates an empty runtime context.
func NewRuntimeContext() *RuntimeContext {
	return &RuntimeContext{values: make(map[string]any)}
}

// Get returns the value for a key and whether it exists.
func (rc *RuntimeContext) Get(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.values[key]
	return v, ok
}

// Set stores a value under a key.
func (rc *RuntimeContext) Set(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values[key] = value
}

// Has reports whether a key exists.
func (rc *RuntimeContext) Has(key string) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	_, ok := rc.values[key]
	return ok
}

// Delete removes a key. Removing an absent key is a no-op.
func (rc *RuntimeContext) Delete(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.values, key)
}

// Clear removes every key.
func (rc *RuntimeContext) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values = make(map[string]any)
}

// StepContext is the view a step execution (or predicate, or mapping
// function) has of its run. One StepContext exists per invocation; it is
// not retained after the invocation returns.
type StepContext struct {
	stepID string

	// InputData is the input derived from the previous entry, or the
	// run's initial input for the first entry.
	InputData any

	isResuming   bool
	resumeData   any
	allowSuspend bool
	suspendCheck *Schema

	runtime *RuntimeContext
	engine  *Engine
}

// StepID returns the id of the step this context was built for.
func (sc *StepContext) StepID() string {
	return sc.stepID
}

// GetStepResult returns the most recent recorded output for a step id
// and whether any result exists for it.
func (sc *StepContext) GetStepResult(stepID string) (any, bool) {
	result, ok := sc.engine.store.State().StepResults[stepID]
	if !ok {
		return nil, false
	}
	return result.Output, true
}

// GetInitData returns the run's initial input.
func (sc *StepContext) GetInitData() any {
	return sc.engine.initData
}

// IsResuming reports whether this invocation is the target of a resume.
func (sc *StepContext) IsResuming() bool {
	return sc.isResuming
}

// ResumeData returns the resume payload, or nil when not resuming.
func (sc *StepContext) ResumeData() any {
	return sc.resumeData
}

// RuntimeContext returns the run's runtime context.
func (sc *StepContext) RuntimeContext() *RuntimeContext {
	return sc.runtime
}

// Suspend halts the run at this step pending external input. The payload
// is validated against the step's suspend schema, recorded as the step's
// output, and surfaced in the suspended run result.
//
// The returned error must be returned from the execute function
// unchanged; it is the control-flow marker the engine consumes. After
// Suspend the invocation must do no further observable work.
//
// Suspending is only supported inside a step's execute. Conditions, loop
// predicates and mapping functions run to completion; calling Suspend
// there returns a plain error that fails the enclosing entry.
func (sc *StepContext) Suspend(payload any) error {
	if !sc.allowSuspend {
		return errors.New("suspend is not supported in this context")
	}
	if err := sc.suspendCheck.Validate(payload); err != nil {
		return &SchemaError{StepID: sc.stepID, Target: "suspend", Causes: validationCauses(err)}
	}
	return &suspendSignal{payload: payload}
}
