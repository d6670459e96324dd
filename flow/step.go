package flow

import "context"

// ExecuteFunc is the body of a step. It receives the step context and
// returns the step's output.
//
// To suspend, return the error produced by StepContext.Suspend:
//
//	Execute: func(ctx context.Context, sc *flow.StepContext) (any, error) {
//	    if needsApproval {
//	        return nil, sc.Suspend(map[string]any{"reason": "approval_required"})
//	    }
//	    return result, nil
//	}
//
// Returning the suspend error terminates the invocation; the engine
// recognises it and records the step as suspended. Any other non-nil
// error records the step as failed.
type ExecuteFunc func(ctx context.Context, sc *StepContext) (any, error)

// Step is an immutable description of one unit of work: identity, I/O
// schemas, optional resume/suspend payload schemas, and the execute
// function. Construct it once and never mutate it; the same step value
// may appear in multiple workflows.
type Step struct {
	// ID must be stable and unique within a workflow.
	ID string

	// Description is optional human-readable documentation.
	Description string

	// InputSchema validates the entry input before execute runs.
	// Skipped when the step is the target of a resume (the resume
	// payload has its own schema).
	InputSchema *Schema

	// OutputSchema validates the value returned by execute.
	OutputSchema *Schema

	// ResumeSchema validates the payload passed to Resume for this step.
	ResumeSchema *Schema

	// SuspendSchema validates the payload passed to StepContext.Suspend.
	SuspendSchema *Schema

	// Execute is the step body. Required.
	Execute ExecuteFunc

	// mapping marks the synthetic steps built for Map entries. Mapping
	// functions run to completion and may not suspend.
	mapping bool
}
