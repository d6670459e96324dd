// Package flow provides a durable workflow execution engine: composable
// step graphs, an event-sourced run state store, suspend/resume, and
// streaming observation of runs.
package flow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotCommitted is returned when a run is created or started against a
// workflow that is still in draft state. Call Commit first.
var ErrNotCommitted = errors.New("workflow is not committed")

// ErrNoEntries is returned by Commit when the workflow has no flow
// entries. An empty workflow cannot be run.
var ErrNoEntries = errors.New("cannot commit a workflow with no entries")

// ErrNoSuspendedSteps is returned by Resume when no step in the run is
// currently suspended.
var ErrNoSuspendedSteps = errors.New("no suspended steps to resume")

// ErrRunFinished is returned by Resume when the run already reached a
// terminal state (COMPLETED or FAILED). A finished run has nothing
// suspended, so it matches ErrNoSuspendedSteps under errors.Is.
var ErrRunFinished = fmt.Errorf("run already finished: %w", ErrNoSuspendedSteps)

// errForeachInput marks a foreach entry whose input was not an array.
// It surfaces through the entry's failed result, never as a Go error.
var errForeachInput = errors.New("foreach input must be an array")

// SchemaError reports a payload that failed validation against one of a
// step's or workflow's schemas.
//
// Target identifies which schema rejected the value: "input", "output",
// "resume", "suspend", or "workflow input".
type SchemaError struct {
	// StepID is the owning step, or empty for workflow-level validation.
	StepID string

	// Target names the schema that rejected the payload.
	Target string

	// Causes lists the individual validation failures, one per schema
	// violation, in document order.
	Causes []string
}

func (e *SchemaError) Error() string {
	subject := e.Target
	if e.StepID != "" {
		subject = fmt.Sprintf("step %q %s", e.StepID, e.Target)
	}
	if len(e.Causes) == 0 {
		return fmt.Sprintf("%s validation failed", subject)
	}
	return fmt.Sprintf("%s validation failed: %s", subject, strings.Join(e.Causes, "; "))
}

// suspendSignal is the internal control-flow marker for step suspension.
// StepContext.Suspend returns one; the engine consumes it via errors.As
// and it never reaches callers. Keeping suspension on a dedicated type
// prevents user errors from being mistaken for the framework sentinel.
type suspendSignal struct {
	payload any
}

func (s *suspendSignal) Error() string {
	return "workflow step suspended"
}
