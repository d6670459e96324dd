// Package events defines the run event model and pluggable emitters.
//
// Every mutation of a run's state store produces an ordered stream of
// events. Emitters receive those events as a side channel for logging,
// tracing, or in-memory capture; subscribers on the store itself remain
// the primary consumption path.
package events

// Type identifies the kind of run event.
type Type string

const (
	// WorkflowStatusUpdate signals a change to the run-level status
	// (RUNNING, SUSPENDED, COMPLETED, FAILED, ...).
	WorkflowStatusUpdate Type = "WorkflowStatusUpdate"

	// StepStatusUpdate signals a change to a single step's result
	// (running, completed, failed, suspended).
	StepStatusUpdate Type = "StepStatusUpdate"

	// StreamStart and StreamFinish bracket the event sequence delivered
	// by a stream. They are synthesized by the stream, never stored in
	// the run's event list.
	StreamStart  Type = "start"
	StreamFinish Type = "finish"
)

// State is the run-level view carried inside an event payload.
//
// Steps maps step ids to their most recent results. The values are kept
// as opaque JSON-compatible structures so the events package stays a leaf
// dependency of the engine.
type State struct {
	Status string         `json:"status"`
	Result any            `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
	Steps  map[string]any `json:"steps,omitempty"`
}

// Payload carries the event-specific data.
//
// StepID, StepStatus and StepResult are set for StepStatusUpdate events.
// WorkflowState is always populated.
type Payload struct {
	StepID        string `json:"stepId,omitempty"`
	StepStatus    string `json:"stepStatus,omitempty"`
	StepResult    any    `json:"stepResult,omitempty"`
	CurrentStep   string `json:"currentStep,omitempty"`
	WorkflowState State  `json:"workflowState"`
}

// Event is a single, totally ordered notification about a run.
//
// Timestamps are milliseconds since the epoch and are nondecreasing
// within a run: the store clamps each new event's timestamp to be at
// least the previous one.
type Event struct {
	Type        Type           `json:"type"`
	RunID       string         `json:"runId"`
	WorkflowID  string         `json:"workflowId"`
	Timestamp   int64          `json:"timestamp"`
	Description string         `json:"description,omitempty"`
	Payload     Payload        `json:"payload"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
