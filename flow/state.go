package flow

import (
	"github.com/davidhsmith/flowrun-go/flow/events"
)

// Status is the run-level lifecycle state.
//
// Transitions: INITIAL -> RUNNING; RUNNING -> COMPLETED | FAILED |
// SUSPENDED; SUSPENDED -> RESUMED -> RUNNING. COMPLETED and FAILED are
// terminal.
type Status string

const (
	StatusInitial   Status = "INITIAL"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusResumed   Status = "RESUMED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusSuspended Status = "SUSPENDED"
)

// StepStatus is the lifecycle state of one step within a run.
//
// A step moves running -> (completed | failed | suspended); a suspended
// step may transition back to running through a resume, then on to
// completed or failed.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSuspended StepStatus = "suspended"
)

// StepResult is the most recent recorded outcome for a step id.
//
// For suspended steps, Output holds the suspend payload and
// SuspendedPath the execution path captured at suspension.
type StepResult struct {
	Status        StepStatus `json:"status"`
	Output        any        `json:"output,omitempty"`
	Error         string     `json:"error,omitempty"`
	SuspendedPath []int      `json:"suspendedPath,omitempty"`
}

// LogKind classifies a run log entry.
type LogKind string

const (
	LogStatusChange LogKind = "status-change"
	LogStepUpdate   LogKind = "step-update"
	LogWatchEvent   LogKind = "watch-event"
)

// LogEntry is one timestamped line in a run's ordered log. Timestamps
// are milliseconds since the epoch and nondecreasing within a run.
type LogEntry struct {
	Kind      LogKind `json:"kind"`
	Timestamp int64   `json:"timestamp"`
	Message   string  `json:"message"`
	StepID    string  `json:"stepId,omitempty"`
	Data      any     `json:"data,omitempty"`
}

// RunState is the observable state of a run, owned by its RunStore.
// Values returned from the store are deep copies; mutating them does not
// affect the run.
type RunState struct {
	RunID      string `json:"runId"`
	WorkflowID string `json:"workflowId"`
	Status     Status `json:"status"`

	// StepResults maps step ids to their most recent results.
	StepResults map[string]StepResult `json:"stepResults"`

	// CurrentStep is the step whose execute is in flight, or empty.
	CurrentStep string `json:"currentStep,omitempty"`

	// ExecutionPath is the engine's position inside nested entries,
	// e.g. [2, 0, 3] = entry 2 -> child 0 -> child 3.
	ExecutionPath []int `json:"executionPath"`

	// SuspendedPaths maps suspended step ids to the execution path
	// captured at the moment of suspension.
	SuspendedPaths map[string][]int `json:"suspendedPaths"`

	// Logs is the ordered, append-only run log.
	Logs []LogEntry `json:"logs"`

	// Events is the ordered event list for replay and snapshots.
	Events []events.Event `json:"events"`

	// State is an opaque key-value bag for callers. The engine stores
	// the run's terminal result under "result" and "error".
	State map[string]any `json:"state"`

	// ExecutionContext is engine bookkeeping carried into snapshots:
	// initial input, retry configuration, flow hash.
	ExecutionContext map[string]any `json:"executionContext"`
}

// SuspendedStep locates one suspended step inside a suspended run.
type SuspendedStep struct {
	StepID string `json:"stepId"`
	Path   []int  `json:"path"`
	Output any    `json:"output,omitempty"`
}

// Result statuses returned by Start, Resume and Stream.FinalState.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultSuspended = "suspended"
)

// WorkflowResult is the outcome of a Start or Resume call.
type WorkflowResult struct {
	// Status is "completed", "failed" or "suspended".
	Status string `json:"status"`

	// Result is the output of the final entry when Status is "completed".
	Result any `json:"result,omitempty"`

	// Error describes the failure when Status is "failed".
	Error string `json:"error,omitempty"`

	// Suspended lists every suspended step when Status is "suspended".
	Suspended []SuspendedStep `json:"suspended,omitempty"`

	// Steps maps step ids to their results at return time.
	Steps map[string]StepResult `json:"steps"`
}
