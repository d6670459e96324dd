// Package snapshot provides point-in-time serialization and restoration
// of run state: capture into pluggable stores, export/import as portable
// JSON, structural diffing, bounded retention, and interval-based
// automatic capture.
package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/davidhsmith/flowrun-go/flow"
	"github.com/davidhsmith/flowrun-go/flow/events"
)

// Version is the snapshot format version written by this package.
// Import and Restore reject snapshots from other major versions.
const Version = "1.0.0"

// Snapshot is a validated, round-trip-stable view of one run's state.
//
// It carries everything needed to rebuild a store: identity, status,
// step results, position, suspension points, and the full log and event
// history. The execution graph and flow hash are included so a restore
// can detect that the workflow shape changed since capture.
//
// The runtime context is deliberately absent; callers rebuild it when
// resuming a restored run.
type Snapshot struct {
	Version    string      `json:"version"`
	Timestamp  int64       `json:"timestamp"`
	RunID      string      `json:"runId"`
	WorkflowID string      `json:"workflowId"`
	Status     flow.Status `json:"status"`

	StepResults    map[string]flow.StepResult `json:"stepResults"`
	ExecutionPath  []int                      `json:"executionPath"`
	SuspendedPaths map[string][]int           `json:"suspendedPaths"`

	Events []events.Event   `json:"events"`
	Logs   []flow.LogEntry  `json:"logs"`
	Graph  []flow.GraphNode `json:"executionGraph"`

	ExecutionContext map[string]any `json:"executionContext"`

	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// formatSchema is the fixed shape every snapshot must satisfy before
// storage and before restoration.
var formatSchema = flow.MustSchema(`{
	"type": "object",
	"required": [
		"version", "timestamp", "runId", "workflowId", "status",
		"stepResults", "executionPath", "suspendedPaths",
		"events", "logs", "executionGraph", "executionContext"
	],
	"properties": {
		"version":   {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
		"timestamp": {"type": "integer", "minimum": 0},
		"runId":      {"type": "string", "minLength": 1},
		"workflowId": {"type": "string", "minLength": 1},
		"status": {
			"type": "string",
			"enum": ["INITIAL", "RUNNING", "PAUSED", "RESUMED", "COMPLETED", "FAILED", "SUSPENDED"]
		},
		"stepResults": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["status"],
				"properties": {
					"status": {"type": "string", "enum": ["running", "completed", "failed", "suspended"]},
					"error":  {"type": "string"},
					"suspendedPath": {"type": "array", "items": {"type": "integer"}}
				}
			}
		},
		"executionPath": {"type": "array", "items": {"type": "integer"}},
		"suspendedPaths": {
			"type": "object",
			"additionalProperties": {"type": "array", "items": {"type": "integer"}}
		},
		"events": {"type": "array"},
		"logs":   {"type": "array"},
		"executionGraph":   {"type": "array"},
		"executionContext": {"type": "object"},
		"error": {"type": "string"}
	}
}`)

// Validate checks the snapshot against the fixed format schema.
func (s *Snapshot) Validate() error {
	if err := formatSchema.Validate(s); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	return nil
}

// compatible reports whether a snapshot's version can be restored by
// this package. Only the major version must match.
func compatible(version string) bool {
	var major, minor, patch int
	if _, err := fmt.Sscanf(version, "%d.%d.%d", &major, &minor, &patch); err != nil {
		return false
	}
	var selfMajor, selfMinor, selfPatch int
	fmt.Sscanf(Version, "%d.%d.%d", &selfMajor, &selfMinor, &selfPatch)
	return major == selfMajor
}

// Export serializes the snapshot as indented, portable JSON.
func (s *Snapshot) Export() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export snapshot: %w", err)
	}
	return string(data), nil
}

// Import parses a snapshot previously produced by Export and validates
// it against the format schema and version.
func Import(data string) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if !compatible(snap.Version) {
		return nil, fmt.Errorf("unsupported snapshot version %q (this package reads %s)", snap.Version, Version)
	}
	return &snap, nil
}
