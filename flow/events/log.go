package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing structured output to a writer.
//
// Supports two output modes:
//   - Text mode (default): human-readable key=value lines
//   - JSON mode: one event per line, machine-readable
//
// Example text output:
//
//	[WorkflowStatusUpdate] runID=run-001 workflowID=pipeline status=RUNNING
//	[StepStatusUpdate] runID=run-001 workflowID=pipeline step=add stepStatus=completed
//
// Example:
//
//	// Text output to stdout
//	emitter := events.NewLogEmitter(os.Stdout, false)
//
//	// JSON lines to a file
//	f, _ := os.Create("run-events.jsonl")
//	defer f.Close()
//	emitter := events.NewLogEmitter(f, true)
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to the given writer.
// A nil writer defaults to os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes the event in the configured format. Write errors are
// swallowed; an observability sink must never fail the run.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		data, err := json.Marshal(event)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(l.writer, "%s\n", data)
		return
	}

	switch event.Type {
	case StepStatusUpdate:
		_, _ = fmt.Fprintf(l.writer, "[%s] runID=%s workflowID=%s step=%s stepStatus=%s\n",
			event.Type, event.RunID, event.WorkflowID, event.Payload.StepID, event.Payload.StepStatus)
	default:
		_, _ = fmt.Fprintf(l.writer, "[%s] runID=%s workflowID=%s status=%s\n",
			event.Type, event.RunID, event.WorkflowID, event.Payload.WorkflowState.Status)
	}
}
