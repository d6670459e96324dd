package flow

import (
	"fmt"
	"sync"
	"time"

	"github.com/davidhsmith/flowrun-go/flow/events"
)

// SubscribeFunc observes store mutations. It receives the state after
// and before the mutation. Both values are copies; payload values inside
// them are shared and must be treated as read-only.
type SubscribeFunc func(newState, prevState RunState)

// RunStore is the single source of truth for a run's in-flight state.
//
// Every mutation goes through a store method, appends to the ordered log
// and, where appropriate, the event list, and notifies subscribers with
// (new, previous) state. Mutations are totally ordered: concurrent
// writers (parallel step executions) serialize on the store's lock, and
// subscribers observe mutations in exactly that order.
//
// Subscribers are invoked synchronously on the mutation path and must
// not mutate the store; doing so deadlocks by design rather than
// producing undefined interleavings.
type RunStore struct {
	mu      sync.Mutex
	state   RunState
	emitter events.Emitter
	lastTS  int64

	subMu   sync.Mutex
	subs    map[int]SubscribeFunc
	nextSub int
}

// NewRunStore creates a store for the given run. A nil emitter defaults
// to the null emitter.
func NewRunStore(runID, workflowID string, emitter events.Emitter) *RunStore {
	if emitter == nil {
		emitter = events.NewNullEmitter()
	}
	s := &RunStore{
		emitter: emitter,
		subs:    make(map[int]SubscribeFunc),
	}
	s.state = initialState(runID, workflowID)
	return s
}

func initialState(runID, workflowID string) RunState {
	return RunState{
		RunID:            runID,
		WorkflowID:       workflowID,
		Status:           StatusInitial,
		StepResults:      make(map[string]StepResult),
		SuspendedPaths:   make(map[string][]int),
		State:            make(map[string]any),
		ExecutionContext: make(map[string]any),
	}
}

// Subscribe registers a callback for every subsequent mutation. The
// returned function deregisters it. A subscriber registered at time T
// sees all mutations strictly after T, in order.
func (s *RunStore) Subscribe(fn SubscribeFunc) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// State returns a copy of the current run state.
func (s *RunStore) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state)
}

// SetStatus updates the run status, logging the change and emitting a
// WorkflowStatusUpdate event.
func (s *RunStore) SetStatus(status Status) {
	s.mutate(func() {
		s.state.Status = status
		s.appendLog(LogEntry{
			Kind:    LogStatusChange,
			Message: fmt.Sprintf("workflow status changed to %s", status),
		})
		s.appendEvent(events.WorkflowStatusUpdate, "", fmt.Sprintf("workflow status changed to %s", status))
	})
}

// UpdateStepResult records the most recent result for a step, logging
// the update and emitting a StepStatusUpdate event.
func (s *RunStore) UpdateStepResult(stepID string, result StepResult) {
	s.mutate(func() {
		s.state.StepResults[stepID] = result
		s.appendLog(LogEntry{
			Kind:    LogStepUpdate,
			StepID:  stepID,
			Message: fmt.Sprintf("step %s is %s", stepID, result.Status),
			Data:    result,
		})
		s.appendEvent(events.StepStatusUpdate, stepID, fmt.Sprintf("step %s is %s", stepID, result.Status))
	})
}

// SetCurrentStep marks the step whose execute is in flight. An empty id
// clears the marker.
func (s *RunStore) SetCurrentStep(stepID string) {
	s.mutate(func() {
		s.state.CurrentStep = stepID
	})
}

// UpdateExecutionPath records the engine's position in the flow.
func (s *RunStore) UpdateExecutionPath(path []int) {
	s.mutate(func() {
		s.state.ExecutionPath = append([]int(nil), path...)
	})
}

// UpdateSuspendedPaths replaces the suspended-path map.
func (s *RunStore) UpdateSuspendedPaths(paths map[string][]int) {
	s.mutate(func() {
		next := make(map[string][]int, len(paths))
		for id, p := range paths {
			next[id] = append([]int(nil), p...)
		}
		s.state.SuspendedPaths = next
	})
}

// setSuspendedPath records one step's suspension point. Safe against
// concurrent siblings suspending in the same parallel entry.
func (s *RunStore) setSuspendedPath(stepID string, path []int) {
	s.mutate(func() {
		s.state.SuspendedPaths[stepID] = append([]int(nil), path...)
	})
}

// clearSuspendedPath removes one step's suspension point after a
// successful resume.
func (s *RunStore) clearSuspendedPath(stepID string) {
	s.mutate(func() {
		delete(s.state.SuspendedPaths, stepID)
	})
}

// AddWatchEvent appends a caller-supplied event to the run's event list
// and records a watch-event log entry.
func (s *RunStore) AddWatchEvent(event events.Event) {
	s.mutate(func() {
		event.RunID = s.state.RunID
		event.WorkflowID = s.state.WorkflowID
		if event.Timestamp == 0 {
			event.Timestamp = s.now()
		}
		s.state.Events = append(s.state.Events, event)
		s.appendLog(LogEntry{
			Kind:    LogWatchEvent,
			Message: string(event.Type),
			Data:    event,
		})
		s.emitter.Emit(event)
	})
}

// EmitWorkflowStatusUpdate appends a WorkflowStatusUpdate event with a
// custom description, without changing the status itself.
func (s *RunStore) EmitWorkflowStatusUpdate(description string) {
	s.mutate(func() {
		s.appendEvent(events.WorkflowStatusUpdate, "", description)
	})
}

// EmitStepStatusUpdate appends a StepStatusUpdate event for a step with
// a custom description, without changing the step's result.
func (s *RunStore) EmitStepStatusUpdate(stepID, description string) {
	s.mutate(func() {
		s.appendEvent(events.StepStatusUpdate, stepID, description)
	})
}

// UpdateState merges key-value pairs into the run's opaque state bag.
func (s *RunStore) UpdateState(kv map[string]any) {
	s.mutate(func() {
		for k, v := range kv {
			s.state.State[k] = v
		}
	})
}

// UpdateExecutionContext merges key-value pairs into the engine
// bookkeeping carried into snapshots.
func (s *RunStore) UpdateExecutionContext(kv map[string]any) {
	s.mutate(func() {
		for k, v := range kv {
			s.state.ExecutionContext[k] = v
		}
	})
}

// RestoreHistory replaces the run's logs and events wholesale. Used by
// snapshot restoration to rebuild derived history without generating new
// log entries or re-emitting events.
func (s *RunStore) RestoreHistory(logs []LogEntry, evs []events.Event) {
	s.mutate(func() {
		s.state.Logs = append([]LogEntry(nil), logs...)
		s.state.Events = append([]events.Event(nil), evs...)
		for _, e := range evs {
			if e.Timestamp > s.lastTS {
				s.lastTS = e.Timestamp
			}
		}
		for _, l := range logs {
			if l.Timestamp > s.lastTS {
				s.lastTS = l.Timestamp
			}
		}
	})
}

// Reset restores the initial state. Only the durable identifiers
// (run id, workflow id) survive.
func (s *RunStore) Reset() {
	s.mutate(func() {
		s.state = initialState(s.state.RunID, s.state.WorkflowID)
	})
}

// mutate applies fn under the store lock, then notifies subscribers
// synchronously with (new, previous) copies while still holding it. This
// keeps notification order identical to mutation order.
func (s *RunStore) mutate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := cloneState(s.state)
	fn()
	next := cloneState(s.state)

	s.subMu.Lock()
	subs := make([]SubscribeFunc, 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		sub(next, prev)
	}
}

// now returns a strictly nondecreasing millisecond timestamp.
// Caller must hold s.mu.
func (s *RunStore) now() int64 {
	ts := time.Now().UnixMilli()
	if ts < s.lastTS {
		ts = s.lastTS
	}
	s.lastTS = ts
	return ts
}

// appendLog stamps and appends a log entry. Caller must hold s.mu.
func (s *RunStore) appendLog(entry LogEntry) {
	entry.Timestamp = s.now()
	s.state.Logs = append(s.state.Logs, entry)
}

// appendEvent builds an event from the current state, appends it to the
// event list, and forwards it to the emitter. Caller must hold s.mu.
func (s *RunStore) appendEvent(typ events.Type, stepID, description string) {
	payload := events.Payload{
		CurrentStep:   s.state.CurrentStep,
		WorkflowState: s.workflowState(),
	}
	if stepID != "" {
		result := s.state.StepResults[stepID]
		payload.StepID = stepID
		payload.StepStatus = string(result.Status)
		payload.StepResult = result
	}
	event := events.Event{
		Type:        typ,
		RunID:       s.state.RunID,
		WorkflowID:  s.state.WorkflowID,
		Timestamp:   s.now(),
		Description: description,
		Payload:     payload,
	}
	s.state.Events = append(s.state.Events, event)
	s.emitter.Emit(event)
}

// workflowState builds the event-payload view of the run. Caller must
// hold s.mu.
func (s *RunStore) workflowState() events.State {
	steps := make(map[string]any, len(s.state.StepResults))
	for id, r := range s.state.StepResults {
		steps[id] = r
	}
	state := events.State{
		Status: string(s.state.Status),
		Steps:  steps,
	}
	if v, ok := s.state.State["result"]; ok {
		state.Result = v
	}
	if v, ok := s.state.State["error"].(string); ok {
		state.Error = v
	}
	return state
}

// cloneState copies the state's containers. Payload values (step
// outputs, event payloads) are shared and treated as immutable.
func cloneState(st RunState) RunState {
	out := st
	out.StepResults = make(map[string]StepResult, len(st.StepResults))
	for id, r := range st.StepResults {
		r.SuspendedPath = append([]int(nil), r.SuspendedPath...)
		out.StepResults[id] = r
	}
	out.ExecutionPath = append([]int(nil), st.ExecutionPath...)
	out.SuspendedPaths = make(map[string][]int, len(st.SuspendedPaths))
	for id, p := range st.SuspendedPaths {
		out.SuspendedPaths[id] = append([]int(nil), p...)
	}
	out.Logs = append([]LogEntry(nil), st.Logs...)
	out.Events = append([]events.Event(nil), st.Events...)
	out.State = make(map[string]any, len(st.State))
	for k, v := range st.State {
		out.State[k] = v
	}
	out.ExecutionContext = make(map[string]any, len(st.ExecutionContext))
	for k, v := range st.ExecutionContext {
		out.ExecutionContext[k] = v
	}
	return out
}
