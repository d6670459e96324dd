package flow

import (
	"github.com/davidhsmith/flowrun-go/flow/events"
)

// WatchVersion selects the watch callback cadence.
type WatchVersion int

const (
	// WatchV1 invokes the callback once per store mutation with a
	// coarse "watch" event summarizing the run.
	WatchV1 WatchVersion = iota + 1

	// WatchV2 invokes the callback once per emitted run event, with
	// that event's type and timestamp.
	WatchV2
)

// WatchEvent is the payload delivered to Watch callbacks.
type WatchEvent struct {
	// EventType is "watch" for WatchV1, or the emitted event's type for
	// WatchV2.
	EventType string `json:"type"`

	// CurrentStep is the step in flight at the time of the event.
	CurrentStep string `json:"currentStep,omitempty"`

	// WorkflowState summarizes the run: status, per-step results, and
	// the terminal result or error once set.
	WorkflowState events.State `json:"payload"`

	// Timestamp is milliseconds since the epoch.
	Timestamp int64 `json:"timestamp"`
}

// Watch registers a callback observing the run and returns a function
// that deregisters it.
//
// Callbacks run synchronously on the mutation path in mutation order
// and must not call back into the run or its store.
func (r *Run) Watch(cb func(WatchEvent), version WatchVersion) func() {
	if version == WatchV2 {
		return r.store.Subscribe(func(newState, prevState RunState) {
			// Reset shrinks the event list; deliver only new events.
			if len(newState.Events) <= len(prevState.Events) {
				return
			}
			for _, e := range newState.Events[len(prevState.Events):] {
				cb(WatchEvent{
					EventType:     string(e.Type),
					CurrentStep:   e.Payload.CurrentStep,
					WorkflowState: e.Payload.WorkflowState,
					Timestamp:     e.Timestamp,
				})
			}
		})
	}

	return r.store.Subscribe(func(newState, prevState RunState) {
		cb(WatchEvent{
			EventType:     "watch",
			CurrentStep:   newState.CurrentStep,
			WorkflowState: watchState(newState),
			Timestamp:     latestTimestamp(newState),
		})
	})
}

func watchState(st RunState) events.State {
	steps := make(map[string]any, len(st.StepResults))
	for id, r := range st.StepResults {
		steps[id] = r
	}
	state := events.State{
		Status: string(st.Status),
		Steps:  steps,
	}
	if v, ok := st.State["result"]; ok {
		state.Result = v
	}
	if v, ok := st.State["error"].(string); ok {
		state.Error = v
	}
	return state
}

// latestTimestamp reads the newest stamp in the run's history, so watch
// events share the run's nondecreasing clock.
func latestTimestamp(st RunState) int64 {
	var ts int64
	if n := len(st.Logs); n > 0 {
		ts = st.Logs[n-1].Timestamp
	}
	if n := len(st.Events); n > 0 && st.Events[n-1].Timestamp > ts {
		ts = st.Events[n-1].Timestamp
	}
	return ts
}
