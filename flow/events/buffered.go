package events

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// Events are organized by run id for efficient retrieval and filtering.
// Useful for tests, debugging, and post-run analysis.
//
// All events are retained until cleared; for long-running deployments
// call Clear periodically or use a persistent backend instead.
//
// Example:
//
//	emitter := events.NewBufferedEmitter()
//	run, _ := wf.CreateRun(flow.RunOptions{Emitter: emitter})
//	run.Start(ctx, flow.StartParams{InputData: in})
//
//	history := emitter.History(run.RunID())
//	stepEvents := emitter.HistoryWithFilter(run.RunID(), events.HistoryFilter{
//	    Type: events.StepStatusUpdate,
//	})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events in arrival order
}

// HistoryFilter selects a subset of a run's events. All set fields are
// combined with AND logic; zero values mean "no constraint".
type HistoryFilter struct {
	// Type filters by event type.
	Type Type

	// StepID filters StepStatusUpdate events by step id.
	StepID string

	// After keeps events with Timestamp >= After (ms since epoch).
	After int64

	// Before keeps events with Timestamp <= Before. Zero disables.
	Before int64
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit stores the event. Safe for concurrent use.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns a copy of all events recorded for a run, in order.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	src := b.events[runID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// HistoryWithFilter returns the run's events matching the filter, in order.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, e := range b.events[runID] {
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.StepID != "" && e.Payload.StepID != filter.StepID {
			continue
		}
		if filter.After != 0 && e.Timestamp < filter.After {
			continue
		}
		if filter.Before != 0 && e.Timestamp > filter.Before {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Clear removes all events for a run. Clearing an unknown run is a no-op.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, runID)
}

// ClearAll removes every recorded event.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}
