package flow

import (
	"context"
	"sync"

	"github.com/davidhsmith/flowrun-go/flow/events"
)

// Stream delivers a run's events as an ordered channel.
//
// The stream opens with a synthetic start event, forwards every run
// event in emission order, and closes after a synthetic finish event
// when the run reaches a terminal state. Suspension does not close the
// stream; events from later resumes flow through the same channel.
//
// The store's mutation path never blocks on a slow consumer: events are
// staged in an unbounded pending list and forwarded by a dedicated
// goroutine.
type Stream struct {
	run *Run
	out chan events.Event

	mu      sync.Mutex
	pending []events.Event
	wake    chan struct{}
	unsub   func()
	closed  bool
}

// Stream opens an event stream over the run. Call before Start to
// observe the run from its first event.
func (r *Run) Stream() *Stream {
	s := &Stream{
		run:  r,
		out:  make(chan events.Event, 64),
		wake: make(chan struct{}, 1),
	}

	state := r.store.State()
	// The start event announces a running sequence regardless of when the
	// stream was opened.
	startState := watchState(state)
	startState.Status = string(StatusRunning)
	s.pending = append(s.pending, events.Event{
		Type:       events.StreamStart,
		RunID:      state.RunID,
		WorkflowID: state.WorkflowID,
		Timestamp:  latestTimestamp(state),
		Payload:    events.Payload{WorkflowState: startState},
	})

	s.unsub = r.store.Subscribe(func(newState, prevState RunState) {
		// Reset shrinks the event list; stage only genuinely new events.
		if len(newState.Events) <= len(prevState.Events) {
			return
		}
		fresh := newState.Events[len(prevState.Events):]
		s.mu.Lock()
		s.pending = append(s.pending, fresh...)
		s.mu.Unlock()
		s.signal()
	})

	go s.forward()
	s.signal()
	return s
}

// StartStream opens a stream and starts the run in the background.
// Read events from Events and the terminal result from FinalState.
// Suspension leaves the stream open; events from later resumes flow
// through the same channel.
//
// If Start is rejected (for example the run was already started) the
// stream is closed without a finish event.
func (r *Run) StartStream(ctx context.Context, params StartParams) *Stream {
	s := r.Stream()
	go func() {
		if _, err := r.Start(ctx, params); err != nil {
			s.Close()
		}
	}()
	return s
}

// Events returns the ordered event channel. It is closed after the
// finish event once the run completes or fails, or when the stream is
// closed explicitly.
func (s *Stream) Events() <-chan events.Event {
	return s.out
}

// FinalState blocks until the run reaches a terminal state and returns
// its result. A suspended run keeps FinalState waiting until a resume
// finishes it.
func (s *Stream) FinalState(ctx context.Context) (WorkflowResult, error) {
	select {
	case <-s.run.Done():
		result, _ := s.run.FinalResult()
		return result, nil
	case <-ctx.Done():
		return WorkflowResult{}, ctx.Err()
	}
}

// Close detaches the stream from the run and closes the event channel
// after the already-staged events drain.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.unsub()
	s.signal()
}

func (s *Stream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Stream) forward() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		closed := s.closed
		s.mu.Unlock()

		for _, e := range batch {
			s.out <- e
		}

		if closed {
			return
		}

		select {
		case <-s.wake:
		case <-s.run.Done():
			// Drain anything staged between the last batch and the
			// terminal transition, then finish.
			s.mu.Lock()
			batch = s.pending
			s.pending = nil
			s.closed = true
			s.mu.Unlock()
			s.unsub()

			for _, e := range batch {
				s.out <- e
			}

			state := s.run.store.State()
			s.out <- events.Event{
				Type:       events.StreamFinish,
				RunID:      state.RunID,
				WorkflowID: state.WorkflowID,
				Timestamp:  latestTimestamp(state),
				Payload:    events.Payload{WorkflowState: watchState(state)},
			}
			return
		}
	}
}
