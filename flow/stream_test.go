package flow

import (
	"context"
	"testing"
	"time"

	"github.com/davidhsmith/flowrun-go/flow/events"
)

func TestWatchV1(t *testing.T) {
	wf := mustCommit(t, NewWorkflow(WorkflowConfig{ID: "w"}).Then(passthrough("a")))
	run, _ := wf.CreateRun(RunOptions{})

	var calls []WatchEvent
	unsub := run.Watch(func(e WatchEvent) { calls = append(calls, e) }, WatchV1)
	defer unsub()

	if _, err := run.Start(context.Background(), StartParams{InputData: "x"}); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	if len(calls) == 0 {
		t.Fatal("no watch callbacks delivered")
	}
	for i, e := range calls {
		if e.EventType != "watch" {
			t.Fatalf("call %d type = %q, want watch", i, e.EventType)
		}
	}
	last := calls[len(calls)-1]
	if last.WorkflowState.Status != string(StatusCompleted) {
		t.Errorf("final watch status = %q, want COMPLETED", last.WorkflowState.Status)
	}
	if last.WorkflowState.Result != "x" {
		t.Errorf("final watch result = %v, want x", last.WorkflowState.Result)
	}
}

func TestWatchV2(t *testing.T) {
	wf := mustCommit(t, NewWorkflow(WorkflowConfig{ID: "w"}).Then(passthrough("a")))
	run, _ := wf.CreateRun(RunOptions{})

	var types []string
	unsub := run.Watch(func(e WatchEvent) { types = append(types, e.EventType) }, WatchV2)
	defer unsub()

	if _, err := run.Start(context.Background(), StartParams{}); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	// One callback per emitted event; the run's own event list is the
	// reference.
	if got, want := len(types), len(run.GetRunState().Events); got != want {
		t.Fatalf("watch delivered %d events, store has %d", got, want)
	}
	for _, typ := range types {
		if typ != string(events.WorkflowStatusUpdate) && typ != string(events.StepStatusUpdate) {
			t.Errorf("unexpected event type %q", typ)
		}
	}
}

func TestStream(t *testing.T) {
	t.Run("start and finish bracket the sequence", func(t *testing.T) {
		wf := mustCommit(t, NewWorkflow(WorkflowConfig{ID: "w"}).
			Then(passthrough("a")).
			Then(passthrough("b")))
		run, _ := wf.CreateRun(RunOptions{})
		stream := run.Stream()

		if _, err := run.Start(context.Background(), StartParams{InputData: 1}); err != nil {
			t.Fatalf("Start() = %v", err)
		}

		var got []events.Event
		for e := range stream.Events() {
			got = append(got, e)
		}

		if len(got) < 3 {
			t.Fatalf("stream delivered %d events, want start + run events + finish", len(got))
		}
		if got[0].Type != events.StreamStart {
			t.Errorf("first event type = %q, want start", got[0].Type)
		}
		if got[0].Payload.WorkflowState.Status != string(StatusRunning) {
			t.Errorf("start event status = %q, want RUNNING", got[0].Payload.WorkflowState.Status)
		}
		if got[len(got)-1].Type != events.StreamFinish {
			t.Errorf("last event type = %q, want finish", got[len(got)-1].Type)
		}
		for _, e := range got[1 : len(got)-1] {
			if e.Type != events.WorkflowStatusUpdate && e.Type != events.StepStatusUpdate {
				t.Errorf("intermediate event type = %q", e.Type)
			}
		}
	})

	t.Run("start stream drives the run in the background", func(t *testing.T) {
		wf := mustCommit(t, NewWorkflow(WorkflowConfig{ID: "w"}).Then(passthrough("a")))
		run, _ := wf.CreateRun(RunOptions{})

		stream := run.StartStream(context.Background(), StartParams{InputData: 7})
		result, err := stream.FinalState(context.Background())
		if err != nil {
			t.Fatalf("FinalState() = %v", err)
		}
		if result.Status != ResultCompleted || result.Result != 7 {
			t.Errorf("final state = %+v", result)
		}

		var last events.Event
		for e := range stream.Events() {
			last = e
		}
		if last.Type != events.StreamFinish {
			t.Errorf("last event type = %q, want finish", last.Type)
		}
	})

	t.Run("final state waits for terminal", func(t *testing.T) {
		wf := mustCommit(t, NewWorkflow(WorkflowConfig{ID: "w"}).Then(passthrough("a")))
		run, _ := wf.CreateRun(RunOptions{})
		stream := run.Stream()

		go func() {
			time.Sleep(10 * time.Millisecond)
			_, _ = run.Start(context.Background(), StartParams{InputData: "done"})
		}()

		result, err := stream.FinalState(context.Background())
		if err != nil {
			t.Fatalf("FinalState() = %v", err)
		}
		if result.Status != ResultCompleted || result.Result != "done" {
			t.Errorf("final state = %+v", result)
		}
	})

	t.Run("final state honors context cancellation", func(t *testing.T) {
		wf := mustCommit(t, NewWorkflow(WorkflowConfig{ID: "w"}).Then(passthrough("a")))
		run, _ := wf.CreateRun(RunOptions{})
		stream := run.Stream()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := stream.FinalState(ctx); err == nil {
			t.Error("FinalState() = nil on a run that never starts, want ctx error")
		}
	})

	t.Run("stream survives suspension", func(t *testing.T) {
		wf := approvalFlow(t)
		run, _ := wf.CreateRun(RunOptions{})
		stream := run.Stream()

		result, err := run.Start(context.Background(), StartParams{})
		if err != nil {
			t.Fatalf("Start() = %v", err)
		}
		if result.Status != ResultSuspended {
			t.Fatalf("status = %q, want suspended", result.Status)
		}

		// The channel must still be open while suspended.
		select {
		case _, ok := <-stream.Events():
			if !ok {
				t.Fatal("stream closed during suspension")
			}
		case <-time.After(time.Second):
			t.Fatal("no events delivered before suspension")
		}

		if _, err := run.Resume(context.Background(), ResumeParams{
			Step:       "approve",
			ResumeData: map[string]any{"approved": true},
		}); err != nil {
			t.Fatalf("Resume() = %v", err)
		}

		var last events.Event
		for e := range stream.Events() {
			last = e
		}
		if last.Type != events.StreamFinish {
			t.Errorf("last event type = %q, want finish", last.Type)
		}

		final, err := stream.FinalState(context.Background())
		if err != nil {
			t.Fatalf("FinalState() = %v", err)
		}
		if final.Status != ResultCompleted {
			t.Errorf("final status = %q", final.Status)
		}
	})

	t.Run("reset does not disturb attached observers", func(t *testing.T) {
		wf := approvalFlow(t)
		run, _ := wf.CreateRun(RunOptions{})
		stream := run.Stream()
		defer stream.Close()

		var types []string
		unsub := run.Watch(func(e WatchEvent) { types = append(types, e.EventType) }, WatchV2)
		defer unsub()

		result, err := run.Start(context.Background(), StartParams{})
		if err != nil {
			t.Fatalf("Start() = %v", err)
		}
		if result.Status != ResultSuspended {
			t.Fatalf("status = %q, want suspended", result.Status)
		}

		// Reset shrinks the store's event list; the subscribers must
		// survive it and keep receiving later events.
		run.Store().Reset()
		before := len(types)
		run.Store().SetStatus(StatusRunning)
		if len(types) != before+1 {
			t.Fatalf("watch delivered %d events after reset, want 1", len(types)-before)
		}
	})

	t.Run("close detaches the stream", func(t *testing.T) {
		wf := mustCommit(t, NewWorkflow(WorkflowConfig{ID: "w"}).Then(passthrough("a")))
		run, _ := wf.CreateRun(RunOptions{})
		stream := run.Stream()
		stream.Close()

		deadline := time.After(time.Second)
		for {
			select {
			case _, ok := <-stream.Events():
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("stream channel never closed after Close")
			}
		}
	})
}
