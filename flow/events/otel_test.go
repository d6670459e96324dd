package events

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingEmitter(t *testing.T) (*OTelEmitter, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewOTelEmitter(tp.Tracer("test")), exporter
}

func attributeMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestOTelEmitter(t *testing.T) {
	t.Run("event becomes a span with attributes", func(t *testing.T) {
		emitter, exporter := newRecordingEmitter(t)

		emitter.Emit(Event{
			Type:        StepStatusUpdate,
			RunID:       "run-001",
			WorkflowID:  "pipeline",
			Timestamp:   1234,
			Description: "step add is completed",
			Payload: Payload{
				StepID:        "add",
				StepStatus:    "completed",
				WorkflowState: State{Status: "RUNNING"},
			},
			Metadata: map[string]any{"tenant": "acme"},
		})

		spans := exporter.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("recorded %d spans, want 1", len(spans))
		}
		span := spans[0]
		if span.Name != "StepStatusUpdate" {
			t.Errorf("span name = %q", span.Name)
		}

		attrs := attributeMap(span.Attributes)
		if attrs["run_id"] != "run-001" || attrs["workflow_id"] != "pipeline" {
			t.Errorf("identity attributes = %v", attrs)
		}
		if attrs["step_id"] != "add" || attrs["step_status"] != "completed" {
			t.Errorf("step attributes = %v", attrs)
		}
		if attrs["meta.tenant"] != "acme" {
			t.Errorf("metadata attribute = %v", attrs["meta.tenant"])
		}
	})

	t.Run("failure events carry error status", func(t *testing.T) {
		emitter, exporter := newRecordingEmitter(t)

		emitter.Emit(Event{
			Type:  WorkflowStatusUpdate,
			RunID: "run-002",
			Payload: Payload{
				WorkflowState: State{Status: "FAILED", Error: "step exploded"},
			},
		})

		spans := exporter.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("recorded %d spans, want 1", len(spans))
		}
		if spans[0].Status.Code != codes.Error {
			t.Errorf("status code = %v, want error", spans[0].Status.Code)
		}
		if spans[0].Status.Description != "step exploded" {
			t.Errorf("status description = %q", spans[0].Status.Description)
		}
	})
}
