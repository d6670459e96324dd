package events

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes an instant span (ended immediately):
//   - Span name: the event type ("WorkflowStatusUpdate", "StepStatusUpdate")
//   - Attributes: run id, workflow id, step id, statuses, description
//   - Status: error when the event carries a step or run failure
//
// The emitter is suitable for wiring run activity into an existing
// tracing pipeline. Configure an OpenTelemetry provider in the host
// application and hand its tracer to NewOTelEmitter:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//
//	emitter := events.NewOTelEmitter(otel.Tracer("flowrun"))
//	run, _ := wf.CreateRun(flow.RunOptions{Emitter: emitter})
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter producing spans on the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records the event as an instant span.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), string(event.Type))
	defer span.End()

	span.SetAttributes(
		attribute.String("run_id", event.RunID),
		attribute.String("workflow_id", event.WorkflowID),
		attribute.Int64("timestamp_ms", event.Timestamp),
	)
	if event.Description != "" {
		span.SetAttributes(attribute.String("description", event.Description))
	}
	if event.Payload.StepID != "" {
		span.SetAttributes(
			attribute.String("step_id", event.Payload.StepID),
			attribute.String("step_status", event.Payload.StepStatus),
		)
	}
	span.SetAttributes(attribute.String("workflow_status", event.Payload.WorkflowState.Status))

	if msg := event.Payload.WorkflowState.Error; msg != "" {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}

	for k, v := range event.Metadata {
		if s, ok := v.(string); ok {
			span.SetAttributes(attribute.String("meta."+k, s))
		}
	}
}
