package events

// Emitter receives run events as they are recorded by the state store.
//
// Emitters enable pluggable observability backends: logging, distributed
// tracing, in-memory capture for tests, or fan-out to external systems.
//
// Implementations must be safe for concurrent use. Step executions inside
// parallel and foreach entries may record results from multiple
// goroutines, and the store invokes the emitter synchronously on its
// mutation path; a slow emitter slows the run.
//
// Emit must not panic and must not mutate the run that produced the
// event. Errors should be handled internally (buffered, dropped, or
// logged), never propagated back into the run.
type Emitter interface {
	// Emit delivers a single event. Events for one run arrive in the
	// order their mutations were applied to the store.
	Emit(event Event)
}
