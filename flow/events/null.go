package events

// NullEmitter implements Emitter by discarding all events.
//
// Use it when a run store requires an emitter but no observability sink
// is wanted. Safe for concurrent use, zero overhead.
type NullEmitter struct{}

// NewNullEmitter returns an emitter that drops every event.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
