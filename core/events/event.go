package events

import "nftescrow/core/types"

// Event represents a structured state change emitted by a native module.
type Event interface {
	EventType() string
}

// Broadcastable is implemented by events that can be rendered for RPC
// subscribers and indexers.
type Broadcastable interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(evt Event) {
	if f != nil {
		f(evt)
	}
}

// Multi fans a single event out to every non-nil emitter in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Render converts an event into its wire form. Events that do not implement
// Broadcastable are rendered with their type only.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if b, ok := evt.(Broadcastable); ok {
		if rendered := b.Event(); rendered != nil {
			return rendered
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
