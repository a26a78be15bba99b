package events

import "sync"

// Buffer collects events until the caller decides whether the surrounding
// state transition is committed. Flush forwards the buffered events in emission
// order; Discard drops them.
type Buffer struct {
	mu      sync.Mutex
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, evt)
	b.mu.Unlock()
}

// Len reports the number of pending events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush forwards every pending event to the target and clears the buffer.
func (b *Buffer) Flush(target Emitter) []Event {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	if target != nil {
		for _, evt := range pending {
			target.Emit(evt)
		}
	}
	return pending
}

// Discard drops every pending event.
func (b *Buffer) Discard() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}
