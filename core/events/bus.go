package events

import (
	"sync"

	"nftescrow/core/types"
)

const defaultBusHistory = 256

// Envelope pairs a rendered event with its position in the bus stream.
type Envelope struct {
	Sequence uint64       `json:"sequence"`
	Event    *types.Event `json:"event"`
}

// Bus is an in-memory fan-out of committed events. Subscribers receive every
// event published after they subscribe; a bounded history allows late
// subscribers to catch up from a cursor. Slow subscribers drop events rather
// than block publishers.
type Bus struct {
	mu       sync.Mutex
	seq      uint64
	history  []Envelope
	capacity int
	subs     map[int]chan Envelope
	nextSub  int
}

// NewBus constructs a bus retaining up to history events. Non-positive values
// fall back to the default.
func NewBus(history int) *Bus {
	if history <= 0 {
		history = defaultBusHistory
	}
	return &Bus{capacity: history, subs: make(map[int]chan Envelope)}
}

// Emit implements the Emitter interface.
func (b *Bus) Emit(evt Event) {
	rendered := Render(evt)
	if rendered == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	env := Envelope{Sequence: b.seq, Event: rendered}
	b.history = append(b.history, env)
	if len(b.history) > b.capacity {
		b.history = append([]Envelope(nil), b.history[len(b.history)-b.capacity:]...)
	}
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
		}
	}
}

// Subscribe registers a subscriber and returns its channel, a cancel function
// and the retained events with a sequence greater than after.
func (b *Bus) Subscribe(after uint64, buffer int) (<-chan Envelope, func(), []Envelope) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Envelope, buffer)
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	backlog := make([]Envelope, 0)
	for _, env := range b.history {
		if env.Sequence > after {
			backlog = append(backlog, Envelope{Sequence: env.Sequence, Event: env.Event.Clone()})
		}
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, backlog
}

// Sequence returns the sequence number of the latest published event.
func (b *Bus) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
