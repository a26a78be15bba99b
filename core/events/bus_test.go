package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nftescrow/core/types"
)

type testEvent struct {
	kind string
	id   string
}

func (e testEvent) EventType() string { return e.kind }

func (e testEvent) Event() *types.Event {
	return &types.Event{Type: e.kind, Attributes: map[string]string{"id": e.id}}
}

type plainEvent struct{}

func (plainEvent) EventType() string { return "plain" }

func TestBufferFlushPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent{kind: "a", id: "1"})
	buf.Emit(nil)
	buf.Emit(testEvent{kind: "b", id: "2"})
	require.Equal(t, 2, buf.Len())

	var got []string
	flushed := buf.Flush(EmitterFunc(func(evt Event) { got = append(got, evt.EventType()) }))
	require.Len(t, flushed, 2)
	require.Equal(t, []string{"a", "b"}, got)
	require.Zero(t, buf.Len())

	buf.Emit(testEvent{kind: "c"})
	buf.Discard()
	require.Zero(t, buf.Len())
}

func TestBusDeliversToSubscribersAndBacklog(t *testing.T) {
	bus := NewBus(2)
	bus.Emit(testEvent{kind: "x", id: "1"})
	bus.Emit(testEvent{kind: "x", id: "2"})
	bus.Emit(testEvent{kind: "x", id: "3"})
	require.Equal(t, uint64(3), bus.Sequence())

	ch, cancel, backlog := bus.Subscribe(0, 4)
	defer cancel()
	require.Len(t, backlog, 2, "history is bounded")
	require.Equal(t, "2", backlog[0].Event.Attr("id"))
	require.Equal(t, "3", backlog[1].Event.Attr("id"))

	bus.Emit(plainEvent{})
	env := <-ch
	require.Equal(t, uint64(4), env.Sequence)
	require.Equal(t, "plain", env.Event.Type)
}

func TestBusCancelStopsDelivery(t *testing.T) {
	bus := NewBus(0)
	ch, cancel, _ := bus.Subscribe(0, 1)
	cancel()
	cancel()
	bus.Emit(testEvent{kind: "after"})
	_, ok := <-ch
	require.False(t, ok)
}

func TestMultiSkipsNil(t *testing.T) {
	count := 0
	m := Multi{nil, EmitterFunc(func(Event) { count++ }), NoopEmitter{}}
	m.Emit(plainEvent{})
	require.Equal(t, 1, count)
	require.Equal(t, "plain", Render(plainEvent{}).Type)
	require.Nil(t, Render(nil))
}
