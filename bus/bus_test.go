package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTrack string

func (f fakeTrack) EntryID() string      { return string(f) }
func (f fakeTrack) DisplayTitle() string { return string(f) }

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	b := New(nil)
	var order []int
	b.On(Play, func(Event) { order = append(order, 1) })
	b.On(Play, func(Event) { order = append(order, 2) })
	b.On(Stop, func(Event) { order = append(order, 99) })
	b.On(Play, func(Event) { order = append(order, 3) })

	b.Emit(PlayEvent{Track: fakeTrack("a")})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	b := New(nil)
	called := false
	b.On(Pause, func(Event) { panic("bad handler") })
	b.On(Pause, func(Event) { called = true })

	assert.NotPanics(t, func() { b.Emit(PauseEvent{}) })
	assert.True(t, called)
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)
	n := 0
	off := b.On(Stop, func(Event) { n++ })
	b.Emit(StopEvent{})
	off()
	b.Emit(StopEvent{})
	assert.Equal(t, 1, n)
}

func TestSubscribeTyped(t *testing.T) {
	b := New(nil)
	var got EntryAddedEvent
	Subscribe(b, func(e EntryAddedEvent) { got = e })

	b.Emit(EntryAddedEvent{Track: fakeTrack("x"), Position: 3})
	assert.Equal(t, 3, got.Position)
	assert.Equal(t, "x", got.Track.EntryID())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "finished-playing", FinishedPlaying.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}
