package bus

import (
	"fmt"
	"log/slog"
	"sync"
)

// Kind identifies an event variant.
type Kind int

const (
	EntryAdded Kind = iota
	EntryFailed
	Play
	Resume
	Pause
	Stop
	FinishedPlaying
)

func (k Kind) String() string {
	switch k {
	case EntryAdded:
		return "entry-added"
	case EntryFailed:
		return "entry-failed"
	case Play:
		return "play"
	case Resume:
		return "resume"
	case Pause:
		return "pause"
	case Stop:
		return "stop"
	case FinishedPlaying:
		return "finished-playing"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is implemented only by the payload types in this package.
type Event interface {
	Kind() Kind
	sealed()
}

type handler struct {
	id int
	fn func(Event)
}

// Bus dispatches events synchronously to handlers in registration order.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Kind][]handler
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Kind][]handler),
		logger:   logger.With(slog.String("component", "bus")),
	}
}

// On registers fn for kind and returns a function that removes it.
func (b *Bus) On(kind Kind, fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[kind] = append(b.handlers[kind], handler{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[kind]
		for i, h := range hs {
			if h.id == id {
				b.handlers[kind] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers ev to every handler registered for its kind. A handler
// that panics is logged and skipped.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	hs := append([]handler(nil), b.handlers[ev.Kind()]...)
	b.mu.RUnlock()

	for _, h := range hs {
		b.call(h, ev)
	}
}

func (b *Bus) call(h handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(fmt.Sprintf("%s handler panic recovered: %v", ev.Kind(), r))
		}
	}()
	h.fn(ev)
}

// Subscribe registers a handler typed to one event payload.
func Subscribe[E Event](b *Bus, fn func(E)) func() {
	var zero E
	return b.On(zero.Kind(), func(ev Event) {
		if e, ok := ev.(E); ok {
			fn(e)
		}
	})
}
