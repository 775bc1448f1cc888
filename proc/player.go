package proc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leeineian/kurime/bus"
	"github.com/leeineian/kurime/playlist"
)

type PlayerState int

const (
	StateStopped PlayerState = iota
	StatePlaying
	StatePaused
)

func (s PlayerState) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Player pulls entries from a playlist and streams them into a sink, one
// at a time.
type Player struct {
	playlist *playlist.Playlist
	sink     Sink
	bus      *bus.Bus
	skips    *playlist.SkipVotes
	logger   *slog.Logger

	mu       sync.Mutex
	state    PlayerState
	current  *playlist.Entry
	cancel   context.CancelFunc
	progress atomic.Int64

	wake chan struct{}
	done chan struct{}
	off  func()
}

func NewPlayer(pl *playlist.Playlist, sink Sink, skips *playlist.SkipVotes, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Player{
		playlist: pl,
		sink:     sink,
		bus:      pl.Bus(),
		skips:    skips,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	p.off = bus.Subscribe(p.bus, func(bus.EntryAddedEvent) { p.signal() })
	return p
}

func (p *Player) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run plays entries until ctx is done.
func (p *Player) Run(ctx context.Context) {
	defer close(p.done)
	defer p.off()

	for {
		if ctx.Err() != nil {
			return
		}
		e, err := p.playlist.GetNext(ctx)
		switch {
		case errors.Is(err, playlist.ErrEmpty):
			p.setIdle()
			select {
			case <-p.wake:
			case <-ctx.Done():
				return
			}
			continue
		case err != nil:
			if e != nil {
				p.logger.Warn("Skipping " + e.DisplayTitle() + ": " + err.Error())
			}
			continue
		}
		p.play(ctx, e)
	}
}

// Done is closed once Run has returned.
func (p *Player) Done() <-chan struct{} { return p.done }

func (p *Player) setIdle() {
	p.mu.Lock()
	if p.state == StatePlaying {
		p.state = StateStopped
	}
	p.mu.Unlock()
}

func (p *Player) play(ctx context.Context, e *playlist.Entry) {
	trackCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.current = e
	p.cancel = cancel
	paused := p.state == StatePaused
	if !paused {
		p.state = StatePlaying
	}
	p.progress.Store(0)
	p.mu.Unlock()

	p.sink.SetPaused(paused)
	p.resetSkips()
	p.bus.Emit(bus.PlayEvent{Track: e})

	err := p.sink.Stream(trackCtx, e.LocalPath(), func(d time.Duration) { p.progress.Store(int64(d)) })
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	p.mu.Lock()
	p.current = nil
	p.cancel = nil
	p.mu.Unlock()

	p.bus.Emit(bus.FinishedPlayingEvent{Track: e, Err: err})
}

// Skip ends the current entry. It reports whether anything was playing.
func (p *Player) Skip() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return false
	}
	p.cancel()
	return true
}

func (p *Player) Pause() bool {
	p.mu.Lock()
	if p.state != StatePlaying {
		p.mu.Unlock()
		return false
	}
	p.state = StatePaused
	cur := p.current
	p.mu.Unlock()

	p.sink.SetPaused(true)
	p.bus.Emit(bus.PauseEvent{Track: trackOf(cur)})
	return true
}

func (p *Player) Resume() bool {
	p.mu.Lock()
	if p.state != StatePaused {
		p.mu.Unlock()
		return false
	}
	p.state = StatePlaying
	if p.current == nil {
		p.state = StateStopped
	}
	cur := p.current
	p.mu.Unlock()

	p.sink.SetPaused(false)
	p.resetSkips()
	p.bus.Emit(bus.ResumeEvent{Track: trackOf(cur)})
	return true
}

// Stop clears the playlist and ends the current entry.
func (p *Player) Stop() {
	p.playlist.Clear()
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.state = StateStopped
	p.mu.Unlock()

	p.sink.SetPaused(false)
	p.resetSkips()
	p.bus.Emit(bus.StopEvent{})
}

// resetSkips drops the votes of the previous playback state.
func (p *Player) resetSkips() {
	if p.skips != nil {
		p.skips.Reset()
	}
}

func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) IsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateStopped || p.current == nil
}

func (p *Player) IsPaused() bool { return p.State() == StatePaused }

func (p *Player) Current() *playlist.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Player) Progress() time.Duration {
	return time.Duration(p.progress.Load())
}

// trackOf avoids wrapping a nil entry in a non-nil interface.
func trackOf(e *playlist.Entry) bus.Track {
	if e == nil {
		return nil
	}
	return e
}
