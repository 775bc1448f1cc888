package proc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/kurime/bus"
	"github.com/leeineian/kurime/playlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPlayer(t *testing.T, pl *playlist.Playlist, sink Sink) *Player {
	t.Helper()
	p := NewPlayer(pl, sink, &playlist.SkipVotes{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-p.Done()
	})
	return p
}

func TestPlayerPlaysInOrder(t *testing.T) {
	r := newStubResolver("a", "b")
	pl := newTestPlaylist(t, r)
	sink := newStubSink()

	var mu sync.Mutex
	var events []string
	bus.Subscribe(pl.Bus(), func(ev bus.PlayEvent) {
		mu.Lock()
		events = append(events, "play "+ev.Track.DisplayTitle())
		mu.Unlock()
	})
	bus.Subscribe(pl.Bus(), func(ev bus.FinishedPlayingEvent) {
		mu.Lock()
		events = append(events, "done "+ev.Track.DisplayTitle())
		mu.Unlock()
	})

	ctx := context.Background()
	_, _, err := pl.AddSingle(ctx, "a", nil)
	require.NoError(t, err)
	_, _, err = pl.AddSingle(ctx, "b", nil)
	require.NoError(t, err)

	p := startPlayer(t, pl, sink)
	assert.Equal(t, "/media/a", sink.waitStarted(t))
	assert.Equal(t, StatePlaying, p.State())
	assert.Equal(t, "a", p.Current().Title)
	assert.Eventually(t, func() bool { return p.Progress() == 5*time.Second }, time.Second, 10*time.Millisecond)

	sink.release <- struct{}{}
	assert.Equal(t, "/media/b", sink.waitStarted(t))
	sink.release <- struct{}{}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 4
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, p.IsStopped())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"play a", "done a", "play b", "done b"}, events)
}

func TestPlayerWakesWhenEntryAdded(t *testing.T) {
	r := newStubResolver("late")
	pl := newTestPlaylist(t, r)
	sink := newStubSink()
	p := startPlayer(t, pl, sink)

	time.Sleep(20 * time.Millisecond)
	assert.True(t, p.IsStopped())

	_, _, err := pl.AddSingle(context.Background(), "late", nil)
	require.NoError(t, err)
	assert.Equal(t, "/media/late", sink.waitStarted(t))
}

func TestPlayerSkip(t *testing.T) {
	r := newStubResolver("a", "b")
	pl := newTestPlaylist(t, r)
	sink := newStubSink()

	var finishErr error = context.DeadlineExceeded
	bus.Subscribe(pl.Bus(), func(ev bus.FinishedPlayingEvent) {
		if ev.Track.DisplayTitle() == "a" {
			finishErr = ev.Err
		}
	})

	ctx := context.Background()
	_, _, _ = pl.AddSingle(ctx, "a", nil)
	_, _, _ = pl.AddSingle(ctx, "b", nil)

	p := startPlayer(t, pl, sink)
	sink.waitStarted(t)
	assert.True(t, p.Skip())
	assert.Equal(t, "/media/b", sink.waitStarted(t))
	assert.NoError(t, finishErr)
}

func TestPlayerPauseResume(t *testing.T) {
	r := newStubResolver("a")
	pl := newTestPlaylist(t, r)
	sink := newStubSink()
	p := startPlayer(t, pl, sink)

	assert.False(t, p.Pause(), "nothing to pause")

	_, _, _ = pl.AddSingle(context.Background(), "a", nil)
	sink.waitStarted(t)

	assert.True(t, p.Pause())
	assert.True(t, p.IsPaused())
	assert.True(t, sink.isPaused())
	assert.False(t, p.Pause())
	assert.False(t, p.IsStopped())

	assert.True(t, p.Resume())
	assert.Equal(t, StatePlaying, p.State())
	assert.False(t, sink.isPaused())
	assert.False(t, p.Resume())
}

func TestPlayerResumeAndStopResetSkipVotes(t *testing.T) {
	r := newStubResolver("a")
	pl := newTestPlaylist(t, r)
	sink := newStubSink()
	skips := &playlist.SkipVotes{}
	p := NewPlayer(pl, sink, skips, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-p.Done()
	})

	_, _, err := pl.AddSingle(context.Background(), "a", nil)
	require.NoError(t, err)
	sink.waitStarted(t)

	require.True(t, p.Pause())
	skips.AddVote(snowflake.ID(1), 0)
	skips.AddVote(snowflake.ID(2), 0)
	require.Equal(t, 2, skips.Count())

	require.True(t, p.Resume())
	assert.Zero(t, skips.Count())

	skips.AddVote(snowflake.ID(3), 0)
	require.Equal(t, 1, skips.Count())
	p.Stop()
	assert.Zero(t, skips.Count())
}

func TestPlayerStopClearsPlaylist(t *testing.T) {
	r := newStubResolver("a", "b", "c")
	pl := newTestPlaylist(t, r)
	sink := newStubSink()

	stopped := make(chan struct{}, 1)
	bus.Subscribe(pl.Bus(), func(bus.StopEvent) { stopped <- struct{}{} })

	ctx := context.Background()
	for _, ref := range []string{"a", "b", "c"} {
		_, _, err := pl.AddSingle(ctx, ref, nil)
		require.NoError(t, err)
	}

	p := startPlayer(t, pl, sink)
	sink.waitStarted(t)
	p.Stop()

	<-stopped
	assert.Equal(t, 0, pl.Len())
	assert.Equal(t, StateStopped, p.State())
	assert.Eventually(t, func() bool { return p.Current() == nil }, time.Second, 10*time.Millisecond)
}

func TestPlayerEstimateIncludesCurrent(t *testing.T) {
	r := newStubResolver("a", "b")
	pl := newTestPlaylist(t, r)
	sink := newStubSink()

	ctx := context.Background()
	_, _, _ = pl.AddSingle(ctx, "a", nil)
	p := startPlayer(t, pl, sink)
	sink.waitStarted(t)
	assert.Eventually(t, func() bool { return p.Progress() == 5*time.Second }, time.Second, 10*time.Millisecond)

	_, pos, err := pl.AddSingle(ctx, "b", nil)
	require.NoError(t, err)
	require.Equal(t, 1, pos)

	eta, err := pl.EstimateTimeUntil(pos, p)
	require.NoError(t, err)
	assert.Equal(t, 25*time.Second, eta)
}
