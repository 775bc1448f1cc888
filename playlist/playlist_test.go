package playlist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leeineian/kurime/archive"
	"github.com/leeineian/kurime/bus"
	"github.com/leeineian/kurime/pool"
	"github.com/leeineian/kurime/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	pool      *pool.Pool
	infos     map[string]*resolver.Info
	badFetch  map[string]bool
	downloads atomic.Int32
	gate      chan struct{}
	gates     map[string]chan struct{}
}

func newFakeResolver(p *pool.Pool) *fakeResolver {
	return &fakeResolver{
		pool:     p,
		infos:    map[string]*resolver.Info{},
		badFetch: map[string]bool{},
		gates:    map[string]chan struct{}{},
	}
}

func (r *fakeResolver) single(ref string, d time.Duration) {
	r.infos[ref] = &resolver.Info{Ref: ref, ID: ref, Title: "title " + ref, Duration: d, WebpageURL: ref}
}

func (r *fakeResolver) lookup(ref string) (*resolver.Info, error) {
	info, ok := r.infos[ref]
	if !ok {
		return nil, &resolver.ExtractionError{Ref: ref, Err: errors.New("unavailable")}
	}
	return info, nil
}

func (r *fakeResolver) Resolve(ctx context.Context, ref string) (*resolver.Info, error) {
	return r.lookup(ref)
}

func (r *fakeResolver) ResolveLenientAsync(ref string) *pool.Future[*resolver.Info] {
	return pool.Go(r.pool, 0, func(ctx context.Context) (*resolver.Info, error) {
		info, err := r.lookup(ref)
		if err != nil {
			return nil, nil
		}
		return info, nil
	})
}

func (r *fakeResolver) Download(ctx context.Context, info *resolver.Info) (string, error) {
	r.downloads.Add(1)
	gate := r.gate
	if g, ok := r.gates[info.Ref]; ok {
		gate = g
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if r.badFetch[info.Ref] {
		return "", errors.New("download failed")
	}
	return "/cache/" + info.ID, nil
}

type fakeArchive struct {
	bm *archive.Beatmap
}

func (a *fakeArchive) Fetch(ctx context.Context, req archive.Request) (*archive.Beatmap, error) {
	return a.bm, nil
}

func (a *fakeArchive) Load(ctx context.Context, dir, hash string) (*archive.Beatmap, error) {
	return a.bm, nil
}

func (a *fakeArchive) BaseURL() string { return archive.DefaultBaseURL }

type fakePlayer struct {
	stopped  bool
	current  *Entry
	progress time.Duration
}

func (p fakePlayer) IsStopped() bool         { return p.stopped }
func (p fakePlayer) Current() *Entry         { return p.current }
func (p fakePlayer) Progress() time.Duration { return p.progress }

func newTestPlaylist(t *testing.T) (*Playlist, *fakeResolver) {
	t.Helper()
	p := pool.New(pool.MinWorkers, nil)
	t.Cleanup(p.Close)
	r := newFakeResolver(p)
	return New(Config{Pool: p, Resolver: r}), r
}

func TestEnsureReadyConcurrentCallsShareOneFuture(t *testing.T) {
	pl, r := newTestPlaylist(t)
	r.single("a", time.Minute)
	r.gate = make(chan struct{})

	info, _ := r.lookup("a")
	e := NewGenericEntry(info, nil)

	var wg sync.WaitGroup
	futures := make([]*pool.Future[string], 20)
	for i := range futures {
		wg.Add(1)
		go func() {
			defer wg.Done()
			futures[i] = e.EnsureReady(pl.pool, pl, 0)
		}()
	}
	wg.Wait()
	close(r.gate)

	for _, f := range futures {
		assert.Same(t, futures[0], f)
	}
	path, err := futures[0].Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/cache/a", path)
	assert.EqualValues(t, 1, r.downloads.Load())
	assert.Equal(t, StatusReady, e.Status())
	assert.Equal(t, "/cache/a", e.LocalPath())
}

func TestGetNextIsFIFOWithLookahead(t *testing.T) {
	pl, r := newTestPlaylist(t)
	ctx := context.Background()
	for _, ref := range []string{"a", "b", "c"} {
		r.single(ref, time.Minute)
		_, _, err := pl.AddSingle(ctx, ref, nil)
		require.NoError(t, err)
	}

	entries := pl.Entries()
	assert.NotNil(t, entries[0].Ready(), "head is prepared on add")
	assert.Nil(t, entries[1].Ready())

	e, err := pl.GetNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", e.SourceRef)
	assert.NotNil(t, entries[1].Ready(), "new head is prepared on pop")
	assert.Nil(t, entries[2].Ready())

	e, err = pl.GetNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", e.SourceRef)

	e, err = pl.GetNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", e.SourceRef)

	_, err = pl.GetNext(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestGetNextKeepsOrderWhenLaterEntryIsReadyFirst(t *testing.T) {
	pl, r := newTestPlaylist(t)
	ctx := context.Background()
	r.single("slow", time.Minute)
	r.single("fast", time.Minute)
	r.gates["slow"] = make(chan struct{})

	_, _, err := pl.AddSingle(ctx, "slow", nil)
	require.NoError(t, err)
	_, _, err = pl.AddSingle(ctx, "fast", nil)
	require.NoError(t, err)

	entries := pl.Entries()
	_, err = entries[1].EnsureReady(pl.pool, pl, 0).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, entries[1].Status())
	assert.Equal(t, StatusResolving, entries[0].Status())

	close(r.gates["slow"])
	e, err := pl.GetNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "slow", e.SourceRef)

	e, err = pl.GetNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fast", e.SourceRef)
	assert.EqualValues(t, 2, r.downloads.Load())
}

func TestEntryFailureIsReportedOnce(t *testing.T) {
	pl, r := newTestPlaylist(t)
	ctx := context.Background()
	r.single("bad", time.Minute)
	r.badFetch["bad"] = true

	var failures atomic.Int32
	bus.Subscribe(pl.Bus(), func(bus.EntryFailedEvent) { failures.Add(1) })

	_, _, err := pl.AddSingle(ctx, "bad", nil)
	require.NoError(t, err)
	pl.Shuffle()
	pl.Shuffle()

	_, err = pl.GetNext(ctx)
	require.Error(t, err)

	assert.Eventually(t, func() bool { return failures.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return failures.Load() > 1 }, 200*time.Millisecond, 10*time.Millisecond)
	assert.EqualValues(t, 1, r.downloads.Load())
}

func TestRemoveHeadPreparesNewHead(t *testing.T) {
	pl, r := newTestPlaylist(t)
	ctx := context.Background()
	for _, ref := range []string{"a", "b", "c"} {
		r.single(ref, time.Minute)
		_, _, err := pl.AddSingle(ctx, ref, nil)
		require.NoError(t, err)
	}
	entries := pl.Entries()
	require.Nil(t, entries[1].Ready())

	removed, err := pl.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, "a", removed.SourceRef)

	f := entries[1].Ready()
	require.NotNil(t, f, "new head is prepared on removal")
	_, err = f.Await(ctx)
	require.NoError(t, err)
	assert.Nil(t, entries[2].Ready())

	_, err = pl.Remove(2)
	require.NoError(t, err)
	assert.Equal(t, 1, pl.Len())
}

func TestGetNextReturnsFailedEntry(t *testing.T) {
	pl, r := newTestPlaylist(t)
	ctx := context.Background()
	r.single("bad", time.Minute)
	r.badFetch["bad"] = true

	failed := make(chan bus.EntryFailedEvent, 1)
	bus.Subscribe(pl.Bus(), func(ev bus.EntryFailedEvent) { failed <- ev })

	_, _, err := pl.AddSingle(ctx, "bad", nil)
	require.NoError(t, err)

	e, err := pl.GetNext(ctx)
	require.Error(t, err)
	assert.Equal(t, "bad", e.SourceRef)
	assert.Equal(t, StatusFailed, e.Status())

	select {
	case ev := <-failed:
		assert.Equal(t, e.EntryID(), ev.Track.EntryID())
	case <-time.After(2 * time.Second):
		t.Fatal("no failure event")
	}
}

func TestPeekDoesNotMutate(t *testing.T) {
	pl, r := newTestPlaylist(t)
	assert.Nil(t, pl.Peek())

	r.single("a", time.Minute)
	_, _, err := pl.AddSingle(context.Background(), "a", nil)
	require.NoError(t, err)

	assert.Equal(t, "a", pl.Peek().SourceRef)
	assert.Equal(t, "a", pl.Peek().SourceRef)
	assert.Equal(t, 1, pl.Len())
}

func TestAddSingleRejectsCollection(t *testing.T) {
	pl, r := newTestPlaylist(t)
	r.infos["list"] = &resolver.Info{
		Ref:        "list",
		Kind:       resolver.KindCollection,
		WebpageURL: "https://example.com/playlist?list=1",
	}

	_, _, err := pl.AddSingle(context.Background(), "list", nil)
	var wrong *WrongEntryKindError
	require.ErrorAs(t, err, &wrong)
	assert.Equal(t, "https://example.com/playlist?list=1", wrong.CorrectedRef)
	assert.Zero(t, pl.Len())
}

func TestAddSingleExtractionError(t *testing.T) {
	pl, _ := newTestPlaylist(t)
	_, _, err := pl.AddSingle(context.Background(), "missing", nil)
	var ee *resolver.ExtractionError
	assert.ErrorAs(t, err, &ee)
}

func bulkCollection(r *fakeResolver, ref string, n int, failing ...int) {
	col := &resolver.Info{Ref: ref, Kind: resolver.KindCollection}
	bad := map[int]bool{}
	for _, i := range failing {
		bad[i] = true
	}
	for i := 1; i <= n; i++ {
		item := fmt.Sprintf("%s-%d", ref, i)
		col.Entries = append(col.Entries, resolver.Info{Ref: item, WebpageURL: item})
		if !bad[i] {
			r.single(item, time.Minute)
		}
	}
	r.infos[ref] = col
}

func TestAddBulkSkipsFailures(t *testing.T) {
	pl, r := newTestPlaylist(t)
	ctx := context.Background()
	r.single("first", time.Minute)
	_, _, err := pl.AddSingle(ctx, "first", nil)
	require.NoError(t, err)

	bulkCollection(r, "list", 5, 2, 4)
	res, err := pl.AddBulk(ctx, "list", nil)
	require.NoError(t, err)

	assert.Len(t, res.Entries, 3)
	assert.Equal(t, 2, res.Dropped)
	assert.Equal(t, 2, res.Position)

	refs := make([]string, 0, 4)
	for _, e := range pl.Entries() {
		refs = append(refs, e.SourceRef)
	}
	assert.Equal(t, []string{"first", "list-1", "list-3", "list-5"}, refs)
}

func TestAddBulkNothingSurvives(t *testing.T) {
	pl, r := newTestPlaylist(t)
	bulkCollection(r, "list", 3, 1, 2, 3)

	_, err := pl.AddBulk(context.Background(), "list", nil)
	assert.ErrorIs(t, err, ErrNoEntries)
	assert.Zero(t, pl.Len())
}

func TestAddBulkDropsTooLong(t *testing.T) {
	p := pool.New(pool.MinWorkers, nil)
	t.Cleanup(p.Close)
	r := newFakeResolver(p)
	pl := New(Config{Pool: p, Resolver: r, MaxDuration: 2 * time.Minute})

	bulkCollection(r, "list", 2)
	r.single("list-2", time.Hour)

	res, err := pl.AddBulk(context.Background(), "list", nil)
	require.NoError(t, err)
	assert.Len(t, res.Entries, 1)
	assert.Equal(t, 1, res.TooLong)
}

func TestAddSingleRejectsTooLong(t *testing.T) {
	p := pool.New(pool.MinWorkers, nil)
	t.Cleanup(p.Close)
	r := newFakeResolver(p)
	pl := New(Config{Pool: p, Resolver: r, MaxDuration: 2 * time.Minute})
	r.single("long", time.Hour)

	_, _, err := pl.AddSingle(context.Background(), "long", nil)
	assert.ErrorIs(t, err, ErrTooLong)
	assert.Zero(t, pl.Len())
}

func TestAddedEventsCarryPositions(t *testing.T) {
	pl, r := newTestPlaylist(t)
	var positions []int
	bus.Subscribe(pl.Bus(), func(ev bus.EntryAddedEvent) { positions = append(positions, ev.Position) })

	bulkCollection(r, "list", 3)
	_, err := pl.AddBulk(context.Background(), "list", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, positions)
}

func TestAddLocalArchiveEntry(t *testing.T) {
	p := pool.New(pool.MinWorkers, nil)
	t.Cleanup(p.Close)
	audio := filepath.Join(t.TempDir(), "audio.mp3")
	require.NoError(t, os.WriteFile(audio, []byte("mp3"), 0644))

	src := &fakeArchive{bm: &archive.Beatmap{SetID: "1", Title: "Song", AudioPath: audio, Duration: time.Minute, Dir: "/songs/1 Song"}}
	pl := New(Config{Pool: p, Archive: src})

	e, pos, err := pl.AddLocal(context.Background(), "/songs/1 Song", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.Equal(t, KindArchive, e.Kind)
	assert.Equal(t, archive.TitlePrefix+"Song", e.Title)

	got, err := pl.GetNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audio, got.LocalPath())
}

func TestAddFromArchiveMissingAudioFails(t *testing.T) {
	p := pool.New(pool.MinWorkers, nil)
	t.Cleanup(p.Close)
	src := &fakeArchive{bm: &archive.Beatmap{SetID: "2", AudioPath: "/nowhere/audio.mp3"}}
	pl := New(Config{Pool: p, Archive: src})

	_, _, err := pl.AddFromArchive(context.Background(), archive.Request{SetID: "2"}, nil)
	require.NoError(t, err)

	e, err := pl.GetNext(context.Background())
	assert.ErrorIs(t, err, errMissingAudio)
	assert.Equal(t, StatusFailed, e.Status())
}

func TestEstimateTimeUntil(t *testing.T) {
	pl, r := newTestPlaylist(t)
	ctx := context.Background()
	for i, secs := range []int{30, 40, 50} {
		ref := fmt.Sprintf("t%d", i)
		r.single(ref, time.Duration(secs)*time.Second)
		_, _, err := pl.AddSingle(ctx, ref, nil)
		require.NoError(t, err)
	}

	stopped := fakePlayer{stopped: true}
	for pos, want := range map[int]time.Duration{1: 0, 2: 30 * time.Second, 3: 70 * time.Second} {
		got, err := pl.EstimateTimeUntil(pos, stopped)
		require.NoError(t, err)
		assert.Equal(t, want, got, "position %d", pos)
	}

	playing := fakePlayer{current: &Entry{Duration: time.Minute}, progress: 20 * time.Second}
	got, err := pl.EstimateTimeUntil(2, playing)
	require.NoError(t, err)
	assert.Equal(t, 70*time.Second, got)

	_, err = pl.EstimateTimeUntil(4, stopped)
	assert.ErrorIs(t, err, ErrPosition)
}

func TestShuffleKeepsEntries(t *testing.T) {
	pl, r := newTestPlaylist(t)
	bulkCollection(r, "list", 10)
	_, err := pl.AddBulk(context.Background(), "list", nil)
	require.NoError(t, err)

	before := pl.Entries()
	pl.Shuffle()
	assert.ElementsMatch(t, before, pl.Entries())

	pl.Clear()
	assert.Zero(t, pl.Len())
}

func TestRemoveAndCountForRequester(t *testing.T) {
	pl, r := newTestPlaylist(t)
	ctx := context.Background()
	alice := &Requester{AuthorID: 1}
	bob := &Requester{AuthorID: 2}
	for i, req := range []*Requester{alice, bob, alice} {
		ref := fmt.Sprintf("r%d", i)
		r.single(ref, time.Minute)
		_, _, err := pl.AddSingle(ctx, ref, req)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, pl.CountForRequester(1))
	assert.Equal(t, 1, pl.CountForRequester(2))

	e, err := pl.Remove(2)
	require.NoError(t, err)
	assert.Equal(t, "r1", e.SourceRef)
	assert.Zero(t, pl.CountForRequester(2))

	_, err = pl.Remove(5)
	assert.ErrorIs(t, err, ErrPosition)
}
