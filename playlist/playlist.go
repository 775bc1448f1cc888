package playlist

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gammazero/deque"
	"github.com/leeineian/kurime/archive"
	"github.com/leeineian/kurime/bus"
	"github.com/leeineian/kurime/pool"
	"github.com/leeineian/kurime/resolver"
	"github.com/samber/lo"
)

// Lookahead jobs jump ahead of plain resolutions.
const predownloadPriority = 1

type Resolver interface {
	Resolve(ctx context.Context, ref string) (*resolver.Info, error)
	ResolveLenientAsync(ref string) *pool.Future[*resolver.Info]
	Download(ctx context.Context, info *resolver.Info) (string, error)
}

type ArchiveSource interface {
	Fetch(ctx context.Context, req archive.Request) (*archive.Beatmap, error)
	Load(ctx context.Context, dir, hash string) (*archive.Beatmap, error)
	BaseURL() string
}

// PlayerState is what the playlist needs to know about playback when
// estimating wait times.
type PlayerState interface {
	IsStopped() bool
	Current() *Entry
	Progress() time.Duration
}

type Config struct {
	Pool     *pool.Pool
	Resolver Resolver
	Archive  ArchiveSource
	Bus      *bus.Bus
	Logger   *slog.Logger
	// MaxDuration drops longer entries from bulk adds. Zero disables it.
	MaxDuration time.Duration
}

// Playlist is the FIFO queue of one guild. All mutation happens under mu so
// position numbers stay consistent with what callers are told.
type Playlist struct {
	mu      sync.Mutex
	entries *deque.Deque[*Entry]

	pool        *pool.Pool
	resolver    Resolver
	archive     ArchiveSource
	bus         *bus.Bus
	logger      *slog.Logger
	maxDuration time.Duration
}

func New(cfg Config) *Playlist {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "playlist"))
	}
	b := cfg.Bus
	if b == nil {
		b = bus.New(logger)
	}
	return &Playlist{
		entries:     deque.New[*Entry](16),
		pool:        cfg.Pool,
		resolver:    cfg.Resolver,
		archive:     cfg.Archive,
		bus:         b,
		logger:      logger,
		maxDuration: cfg.MaxDuration,
	}
}

func (p *Playlist) Bus() *bus.Bus { return p.bus }

// Prepare makes the media of e available locally.
func (p *Playlist) Prepare(ctx context.Context, e *Entry) (string, error) {
	switch e.Kind {
	case KindArchive:
		return e.archiveReady()
	default:
		if e.info == nil {
			return "", fmt.Errorf("entry %s has no source metadata", e.ID)
		}
		return p.resolver.Download(ctx, e.info)
	}
}

// AddSingle resolves ref and appends it. Collections are refused with a
// *WrongEntryKindError naming the reference to add in bulk.
func (p *Playlist) AddSingle(ctx context.Context, ref string, req *Requester) (*Entry, int, error) {
	info, err := p.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, 0, err
	}
	if info.Kind == resolver.KindCollection {
		return nil, 0, &WrongEntryKindError{Ref: ref, CorrectedRef: info.URL()}
	}
	if p.maxDuration > 0 && info.Duration > p.maxDuration {
		return nil, 0, fmt.Errorf("%w: %s is %s", ErrTooLong, info.Title, info.Duration)
	}
	e := NewGenericEntry(info, req)
	return e, p.add(e), nil
}

type BulkResult struct {
	Entries []*Entry
	// Position is the queue position of the first added entry.
	Position int
	Dropped  int
	TooLong  int
}

// AddBulk resolves every item of a collection concurrently and appends the
// survivors in collection order. Items that fail are skipped and counted.
func (p *Playlist) AddBulk(ctx context.Context, ref string, req *Requester) (*BulkResult, error) {
	info, err := p.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	items := info.Entries
	if info.Kind != resolver.KindCollection {
		items = []resolver.Info{*info}
	}

	futures := lo.Map(items, func(it resolver.Info, _ int) *pool.Future[*resolver.Info] {
		return p.resolver.ResolveLenientAsync(it.URL())
	})

	res := &BulkResult{}
	var survivors []*Entry
	for _, f := range futures {
		got, err := f.Await(ctx)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if got == nil || got.Kind == resolver.KindCollection {
			res.Dropped++
			continue
		}
		if p.maxDuration > 0 && got.Duration > p.maxDuration {
			res.TooLong++
			continue
		}
		survivors = append(survivors, NewGenericEntry(got, req))
	}
	if len(survivors) == 0 {
		return nil, fmt.Errorf("%w from %s", ErrNoEntries, ref)
	}

	res.Entries = survivors
	res.Position = p.add(survivors...)
	if res.Dropped > 0 || res.TooLong > 0 {
		p.logger.Info(fmt.Sprintf("Added %d of %d entries from %s", len(survivors), len(items), ref))
	}
	return res, nil
}

// AddFromArchive fetches a beatmap set on the pool and appends it.
func (p *Playlist) AddFromArchive(ctx context.Context, r archive.Request, req *Requester) (*Entry, int, error) {
	bm, err := pool.Go(p.pool, 0, func(ctx context.Context) (*archive.Beatmap, error) {
		return p.archive.Fetch(ctx, r)
	}).Await(ctx)
	if err != nil {
		return nil, 0, err
	}
	e := NewArchiveEntry(bm, p.archive.BaseURL(), req)
	return e, p.add(e), nil
}

// AddLocal appends an already unpacked beatmap set.
func (p *Playlist) AddLocal(ctx context.Context, dir string, req *Requester) (*Entry, int, error) {
	bm, err := pool.Go(p.pool, 0, func(ctx context.Context) (*archive.Beatmap, error) {
		return p.archive.Load(ctx, dir, "")
	}).Await(ctx)
	if err != nil {
		return nil, 0, err
	}
	e := NewArchiveEntry(bm, p.archive.BaseURL(), req)
	return e, p.add(e), nil
}

// add appends entries and returns the position of the first one.
func (p *Playlist) add(entries ...*Entry) int {
	p.mu.Lock()
	first := p.entries.Len() + 1
	for _, e := range entries {
		p.entries.PushBack(e)
	}
	head := p.entries.Front()
	p.mu.Unlock()

	for i, e := range entries {
		p.bus.Emit(bus.EntryAddedEvent{Track: e, Position: first + i})
	}
	if first == 1 {
		p.predownload(head)
	}
	return first
}

// predownload starts preparing e. Only the call that starts it reports a
// failure, so an entry is announced as failed once.
func (p *Playlist) predownload(e *Entry) *pool.Future[string] {
	f, started := e.ensureReady(p.pool, p, predownloadPriority)
	if !started {
		return f
	}
	go func() {
		<-f.Done()
		if _, err := f.Result(); err != nil {
			p.bus.Emit(bus.EntryFailedEvent{Track: e, Err: err})
		}
	}()
	return f
}

// GetNext pops the head, starts preparing the new head and waits for the
// popped entry to become ready. A failed entry is returned with its error.
func (p *Playlist) GetNext(ctx context.Context) (*Entry, error) {
	p.mu.Lock()
	if p.entries.Len() == 0 {
		p.mu.Unlock()
		return nil, ErrEmpty
	}
	e := p.entries.PopFront()
	var next *Entry
	if p.entries.Len() > 0 {
		next = p.entries.Front()
	}
	p.mu.Unlock()

	f := e.Ready()
	if f == nil {
		f = p.predownload(e)
	}
	if next != nil {
		p.predownload(next)
	}
	if _, err := f.Await(ctx); err != nil {
		return e, err
	}
	return e, nil
}

// Peek returns the head without removing it.
func (p *Playlist) Peek() *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entries.Len() == 0 {
		return nil
	}
	return p.entries.Front()
}

func (p *Playlist) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries.Len()
}

// Entries returns a snapshot in queue order.
func (p *Playlist) Entries() []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

func (p *Playlist) snapshot() []*Entry {
	out := make([]*Entry, p.entries.Len())
	for i := range out {
		out[i] = p.entries.At(i)
	}
	return out
}

func (p *Playlist) Shuffle() {
	p.mu.Lock()
	items := p.snapshot()
	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	p.entries.Clear()
	for _, e := range items {
		p.entries.PushBack(e)
	}
	var head *Entry
	if len(items) > 0 {
		head = items[0]
	}
	p.mu.Unlock()

	if head != nil {
		p.predownload(head)
	}
}

func (p *Playlist) Clear() {
	p.mu.Lock()
	p.entries.Clear()
	p.mu.Unlock()
}

// Remove deletes the entry at the 1-based position. Removing the head starts
// preparing the new one.
func (p *Playlist) Remove(position int) (*Entry, error) {
	p.mu.Lock()
	if position < 1 || position > p.entries.Len() {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrPosition, position)
	}
	e := p.entries.Remove(position - 1)
	var head *Entry
	if position == 1 && p.entries.Len() > 0 {
		head = p.entries.Front()
	}
	p.mu.Unlock()

	if head != nil {
		p.predownload(head)
	}
	return e, nil
}

// CountForRequester counts queued entries added by author.
func (p *Playlist) CountForRequester(author snowflake.ID) int {
	return lo.CountBy(p.Entries(), func(e *Entry) bool { return e.RequestedBy(author) })
}

// EstimateTimeUntil returns how long until the entry at the 1-based position
// starts playing. The remainder of the current entry counts unless the
// player is stopped.
func (p *Playlist) EstimateTimeUntil(position int, player PlayerState) (time.Duration, error) {
	p.mu.Lock()
	if position < 1 || position > p.entries.Len() {
		p.mu.Unlock()
		return 0, fmt.Errorf("%w: %d", ErrPosition, position)
	}
	var total time.Duration
	for i := 0; i < position-1; i++ {
		total += p.entries.At(i).Duration
	}
	p.mu.Unlock()

	if player != nil && !player.IsStopped() {
		if cur := player.Current(); cur != nil {
			total += max(cur.Duration-player.Progress(), 0)
		}
	}
	return total, nil
}
