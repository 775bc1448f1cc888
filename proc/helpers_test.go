package proc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/kurime/playlist"
	"github.com/leeineian/kurime/pool"
	"github.com/leeineian/kurime/resolver"
)

type stubResolver struct {
	mu    sync.Mutex
	infos map[string]*resolver.Info
}

func newStubResolver(refs ...string) *stubResolver {
	r := &stubResolver{infos: map[string]*resolver.Info{}}
	for _, ref := range refs {
		r.add(ref, 30*time.Second)
	}
	return r
}

func (r *stubResolver) add(ref string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos[ref] = &resolver.Info{Ref: ref, ID: ref, Title: ref, Duration: d, WebpageURL: ref}
}

func (r *stubResolver) collection(ref string, items ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := &resolver.Info{Ref: ref, Title: ref, WebpageURL: ref, Kind: resolver.KindCollection}
	for _, it := range items {
		info.Entries = append(info.Entries, resolver.Info{Ref: it, WebpageURL: it})
	}
	r.infos[ref] = info
}

func (r *stubResolver) lookup(ref string) (*resolver.Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[ref]
	if !ok {
		return nil, &resolver.ExtractionError{Ref: ref, Err: errors.New("unavailable")}
	}
	return info, nil
}

func (r *stubResolver) Resolve(_ context.Context, ref string) (*resolver.Info, error) {
	return r.lookup(ref)
}

func (r *stubResolver) ResolveLenientAsync(ref string) *pool.Future[*resolver.Info] {
	info, err := r.lookup(ref)
	if err != nil {
		return pool.Resolved[*resolver.Info](nil)
	}
	return pool.Resolved(info)
}

func (r *stubResolver) Download(_ context.Context, info *resolver.Info) (string, error) {
	return "/media/" + info.ID, nil
}

// stubSink plays a track until released or canceled.
type stubSink struct {
	mu      sync.Mutex
	played  []string
	paused  bool
	started chan string
	release chan struct{}
}

func newStubSink() *stubSink {
	return &stubSink{started: make(chan string, 16), release: make(chan struct{})}
}

func (s *stubSink) Stream(ctx context.Context, path string, tick func(time.Duration)) error {
	s.mu.Lock()
	s.played = append(s.played, path)
	s.mu.Unlock()
	s.started <- path
	tick(5 * time.Second)
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stubSink) SetPaused(p bool) {
	s.mu.Lock()
	s.paused = p
	s.mu.Unlock()
}

func (s *stubSink) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *stubSink) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case p := <-s.started:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no track started")
		return ""
	}
}

type stubConnector struct {
	mu          sync.Mutex
	sink        *stubSink
	connects    []snowflake.ID
	disconnects []snowflake.ID
	statuses    map[snowflake.ID]string
	announces   map[snowflake.ID][]string
	connectErr  error
	connectWait time.Duration
}

func newStubConnector() *stubConnector {
	return &stubConnector{
		sink:      newStubSink(),
		statuses:  map[snowflake.ID]string{},
		announces: map[snowflake.ID][]string{},
	}
}

func (c *stubConnector) Connect(_ context.Context, _, channelID snowflake.ID) (Sink, error) {
	time.Sleep(c.connectWait)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects = append(c.connects, channelID)
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return c.sink, nil
}

func (c *stubConnector) Disconnect(_ context.Context, guildID snowflake.ID) {
	c.mu.Lock()
	c.disconnects = append(c.disconnects, guildID)
	c.mu.Unlock()
}

func (c *stubConnector) SetStatus(channelID snowflake.ID, status string) {
	c.mu.Lock()
	c.statuses[channelID] = status
	c.mu.Unlock()
}

func (c *stubConnector) Announce(channelID snowflake.ID, content string) {
	c.mu.Lock()
	c.announces[channelID] = append(c.announces[channelID], content)
	c.mu.Unlock()
}

func (c *stubConnector) status(channelID snowflake.ID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[channelID]
}

func (c *stubConnector) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connects)
}

func (c *stubConnector) announcedIn(channelID snowflake.ID) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.announces[channelID]...)
}

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	p := pool.New(4, nil)
	t.Cleanup(p.Close)
	return p
}

func newTestPlaylist(t *testing.T, r playlist.Resolver) *playlist.Playlist {
	return playlist.New(playlist.Config{Pool: newTestPool(t), Resolver: r})
}
