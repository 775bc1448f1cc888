package proc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/kurime/bus"
	"github.com/leeineian/kurime/playlist"
	"github.com/leeineian/kurime/pool"
	"github.com/leeineian/kurime/sys"
	"golang.org/x/sync/errgroup"
)

var ErrNotConnected = errors.New("not connected to voice")

// Connector opens voice connections and talks to the text side of the guild.
type Connector interface {
	Connect(ctx context.Context, guildID, channelID snowflake.ID) (Sink, error)
	Disconnect(ctx context.Context, guildID snowflake.ID)
	SetStatus(channelID snowflake.ID, status string)
	Announce(channelID snowflake.ID, content string)
}

// Options are shared by every session of a VoiceSystem.
type Options struct {
	Pool          *pool.Pool
	Resolver      playlist.Resolver
	Archive       playlist.ArchiveSource
	AutoPlaylist  *AutoPlaylist
	MaxDuration   time.Duration
	SkipsRequired int
	SkipRatio     float64
}

// VoiceSession is the playback state of one guild.
type VoiceSession struct {
	GuildID  snowflake.ID
	Playlist *playlist.Playlist
	Player   *Player
	Skips    *playlist.SkipVotes

	mu        sync.RWMutex
	channelID snowflake.ID
	textID    snowflake.ID

	cancel context.CancelFunc
	offs   []func()
}

func (s *VoiceSession) ChannelID() snowflake.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channelID
}

func (s *VoiceSession) setChannelID(id snowflake.ID) {
	s.mu.Lock()
	s.channelID = id
	s.mu.Unlock()
}

// SetTextChannel records where playback announcements go.
func (s *VoiceSession) SetTextChannel(id snowflake.ID) {
	s.mu.Lock()
	s.textID = id
	s.mu.Unlock()
}

func (s *VoiceSession) TextChannel() snowflake.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.textID
}

func (s *VoiceSession) close() {
	for _, off := range s.offs {
		off()
	}
	s.Player.Stop()
	s.cancel()
	<-s.Player.Done()
}

// VoiceSystem owns every guild's session. Sessions are created on first
// use and torn down on disconnect.
type VoiceSystem struct {
	mu       sync.Mutex
	sessions map[snowflake.ID]*VoiceSession
	joining  map[snowflake.ID]chan struct{}

	// guilds paused because their channel emptied; a manual pause is
	// not undone when someone joins.
	autoPaused sync.Map

	opts      Options
	connector Connector
	logger    *slog.Logger
}

func NewVoiceSystem(opts Options, connector Connector) *VoiceSystem {
	return &VoiceSystem{
		sessions:  make(map[snowflake.ID]*VoiceSession),
		joining:   make(map[snowflake.ID]chan struct{}),
		opts:      opts,
		connector: connector,
		logger:    sys.ComponentLogger("voice"),
	}
}

func (vs *VoiceSystem) Options() Options { return vs.opts }

func (vs *VoiceSystem) GetSession(guildID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.sessions[guildID]
}

// Sessions returns a snapshot of the live sessions.
func (vs *VoiceSystem) Sessions() []*VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make([]*VoiceSession, 0, len(vs.sessions))
	for _, s := range vs.sessions {
		out = append(out, s)
	}
	return out
}

// Join returns the guild's session, connecting to channelID first if there
// is none. A session in another channel is moved.
func (vs *VoiceSystem) Join(ctx context.Context, guildID, channelID snowflake.ID) (*VoiceSession, error) {
	for {
		vs.mu.Lock()
		if s, ok := vs.sessions[guildID]; ok {
			vs.mu.Unlock()
			if s.ChannelID() != channelID {
				return vs.move(ctx, s, channelID)
			}
			return s, nil
		}
		wait, busy := vs.joining[guildID]
		if !busy {
			vs.joining[guildID] = make(chan struct{})
			vs.mu.Unlock()
			break
		}
		vs.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	defer func() {
		vs.mu.Lock()
		close(vs.joining[guildID])
		delete(vs.joining, guildID)
		vs.mu.Unlock()
	}()

	sys.LogVoice(sys.MsgVoiceJoining, channelID, guildID)
	sink, err := vs.connector.Connect(ctx, guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", channelID, err)
	}

	s := vs.newSession(guildID, channelID, sink)
	vs.mu.Lock()
	vs.sessions[guildID] = s
	vs.mu.Unlock()
	return s, nil
}

func (vs *VoiceSystem) move(ctx context.Context, s *VoiceSession, channelID snowflake.ID) (*VoiceSession, error) {
	old := s.ChannelID()
	if _, err := vs.connector.Connect(ctx, s.GuildID, channelID); err != nil {
		return nil, err
	}
	vs.connector.SetStatus(old, "")
	s.setChannelID(channelID)
	if cur := s.Player.Current(); cur != nil {
		vs.connector.SetStatus(channelID, statusFor(cur))
	}
	return s, nil
}

func (vs *VoiceSystem) newSession(guildID, channelID snowflake.ID, sink Sink) *VoiceSession {
	pl := playlist.New(playlist.Config{
		Pool:        vs.opts.Pool,
		Resolver:    vs.opts.Resolver,
		Archive:     vs.opts.Archive,
		Logger:      sys.ComponentLogger("playlist"),
		MaxDuration: vs.opts.MaxDuration,
	})
	skips := &playlist.SkipVotes{}
	ctx, cancel := context.WithCancel(sys.AppContext)

	s := &VoiceSession{
		GuildID:   guildID,
		Playlist:  pl,
		Player:    NewPlayer(pl, sink, skips, vs.logger),
		Skips:     skips,
		channelID: channelID,
		cancel:    cancel,
	}
	vs.subscribe(ctx, s)
	sys.SafeGo(func() { s.Player.Run(ctx) })
	return s
}

// subscribe wires announcements, the voice channel status and autoplay.
func (vs *VoiceSystem) subscribe(ctx context.Context, s *VoiceSession) {
	b := s.Playlist.Bus()
	s.offs = append(s.offs,
		bus.Subscribe(b, func(ev bus.PlayEvent) {
			e := ev.Track.(*playlist.Entry)
			sys.LogVoice(sys.MsgVoiceNowPlaying, s.GuildID, e.Title)
			vs.connector.SetStatus(s.ChannelID(), statusFor(e))
			if ch := announceChannel(s, e); ch != 0 {
				vs.connector.Announce(ch, fmt.Sprintf(sys.MsgNowPlaying, e.Title, FormatDuration(0), FormatDuration(e.Duration), e.URL))
			}
		}),
		bus.Subscribe(b, func(ev bus.FinishedPlayingEvent) {
			if ev.Err != nil {
				sys.LogVoice(sys.MsgVoicePlaybackError, s.GuildID, ev.Err)
			}
			if s.Playlist.Len() > 0 {
				return
			}
			vs.connector.SetStatus(s.ChannelID(), "")
			if ap := vs.opts.AutoPlaylist; ap != nil && ap.Enabled() {
				sys.SafeGo(func() {
					if _, err := ap.Next(ctx, s.Playlist); err != nil {
						sys.LogPlaylist(sys.MsgGenericError, err)
					}
				})
			}
		}),
		bus.Subscribe(b, func(ev bus.EntryFailedEvent) {
			e := ev.Track.(*playlist.Entry)
			sys.LogVoice(sys.MsgVoiceEntryFailed, e.Title, s.GuildID, ev.Err)
			if ch := announceChannel(s, e); ch != 0 {
				vs.connector.Announce(ch, fmt.Sprintf(sys.ErrVoiceResolveFailed, e.Title, ev.Err))
			}
		}),
		bus.Subscribe(b, func(bus.StopEvent) {
			vs.connector.SetStatus(s.ChannelID(), "")
		}),
	)
}

func announceChannel(s *VoiceSession, e *playlist.Entry) snowflake.ID {
	if e.Requester != nil && e.Requester.ChannelID != 0 {
		return e.Requester.ChannelID
	}
	return s.TextChannel()
}

// Leave disconnects the guild and drops its session.
func (vs *VoiceSystem) Leave(ctx context.Context, guildID snowflake.ID) bool {
	vs.mu.Lock()
	s, ok := vs.sessions[guildID]
	delete(vs.sessions, guildID)
	vs.mu.Unlock()
	if !ok {
		return false
	}

	vs.connector.SetStatus(s.ChannelID(), "")
	s.close()
	vs.connector.Disconnect(ctx, guildID)
	sys.LogVoice(sys.MsgVoiceLeft, guildID)
	return true
}

// Shutdown leaves every guild.
func (vs *VoiceSystem) Shutdown(ctx context.Context) {
	vs.mu.Lock()
	ids := make([]snowflake.ID, 0, len(vs.sessions))
	for id := range vs.sessions {
		ids = append(ids, id)
	}
	vs.mu.Unlock()

	if len(ids) > 0 {
		sys.LogVoice(sys.MsgVoiceShutdownSessions, len(ids))
	}
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			vs.Leave(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

func statusFor(e *playlist.Entry) string {
	return "▶ " + e.Title
}

// FormatDuration renders d as m:ss or h:mm:ss.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
