package proc

import (
	"context"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/kurime/sys"
)

const joinAttempts = 5

// DiscordConnector is the Connector backed by a disgo client.
type DiscordConnector struct {
	client *bot.Client

	mu    sync.Mutex
	sinks map[snowflake.ID]*VoiceSink
}

func NewDiscordConnector(client *bot.Client) *DiscordConnector {
	return &DiscordConnector{
		client: client,
		sinks:  make(map[snowflake.ID]*VoiceSink),
	}
}

// Connect joins channelID. A guild that already has a connection is moved
// and keeps its sink.
func (d *DiscordConnector) Connect(ctx context.Context, guildID, channelID snowflake.ID) (Sink, error) {
	d.mu.Lock()
	sink := d.sinks[guildID]
	d.mu.Unlock()

	if sink != nil {
		sink.Conn().Close(ctx)
	}

	conn := d.client.VoiceManager.CreateConn(guildID)
	var err error
	for i := range joinAttempts {
		if err = conn.Open(ctx, channelID, false, false); err == nil {
			break
		}
		sys.LogVoice(sys.MsgVoiceJoinRetry, i+1, err)
		select {
		case <-time.After(time.Second << i):
		case <-ctx.Done():
			err = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		conn.Close(context.Background())
		d.SetStatus(channelID, "")
		sys.LogVoice(sys.MsgVoiceJoinFail, err)
		return nil, err
	}

	if sink != nil {
		sink.Rebind(conn)
		return sink, nil
	}
	sink = NewVoiceSink(conn)
	d.mu.Lock()
	d.sinks[guildID] = sink
	d.mu.Unlock()
	return sink, nil
}

func (d *DiscordConnector) Disconnect(ctx context.Context, guildID snowflake.ID) {
	d.mu.Lock()
	sink, ok := d.sinks[guildID]
	delete(d.sinks, guildID)
	d.mu.Unlock()
	if ok {
		sink.Conn().Close(ctx)
	}
}

func (d *DiscordConnector) SetStatus(channelID snowflake.ID, status string) {
	if channelID == 0 {
		return
	}
	route := rest.NewEndpoint(http.MethodPut, "/channels/"+channelID.String()+"/voice-status")
	if err := d.client.Rest.Do(route.Compile(nil), map[string]string{"status": status}, nil); err != nil {
		sys.LogVoice(sys.MsgVoiceStatusFail, err)
	}
}

func (d *DiscordConnector) Announce(channelID snowflake.ID, content string) {
	_, err := d.client.Rest.CreateMessage(channelID, discord.NewMessageCreateBuilder().
		SetContent(content).
		SetAllowedMentions(&discord.AllowedMentions{}).
		Build())
	if err != nil {
		sys.LogVoice(sys.MsgVoiceAnnounceFail, channelID, err)
	}
}

// Occupancy counts the members in channelID who can hear playback. Bots,
// deafened members and owners are left out.
func Occupancy(client *bot.Client, guildID, channelID snowflake.ID) int {
	return countListeners(client.Caches.VoiceStates(guildID), channelID, func(id snowflake.ID) bool {
		if id == client.ID() {
			return true
		}
		if sys.GlobalConfig != nil && sys.GlobalConfig.IsOwner(id) {
			return true
		}
		m, ok := client.Caches.Member(guildID, id)
		return ok && m.User.Bot
	})
}

func countListeners(states iter.Seq[discord.VoiceState], channelID snowflake.ID, excluded func(snowflake.ID) bool) int {
	n := 0
	for state := range states {
		if state.ChannelID == nil || *state.ChannelID != channelID {
			continue
		}
		if state.SelfDeaf || state.GuildDeaf || excluded(state.UserID) {
			continue
		}
		n++
	}
	return n
}

// onVoiceStateUpdate follows the bot when it is moved or kicked and pauses
// playback while nobody is listening.
func (vs *VoiceSystem) onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	guildID := event.VoiceState.GuildID
	s := vs.GetSession(guildID)
	if s == nil {
		return
	}
	client := event.Client()

	if event.VoiceState.UserID == client.ID() {
		if event.VoiceState.ChannelID == nil {
			sys.LogVoice(sys.MsgVoiceKicked, guildID)
			vs.autoPaused.Delete(guildID)
			vs.Leave(context.Background(), guildID)
			return
		}
		if old := s.ChannelID(); *event.VoiceState.ChannelID != old {
			vs.connector.SetStatus(old, "")
			s.setChannelID(*event.VoiceState.ChannelID)
			if cur := s.Player.Current(); cur != nil {
				vs.connector.SetStatus(s.ChannelID(), statusFor(cur))
			}
		}
		return
	}

	humans := Occupancy(client, guildID, s.ChannelID())
	_, wasAuto := vs.autoPaused.Load(guildID)
	switch {
	case humans == 0 && s.Player.Pause():
		vs.autoPaused.Store(guildID, struct{}{})
		if cur := s.Player.Current(); cur != nil {
			vs.connector.SetStatus(s.ChannelID(), "⏸ "+strings.TrimPrefix(statusFor(cur), "▶ "))
		}
		sys.LogVoice(sys.MsgVoiceAutoPause, guildID)
	case humans > 0 && wasAuto:
		vs.autoPaused.Delete(guildID)
		if s.Player.Resume() {
			if cur := s.Player.Current(); cur != nil {
				vs.connector.SetStatus(s.ChannelID(), statusFor(cur))
			}
			sys.LogVoice(sys.MsgVoiceAutoResume, guildID)
		}
	}
}
