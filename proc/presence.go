package proc

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
	"github.com/leeineian/kurime/sys"
)

// ConfigKeyPresence toggles the rotating presence in bot_config.
const ConfigKeyPresence = "status_visible"

var startTime = time.Now()

type presenceGenerator func(vs *VoiceSystem, client *bot.Client) string

// PresenceRotator cycles the bot presence through playback summaries.
type PresenceRotator struct {
	client     *bot.Client
	vs         *VoiceSystem
	generators []presenceGenerator
	last       string
}

func NewPresenceRotator(client *bot.Client, vs *VoiceSystem) *PresenceRotator {
	return &PresenceRotator{
		client: client,
		vs:     vs,
		generators: []presenceGenerator{
			sessionsPresence,
			nowPlayingPresence,
			queuedPresence,
			uptimePresence,
			latencyPresence,
		},
	}
}

func rotationInterval() time.Duration {
	return time.Duration(15+rand.IntN(46)) * time.Second
}

func (r *PresenceRotator) Run(ctx context.Context) {
	for {
		next := rotationInterval()
		r.update(ctx, next)
		select {
		case <-time.After(next):
		case <-ctx.Done():
			return
		}
	}
}

// Choose picks a non-empty status, avoiding an immediate repeat.
func (r *PresenceRotator) Choose() string {
	var available []string
	for _, gen := range r.generators {
		if text := gen(r.vs, r.client); text != "" {
			available = append(available, text)
		}
	}
	if len(available) == 0 {
		available = append(available, uptimePresence(r.vs, r.client))
	}

	var choices []string
	for _, s := range available {
		if s != r.last {
			choices = append(choices, s)
		}
	}
	selected := available[0]
	if len(choices) > 0 {
		selected = choices[rand.IntN(len(choices))]
	}
	r.last = selected
	return selected
}

func (r *PresenceRotator) update(ctx context.Context, next time.Duration) {
	if visible, err := sys.GetBotConfig(ctx, ConfigKeyPresence); err == nil && visible == "false" {
		_ = r.client.SetPresence(ctx, gateway.WithOnlineStatus(discord.OnlineStatusOnline))
		return
	}

	status := r.Choose()
	err := r.client.SetPresence(ctx,
		gateway.WithOnlineStatus(discord.OnlineStatusOnline),
		gateway.WithListeningActivity(status),
	)
	if err != nil {
		sys.LogVoice(sys.MsgPresenceUpdateFail, err)
		return
	}
	sys.LogDebug(sys.MsgPresenceRotated, status, next)
}

func sessionsPresence(vs *VoiceSystem, _ *bot.Client) string {
	if vs == nil {
		return ""
	}
	n := len(vs.Sessions())
	switch n {
	case 0:
		return ""
	case 1:
		return "music in 1 server"
	}
	return fmt.Sprintf("music in %d servers", n)
}

func nowPlayingPresence(vs *VoiceSystem, _ *bot.Client) string {
	if vs == nil {
		return ""
	}
	var playing []string
	for _, s := range vs.Sessions() {
		if cur := s.Player.Current(); cur != nil && !s.Player.IsPaused() {
			playing = append(playing, cur.Title)
		}
	}
	if len(playing) == 0 {
		return ""
	}
	title := playing[rand.IntN(len(playing))]
	if r := []rune(title); len(r) > 100 {
		title = string(r[:99]) + "…"
	}
	return title
}

func queuedPresence(vs *VoiceSystem, _ *bot.Client) string {
	if vs == nil {
		return ""
	}
	total := 0
	for _, s := range vs.Sessions() {
		total += s.Playlist.Len()
	}
	if total == 0 {
		return ""
	}
	return fmt.Sprintf("%d queued entries", total)
}

func uptimePresence(_ *VoiceSystem, _ *bot.Client) string {
	uptime := time.Since(startTime)
	return fmt.Sprintf("for %dh %dm", int(uptime.Hours()), int(uptime.Minutes())%60)
}

func latencyPresence(_ *VoiceSystem, client *bot.Client) string {
	if client == nil || client.Gateway == nil {
		return ""
	}
	ping := client.Gateway.Latency()
	if ping == 0 {
		return ""
	}
	return fmt.Sprintf("ping %dms", ping.Milliseconds())
}
