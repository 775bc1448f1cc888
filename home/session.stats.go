package home

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/kurime/proc"
	"github.com/leeineian/kurime/sys"
)

const (
	statsAnsiReset    = "\u001b[0m"
	statsAnsiPink     = "\u001b[35m"
	statsAnsiPinkBold = "\u001b[35;1m"
)

func statsTitle(text string) string { return statsAnsiPink + text + statsAnsiReset }

func statsLine(key, val string) string {
	return fmt.Sprintf("%s> %s:%s %s%s%s", statsAnsiPink, key, statsAnsiReset, statsAnsiPinkBold, val, statsAnsiReset)
}

func handleSessionStats(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	ephemeral := true
	if eph, ok := data.OptBool("ephemeral"); ok {
		ephemeral = eph
	}
	if err := event.CreateMessage(containerMessage(sys.MsgSessionStatsLoading, ephemeral)); err != nil {
		sys.LogDebug("Failed to send stats: %v", err)
		return
	}

	roundTrip := time.Since(event.ID().Time()).Milliseconds()
	content := fmt.Sprintf("```ansi\n%s\n\n%s\n\n%s\n```",
		systemStats(),
		appStats(event.Client().Gateway.Latency().Milliseconds(), roundTrip),
		playbackStats(),
	)

	_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
		SetIsComponentsV2(true).
		AddComponents(discord.NewContainer(discord.NewTextDisplay(content))).
		Build())
}

func systemStats() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return strings.Join([]string{
		statsTitle("System"),
		statsLine("Platform", runtime.GOOS+" "+runtime.GOARCH),
		statsLine("Go Version", runtime.Version()),
		statsLine("Memory", fmt.Sprintf("%.2f MB / %.2f MB (Sys)", float64(m.HeapAlloc)/1024/1024, float64(m.Sys)/1024/1024)),
		statsLine("Goroutines", fmt.Sprint(runtime.NumGoroutine())),
	}, "\n")
}

func appStats(gatewayMs, apiMs int64) string {
	uptime := time.Since(sys.StartupTime)
	lines := []string{
		statsTitle("App"),
		statsLine("Uptime", fmt.Sprintf("%dd %dh %dm", int(uptime.Hours())/24, int(uptime.Hours())%24, int(uptime.Minutes())%60)),
		statsLine("Gateway", fmt.Sprintf("%dms", gatewayMs)),
		statsLine("API Latency", fmt.Sprintf("%dms", apiMs)),
	}

	if sys.DB != nil {
		start := time.Now()
		_, _ = sys.GetBotConfig(sys.AppContext, "ping_test")
		lines = append(lines, statsLine("Database", fmt.Sprintf("%.2fms", float64(time.Since(start).Microseconds())/1000)))
	}
	return strings.Join(lines, "\n")
}

func playbackStats() string {
	lines := []string{statsTitle("Playback")}

	vm := proc.GetVoiceManager()
	if vm == nil {
		return strings.Join(append(lines, statsLine("Sessions", "not started")), "\n")
	}

	sessions := vm.Sessions()
	playing, queued := 0, 0
	for _, s := range sessions {
		if s.Player.Current() != nil {
			playing++
		}
		queued += s.Playlist.Len()
	}
	lines = append(lines,
		statsLine("Sessions", fmt.Sprintf("%d (%d playing)", len(sessions), playing)),
		statsLine("Queued", fmt.Sprint(queued)),
	)

	if p := proc.GetPool(); p != nil {
		pending, active := p.Stats()
		lines = append(lines, statsLine("Workers", fmt.Sprintf("%d/%d busy, %d waiting", active, p.Size(), pending)))
	}
	if ap := vm.Options().AutoPlaylist; ap != nil {
		state := "off"
		if ap.Enabled() {
			state = "on"
		}
		lines = append(lines, statsLine("Autoplay", fmt.Sprintf("%s, %d entries", state, len(ap.Refs()))))
	}
	if a := proc.GetArchive(); a != nil {
		login := "signed out"
		if a.LoggedIn() {
			login = "signed in"
		}
		lines = append(lines, statsLine("Archive", fmt.Sprintf("%d cached sets, %s", len(a.Local()), login)))
	}
	return strings.Join(lines, "\n")
}
