package home

import (
	"fmt"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/kurime/proc"
	"github.com/leeineian/kurime/sys"
)

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "ping",
		Description:              "Check bot latency and playback load (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionBool{
				Name:        "ephemeral",
				Description: "Whether the message should be ephemeral (default: true)",
				Required:    false,
			},
		},
	}, handlePing)

	sys.RegisterComponentHandler("ping_refresh", handlePingRefresh)
}

func handlePing(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	ephemeral := true
	if eph, ok := data.OptBool("ephemeral"); ok {
		ephemeral = eph
	}

	err := event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		SetEphemeral(ephemeral).
		AddComponents(pingContainer(event.Client(), event.ID(), "🏓")).
		Build())
	if err != nil {
		sys.LogDebug("Failed to send ping: %v", err)
	}
}

func handlePingRefresh(event *events.ComponentInteractionCreate) {
	_ = event.UpdateMessage(discord.NewMessageUpdateBuilder().
		SetIsComponentsV2(true).
		AddComponents(pingContainer(event.Client(), event.ID(), "🔁")).
		Build())
}

func pingContainer(client *bot.Client, interactionID snowflake.ID, icon string) discord.ContainerComponent {
	rest := time.Since(interactionID.Time()).Round(time.Millisecond)
	gateway := client.Gateway.Latency().Round(time.Millisecond)

	sessions := 0
	if vm := proc.GetVoiceManager(); vm != nil {
		sessions = len(vm.Sessions())
	}
	var pending, active, size int
	if p := proc.GetPool(); p != nil {
		pending, active = p.Stats()
		size = p.Size()
	}

	content := fmt.Sprintf("# %s\n\n> "+sys.MsgPingPong, icon, gateway, rest, sessions, active, size, pending)
	return discord.NewContainer(
		discord.NewTextDisplay(content),
		discord.NewActionRow(
			discord.NewSuccessButton("🔄 Refresh", "ping_refresh"),
		),
	)
}
