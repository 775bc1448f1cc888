package home

import (
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/leeineian/kurime/sys"
)

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "session",
		Description:              "Session management utilities (Owner Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shutdown",
				Description: "Close every voice session and stop the bot",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stats",
				Description: "Display system and playback statistics",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "ephemeral",
						Description: "Whether the message should be ephemeral (default: true)",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "status",
				Description: "Configure presence rotation",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "visible",
						Description: "Enable or disable presence rotation",
						Required:    true,
					},
				},
			},
		},
	}, handleSession)
}

func handleSession(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}
	if !sys.GlobalConfig.IsOwner(event.User().ID) {
		replyEphemeral(event, sys.ErrOwnerOnly)
		return
	}

	switch *data.SubCommandName {
	case "shutdown":
		handleSessionShutdown(event)
	case "stats":
		handleSessionStats(event, data)
	case "status":
		handleSessionStatus(event, data)
	default:
		sys.LogDebug("Unknown session subcommand: %s", *data.SubCommandName)
	}
}

func containerMessage(content string, ephemeral bool) discord.MessageCreate {
	return discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		SetEphemeral(ephemeral).
		AddComponents(discord.NewContainer(discord.NewTextDisplay(content))).
		Build()
}

func handleSessionStatus(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	visible := data.Bool("visible")
	if err := sys.SetBotConfig(sys.AppContext, "status_visible", fmt.Sprint(visible)); err != nil {
		replyEphemeral(event, fmt.Sprintf(sys.ErrDatabaseUnavailable, err))
		return
	}

	state := "disabled"
	if visible {
		state = "enabled"
	}
	_ = event.CreateMessage(containerMessage("✅ "+fmt.Sprintf(sys.MsgSessionPresence, state), true))
}
