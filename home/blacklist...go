package home

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/leeineian/kurime/sys"
)

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "blacklist",
		Description:              "Manage users who may not use the bot (Owner Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "add",
				Description: "Block a user",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionUser{Name: "user", Description: "User to block", Required: true},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Unblock a user",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionUser{Name: "user", Description: "User to unblock", Required: true},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "list",
				Description: "Show blocked users",
			},
		},
	}, handleBlacklist)
}

func handleBlacklist(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}
	if !sys.GlobalConfig.IsOwner(event.User().ID) {
		replyEphemeral(event, sys.ErrOwnerOnly)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch *data.SubCommandName {
	case "add":
		user := data.User("user")
		if err := sys.AddBlacklist(ctx, user.ID, event.User().ID); err != nil {
			replyEphemeral(event, fmt.Sprintf(sys.ErrDatabaseUnavailable, err))
			return
		}
		sys.LogDatabase("User %s blacklisted by %s", user.ID, event.User().ID)
		replyEphemeral(event, fmt.Sprintf(sys.MsgBlacklistAdded, user.ID))
	case "remove":
		user := data.User("user")
		if _, err := sys.RemoveBlacklist(ctx, user.ID); err != nil {
			replyEphemeral(event, fmt.Sprintf(sys.ErrDatabaseUnavailable, err))
			return
		}
		replyEphemeral(event, fmt.Sprintf(sys.MsgBlacklistRemoved, user.ID))
	case "list":
		ids, err := sys.GetBlacklist(ctx)
		if err != nil {
			replyEphemeral(event, fmt.Sprintf(sys.ErrDatabaseUnavailable, err))
			return
		}
		if len(ids) == 0 {
			replyEphemeral(event, sys.MsgBlacklistEmpty)
			return
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf(sys.MsgBlacklistHeader, len(ids)))
		for _, id := range ids {
			sb.WriteString("- <@" + id.String() + ">\n")
		}
		replyEphemeral(event, sb.String())
	}
}
