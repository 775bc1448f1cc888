package home

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/kurime/playlist"
	"github.com/leeineian/kurime/proc"
	"github.com/leeineian/kurime/sys"
)

const commandTimeout = 2 * time.Minute

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "voice",
		Description: "Voice System",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a URL, playlist or search query",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "The URL or song name to play",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "search",
				Description: "Search and pick a result",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "query",
						Description: "What to search for ([YT] prefix ranks YouTube first)",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Vote to skip the current entry",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the current queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "np",
				Description: "Show what is playing",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shuffle",
				Description: "Shuffle the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "clear",
				Description: "Clear the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove an entry from the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "position",
						Description: "Queue position",
						Required:    true,
						MinValue:    ptr(1),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pause",
				Description: "Pause playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "resume",
				Description: "Resume playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop audio and leave",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "autoplay",
				Description: "Turn the autoplaylist on or off",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "Whether idle sessions pick from the autoplaylist",
						Required:    true,
					},
				},
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return
		}
		if event.GuildID() == nil {
			replyEphemeral(event, sys.ErrGuildOnly)
			return
		}

		switch *data.SubCommandName {
		case "play":
			handleVoicePlay(event, data)
		case "search":
			handleVoiceSearch(event, data)
		case "skip":
			handleVoiceSkip(event, data)
		case "queue":
			handleVoiceQueue(event, data)
		case "np":
			handleVoiceNowPlaying(event, data)
		case "shuffle":
			handleVoiceShuffle(event, data)
		case "clear":
			handleVoiceClear(event, data)
		case "remove":
			handleVoiceRemove(event, data)
		case "pause":
			handleVoicePause(event, data)
		case "resume":
			handleVoiceResume(event, data)
		case "stop":
			handleVoiceStop(event, data)
		case "autoplay":
			handleVoiceAutoplay(event, data)
		}
	})

	sys.RegisterAutocompleteHandler("voice", handleVoiceAutocomplete)
	sys.RegisterComponentHandler(searchComponentPrefix, handleSearchSelect)
}

func ptr[T any](v T) *T { return &v }

func replyEphemeral(event *events.ApplicationCommandInteractionCreate, content string) {
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(content).
		SetEphemeral(true).
		Build())
}

func reply(event *events.ApplicationCommandInteractionCreate, content string) {
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(content).
		SetAllowedMentions(&discord.AllowedMentions{}).
		Build())
}

// editReply replaces a deferred response.
func editReply(event *events.ApplicationCommandInteractionCreate, content string) {
	_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
		SetContent(content).
		SetAllowedMentions(&discord.AllowedMentions{}).
		Build())
}

// callerChannel returns the voice channel the caller is in.
func callerChannel(event *events.ApplicationCommandInteractionCreate) (snowflake.ID, bool) {
	if event.Member() == nil {
		return 0, false
	}
	vs, ok := event.Client().Caches.VoiceState(*event.GuildID(), event.User().ID)
	if !ok || vs.ChannelID == nil {
		return 0, false
	}
	return *vs.ChannelID, true
}

// session returns the guild's session, replying with an error when there is none.
func session(event *events.ApplicationCommandInteractionCreate) *proc.VoiceSession {
	s := proc.GetVoiceManager().GetSession(*event.GuildID())
	if s == nil {
		replyEphemeral(event, sys.ErrVoiceNotConnected)
	}
	return s
}

// listeningSession is session plus a check that the caller shares its channel.
func listeningSession(event *events.ApplicationCommandInteractionCreate) *proc.VoiceSession {
	s := session(event)
	if s == nil {
		return nil
	}
	if ch, ok := callerChannel(event); !ok || ch != s.ChannelID() {
		replyEphemeral(event, sys.ErrVoiceWrongChannel)
		return nil
	}
	return s
}

// privileged users bypass skip votes and per-user limits.
func privileged(event *events.ApplicationCommandInteractionCreate) bool {
	if sys.GlobalConfig != nil && sys.GlobalConfig.IsOwner(event.User().ID) {
		return true
	}
	m := event.Member()
	return m != nil && (m.Permissions.Has(discord.PermissionAdministrator) || m.Permissions.Has(discord.PermissionManageChannels))
}

func requester(event *events.ApplicationCommandInteractionCreate) *playlist.Requester {
	return &playlist.Requester{ChannelID: event.Channel().ID(), AuthorID: event.User().ID}
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(sys.AppContext, commandTimeout)
}
