package home

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/kurime/archive"
	"github.com/leeineian/kurime/playlist"
	"github.com/leeineian/kurime/proc"
	"github.com/leeineian/kurime/sys"
)

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "osu",
		Description: "Play beatmap audio",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Enqueue a beatmap link",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "url",
						Description: "Beatmap set or difficulty link",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "local",
				Description: "Enqueue a cached beatmap set",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "set",
						Description:  "Cached set directory",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "mode",
				Description: "Autoplay from cached beatmap sets (Owner Only)",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "Pick from cached sets instead of the autoplaylist",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "relogin",
				Description: "Sign in to the beatmap site again (Owner Only)",
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
		if proc.GetArchive() == nil {
			replyEphemeral(event, sys.MsgArchiveDisabled)
			return
		}

		switch *data.SubCommandName {
		case "play":
			handleOsuPlay(event, data)
		case "local":
			handleOsuLocal(event, data)
		case "mode":
			handleOsuMode(event, data)
		case "relogin":
			handleOsuRelogin(event)
		}
	})

	sys.RegisterAutocompleteHandler("osu", handleOsuAutocomplete)
}

func handleOsuPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	raw := data.String("url")
	if !isBeatmapLink(raw) {
		replyEphemeral(event, fmt.Sprintf(sys.ErrArchiveNotBeatmapURL, raw))
		return
	}
	playBeatmapLink(event, raw)
}

// isBeatmapLink reports whether raw points at the beatmap site, whether or not
// the archive is configured.
func isBeatmapLink(raw string) bool {
	base := archive.DefaultBaseURL
	if f := proc.GetArchive(); f != nil {
		base = f.BaseURL()
	}
	return archive.IsArchiveURL(raw, base)
}

// playBeatmapLink enqueues a beatmap link through the archive.
func playBeatmapLink(event *events.ApplicationCommandInteractionCreate, raw string) {
	if proc.GetArchive() == nil {
		replyEphemeral(event, sys.MsgArchiveDisabled)
		return
	}
	req, err := archive.ParseReference(raw)
	if err != nil {
		replyEphemeral(event, fmt.Sprintf(sys.ErrArchiveNotBeatmapURL, raw))
		return
	}

	osuEnqueue(event, func(ctx context.Context, s *proc.VoiceSession) (*playlist.Entry, int, error) {
		return s.Playlist.AddFromArchive(ctx, req, requester(event))
	})
}

func handleOsuLocal(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	name := data.String("set")
	dir, ok := localSet(name)
	if !ok {
		replyEphemeral(event, fmt.Sprintf(sys.MsgArchiveBadDir, name))
		return
	}

	osuEnqueue(event, func(ctx context.Context, s *proc.VoiceSession) (*playlist.Entry, int, error) {
		return s.Playlist.AddLocal(ctx, dir, requester(event))
	})
}

// osuEnqueue joins the caller's channel and runs add against its session.
func osuEnqueue(event *events.ApplicationCommandInteractionCreate, add func(ctx context.Context, s *proc.VoiceSession) (*playlist.Entry, int, error)) {
	channelID, ok := callerChannel(event)
	if !ok {
		replyEphemeral(event, sys.ErrVoiceNotInChannel)
		return
	}
	if msg, limited := overLimit(*event.GuildID(), event.User().ID, privileged(event)); limited {
		replyEphemeral(event, msg)
		return
	}

	_ = event.DeferCreateMessage(false)
	ctx, cancel := commandContext()
	defer cancel()

	s, err := proc.GetVoiceManager().Join(ctx, *event.GuildID(), channelID)
	if err != nil {
		editReply(event, fmt.Sprintf(sys.ErrArchiveFetchFailed, err))
		return
	}
	s.SetTextChannel(event.Channel().ID())

	e, pos, err := add(ctx, s)
	if err != nil {
		var fe *archive.FetchError
		if errors.As(err, &fe) {
			sys.LogArchive("Fetch of set %s failed at %s: %v", fe.SetID, fe.Stage, fe.Err)
		}
		editReply(event, fmt.Sprintf(sys.ErrArchiveFetchFailed, err))
		return
	}
	editReply(event, describePosition(s, e, pos))
}

func handleOsuMode(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	if !sys.GlobalConfig.IsOwner(event.User().ID) {
		replyEphemeral(event, sys.ErrOwnerOnly)
		return
	}
	ap := proc.GetVoiceManager().Options().AutoPlaylist
	if ap == nil {
		replyEphemeral(event, sys.MsgAutoplayUnavailable)
		return
	}

	on := data.Bool("enabled")
	if err := ap.SetArchiveMode(on); err != nil {
		replyEphemeral(event, sys.MsgArchiveDisabled)
		return
	}
	source := "the autoplaylist"
	if on {
		source = "cached beatmap sets"
	}
	sys.LogPlaylist("User %s (%s) switched autoplay to %s", event.User().Username, event.User().ID, source)
	reply(event, fmt.Sprintf(sys.MsgAutoplaySource, source))
}

func handleOsuRelogin(event *events.ApplicationCommandInteractionCreate) {
	if !sys.GlobalConfig.IsOwner(event.User().ID) {
		replyEphemeral(event, sys.ErrOwnerOnly)
		return
	}
	_ = event.DeferCreateMessage(true)
	ctx, cancel := commandContext()
	defer cancel()

	if err := proc.GetArchive().Relogin(ctx); err != nil {
		editReply(event, fmt.Sprintf(sys.MsgArchiveReloginErr, err))
		return
	}
	editReply(event, sys.MsgArchiveRelogin)
}

// localSet maps a directory name to a cached set, refusing anything outside
// the archive root.
func localSet(name string) (string, bool) {
	if name == "" || name != filepath.Base(name) {
		return "", false
	}
	for _, dir := range proc.GetArchive().Local() {
		if filepath.Base(dir) == name {
			return dir, true
		}
	}
	return "", false
}

func handleOsuAutocomplete(event *events.AutocompleteInteractionCreate) {
	fetcher := proc.GetArchive()
	if fetcher == nil {
		_ = event.AutocompleteResult(nil)
		return
	}
	query := strings.ToLower(event.Data.Focused().String())

	choices := make([]discord.AutocompleteChoice, 0, 25)
	for _, dir := range fetcher.Local() {
		name := filepath.Base(dir)
		if len(name) > 100 || !strings.Contains(strings.ToLower(name), query) {
			continue
		}
		choices = append(choices, discord.AutocompleteChoiceString{Name: name, Value: name})
		if len(choices) == 25 {
			break
		}
	}
	_ = event.AutocompleteResult(choices)
}
