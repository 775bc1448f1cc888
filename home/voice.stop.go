package home

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/kurime/proc"
	"github.com/leeineian/kurime/sys"
)

func handleVoicePause(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	s := listeningSession(event)
	if s == nil {
		return
	}
	if !s.Player.Pause() {
		replyEphemeral(event, sys.MsgNothingPlaying)
		return
	}
	reply(event, sys.MsgPaused)
}

func handleVoiceResume(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	s := listeningSession(event)
	if s == nil {
		return
	}
	if !s.Player.Resume() {
		replyEphemeral(event, sys.MsgNothingPlaying)
		return
	}
	reply(event, sys.MsgResumed)
}

func handleVoiceStop(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	if s := listeningSession(event); s == nil {
		return
	}
	sys.LogVoice("User %s (%s) stopped playback in guild %s", event.User().Username, event.User().ID, *event.GuildID())
	proc.GetVoiceManager().Leave(context.Background(), *event.GuildID())
	reply(event, sys.MsgStopped)
}

func handleVoiceAutoplay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	if !privileged(event) {
		replyEphemeral(event, sys.ErrOwnerOnly)
		return
	}
	ap := proc.GetVoiceManager().Options().AutoPlaylist
	if ap == nil {
		replyEphemeral(event, sys.MsgAutoplayUnavailable)
		return
	}

	enabled := data.Bool("enabled")
	ap.SetEnabled(enabled)

	status := "disabled"
	if enabled {
		status = "enabled"
	}
	reply(event, fmt.Sprintf(sys.MsgAutoplayToggled, status))
}
