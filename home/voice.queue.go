package home

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/kurime/playlist"
	"github.com/leeineian/kurime/proc"
	"github.com/leeineian/kurime/sys"
)

const queuePageSize = 10

func handleVoiceQueue(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	s := session(event)
	if s == nil {
		return
	}
	entries := s.Playlist.Entries()

	var sb strings.Builder
	if cur := s.Player.Current(); cur != nil {
		sb.WriteString(nowPlayingLine(s, cur))
		sb.WriteString("\n\n")
	}
	if len(entries) == 0 {
		sb.WriteString(sys.MsgQueueEmpty)
	} else {
		sb.WriteString(fmt.Sprintf(sys.MsgQueueHeader, len(entries)))
		for i, e := range entries {
			if i >= queuePageSize {
				sb.WriteString(fmt.Sprintf(sys.MsgQueueMore, len(entries)-queuePageSize))
				break
			}
			sb.WriteString(fmt.Sprintf(sys.MsgQueueLine, i+1, e.Title, proc.FormatDuration(e.Duration), requestedBy(e)))
		}
	}

	replyEphemeral(event, sb.String())
}

func requestedBy(e *playlist.Entry) string {
	if e.Requester == nil {
		return "autoplay"
	}
	return "<@" + e.Requester.AuthorID.String() + ">"
}

func nowPlayingLine(s *proc.VoiceSession, cur *playlist.Entry) string {
	return fmt.Sprintf(sys.MsgNowPlaying, cur.Title, proc.FormatDuration(s.Player.Progress()), proc.FormatDuration(cur.Duration), cur.URL)
}

func handleVoiceNowPlaying(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	s := session(event)
	if s == nil {
		return
	}
	cur := s.Player.Current()
	if cur == nil {
		replyEphemeral(event, sys.MsgNothingPlaying)
		return
	}
	line := nowPlayingLine(s, cur)
	if s.Player.IsPaused() {
		line = "⏸ " + line
	}
	reply(event, line)
}

func handleVoiceShuffle(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	if s := listeningSession(event); s != nil {
		s.Playlist.Shuffle()
		reply(event, sys.MsgShuffled)
	}
}

func handleVoiceClear(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	s := listeningSession(event)
	if s == nil {
		return
	}
	if !privileged(event) {
		replyEphemeral(event, sys.ErrOwnerOnly)
		return
	}
	s.Playlist.Clear()
	reply(event, sys.MsgCleared)
}

func handleVoiceRemove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	s := listeningSession(event)
	if s == nil {
		return
	}
	pos := data.Int("position")
	entries := s.Playlist.Entries()
	if pos < 1 || pos > len(entries) {
		replyEphemeral(event, sys.ErrInvalidSelection)
		return
	}
	if !privileged(event) && !entries[pos-1].RequestedBy(event.User().ID) {
		replyEphemeral(event, sys.ErrOwnerOnly)
		return
	}
	e, err := s.Playlist.Remove(pos)
	if err != nil {
		replyEphemeral(event, sys.ErrInvalidSelection)
		return
	}
	reply(event, fmt.Sprintf(sys.MsgRemoved, e.Title))
}
