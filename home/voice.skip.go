package home

import (
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/kurime/playlist"
	"github.com/leeineian/kurime/proc"
	"github.com/leeineian/kurime/sys"
)

func handleVoiceSkip(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	s := session(event)
	if s == nil {
		return
	}
	cur := s.Player.Current()
	if cur == nil {
		replyEphemeral(event, sys.MsgNothingPlaying)
		return
	}

	user := event.User().ID
	if privileged(event) || cur.RequestedBy(user) {
		s.Player.Skip()
		reply(event, fmt.Sprintf(sys.MsgSkipped, cur.Title))
		return
	}

	if ch, ok := callerChannel(event); !ok || ch != s.ChannelID() {
		replyEphemeral(event, sys.ErrVoiceWrongChannel)
		return
	}
	if s.Skips.HasVoted(user) {
		replyEphemeral(event, sys.ErrVoiceAlreadyVoted)
		return
	}

	cfg := sys.GlobalConfig
	occupancy := proc.Occupancy(event.Client(), *event.GuildID(), s.ChannelID())
	votes := s.Skips.AddVote(user, event.ID())
	remaining := playlist.RemainingSkips(cfg.SkipsRequired, cfg.SkipRatio, occupancy, votes)
	if remaining > 0 {
		reply(event, fmt.Sprintf(sys.MsgSkipVoted, event.User().Username, remaining))
		return
	}

	// The vote may have landed after the entry changed.
	if s.Player.Current() == cur {
		s.Player.Skip()
	}
	reply(event, fmt.Sprintf(sys.MsgSkipped, cur.Title))
}
