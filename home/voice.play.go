package home

import (
	"context"
	"errors"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/kurime/playlist"
	"github.com/leeineian/kurime/proc"
	"github.com/leeineian/kurime/resolver"
	"github.com/leeineian/kurime/sys"
)

func handleVoicePlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query := data.String("query")
	if isBeatmapLink(query) {
		playBeatmapLink(event, query)
		return
	}

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
	sys.LogVoice("User %s (%s) requested playback: %s", event.User().Username, event.User().ID, query)

	ctx, cancel := commandContext()
	defer cancel()

	s, err := proc.GetVoiceManager().Join(ctx, *event.GuildID(), channelID)
	if err != nil {
		editReply(event, fmt.Sprintf(sys.ErrVoiceResolveFailed, query, err))
		return
	}
	s.SetTextChannel(event.Channel().ID())

	editReply(event, enqueue(ctx, s, query, requester(event)))
}

// overLimit reports whether the user already has MaxSongsPerUser entries queued.
func overLimit(guildID snowflake.ID, userID snowflake.ID, bypass bool) (string, bool) {
	cfg := sys.GlobalConfig
	if bypass || cfg == nil || cfg.MaxSongsPerUser <= 0 {
		return "", false
	}
	s := proc.GetVoiceManager().GetSession(guildID)
	if s == nil {
		return "", false
	}
	if s.Playlist.CountForRequester(userID) >= cfg.MaxSongsPerUser {
		return fmt.Sprintf(sys.ErrVoiceUserLimit, cfg.MaxSongsPerUser), true
	}
	return "", false
}

// enqueue adds ref to the session and describes the outcome. A collection
// given as a single reference is retried in bulk with the corrected reference.
func enqueue(ctx context.Context, s *proc.VoiceSession, ref string, req *playlist.Requester) string {
	e, pos, err := s.Playlist.AddSingle(ctx, ref, req)

	var wrong *playlist.WrongEntryKindError
	if errors.As(err, &wrong) {
		res, err := s.Playlist.AddBulk(ctx, wrong.CorrectedRef, req)
		if err != nil {
			return describeAddError(ref, err)
		}
		msg := fmt.Sprintf(sys.MsgPlayBulkEnqueued, len(res.Entries), res.Position)
		if res.Dropped > 0 || res.TooLong > 0 {
			msg += fmt.Sprintf(sys.MsgPlayBulkSkipped, res.Dropped, res.TooLong)
		}
		return msg
	}
	if err != nil {
		return describeAddError(ref, err)
	}
	return describePosition(s, e, pos)
}

func describePosition(s *proc.VoiceSession, e *playlist.Entry, pos int) string {
	if pos == 1 && s.Player.IsStopped() {
		return fmt.Sprintf(sys.MsgPlayEnqueuedNext, e.Title)
	}
	eta, err := s.Playlist.EstimateTimeUntil(pos, s.Player)
	if err != nil || eta <= 0 {
		return fmt.Sprintf(sys.MsgPlayEnqueued, e.Title, pos)
	}
	return fmt.Sprintf(sys.MsgPlayEnqueuedETA, e.Title, pos, proc.FormatDuration(eta))
}

func describeAddError(ref string, err error) string {
	switch {
	case errors.Is(err, playlist.ErrNoEntries):
		return fmt.Sprintf(sys.ErrVoiceNoEntries, ref)
	case errors.Is(err, playlist.ErrTooLong):
		limit := "configured"
		if sys.GlobalConfig != nil {
			limit = proc.FormatDuration(sys.GlobalConfig.MaxSongLength)
		}
		return fmt.Sprintf(sys.ErrVoiceTooLong, limit)
	case errors.Is(err, context.DeadlineExceeded):
		return sys.MsgSearchTimedOut
	}
	var ee *resolver.ExtractionError
	if errors.As(err, &ee) {
		err = ee.Err
	}
	return fmt.Sprintf(sys.ErrVoiceResolveFailed, ref, err)
}

func handleVoiceAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" {
		return
	}
	query := focused.String()
	if query == "" || resolver.IsURL(query) {
		_ = event.AutocompleteResult(nil)
		return
	}

	hits := resolver.Catalog(context.Background(), query)
	choices := make([]discord.AutocompleteChoice, 0, len(hits))
	for _, h := range hits {
		if len(h.URL) > 100 {
			continue
		}
		choices = append(choices, discord.AutocompleteChoiceString{Name: h.Label(), Value: h.URL})
	}
	_ = event.AutocompleteResult(choices)
}
