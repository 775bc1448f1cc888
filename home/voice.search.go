package home

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/kurime/playlist"
	"github.com/leeineian/kurime/proc"
	"github.com/leeineian/kurime/resolver"
	"github.com/leeineian/kurime/sys"
)

const (
	searchComponentPrefix = "vsearch:"
	searchWait            = 30 * time.Second
)

type pendingSearch struct {
	userID    snowflake.ID
	channelID snowflake.ID
	expire    *time.Timer
}

var pendingSearches sync.Map

func handleVoiceSearch(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query := data.String("query")
	channelID, ok := callerChannel(event)
	if !ok {
		replyEphemeral(event, sys.ErrVoiceNotInChannel)
		return
	}

	_ = event.DeferCreateMessage(true)
	hits := resolver.Catalog(context.Background(), query)
	if len(hits) == 0 {
		editReply(event, fmt.Sprintf(sys.MsgSearchNoResults, query))
		return
	}

	opts := make([]discord.StringSelectMenuOption, 0, len(hits))
	for _, h := range hits {
		opts = append(opts, discord.NewStringSelectMenuOption(h.Label(), h.URL))
	}
	key := event.ID().String()
	menu := discord.NewStringSelectMenu(searchComponentPrefix+key, "Choose an entry...", opts...)

	_, err := event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
		SetContent(fmt.Sprintf(sys.MsgSearchHeader, query)).
		AddComponents(discord.NewActionRow(menu)).
		Build())
	if err != nil {
		return
	}

	appID, token, client := event.ApplicationID(), event.Token(), event.Client()
	pendingSearches.Store(key, &pendingSearch{
		userID:    event.User().ID,
		channelID: channelID,
		expire: time.AfterFunc(searchWait, func() {
			if _, ok := pendingSearches.LoadAndDelete(key); ok {
				_, _ = client.Rest.UpdateInteractionResponse(appID, token, discord.NewMessageUpdateBuilder().
					SetContent(sys.MsgSearchTimedOut).
					SetComponents().
					Build())
			}
		}),
	})
}

func handleSearchSelect(event *events.ComponentInteractionCreate) {
	key := strings.TrimPrefix(event.Data.CustomID(), searchComponentPrefix)
	menu, ok := event.Data.(discord.StringSelectMenuInteractionData)
	if !ok || len(menu.Values) == 0 {
		return
	}

	v, ok := pendingSearches.Load(key)
	if !ok || v.(*pendingSearch).userID != event.User().ID {
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(sys.ErrInvalidSelection).SetEphemeral(true).Build())
		return
	}
	if _, ok := pendingSearches.LoadAndDelete(key); !ok {
		return
	}
	p := v.(*pendingSearch)
	p.expire.Stop()

	_ = event.DeferUpdateMessage()
	ctx, cancel := commandContext()
	defer cancel()

	update := func(content string) {
		_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
			SetContent(content).
			SetComponents().
			Build())
	}

	guildID := *event.GuildID()
	if msg, limited := overLimit(guildID, event.User().ID, false); limited {
		update(msg)
		return
	}
	s, err := proc.GetVoiceManager().Join(ctx, guildID, p.channelID)
	if err != nil {
		update(fmt.Sprintf(sys.ErrVoiceResolveFailed, menu.Values[0], err))
		return
	}
	s.SetTextChannel(event.Channel().ID())

	req := &playlist.Requester{ChannelID: event.Channel().ID(), AuthorID: event.User().ID}
	update(enqueue(ctx, s, menu.Values[0], req))
}
