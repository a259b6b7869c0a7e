// Copyright 2024-2026 Aiku AI

package automod

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiku/channelguard/pkg/config"
	"github.com/aiku/channelguard/pkg/gateway"
	"github.com/aiku/channelguard/pkg/gateway/gatewaytest"
	"github.com/aiku/channelguard/pkg/store"
)

const (
	testGuild   = int64(100)
	testChannel = int64(10)
	testDM      = int64(1)<<40 + 42
)

func newTestEngine(t *testing.T) (*Engine, *gatewaytest.Fake, store.Store) {
	t.Helper()
	client := gatewaytest.New()
	client.AddGuild(gateway.Guild{ID: testGuild, Name: "guild"})
	client.AddChannel(gateway.Channel{ID: testChannel, GuildID: testGuild, Name: "general"})
	st := store.NewMemory()
	return NewEngine(client, st, nil, zerolog.Nop()), client, st
}

func seedMsg(client *gatewaytest.Fake, id int64, body string, images int) *gateway.Message {
	msg := &gateway.Message{
		ID:           id,
		ChannelID:    testChannel,
		GuildID:      testGuild,
		Author:       gateway.User{ID: 42, Name: "alice"},
		Content:      body,
		CleanContent: body,
		EmbedCount:   images,
		Timestamp:    time.Now(),
	}
	client.SeedMessage(msg)
	return msg
}

func setPolicy(t *testing.T, st store.Store, policy config.ChannelPolicy) {
	t.Helper()
	require.NoError(t, st.Set(context.Background(), store.ChannelScope(testChannel), config.KeyPolicy, policy))
}

func setPatterns(t *testing.T, st store.Store, patterns config.GuildPatterns) {
	t.Helper()
	require.NoError(t, st.Set(context.Background(), store.GuildScope(testGuild), config.KeyPatterns, patterns))
}

func TestHandleMessageNoPolicy(t *testing.T) {
	t.Parallel()
	e, client, _ := newTestEngine(t)
	msg := seedMsg(client, 500, "anything goes", 0)
	assert.False(t, e.HandleMessage(context.Background(), msg))
	assert.Empty(t, client.Calls())
}

func TestBlacklistDeleteAndDM(t *testing.T) {
	t.Parallel()
	e, client, st := newTestEngine(t)
	setPolicy(t, st, config.ChannelPolicy{Blacklist: []string{"nitro-scam"}})
	setPatterns(t, st, config.GuildPatterns{
		"nitro-scam": {Include: "free nitro"},
	})
	msg := seedMsg(client, 500, "FREE NITRO at http://example.com", 0)

	assert.True(t, e.HandleMessage(context.Background(), msg))

	deletes := client.CallsFor("delete")
	require.Len(t, deletes, 1)
	assert.EqualValues(t, 500, deletes[0].MessageID)

	dms := client.MessagesIn(testDM)
	require.Len(t, dms, 1)
	assert.Contains(t, dms[0].Content, "#general")
	assert.Contains(t, dms[0].Content, "nitro-scam")
	assert.Contains(t, dms[0].Content, "FREE NITRO at http://example.com")
}

func TestBlacklistExcludeSuppresses(t *testing.T) {
	t.Parallel()
	e, client, st := newTestEngine(t)
	setPolicy(t, st, config.ChannelPolicy{Blacklist: []string{"discount"}})
	setPatterns(t, st, config.GuildPatterns{
		"discount": {Include: "discount", Exclude: "official sale"},
	})
	msg := seedMsg(client, 500, "big discount in the official sale thread", 0)
	assert.False(t, e.HandleMessage(context.Background(), msg))
	assert.Empty(t, client.CallsFor("delete"))
}

func TestWhitelistRequiresMatch(t *testing.T) {
	t.Parallel()
	e, client, st := newTestEngine(t)
	setPolicy(t, st, config.ChannelPolicy{Whitelist: []string{"has-link"}})
	setPatterns(t, st, config.GuildPatterns{
		"has-link": {Include: `https?://`},
	})

	ok := seedMsg(client, 500, "look: https://example.com/art.png", 0)
	assert.False(t, e.HandleMessage(context.Background(), ok))

	bad := seedMsg(client, 501, "just chatting", 0)
	assert.True(t, e.HandleMessage(context.Background(), bad))

	dms := client.MessagesIn(testDM)
	require.Len(t, dms, 1)
	assert.Contains(t, dms[0].Content, "has-link", "DM names the failing pattern")
}

func TestImageOnlyMode(t *testing.T) {
	t.Parallel()
	e, client, st := newTestEngine(t)
	setPolicy(t, st, config.ChannelPolicy{ImageLimit: config.ImageLimitRequireImage})

	withImage := seedMsg(client, 500, "my art", 1)
	assert.False(t, e.HandleMessage(context.Background(), withImage))

	textOnly := seedMsg(client, 501, "nice art everyone", 0)
	assert.True(t, e.HandleMessage(context.Background(), textOnly))
	require.Len(t, client.CallsFor("delete"), 1)
}

func TestImageRateLimit(t *testing.T) {
	t.Parallel()
	e, client, st := newTestEngine(t)
	e.AlertTTL = 10 * time.Millisecond
	setPolicy(t, st, config.ChannelPolicy{ImageLimit: 2})

	first := seedMsg(client, 500, "one", 1)
	assert.False(t, e.HandleMessage(context.Background(), first))
	second := seedMsg(client, 501, "two", 1)
	assert.False(t, e.HandleMessage(context.Background(), second))

	third := seedMsg(client, 502, "three", 1)
	assert.True(t, e.HandleMessage(context.Background(), third), "overflow includes the triggering message")

	var deletedIDs []int64
	for _, call := range client.CallsFor("delete") {
		deletedIDs = append(deletedIDs, call.MessageID)
	}
	assert.Contains(t, deletedIDs, int64(500))
	assert.Contains(t, deletedIDs, int64(501))
	assert.Contains(t, deletedIDs, int64(502))

	sends := client.CallsFor("send")
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].Body, "<@42>", "alert mentions the author")

	// the alert self-destructs after AlertTTL
	assert.Eventually(t, func() bool {
		return len(client.MessagesIn(testChannel)) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestImageRateWindowResetsAfterOverflow(t *testing.T) {
	t.Parallel()
	e, client, st := newTestEngine(t)
	e.AlertTTL = time.Hour // keep the async cleanup out of this test
	setPolicy(t, st, config.ChannelPolicy{ImageLimit: 1})

	assert.False(t, e.HandleMessage(context.Background(), seedMsg(client, 500, "a", 1)))
	assert.True(t, e.HandleMessage(context.Background(), seedMsg(client, 501, "b", 1)))

	// positive entries were dropped; the next image starts a fresh window
	assert.False(t, e.HandleMessage(context.Background(), seedMsg(client, 502, "c", 1)))
}

func TestAutoReactions(t *testing.T) {
	t.Parallel()
	e, client, st := newTestEngine(t)
	setPolicy(t, st, config.ChannelPolicy{AutoReactions: "votes"})
	require.NoError(t, st.Set(context.Background(), store.GuildScope(testGuild), config.KeyReactions,
		config.ReactionPacks{"votes": {"👍", "👎"}}))

	msg := seedMsg(client, 500, "what do you think?", 0)
	assert.False(t, e.HandleMessage(context.Background(), msg))

	reacts := client.CallsFor("react_add")
	require.Len(t, reacts, 2)
	assert.Equal(t, "👍", reacts[0].Emoji, "declaration order preserved")
	assert.Equal(t, "👎", reacts[1].Emoji)
}

func TestAutoReactionsNoEmojiToken(t *testing.T) {
	t.Parallel()
	e, client, st := newTestEngine(t)
	setPolicy(t, st, config.ChannelPolicy{AutoReactions: "votes"})
	require.NoError(t, st.Set(context.Background(), store.GuildScope(testGuild), config.KeyReactions,
		config.ReactionPacks{"votes": {"👍"}}))

	msg := seedMsg(client, 500, "poll results [noemojis] final", 0)
	assert.False(t, e.HandleMessage(context.Background(), msg))
	assert.Empty(t, client.CallsFor("react_add"))
}

func TestDMFailureDoesNotBlockDeletion(t *testing.T) {
	t.Parallel()
	e, client, st := newTestEngine(t)
	client.DMFailure[42] = gateway.ErrForbidden
	setPolicy(t, st, config.ChannelPolicy{Blacklist: []string{"bad"}})
	setPatterns(t, st, config.GuildPatterns{"bad": {Include: "bad"}})

	msg := seedMsg(client, 500, "bad words", 0)
	assert.True(t, e.HandleMessage(context.Background(), msg))
	require.Len(t, client.CallsFor("delete"), 1)
}

func TestEvaluateOrderImageBeforePatterns(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(t)
	policy := config.ChannelPolicy{
		ImageLimit: config.ImageLimitRequireImage,
		Blacklist:  []string{"bad"},
	}
	patterns := config.GuildPatterns{"bad": {Include: "bad"}}
	msg := &gateway.Message{ID: 1, ChannelID: testChannel, Author: gateway.User{ID: 1}, CleanContent: "bad but no image"}
	action := e.Evaluate(msg, policy, patterns)
	assert.Equal(t, ActionDelete, action.Kind)
	assert.Equal(t, "image_only", action.Mode, "image-only fires before blacklist")
}
