// Copyright 2024-2026 Aiku AI

package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/channelguard/pkg/automod"
	"github.com/aiku/channelguard/pkg/config"
	"github.com/aiku/channelguard/pkg/gateway"
	"github.com/aiku/channelguard/pkg/gateway/gatewaytest"
	"github.com/aiku/channelguard/pkg/mirror"
	"github.com/aiku/channelguard/pkg/store"
	"github.com/aiku/channelguard/pkg/watchdog"
)

const (
	srcGuild  = int64(100)
	srcChan   = int64(10)
	destChan  = int64(20)
	destGuild = int64(200)
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *gatewaytest.Fake, store.Store) {
	t.Helper()
	client := gatewaytest.New()
	client.AddGuild(gateway.Guild{ID: srcGuild, Name: "source"})
	client.AddGuild(gateway.Guild{ID: destGuild, Name: "dest"})
	client.AddChannel(gateway.Channel{ID: srcChan, GuildID: srcGuild, Name: "general"})
	client.AddChannel(gateway.Channel{ID: destChan, GuildID: destGuild, Name: "mirror"})

	st := store.NewMemory()
	log := zerolog.Nop()
	am := automod.NewEngine(client, st, nil, log)
	wd := watchdog.NewMonitor(client, st, nil, log)
	mir := mirror.NewEngine(client, st, gateway.NewNotifier(client, 0, log), nil, log)
	mir.CommandPrefix = "!"
	return New(client, am, wd, mir, log), client, st
}

func seedMirror(t *testing.T, st store.Store) {
	t.Helper()
	err := st.Set(context.Background(), store.ChannelScope(srcChan), config.KeyMirror,
		config.MirrorConfig{Destinations: []int64{destChan}})
	if err != nil {
		t.Fatal(err)
	}
}

func newMsg(client *gatewaytest.Fake, id int64, body string) *gateway.Message {
	msg := &gateway.Message{
		ID:           id,
		ChannelID:    srcChan,
		GuildID:      srcGuild,
		Author:       gateway.User{ID: 42, Name: "alice"},
		Content:      body,
		CleanContent: body,
	}
	client.SeedMessage(msg)
	return msg
}

func TestCleanMessageReachesMirror(t *testing.T) {
	t.Parallel()
	d, client, st := newTestDispatcher(t)
	seedMirror(t, st)

	d.OnMessageCreate(context.Background(), gateway.MessageCreate{Message: newMsg(client, 999, "hello")})
	d.Close()

	mirrored := client.MessagesIn(destChan)
	if len(mirrored) != 1 {
		t.Fatalf("expected mirrored message, got %d", len(mirrored))
	}
	if !strings.Contains(mirrored[0].Content, "hello") {
		t.Errorf("mirrored body: %q", mirrored[0].Content)
	}
}

func TestAutomodDeletionSuppressesMirror(t *testing.T) {
	t.Parallel()
	d, client, st := newTestDispatcher(t)
	seedMirror(t, st)
	ctx := context.Background()
	if err := st.Set(ctx, store.ChannelScope(srcChan), config.KeyPolicy,
		config.ChannelPolicy{Blacklist: []string{"scam"}}); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, store.GuildScope(srcGuild), config.KeyPatterns,
		config.GuildPatterns{"scam": {Include: "free nitro"}}); err != nil {
		t.Fatal(err)
	}

	d.OnMessageCreate(ctx, gateway.MessageCreate{Message: newMsg(client, 999, "FREE NITRO here")})
	d.Close()

	if got := len(client.MessagesIn(destChan)); got != 0 {
		t.Errorf("deleted message must not mirror, got %d", got)
	}
	if got := len(client.MessagesIn(srcChan)); got != 0 {
		t.Errorf("source message should be deleted, %d remain", got)
	}
}

func TestChannelOrderingPreserved(t *testing.T) {
	t.Parallel()
	d, client, st := newTestDispatcher(t)
	seedMirror(t, st)
	ctx := context.Background()

	for i := int64(0); i < 10; i++ {
		d.OnMessageCreate(ctx, gateway.MessageCreate{
			Message: newMsg(client, 100+i, fmt.Sprintf("message %d", i)),
		})
	}
	d.Close()

	mirrored := client.MessagesIn(destChan)
	if len(mirrored) != 10 {
		t.Fatalf("expected 10 mirrored messages, got %d", len(mirrored))
	}
	for i, msg := range mirrored {
		if !strings.Contains(msg.Content, fmt.Sprintf("message %d", i)) {
			t.Errorf("order violated at %d: %q", i, msg.Content)
		}
	}
}

func TestEditFetchedAndMirrored(t *testing.T) {
	t.Parallel()
	d, client, st := newTestDispatcher(t)
	ctx := context.Background()
	if err := st.Set(ctx, store.ChannelScope(srcChan), config.KeyMirror, config.MirrorConfig{
		Destinations: []int64{destChan},
		MirrorLinks: map[string][]config.DestLink{
			"999": {{ChannelID: destChan, MessageIDs: []int64{8888}}},
		},
	}); err != nil {
		t.Fatal(err)
	}
	client.SeedMessage(&gateway.Message{ID: 8888, ChannelID: destChan, Content: "old"})
	newMsg(client, 999, "edited body")

	// nil Message forces the dispatcher to fetch
	d.OnMessageEdit(ctx, gateway.MessageEdit{ChannelID: srcChan, MessageID: 999})
	d.Close()

	edits := client.CallsFor("edit")
	if len(edits) != 1 || edits[0].Body != "edited body" {
		t.Errorf("edit propagation: %+v", edits)
	}
}

func TestEditOfDeletedMessageDropped(t *testing.T) {
	t.Parallel()
	d, client, st := newTestDispatcher(t)
	seedMirror(t, st)

	d.OnMessageEdit(context.Background(), gateway.MessageEdit{ChannelID: srcChan, MessageID: 404})
	d.Close()

	if got := len(client.Calls()); got != 0 {
		t.Errorf("edit of a gone message produced %d calls", got)
	}
}

func TestDeleteRoutedToMirror(t *testing.T) {
	t.Parallel()
	d, client, st := newTestDispatcher(t)
	ctx := context.Background()
	if err := st.Set(ctx, store.ChannelScope(srcChan), config.KeyMirror, config.MirrorConfig{
		Destinations: []int64{destChan},
		MirrorLinks: map[string][]config.DestLink{
			"999": {{ChannelID: destChan, MessageIDs: []int64{8888}}},
		},
	}); err != nil {
		t.Fatal(err)
	}
	client.SeedMessage(&gateway.Message{ID: 8888, ChannelID: destChan, Content: "copy"})

	d.OnMessageDelete(ctx, gateway.MessageDelete{ChannelID: srcChan, MessageID: 999})
	d.Close()

	if got := len(client.MessagesIn(destChan)); got != 0 {
		t.Errorf("destination copy should be deleted, %d remain", got)
	}
}

func TestMemberUpdateRoutedToWatchdog(t *testing.T) {
	t.Parallel()
	d, client, st := newTestDispatcher(t)
	ctx := context.Background()
	client.AddChannel(gateway.Channel{ID: 99, GuildID: srcGuild, Name: "alerts"})
	client.AddMember(srcGuild, gateway.User{ID: 7, Name: "mod"})
	if err := st.Set(ctx, store.GuildScope(srcGuild), config.KeyWatchdog, config.WatchdogConfig{
		AnnounceChannel: 99,
		Users:           map[int64]config.WatchdogUserEntry{42: {RequesterID: 7, CooldownSec: 60}},
	}); err != nil {
		t.Fatal(err)
	}

	d.OnMemberUpdate(ctx, gateway.MemberUpdate{
		GuildID: srcGuild,
		User:    gateway.User{ID: 42, Name: "new-name"},
	})
	d.Close()

	if got := len(client.MessagesIn(99)); got != 1 {
		t.Errorf("expected watchdog alert, got %d", got)
	}
}

func TestEventsAfterCloseDropped(t *testing.T) {
	t.Parallel()
	d, client, st := newTestDispatcher(t)
	seedMirror(t, st)
	d.Close()

	d.OnMessageCreate(context.Background(), gateway.MessageCreate{Message: newMsg(client, 999, "late")})
	d.Close() // second Close is a no-op

	if got := len(client.MessagesIn(destChan)); got != 0 {
		t.Errorf("post-Close event mirrored, got %d", got)
	}
}

func seedBlacklist(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	if err := st.Set(ctx, store.ChannelScope(srcChan), config.KeyPolicy,
		config.ChannelPolicy{Blacklist: []string{"scam"}}); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, store.GuildScope(srcGuild), config.KeyPatterns,
		config.GuildPatterns{"scam": {Include: "free nitro"}}); err != nil {
		t.Fatal(err)
	}
}

func TestBotAuthorBypassesModeration(t *testing.T) {
	t.Parallel()
	d, client, st := newTestDispatcher(t)
	seedMirror(t, st)
	seedBlacklist(t, st)
	ctx := context.Background()
	client.AddChannel(gateway.Channel{ID: 30, GuildID: srcGuild, Name: "alerts"})
	client.AddMember(srcGuild, gateway.User{ID: 7, Name: "mod"})
	if err := st.Set(ctx, store.GuildScope(srcGuild), config.KeyWatchdog, config.WatchdogConfig{
		AnnounceChannel: 30,
		Users:           map[int64]config.WatchdogUserEntry{66: {RequesterID: 7, CooldownSec: 60}},
	}); err != nil {
		t.Fatal(err)
	}

	msg := &gateway.Message{
		ID:           999,
		ChannelID:    srcChan,
		GuildID:      srcGuild,
		Author:       gateway.User{ID: 66, Name: "helper", Bot: true},
		Content:      "FREE NITRO giveaway results",
		CleanContent: "FREE NITRO giveaway results",
	}
	client.SeedMessage(msg)
	d.OnMessageCreate(ctx, gateway.MessageCreate{Message: msg})
	d.Close()

	if got := len(client.MessagesIn(srcChan)); got != 1 {
		t.Errorf("bot message must survive the blacklist, %d remain", got)
	}
	if got := len(client.MessagesIn(30)); got != 0 {
		t.Errorf("bot message must not trip the watchdog, got %d alerts", got)
	}
}

func TestManagerAuthorSkipsAutomod(t *testing.T) {
	t.Parallel()
	d, client, st := newTestDispatcher(t)
	seedMirror(t, st)
	seedBlacklist(t, st)
	client.Managers[srcGuild] = map[int64]bool{42: true}

	d.OnMessageCreate(context.Background(),
		gateway.MessageCreate{Message: newMsg(client, 999, "FREE NITRO from the mods")})
	d.Close()

	if got := len(client.MessagesIn(srcChan)); got != 1 {
		t.Errorf("manager message must survive the blacklist, %d remain", got)
	}
	if got := len(client.MessagesIn(destChan)); got != 1 {
		t.Errorf("manager message should still mirror, got %d", got)
	}
}

func TestDirectMessageSkipsAutomod(t *testing.T) {
	t.Parallel()
	d, client, st := newTestDispatcher(t)
	ctx := context.Background()
	const dmChan = int64(55)
	if err := st.Set(ctx, store.ChannelScope(dmChan), config.KeyPolicy,
		config.ChannelPolicy{Blacklist: []string{"scam"}}); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, store.GuildScope(0), config.KeyPatterns,
		config.GuildPatterns{"scam": {Include: "free nitro"}}); err != nil {
		t.Fatal(err)
	}

	msg := &gateway.Message{
		ID:           999,
		ChannelID:    dmChan,
		Author:       gateway.User{ID: 42, Name: "alice"},
		Content:      "free nitro anyone?",
		CleanContent: "free nitro anyone?",
	}
	client.SeedMessage(msg)
	d.OnMessageCreate(ctx, gateway.MessageCreate{Message: msg})
	d.Close()

	if got := len(client.MessagesIn(dmChan)); got != 1 {
		t.Errorf("direct message must not be moderated, %d remain", got)
	}
}

func TestManagerEditSkipsAutomod(t *testing.T) {
	t.Parallel()
	d, client, st := newTestDispatcher(t)
	seedBlacklist(t, st)
	client.Managers[srcGuild] = map[int64]bool{42: true}
	msg := newMsg(client, 999, "free nitro, edited in")

	d.OnMessageEdit(context.Background(), gateway.MessageEdit{
		GuildID:   srcGuild,
		ChannelID: srcChan,
		MessageID: msg.ID,
		Message:   msg,
	})
	d.Close()

	if got := len(client.MessagesIn(srcChan)); got != 1 {
		t.Errorf("manager edit must survive the blacklist, %d remain", got)
	}
}

func TestCloseConcurrentWithEvents(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 500; i++ {
			d.OnMessageCreate(ctx, gateway.MessageCreate{Message: &gateway.Message{
				ID:        2000 + i,
				ChannelID: srcChan + i%8,
				GuildID:   srcGuild,
				Author:    gateway.User{ID: 42, Name: "alice"},
				Content:   "hello",
			}})
		}
	}()
	d.Close()
	wg.Wait()
}
