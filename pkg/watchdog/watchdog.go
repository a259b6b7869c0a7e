// Copyright 2024-2026 Aiku AI

// Package watchdog posts cooldown-rate-limited alerts to a guild's announce
// channel when watched users speak or watched phrases appear. Last-fired
// times are volatile: a restart re-arms every monitor.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/channelguard/pkg/automod/pattern"
	"github.com/aiku/channelguard/pkg/config"
	"github.com/aiku/channelguard/pkg/gateway"
	"github.com/aiku/channelguard/pkg/store"
)

// Monitor watches messages against the guild's watchdog config.
type Monitor struct {
	client gateway.Client
	store  store.Store
	clock  func() time.Time
	log    zerolog.Logger

	mu          sync.Mutex
	userFired   map[[2]int64]time.Time // (guild, user)
	phraseFired map[string]time.Time   // guild/name
	phraseCache map[string]*pattern.Compiled
}

// NewMonitor creates a Monitor.
func NewMonitor(client gateway.Client, st store.Store, clock func() time.Time, log zerolog.Logger) *Monitor {
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{
		client:      client,
		store:       st,
		clock:       clock,
		log:         log.With().Str("component", "watchdog").Logger(),
		userFired:   make(map[[2]int64]time.Time),
		phraseFired: make(map[string]time.Time),
		phraseCache: make(map[string]*pattern.Compiled),
	}
}

// Observe checks one message against the user and phrase tracks. At most one
// phrase alert fires per message; the first matching entry in insertion
// order wins. All delivery failures are logged and swallowed.
func (m *Monitor) Observe(ctx context.Context, msg *gateway.Message) {
	cfg, ok, err := store.GetJSON[config.WatchdogConfig](ctx, m.store, store.GuildScope(msg.GuildID), config.KeyWatchdog)
	if err != nil {
		m.log.Error().Err(err).Int64("guild_id", msg.GuildID).Msg("Failed to load watchdog config")
		return
	}
	if !ok || cfg.AnnounceChannel == 0 {
		return
	}

	m.observeUserTrack(ctx, msg, cfg)
	m.observePhraseTrack(ctx, msg, cfg)
}

func (m *Monitor) observeUserTrack(ctx context.Context, msg *gateway.Message, cfg config.WatchdogConfig) {
	entry, ok := cfg.Users[msg.Author.ID]
	if !ok || entry.CooldownSec <= 0 {
		return
	}
	if !m.tryFireUser(msg.GuildID, msg.Author.ID, time.Duration(entry.CooldownSec)*time.Second) {
		return
	}

	body := fmt.Sprintf("%s spoke in <#%d> (watch requested by %s: %s)\n```\n%s\n```",
		msg.Author.Mention(), msg.ChannelID,
		m.requesterMention(ctx, msg.GuildID, entry.RequesterID),
		entry.Reason, msg.CleanContent)
	m.post(ctx, cfg.AnnounceChannel, body)
	alertCount.WithLabelValues("user").Inc()
}

func (m *Monitor) observePhraseTrack(ctx context.Context, msg *gateway.Message, cfg config.WatchdogConfig) {
	for _, entry := range cfg.Phrases {
		compiled, err := m.compilePhrase(entry.Phrase)
		if err != nil {
			m.log.Warn().Err(err).Str("phrase", entry.Name).Msg("Stored watchdog phrase does not compile")
			continue
		}
		if !compiled.Matches(msg.CleanContent) {
			continue
		}
		cooldown := entry.CooldownSec
		if cooldown < config.WatchdogPhraseFloor {
			// configs written before the floor existed
			cooldown = config.WatchdogPhraseFloor
		}
		if !m.tryFirePhrase(msg.GuildID, entry.Name, time.Duration(cooldown)*time.Second) {
			return
		}

		body := fmt.Sprintf("Phrase watch **%s** matched %s in <#%d> (requested by %s)\n```\n%s\n```",
			entry.Name, msg.Author.Mention(), msg.ChannelID,
			m.requesterMention(ctx, msg.GuildID, entry.RequesterID),
			msg.CleanContent)
		m.post(ctx, cfg.AnnounceChannel, body)
		alertCount.WithLabelValues("phrase").Inc()
		return
	}
}

// ObserveMemberUpdate fires the user track for profile changes of watched
// users, under the same cooldown as message alerts.
func (m *Monitor) ObserveMemberUpdate(ctx context.Context, evt *gateway.MemberUpdate) {
	cfg, ok, err := store.GetJSON[config.WatchdogConfig](ctx, m.store, store.GuildScope(evt.GuildID), config.KeyWatchdog)
	if err != nil || !ok || cfg.AnnounceChannel == 0 {
		return
	}
	entry, watched := cfg.Users[evt.User.ID]
	if !watched || entry.CooldownSec <= 0 {
		return
	}
	if !m.tryFireUser(evt.GuildID, evt.User.ID, time.Duration(entry.CooldownSec)*time.Second) {
		return
	}
	body := fmt.Sprintf("%s updated their profile (now **%s**; watch requested by %s: %s)",
		evt.User.Mention(), evt.User.Name,
		m.requesterMention(ctx, evt.GuildID, entry.RequesterID), entry.Reason)
	m.post(ctx, cfg.AnnounceChannel, body)
	alertCount.WithLabelValues("member_update").Inc()
}

func (m *Monitor) tryFireUser(guildID, userID int64, cooldown time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{guildID, userID}
	now := m.clock()
	if last, ok := m.userFired[key]; ok && now.Sub(last) <= cooldown {
		return false
	}
	m.userFired[key] = now
	return true
}

func (m *Monitor) tryFirePhrase(guildID int64, name string, cooldown time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d/%s", guildID, name)
	now := m.clock()
	if last, ok := m.phraseFired[key]; ok && now.Sub(last) <= cooldown {
		return false
	}
	m.phraseFired[key] = now
	return true
}

func (m *Monitor) compilePhrase(phrase string) (*pattern.Compiled, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.phraseCache[phrase]; ok {
		return c, nil
	}
	c, err := pattern.Compile(phrase, "")
	if err != nil {
		return nil, err
	}
	m.phraseCache[phrase] = c
	return c, nil
}

// requesterMention resolves the requester to a mention, or "???" when the
// requester has left the guild.
func (m *Monitor) requesterMention(ctx context.Context, guildID, requesterID int64) string {
	member, err := m.client.GetMember(ctx, guildID, requesterID)
	if err != nil {
		return "???"
	}
	return member.Mention()
}

func (m *Monitor) post(ctx context.Context, channelID int64, body string) {
	_, err := m.client.Send(ctx, channelID, gateway.SendRequest{Body: body})
	if err != nil {
		// channel deleted or permission revoked: log and swallow
		m.log.Warn().Err(err).Int64("channel_id", channelID).Msg("Failed to post watchdog alert")
	}
}
