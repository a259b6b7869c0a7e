// Copyright 2024-2026 Aiku AI

// Package automod enforces per-channel moderation policy: image-only mode,
// the rolling image-rate limit, whitelist/blacklist pattern rules, and
// auto-reactions. Evaluation always runs against the platform's clean
// content, never the raw body.
package automod

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/channelguard/pkg/automod/pattern"
	"github.com/aiku/channelguard/pkg/config"
	"github.com/aiku/channelguard/pkg/gateway"
	"github.com/aiku/channelguard/pkg/store"
)

// NoEmojiToken disables auto-reactions when present anywhere in the body.
const NoEmojiToken = "[noemojis]"

// defaultAlertTTL is how long the image-rate overflow alert stays visible.
const defaultAlertTTL = 10 * time.Second

// ActionKind tags an evaluation outcome.
type ActionKind int

const (
	// ActionAllow leaves the message alone.
	ActionAllow ActionKind = iota
	// ActionDelete removes the message and notifies the author.
	ActionDelete
	// ActionLimit removes an image-rate overflow: every window message with
	// a positive image count.
	ActionLimit
)

// Action is the outcome of evaluating one message against channel policy.
type Action struct {
	Kind ActionKind
	// Reason names the rule that fired; for whitelist failures it is the
	// concatenated failing pattern names.
	Reason string
	// Mode labels which policy fired: image_only, image_rate, blacklist,
	// or whitelist.
	Mode string
	// Overflow holds the message IDs to delete for ActionLimit.
	Overflow []int64
}

// Engine applies channel moderation policy.
type Engine struct {
	client gateway.Client
	store  store.Store
	clock  func() time.Time
	log    zerolog.Logger

	// AlertTTL overrides the overflow alert lifetime; tests shorten it.
	AlertTTL time.Duration

	images *imageLog

	mu       sync.Mutex
	compiled map[string]*pattern.Compiled
}

// NewEngine creates an Engine.
func NewEngine(client gateway.Client, st store.Store, clock func() time.Time, log zerolog.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		client:   client,
		store:    st,
		clock:    clock,
		log:      log.With().Str("component", "automod").Logger(),
		AlertTTL: defaultAlertTTL,
		images:   newImageLog(),
		compiled: make(map[string]*pattern.Compiled),
	}
}

func (e *Engine) compile(p config.Pattern) (*pattern.Compiled, error) {
	key := p.Include + "\x00" + p.Exclude
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.compiled[key]; ok {
		return c, nil
	}
	c, err := pattern.Compile(p.Include, p.Exclude)
	if err != nil {
		return nil, err
	}
	e.compiled[key] = c
	return c, nil
}

// Evaluate runs the policy order against one message: image-only mode, then
// the image-rate window, then blacklist, then whitelist. The image-rate step
// records the message in the author's rolling window as a side effect.
func (e *Engine) Evaluate(msg *gateway.Message, policy config.ChannelPolicy, patterns config.GuildPatterns) Action {
	if policy.ImageLimit == config.ImageLimitRequireImage && msg.ImageCount() == 0 {
		return Action{Kind: ActionDelete, Reason: "missing image", Mode: "image_only"}
	}

	if policy.ImageLimit > 0 {
		window := e.images.observe(msg.ChannelID, msg.Author.ID, msg.ID, msg.ImageCount())
		sum := 0
		for _, entry := range window {
			sum += entry.Count
		}
		if sum > policy.ImageLimit {
			overflow := e.images.dropPositive(msg.ChannelID, msg.Author.ID)
			return Action{Kind: ActionLimit, Reason: "image rate limit", Mode: "image_rate", Overflow: overflow}
		}
	}

	for _, name := range policy.Blacklist {
		p, ok := patterns[name]
		if !ok {
			e.log.Warn().Str("pattern", name).Int64("channel_id", msg.ChannelID).
				Msg("Blacklist references unknown pattern")
			continue
		}
		c, err := e.compile(p)
		if err != nil {
			e.log.Warn().Err(err).Str("pattern", name).Msg("Stored pattern does not compile")
			continue
		}
		if c.Matches(msg.CleanContent) {
			return Action{Kind: ActionDelete, Reason: name, Mode: "blacklist"}
		}
	}

	if len(policy.Whitelist) > 0 {
		var failing []string
		for _, name := range policy.Whitelist {
			p, ok := patterns[name]
			if !ok {
				continue
			}
			c, err := e.compile(p)
			if err != nil {
				continue
			}
			if c.Matches(msg.CleanContent) {
				return Action{Kind: ActionAllow}
			}
			failing = append(failing, name)
		}
		if len(failing) > 0 {
			return Action{Kind: ActionDelete, Reason: strings.Join(failing, ", "), Mode: "whitelist"}
		}
	}

	return Action{Kind: ActionAllow}
}

// HandleMessage evaluates and enforces policy for one message, then applies
// auto-reactions. It reports whether the source message was deleted so the
// dispatcher can suppress mirroring.
func (e *Engine) HandleMessage(ctx context.Context, msg *gateway.Message) bool {
	policy, hasPolicy, err := store.GetJSON[config.ChannelPolicy](ctx, e.store, store.ChannelScope(msg.ChannelID), config.KeyPolicy)
	if err != nil {
		e.log.Error().Err(err).Int64("channel_id", msg.ChannelID).Msg("Failed to load channel policy")
		return false
	}
	if !hasPolicy {
		return false
	}

	patterns, _, err := store.GetJSON[config.GuildPatterns](ctx, e.store, store.GuildScope(msg.GuildID), config.KeyPatterns)
	if err != nil {
		e.log.Error().Err(err).Int64("guild_id", msg.GuildID).Msg("Failed to load pattern set")
		return false
	}

	action := e.Evaluate(msg, policy, patterns)
	deleted := false

	switch action.Kind {
	case ActionDelete:
		deleted = e.deleteAndNotify(ctx, msg, action.Reason)
		deleteCount.WithLabelValues(action.Mode).Inc()
	case ActionLimit:
		deleted = e.enforceImageLimit(ctx, msg, action.Overflow)
		deleteCount.WithLabelValues(action.Mode).Inc()
	}

	// Auto-reactions are independent of the delete decision, but reacting to
	// a message that was just removed would only produce NotFound noise.
	if !deleted {
		e.applyAutoReactions(ctx, msg, policy)
	}
	return deleted
}

func (e *Engine) deleteAndNotify(ctx context.Context, msg *gateway.Message, reason string) bool {
	if err := e.client.Delete(ctx, msg.ChannelID, msg.ID); err != nil {
		if !errors.Is(err, gateway.ErrNotFound) {
			e.log.Warn().Err(err).Int64("message_id", msg.ID).Str("reason", reason).
				Msg("Failed to delete message")
		}
		return errors.Is(err, gateway.ErrNotFound)
	}

	channelName := fmt.Sprintf("%d", msg.ChannelID)
	if ch, err := e.client.GetChannel(ctx, msg.ChannelID); err == nil {
		channelName = ch.Name
	}
	body := fmt.Sprintf("Your message in **#%s** was removed by a moderation rule (%s):\n```\n%s\n```",
		channelName, reason, msg.CleanContent)
	e.dmAuthor(ctx, msg.Author.ID, body)

	e.log.Info().Int64("message_id", msg.ID).Int64("channel_id", msg.ChannelID).
		Int64("author_id", msg.Author.ID).Str("reason", reason).Msg("Deleted message")
	return true
}

// dmAuthor attempts the author DM exactly once per deletion. Failures are
// logged, never propagated.
func (e *Engine) dmAuthor(ctx context.Context, userID int64, body string) {
	dm, err := e.client.OpenDM(ctx, userID)
	if err != nil {
		dmFailureCount.Inc()
		e.log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to open DM for deletion notice")
		return
	}
	if _, err := e.client.Send(ctx, dm, gateway.SendRequest{Body: body}); err != nil {
		dmFailureCount.Inc()
		e.log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to DM deletion notice")
	}
}

func (e *Engine) enforceImageLimit(ctx context.Context, msg *gateway.Message, overflow []int64) bool {
	deletedSelf := false
	for _, id := range overflow {
		if err := e.client.Delete(ctx, msg.ChannelID, id); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			e.log.Warn().Err(err).Int64("message_id", id).Msg("Failed to delete image overflow message")
			continue
		}
		if id == msg.ID {
			deletedSelf = true
		}
	}

	alertBody := fmt.Sprintf("%s Too many images posted recently, please slow down.", msg.Author.Mention())
	alert, err := e.client.Send(ctx, msg.ChannelID, gateway.SendRequest{
		Body:            alertBody,
		AllowedMentions: gateway.AllowedMentions{Users: true},
	})
	if err != nil {
		e.log.Warn().Err(err).Int64("channel_id", msg.ChannelID).Msg("Failed to post image-rate alert")
		return deletedSelf
	}
	ttl := e.AlertTTL
	go func() {
		time.Sleep(ttl)
		if err := e.client.Delete(context.Background(), alert.ChannelID, alert.ID); err != nil &&
			!errors.Is(err, gateway.ErrNotFound) {
			e.log.Debug().Err(err).Int64("message_id", alert.ID).Msg("Failed to remove image-rate alert")
		}
	}()
	return deletedSelf
}

func (e *Engine) applyAutoReactions(ctx context.Context, msg *gateway.Message, policy config.ChannelPolicy) {
	if policy.AutoReactions == "" || strings.Contains(msg.Content, NoEmojiToken) {
		return
	}
	packs, _, err := store.GetJSON[config.ReactionPacks](ctx, e.store, store.GuildScope(msg.GuildID), config.KeyReactions)
	if err != nil {
		e.log.Warn().Err(err).Int64("guild_id", msg.GuildID).Msg("Failed to load reaction packs")
		return
	}
	emojis, ok := packs[policy.AutoReactions]
	if !ok {
		return
	}
	for _, emoji := range emojis {
		if err := e.client.AddReaction(ctx, msg.ChannelID, msg.ID, emoji); err != nil {
			if errors.Is(err, gateway.ErrNotFound) {
				// message got deleted under us, stop reacting
				return
			}
			e.log.Debug().Err(err).Str("emoji", emoji).Int64("message_id", msg.ID).
				Msg("Failed to add auto-reaction")
			continue
		}
		autoReactionCount.Inc()
	}
}
