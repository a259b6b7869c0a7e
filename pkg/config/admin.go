// Copyright 2024-2026 Aiku AI

package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/channelguard/pkg/automod/pattern"
	"github.com/aiku/channelguard/pkg/store"
)

// ErrInvalid tags configuration mutations rejected by a precondition. It is
// surfaced to the admin interface and never raised from event handlers.
var ErrInvalid = errors.New("config: invalid")

// Admin applies the configuration mutations the admin interface issues. Each
// method validates its preconditions and then writes through the store's
// serialized update path.
type Admin struct {
	store store.Store
	log   zerolog.Logger
}

// NewAdmin creates an Admin over the given store.
func NewAdmin(s store.Store, log zerolog.Logger) *Admin {
	return &Admin{store: s, log: log.With().Str("component", "admin").Logger()}
}

// AddPattern stores a pattern after verifying both halves compile. Malformed
// patterns never enter the pattern set.
func (a *Admin) AddPattern(ctx context.Context, guildID int64, p Pattern) error {
	if p.Name == "" {
		return fmt.Errorf("%w: pattern name must not be empty", ErrInvalid)
	}
	if _, err := pattern.Compile(p.Include, p.Exclude); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return store.UpdateJSON(ctx, a.store, store.GuildScope(guildID), KeyPatterns,
		func(cur GuildPatterns) (GuildPatterns, error) {
			if cur == nil {
				cur = make(GuildPatterns)
			}
			cur[p.Name] = p
			return cur, nil
		})
}

// RemovePattern deletes a pattern. It refuses while any channel policy in the
// guild still references it.
func (a *Admin) RemovePattern(ctx context.Context, guildID int64, name string) error {
	policies, err := a.store.AllChannels(ctx, KeyPolicy)
	if err != nil {
		return err
	}
	for channelID := range policies {
		policy, ok, err := store.GetJSON[ChannelPolicy](ctx, a.store, store.ChannelScope(channelID), KeyPolicy)
		if err != nil {
			return err
		}
		if ok && policy.References(name) {
			return fmt.Errorf("%w: pattern %q is still used by channel %d", ErrInvalid, name, channelID)
		}
	}
	return store.UpdateJSON(ctx, a.store, store.GuildScope(guildID), KeyPatterns,
		func(cur GuildPatterns) (GuildPatterns, error) {
			if _, ok := cur[name]; !ok {
				return nil, fmt.Errorf("%w: unknown pattern %q", ErrInvalid, name)
			}
			delete(cur, name)
			return cur, nil
		})
}

func (a *Admin) patternExists(ctx context.Context, guildID int64, name string) error {
	patterns, _, err := store.GetJSON[GuildPatterns](ctx, a.store, store.GuildScope(guildID), KeyPatterns)
	if err != nil {
		return err
	}
	if _, ok := patterns[name]; !ok {
		return fmt.Errorf("%w: unknown pattern %q", ErrInvalid, name)
	}
	return nil
}

func (a *Admin) editPolicy(ctx context.Context, channelID int64, fn func(p *ChannelPolicy) error) error {
	return store.UpdateJSON(ctx, a.store, store.ChannelScope(channelID), KeyPolicy,
		func(cur ChannelPolicy) (ChannelPolicy, error) {
			if err := fn(&cur); err != nil {
				return cur, err
			}
			return cur, nil
		})
}

// AddToWhitelist attaches a pattern to the channel whitelist.
func (a *Admin) AddToWhitelist(ctx context.Context, guildID, channelID int64, name string) error {
	if err := a.patternExists(ctx, guildID, name); err != nil {
		return err
	}
	return a.editPolicy(ctx, channelID, func(p *ChannelPolicy) error {
		p.Whitelist = appendUnique(p.Whitelist, name)
		return nil
	})
}

// RemoveFromWhitelist detaches a pattern from the channel whitelist.
func (a *Admin) RemoveFromWhitelist(ctx context.Context, channelID int64, name string) error {
	return a.editPolicy(ctx, channelID, func(p *ChannelPolicy) error {
		p.Whitelist = removeString(p.Whitelist, name)
		return nil
	})
}

// AddToBlacklist attaches a pattern to the channel blacklist.
func (a *Admin) AddToBlacklist(ctx context.Context, guildID, channelID int64, name string) error {
	if err := a.patternExists(ctx, guildID, name); err != nil {
		return err
	}
	return a.editPolicy(ctx, channelID, func(p *ChannelPolicy) error {
		p.Blacklist = appendUnique(p.Blacklist, name)
		return nil
	})
}

// RemoveFromBlacklist detaches a pattern from the channel blacklist.
func (a *Admin) RemoveFromBlacklist(ctx context.Context, channelID int64, name string) error {
	return a.editPolicy(ctx, channelID, func(p *ChannelPolicy) error {
		p.Blacklist = removeString(p.Blacklist, name)
		return nil
	})
}

// SetImageLimit sets the channel image policy: 0 disables, positive N limits
// the rolling window, -1 requires an image on every message.
func (a *Admin) SetImageLimit(ctx context.Context, channelID int64, limit int) error {
	if limit < ImageLimitRequireImage {
		return fmt.Errorf("%w: image limit must be -1, 0, or positive", ErrInvalid)
	}
	return a.editPolicy(ctx, channelID, func(p *ChannelPolicy) error {
		p.ImageLimit = limit
		return nil
	})
}

// SetReactionPack stores an emoji pack under the guild's pack registry. An
// empty emoji list removes the pack.
func (a *Admin) SetReactionPack(ctx context.Context, guildID int64, key string, emojis []string) error {
	return store.UpdateJSON(ctx, a.store, store.GuildScope(guildID), KeyReactions,
		func(cur ReactionPacks) (ReactionPacks, error) {
			if cur == nil {
				cur = make(ReactionPacks)
			}
			if len(emojis) == 0 {
				delete(cur, key)
			} else {
				cur[key] = emojis
			}
			return cur, nil
		})
}

// SetAutoReactions points the channel at a reaction pack key, or clears it
// when key is empty.
func (a *Admin) SetAutoReactions(ctx context.Context, guildID, channelID int64, key string) error {
	if key != "" {
		packs, _, err := store.GetJSON[ReactionPacks](ctx, a.store, store.GuildScope(guildID), KeyReactions)
		if err != nil {
			return err
		}
		if _, ok := packs[key]; !ok {
			return fmt.Errorf("%w: unknown reaction pack %q", ErrInvalid, key)
		}
	}
	return a.editPolicy(ctx, channelID, func(p *ChannelPolicy) error {
		p.AutoReactions = key
		return nil
	})
}

func (a *Admin) editMirror(ctx context.Context, channelID int64, fn func(m *MirrorConfig) error) error {
	return store.UpdateJSON(ctx, a.store, store.ChannelScope(channelID), KeyMirror,
		func(cur MirrorConfig) (MirrorConfig, error) {
			if err := fn(&cur); err != nil {
				return cur, err
			}
			return cur, nil
		})
}

// AddMirror links a destination to a source channel. Mirroring is
// single-level: the destination must not itself be a source, and the source
// must not be a destination of any other channel.
func (a *Admin) AddMirror(ctx context.Context, sourceID, destID int64) error {
	if sourceID == destID {
		return fmt.Errorf("%w: destination must differ from source", ErrInvalid)
	}
	all, err := a.store.AllChannels(ctx, KeyMirror)
	if err != nil {
		return err
	}
	for channelID := range all {
		cfg, ok, err := store.GetJSON[MirrorConfig](ctx, a.store, store.ChannelScope(channelID), KeyMirror)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if channelID == destID && len(cfg.Destinations) > 0 {
			return fmt.Errorf("%w: channel %d is already a mirror source", ErrInvalid, destID)
		}
		if cfg.HasDestination(sourceID) {
			return fmt.Errorf("%w: channel %d is already a destination of %d", ErrInvalid, sourceID, channelID)
		}
	}
	return a.editMirror(ctx, sourceID, func(m *MirrorConfig) error {
		for _, d := range m.Destinations {
			if d == destID {
				return fmt.Errorf("%w: channel %d already mirrors to %d", ErrInvalid, sourceID, destID)
			}
		}
		m.Destinations = append(m.Destinations, destID)
		return nil
	})
}

// RemoveMirror unlinks a destination from a source channel.
func (a *Admin) RemoveMirror(ctx context.Context, sourceID, destID int64) error {
	return a.editMirror(ctx, sourceID, func(m *MirrorConfig) error {
		for i, d := range m.Destinations {
			if d == destID {
				m.Destinations = append(m.Destinations[:i], m.Destinations[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: channel %d does not mirror to %d", ErrInvalid, sourceID, destID)
	})
}

// SetMultiedit toggles multiedit mode on a source channel.
func (a *Admin) SetMultiedit(ctx context.Context, sourceID int64, enabled bool) error {
	return a.editMirror(ctx, sourceID, func(m *MirrorConfig) error {
		m.Multiedit = enabled
		return nil
	})
}

// SetNoDeletion toggles deletion propagation suppression on a source channel.
func (a *Admin) SetNoDeletion(ctx context.Context, sourceID int64, enabled bool) error {
	return a.editMirror(ctx, sourceID, func(m *MirrorConfig) error {
		m.NoDeletion = enabled
		return nil
	})
}

// SetMirroreditTarget sets (or clears, with 0) the mirroredit target channel.
func (a *Admin) SetMirroreditTarget(ctx context.Context, sourceID, targetID int64) error {
	return a.editMirror(ctx, sourceID, func(m *MirrorConfig) error {
		m.MirroreditTarget = targetID
		return nil
	})
}

func (a *Admin) editWatchdog(ctx context.Context, guildID int64, fn func(w *WatchdogConfig) error) error {
	return store.UpdateJSON(ctx, a.store, store.GuildScope(guildID), KeyWatchdog,
		func(cur WatchdogConfig) (WatchdogConfig, error) {
			if err := fn(&cur); err != nil {
				return cur, err
			}
			return cur, nil
		})
}

// SetWatchdogChannel sets the guild's alert channel; 0 disables all alerts.
func (a *Admin) SetWatchdogChannel(ctx context.Context, guildID, channelID int64) error {
	return a.editWatchdog(ctx, guildID, func(w *WatchdogConfig) error {
		w.AnnounceChannel = channelID
		return nil
	})
}

// SetWatchdogUser upserts a user monitor. A zero cooldown deactivates it.
func (a *Admin) SetWatchdogUser(ctx context.Context, guildID, userID int64, entry WatchdogUserEntry) error {
	if entry.CooldownSec < 0 {
		return fmt.Errorf("%w: cooldown must not be negative", ErrInvalid)
	}
	return a.editWatchdog(ctx, guildID, func(w *WatchdogConfig) error {
		if w.Users == nil {
			w.Users = make(map[int64]WatchdogUserEntry)
		}
		w.Users[userID] = entry
		return nil
	})
}

// RemoveWatchdogUser deletes a user monitor.
func (a *Admin) RemoveWatchdogUser(ctx context.Context, guildID, userID int64) error {
	return a.editWatchdog(ctx, guildID, func(w *WatchdogConfig) error {
		if _, ok := w.Users[userID]; !ok {
			return fmt.Errorf("%w: user %d is not watched", ErrInvalid, userID)
		}
		delete(w.Users, userID)
		return nil
	})
}

// SetWatchdogPhrase upserts a phrase monitor. The phrase must compile as a
// regex; cooldowns below the 300 second floor are clamped, not rejected.
func (a *Admin) SetWatchdogPhrase(ctx context.Context, guildID int64, entry WatchdogPhraseEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("%w: phrase name must not be empty", ErrInvalid)
	}
	if _, err := pattern.Compile(entry.Phrase, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if entry.CooldownSec < WatchdogPhraseFloor {
		entry.CooldownSec = WatchdogPhraseFloor
	}
	return a.editWatchdog(ctx, guildID, func(w *WatchdogConfig) error {
		for i, existing := range w.Phrases {
			if existing.Name == entry.Name {
				w.Phrases[i] = entry
				return nil
			}
		}
		w.Phrases = append(w.Phrases, entry)
		return nil
	})
}

// RemoveWatchdogPhrase deletes a phrase monitor by name.
func (a *Admin) RemoveWatchdogPhrase(ctx context.Context, guildID int64, name string) error {
	return a.editWatchdog(ctx, guildID, func(w *WatchdogConfig) error {
		for i, entry := range w.Phrases {
			if entry.Name == name {
				w.Phrases = append(w.Phrases[:i], w.Phrases[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: unknown phrase %q", ErrInvalid, name)
	})
}

// ValidateMirrorGraph scans every stored mirror config and reports loop
// violations. The engine runs this at startup; AddMirror enforces the same
// rule at mutation time.
func ValidateMirrorGraph(ctx context.Context, s store.Store) error {
	all, err := s.AllChannels(ctx, KeyMirror)
	if err != nil {
		return err
	}
	sources := make(map[int64]bool)
	destinations := make(map[int64]int64)
	configs := make(map[int64]MirrorConfig)
	for channelID := range all {
		cfg, ok, err := store.GetJSON[MirrorConfig](ctx, s, store.ChannelScope(channelID), KeyMirror)
		if err != nil {
			return err
		}
		if !ok || len(cfg.Destinations) == 0 {
			continue
		}
		configs[channelID] = cfg
		sources[channelID] = true
		for _, d := range cfg.Destinations {
			destinations[d] = channelID
		}
	}
	for source := range sources {
		if from, ok := destinations[source]; ok {
			return fmt.Errorf("%w: channel %d is both a source and a destination of %d", ErrInvalid, source, from)
		}
	}
	return nil
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, x := range list {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}
