// Copyright 2024-2026 Aiku AI

// Package config holds the persisted per-guild and per-channel schemas and
// the admin mutation surface that writes them. All mutation preconditions
// (patterns must compile, mirror destinations cannot form loops, cooldown
// floors) are enforced here so event handlers never see invalid state.
package config

import (
	"encoding/json"
	"fmt"
)

// Store keys. Guild scope carries patterns, reaction packs, and watchdog
// state; channel scope carries the moderation policy and mirror config.
const (
	KeyPatterns  = "automod_patterns"
	KeyReactions = "autoreact_packs"
	KeyWatchdog  = "watchdog"
	KeyPolicy    = "automod_policy"
	KeyMirror    = "mirror"
)

// Pattern is a named include/exclude regex pair, unique per guild.
type Pattern struct {
	Name    string `json:"name"`
	Include string `json:"include"`
	Exclude string `json:"exclude"`
}

// GuildPatterns is the per-guild pattern set, keyed by name.
type GuildPatterns map[string]Pattern

// ReactionPacks maps pack keys to ordered emoji lists.
type ReactionPacks map[string][]string

// Image limit sentinel: -1 requires every message to carry an image.
const ImageLimitRequireImage = -1

// ChannelPolicy is the per-channel moderation policy. Whitelist and Blacklist
// hold pattern names that must resolve in the guild's pattern set.
type ChannelPolicy struct {
	Whitelist     []string `json:"whitelist,omitempty"`
	Blacklist     []string `json:"blacklist,omitempty"`
	ImageLimit    int      `json:"image_limit,omitempty"`
	AutoReactions string   `json:"auto_reactions,omitempty"`
}

// References reports whether the policy names the pattern on either list.
func (p *ChannelPolicy) References(name string) bool {
	for _, n := range p.Whitelist {
		if n == name {
			return true
		}
	}
	for _, n := range p.Blacklist {
		if n == name {
			return true
		}
	}
	return false
}

// WatchdogUserEntry is a per-user monitor. A zero cooldown deactivates the
// entry. Last-fired times are volatile and live in the monitor, not here.
type WatchdogUserEntry struct {
	RequesterID int64  `json:"requester_id"`
	CooldownSec int    `json:"cooldown_sec"`
	Reason      string `json:"reason"`
}

// WatchdogPhraseFloor is the hard minimum phrase cooldown in seconds.
// Requests below it are silently clamped.
const WatchdogPhraseFloor = 300

// WatchdogPhraseEntry is a named phrase monitor. Entries fire in insertion
// order, so the guild config keeps them in a slice.
type WatchdogPhraseEntry struct {
	Name        string `json:"name"`
	RequesterID int64  `json:"requester_id"`
	CooldownSec int    `json:"cooldown_sec"`
	Phrase      string `json:"phrase"`
}

// WatchdogConfig is the per-guild watchdog state.
type WatchdogConfig struct {
	AnnounceChannel int64                       `json:"announce_channel,omitempty"`
	Users           map[int64]WatchdogUserEntry `json:"users,omitempty"`
	Phrases         []WatchdogPhraseEntry       `json:"phrases,omitempty"`
}

// DestLink records the messages a single source message produced in one
// destination channel. The message list has length >= 1; pagified bodies
// span several destination messages.
type DestLink struct {
	ChannelID  int64
	MessageIDs []int64
}

// MarshalJSON encodes the link as [channel, [ids...]], the wire form the
// persisted schema uses.
func (d DestLink) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{d.ChannelID, d.MessageIDs})
}

// UnmarshalJSON decodes the [channel, [ids...]] pair form.
func (d *DestLink) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("mirror link pair has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &d.ChannelID); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &d.MessageIDs)
}

// MirrorConfig is the per-source-channel mirror state, including the bounded
// link table keyed by decimal source message ID.
type MirrorConfig struct {
	LastSpokeAuthor  int64                 `json:"last_spoke_author,omitempty"`
	LastSpokeTime    float64               `json:"last_spoke_time,omitempty"`
	Destinations     []int64               `json:"destinations,omitempty"`
	MirrorLinks      map[string][]DestLink `json:"mirror_links,omitempty"`
	Multiedit        bool                  `json:"multiedit,omitempty"`
	NoDeletion       bool                  `json:"no_deletion,omitempty"`
	// MirroreditTarget is consumed by admin command frontends that edit
	// mirrored copies on an operator's behalf; the engine itself never reads
	// it. Persisted here so those frontends share the channel schema.
	MirroreditTarget int64 `json:"mirroredit_target,omitempty"`
}

// HasDestination reports whether id is configured as a destination.
func (m *MirrorConfig) HasDestination(id int64) bool {
	for _, d := range m.Destinations {
		if d == id {
			return true
		}
	}
	return false
}
