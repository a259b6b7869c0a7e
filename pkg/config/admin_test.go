// Copyright 2024-2026 Aiku AI

package config

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/channelguard/pkg/store"
)

func newTestAdmin(t *testing.T) (*Admin, store.Store) {
	t.Helper()
	st := store.NewMemory()
	return NewAdmin(st, zerolog.Nop()), st
}

func TestAddPatternValidates(t *testing.T) {
	t.Parallel()
	a, st := newTestAdmin(t)
	ctx := context.Background()

	if err := a.AddPattern(ctx, 1, Pattern{Name: "ok", Include: "spam"}); err != nil {
		t.Fatalf("AddPattern: %v", err)
	}
	if err := a.AddPattern(ctx, 1, Pattern{Name: "bad", Include: "("}); !errors.Is(err, ErrInvalid) {
		t.Errorf("invalid include: got %v, want ErrInvalid", err)
	}
	if err := a.AddPattern(ctx, 1, Pattern{Name: "bad", Include: "x", Exclude: "("}); !errors.Is(err, ErrInvalid) {
		t.Errorf("invalid exclude: got %v, want ErrInvalid", err)
	}
	if err := a.AddPattern(ctx, 1, Pattern{Include: "x"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty name: got %v, want ErrInvalid", err)
	}

	patterns, _, err := store.GetJSON[GuildPatterns](ctx, st, store.GuildScope(1), KeyPatterns)
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 1 {
		t.Errorf("only the valid pattern should be stored, got %d", len(patterns))
	}
}

func TestRemovePatternRefusesWhileReferenced(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdmin(t)
	ctx := context.Background()

	if err := a.AddPattern(ctx, 1, Pattern{Name: "scam", Include: "scam"}); err != nil {
		t.Fatal(err)
	}
	if err := a.AddToBlacklist(ctx, 1, 10, "scam"); err != nil {
		t.Fatal(err)
	}

	if err := a.RemovePattern(ctx, 1, "scam"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("referenced pattern must not be removable: %v", err)
	}
	if err := a.RemoveFromBlacklist(ctx, 10, "scam"); err != nil {
		t.Fatal(err)
	}
	if err := a.RemovePattern(ctx, 1, "scam"); err != nil {
		t.Fatalf("unreferenced pattern should remove cleanly: %v", err)
	}
	if err := a.RemovePattern(ctx, 1, "scam"); !errors.Is(err, ErrInvalid) {
		t.Errorf("double remove: got %v, want ErrInvalid", err)
	}
}

func TestWhitelistRequiresKnownPattern(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdmin(t)
	ctx := context.Background()
	if err := a.AddToWhitelist(ctx, 1, 10, "ghost"); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown pattern: got %v, want ErrInvalid", err)
	}
}

func TestSetImageLimit(t *testing.T) {
	t.Parallel()
	a, st := newTestAdmin(t)
	ctx := context.Background()

	if err := a.SetImageLimit(ctx, 10, -2); !errors.Is(err, ErrInvalid) {
		t.Errorf("limit below -1: got %v, want ErrInvalid", err)
	}
	for _, limit := range []int{ImageLimitRequireImage, 0, 5} {
		if err := a.SetImageLimit(ctx, 10, limit); err != nil {
			t.Errorf("SetImageLimit(%d): %v", limit, err)
		}
	}
	policy, _, err := store.GetJSON[ChannelPolicy](ctx, st, store.ChannelScope(10), KeyPolicy)
	if err != nil {
		t.Fatal(err)
	}
	if policy.ImageLimit != 5 {
		t.Errorf("stored limit: got %d, want 5", policy.ImageLimit)
	}
}

func TestSetAutoReactionsRequiresPack(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdmin(t)
	ctx := context.Background()

	if err := a.SetAutoReactions(ctx, 1, 10, "votes"); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown pack: got %v, want ErrInvalid", err)
	}
	if err := a.SetReactionPack(ctx, 1, "votes", []string{"👍"}); err != nil {
		t.Fatal(err)
	}
	if err := a.SetAutoReactions(ctx, 1, 10, "votes"); err != nil {
		t.Fatalf("known pack: %v", err)
	}
	// clearing never needs a pack lookup
	if err := a.SetAutoReactions(ctx, 1, 10, ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
}

func TestAddMirrorRejectsLoops(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdmin(t)
	ctx := context.Background()

	if err := a.AddMirror(ctx, 10, 10); !errors.Is(err, ErrInvalid) {
		t.Errorf("self mirror: got %v, want ErrInvalid", err)
	}
	if err := a.AddMirror(ctx, 10, 20); err != nil {
		t.Fatalf("AddMirror: %v", err)
	}
	// 20 is a destination, so it cannot become a source
	if err := a.AddMirror(ctx, 20, 30); !errors.Is(err, ErrInvalid) {
		t.Errorf("destination as source: got %v, want ErrInvalid", err)
	}
	// 10 is a source, so it cannot become a destination
	if err := a.AddMirror(ctx, 30, 10); !errors.Is(err, ErrInvalid) {
		t.Errorf("source as destination: got %v, want ErrInvalid", err)
	}
	if err := a.AddMirror(ctx, 10, 20); !errors.Is(err, ErrInvalid) {
		t.Errorf("duplicate destination: got %v, want ErrInvalid", err)
	}
	// fan-out to a second destination stays legal
	if err := a.AddMirror(ctx, 10, 30); err != nil {
		t.Errorf("second destination: %v", err)
	}
}

func TestRemoveMirror(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdmin(t)
	ctx := context.Background()

	if err := a.AddMirror(ctx, 10, 20); err != nil {
		t.Fatal(err)
	}
	if err := a.RemoveMirror(ctx, 10, 20); err != nil {
		t.Fatalf("RemoveMirror: %v", err)
	}
	if err := a.RemoveMirror(ctx, 10, 20); !errors.Is(err, ErrInvalid) {
		t.Errorf("double remove: got %v, want ErrInvalid", err)
	}
}

func TestValidateMirrorGraph(t *testing.T) {
	t.Parallel()
	a, st := newTestAdmin(t)
	ctx := context.Background()

	if err := a.AddMirror(ctx, 10, 20); err != nil {
		t.Fatal(err)
	}
	if err := ValidateMirrorGraph(ctx, st); err != nil {
		t.Fatalf("valid graph rejected: %v", err)
	}

	// corrupt the store behind the admin's back: make 20 a source too
	if err := st.Set(ctx, store.ChannelScope(20), KeyMirror, MirrorConfig{Destinations: []int64{30}}); err != nil {
		t.Fatal(err)
	}
	if err := ValidateMirrorGraph(ctx, st); !errors.Is(err, ErrInvalid) {
		t.Errorf("loop should be detected: got %v", err)
	}
}

func TestSetWatchdogPhraseClampsAndValidates(t *testing.T) {
	t.Parallel()
	a, st := newTestAdmin(t)
	ctx := context.Background()

	if err := a.SetWatchdogPhrase(ctx, 1, WatchdogPhraseEntry{Name: "bad", Phrase: "("}); !errors.Is(err, ErrInvalid) {
		t.Errorf("invalid phrase regex: got %v, want ErrInvalid", err)
	}
	if err := a.SetWatchdogPhrase(ctx, 1, WatchdogPhraseEntry{Phrase: "x"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty name: got %v, want ErrInvalid", err)
	}
	if err := a.SetWatchdogPhrase(ctx, 1, WatchdogPhraseEntry{Name: "raid", Phrase: "raid", CooldownSec: 5}); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := store.GetJSON[WatchdogConfig](ctx, st, store.GuildScope(1), KeyWatchdog)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Phrases) != 1 || cfg.Phrases[0].CooldownSec != WatchdogPhraseFloor {
		t.Errorf("cooldown should clamp to %d, got %+v", WatchdogPhraseFloor, cfg.Phrases)
	}

	// upsert by name keeps a single entry
	if err := a.SetWatchdogPhrase(ctx, 1, WatchdogPhraseEntry{Name: "raid", Phrase: "raid now", CooldownSec: 900}); err != nil {
		t.Fatal(err)
	}
	cfg, _, _ = store.GetJSON[WatchdogConfig](ctx, st, store.GuildScope(1), KeyWatchdog)
	if len(cfg.Phrases) != 1 || cfg.Phrases[0].CooldownSec != 900 {
		t.Errorf("upsert: got %+v", cfg.Phrases)
	}
}

func TestWatchdogUserMutations(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdmin(t)
	ctx := context.Background()

	if err := a.SetWatchdogUser(ctx, 1, 42, WatchdogUserEntry{CooldownSec: -1}); !errors.Is(err, ErrInvalid) {
		t.Errorf("negative cooldown: got %v, want ErrInvalid", err)
	}
	if err := a.SetWatchdogUser(ctx, 1, 42, WatchdogUserEntry{RequesterID: 7, CooldownSec: 60}); err != nil {
		t.Fatal(err)
	}
	if err := a.RemoveWatchdogUser(ctx, 1, 42); err != nil {
		t.Fatal(err)
	}
	if err := a.RemoveWatchdogUser(ctx, 1, 42); !errors.Is(err, ErrInvalid) {
		t.Errorf("double remove: got %v, want ErrInvalid", err)
	}
}
