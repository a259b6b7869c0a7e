// Copyright 2024-2026 Aiku AI

package mirror

import (
	"context"
	"strings"
	"testing"

	"github.com/aiku/channelguard/pkg/config"
)

func TestCatchupReplaysRange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.MirrorConfig{Destinations: []int64{destChan}})
	for id := int64(1); id <= 5; id++ {
		f.sourceMsg(id, 42, "alice", "missed message")
	}

	processed, err := f.engine.Catchup(context.Background(), srcChan, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if processed != 3 {
		t.Errorf("(from, to] is exclusive of from: got %d, want 3", processed)
	}
	if got := len(f.client.MessagesIn(destChan)); got != 3 {
		t.Errorf("mirrored messages: got %d, want 3", got)
	}

	cfg := f.mirrorCfg(t)
	table := Links(&cfg)
	for id := int64(3); id <= 5; id++ {
		if !table.Contains(id) {
			t.Errorf("message %d missing from link table", id)
		}
	}
	if table.Contains(2) {
		t.Error("from message itself must not be replayed")
	}
}

func TestCatchupUpperBound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.MirrorConfig{Destinations: []int64{destChan}})
	for id := int64(1); id <= 5; id++ {
		f.sourceMsg(id, 42, "alice", "m")
	}
	processed, err := f.engine.Catchup(context.Background(), srcChan, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	if processed != 4 {
		t.Errorf("range is inclusive of to: got %d, want 4 (ids 1..4)", processed)
	}
}

func TestCatchupPreservesOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.MirrorConfig{Destinations: []int64{destChan}})
	f.sourceMsg(1, 42, "alice", "first")
	f.sourceMsg(2, 42, "alice", "second")
	f.sourceMsg(3, 42, "alice", "third")

	if _, err := f.engine.Catchup(context.Background(), srcChan, 0, 0); err != nil {
		t.Fatal(err)
	}
	mirrored := f.client.MessagesIn(destChan)
	if len(mirrored) != 3 {
		t.Fatalf("got %d messages", len(mirrored))
	}
	for i, want := range []string{"first", "second", "third"} {
		if !strings.Contains(mirrored[i].Content, want) {
			t.Errorf("message %d: got %q, want %q", i, mirrored[i].Content, want)
		}
	}
}

func TestCatchupEmptyRange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.MirrorConfig{Destinations: []int64{destChan}})
	processed, err := f.engine.Catchup(context.Background(), srcChan, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if processed != 0 {
		t.Errorf("empty history: got %d", processed)
	}
}
