// Copyright 2024-2026 Aiku AI

package gateway

import "testing"

func TestJumpURL(t *testing.T) {
	t.Parallel()
	msg := &Message{ID: 999, ChannelID: 10, GuildID: 100}
	want := "https://chat.example/channels/100/10/999"
	if got := msg.JumpURL(); got != want {
		t.Errorf("JumpURL: got %q, want %q", got, want)
	}
	if got := JumpURL(100, 10, 999); got != want {
		t.Errorf("JumpURL func: got %q, want %q", got, want)
	}
}

func TestMentions(t *testing.T) {
	t.Parallel()
	if got := (User{ID: 42}).Mention(); got != "<@42>" {
		t.Errorf("user mention: %q", got)
	}
	if got := (Channel{ID: 10}).Mention(); got != "<#10>" {
		t.Errorf("channel mention: %q", got)
	}
}

func TestImageCount(t *testing.T) {
	t.Parallel()
	msg := &Message{
		Attachments: []Attachment{{ID: 1}, {ID: 2}},
		EmbedCount:  3,
	}
	if got := msg.ImageCount(); got != 5 {
		t.Errorf("ImageCount: got %d, want 5", got)
	}
}
