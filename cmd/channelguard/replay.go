// Copyright 2024-2026 Aiku AI

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/channelguard/pkg/config"
	"github.com/aiku/channelguard/pkg/dispatch"
	"github.com/aiku/channelguard/pkg/gateway"
	"github.com/aiku/channelguard/pkg/gateway/gatewaytest"
)

// replayEvent is one line of a replay file. Fixture lines (guild, channel,
// member, seed_message, add_mirror) set up state; event lines go through the
// dispatcher exactly like live gateway traffic.
type replayEvent struct {
	Type string `json:"type"`

	Guild   *gateway.Guild   `json:"guild,omitempty"`
	Channel *gateway.Channel `json:"channel,omitempty"`
	User    *gateway.User    `json:"user,omitempty"`
	Message *gateway.Message `json:"message,omitempty"`

	GuildID   int64  `json:"guild_id,omitempty"`
	ChannelID int64  `json:"channel_id,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
	UserID    int64  `json:"user_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`

	// add_mirror only.
	SourceID int64 `json:"source_id,omitempty"`
	DestID   int64 `json:"dest_id,omitempty"`
}

func runReplay(ctx context.Context, path string, d *dispatch.Dispatcher, client *gatewaytest.Fake, admin *config.Admin, log zerolog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var ev replayEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return fmt.Errorf("replay line %d: %w", lineNo, err)
		}
		if err := applyReplayEvent(ctx, ev, d, client, admin); err != nil {
			return fmt.Errorf("replay line %d (%s): %w", lineNo, ev.Type, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read replay file: %w", err)
	}
	log.Info().Int("lines", lineNo).Msg("Replay complete")
	return nil
}

func applyReplayEvent(ctx context.Context, ev replayEvent, d *dispatch.Dispatcher, client *gatewaytest.Fake, admin *config.Admin) error {
	switch ev.Type {
	case "guild":
		if ev.Guild == nil {
			return fmt.Errorf("guild line needs a guild object")
		}
		client.AddGuild(*ev.Guild)
	case "channel":
		if ev.Channel == nil {
			return fmt.Errorf("channel line needs a channel object")
		}
		client.AddChannel(*ev.Channel)
	case "member":
		if ev.User == nil {
			return fmt.Errorf("member line needs a user object")
		}
		client.AddMember(ev.GuildID, *ev.User)
	case "seed_message":
		if ev.Message == nil {
			return fmt.Errorf("seed_message line needs a message object")
		}
		client.SeedMessage(ev.Message)
	case "add_mirror":
		return admin.AddMirror(ctx, ev.SourceID, ev.DestID)
	case "message_create":
		if ev.Message == nil {
			return fmt.Errorf("message_create line needs a message object")
		}
		client.SeedMessage(ev.Message)
		d.OnMessageCreate(ctx, gateway.MessageCreate{Message: ev.Message})
	case "message_edit":
		d.OnMessageEdit(ctx, gateway.MessageEdit{
			GuildID:   ev.GuildID,
			ChannelID: ev.ChannelID,
			MessageID: ev.MessageID,
			Message:   ev.Message,
		})
	case "message_delete":
		d.OnMessageDelete(ctx, gateway.MessageDelete{
			GuildID:   ev.GuildID,
			ChannelID: ev.ChannelID,
			MessageID: ev.MessageID,
		})
	case "reaction_add":
		d.OnReactionAdd(ctx, gateway.ReactionAdd{
			GuildID:   ev.GuildID,
			ChannelID: ev.ChannelID,
			MessageID: ev.MessageID,
			UserID:    ev.UserID,
			Emoji:     ev.Emoji,
		})
	case "reaction_remove":
		d.OnReactionRemove(ctx, gateway.ReactionRemove{
			GuildID:   ev.GuildID,
			ChannelID: ev.ChannelID,
			MessageID: ev.MessageID,
			UserID:    ev.UserID,
			Emoji:     ev.Emoji,
		})
	case "member_update":
		if ev.User == nil {
			return fmt.Errorf("member_update line needs a user object")
		}
		d.OnMemberUpdate(ctx, gateway.MemberUpdate{GuildID: ev.GuildID, User: *ev.User})
	default:
		return fmt.Errorf("unknown replay event type %q", ev.Type)
	}
	return nil
}

// dumpCalls prints the gateway calls the engines issued, one JSON object per
// line, so an operator can diff dry-run behavior against expectations.
func dumpCalls(client *gatewaytest.Fake) error {
	enc := json.NewEncoder(os.Stdout)
	for _, call := range client.Calls() {
		if err := enc.Encode(call); err != nil {
			return err
		}
	}
	return nil
}
