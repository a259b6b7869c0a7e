// Copyright 2024-2026 Aiku AI

// Package gatewaytest provides an in-memory gateway.Client used by tests and
// by the replay harness as a dry-run backend. It records every mutating call
// and supports injected failures per (operation, channel).
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/channelguard/pkg/gateway"
)

// Call records one mutating gateway operation.
type Call struct {
	Op        string
	ChannelID int64
	MessageID int64
	Body      string
	Emoji     string
	UserID    int64
	FileNames []string
}

// Fake is an in-memory gateway.Client.
type Fake struct {
	mu sync.Mutex

	nextID   int64
	messages map[int64]map[int64]*gateway.Message // channel -> message id -> message
	order    map[int64][]int64                    // channel -> ascending message ids

	Guilds    map[int64]*gateway.Guild
	Channels  map[int64]*gateway.Channel
	Roles     map[int64][]gateway.Role
	Emojis    map[int64][]gateway.Emoji
	Members   map[int64]map[int64]*gateway.User // guild -> user id -> user
	Managers  map[int64]map[int64]bool          // guild -> user id -> can manage messages
	Blobs     map[int64][]byte                  // attachment id -> bytes
	DMFailure map[int64]error                   // user id -> OpenDM error

	// Fail maps "op:channelID" to an error returned by that operation. The
	// FailN variant decrements a counter so the first N calls fail and later
	// ones succeed, which is how the payload-size fallback paths are tested.
	Fail  map[string]error
	FailN map[string]int

	calls []Call

	Log zerolog.Logger
}

// New creates an empty Fake with message IDs starting at 1000.
func New() *Fake {
	return &Fake{
		nextID:    1000,
		messages:  make(map[int64]map[int64]*gateway.Message),
		order:     make(map[int64][]int64),
		Guilds:    make(map[int64]*gateway.Guild),
		Channels:  make(map[int64]*gateway.Channel),
		Roles:     make(map[int64][]gateway.Role),
		Emojis:    make(map[int64][]gateway.Emoji),
		Members:   make(map[int64]map[int64]*gateway.User),
		Managers:  make(map[int64]map[int64]bool),
		Blobs:     make(map[int64][]byte),
		Fail:      make(map[string]error),
		FailN:     make(map[string]int),
		DMFailure: make(map[int64]error),
		Log:       zerolog.Nop(),
	}
}

var _ gateway.Client = (*Fake)(nil)

// AddGuild registers a guild handle.
func (f *Fake) AddGuild(g gateway.Guild) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := g
	f.Guilds[g.ID] = &cp
}

// AddChannel registers a channel handle.
func (f *Fake) AddChannel(c gateway.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := c
	f.Channels[c.ID] = &cp
}

// AddMember registers a guild member.
func (f *Fake) AddMember(guildID int64, u gateway.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Members[guildID] == nil {
		f.Members[guildID] = make(map[int64]*gateway.User)
	}
	cp := u
	f.Members[guildID][u.ID] = &cp
}

// SeedMessage inserts a message without recording a Send call. Used to set up
// source messages and history fixtures.
func (f *Fake) SeedMessage(msg *gateway.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertLocked(msg)
}

func (f *Fake) insertLocked(msg *gateway.Message) {
	if f.messages[msg.ChannelID] == nil {
		f.messages[msg.ChannelID] = make(map[int64]*gateway.Message)
	}
	f.messages[msg.ChannelID][msg.ID] = msg
	f.order[msg.ChannelID] = append(f.order[msg.ChannelID], msg.ID)
	if msg.ID >= f.nextID {
		f.nextID = msg.ID + 1
	}
}

// Calls returns a copy of the recorded mutating calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]Call, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// CallsFor filters recorded calls by operation name.
func (f *Fake) CallsFor(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// MessagesIn returns the live messages of a channel in ascending ID order.
func (f *Fake) MessagesIn(channelID int64) []*gateway.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*gateway.Message
	for _, id := range f.order[channelID] {
		if msg, ok := f.messages[channelID][id]; ok {
			out = append(out, msg)
		}
	}
	return out
}

func (f *Fake) failLocked(op string, channelID int64) error {
	key := fmt.Sprintf("%s:%d", op, channelID)
	if n, ok := f.FailN[key]; ok && n > 0 {
		f.FailN[key] = n - 1
		if err, ok := f.Fail[key]; ok {
			return err
		}
		return gateway.ErrTransient
	}
	if _, counting := f.FailN[key]; counting {
		return nil
	}
	if err, ok := f.Fail[key]; ok {
		return err
	}
	return nil
}

func (f *Fake) Send(_ context.Context, channelID int64, req gateway.SendRequest) (*gateway.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := Call{Op: "send", ChannelID: channelID, Body: req.Body}
	for _, file := range req.Files {
		call.FileNames = append(call.FileNames, file.Name)
	}
	if err := f.failLocked("send", channelID); err != nil {
		return nil, err
	}
	ch := f.Channels[channelID]
	var guildID int64
	if ch != nil {
		guildID = ch.GuildID
	}
	msg := &gateway.Message{
		ID:           f.nextID,
		ChannelID:    channelID,
		GuildID:      guildID,
		Content:      req.Body,
		CleanContent: req.Body,
		Timestamp:    time.Now(),
	}
	f.nextID++
	f.insertLocked(msg)
	call.MessageID = msg.ID
	f.calls = append(f.calls, call)
	f.Log.Debug().Int64("channel_id", channelID).Int64("message_id", msg.ID).
		Int("files", len(req.Files)).Msg("send")
	return msg, nil
}

func (f *Fake) Edit(_ context.Context, channelID, messageID int64, body string) (*gateway.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("edit", channelID); err != nil {
		return nil, err
	}
	msg, ok := f.messages[channelID][messageID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	msg.Content = body
	msg.CleanContent = body
	f.calls = append(f.calls, Call{Op: "edit", ChannelID: channelID, MessageID: messageID, Body: body})
	return msg, nil
}

func (f *Fake) Delete(_ context.Context, channelID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("delete", channelID); err != nil {
		return err
	}
	if _, ok := f.messages[channelID][messageID]; !ok {
		return gateway.ErrNotFound
	}
	delete(f.messages[channelID], messageID)
	f.calls = append(f.calls, Call{Op: "delete", ChannelID: channelID, MessageID: messageID})
	return nil
}

func (f *Fake) AddReaction(_ context.Context, channelID, messageID int64, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("react", channelID); err != nil {
		return err
	}
	if _, ok := f.messages[channelID][messageID]; !ok {
		return gateway.ErrNotFound
	}
	f.calls = append(f.calls, Call{Op: "react_add", ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return nil
}

func (f *Fake) RemoveReaction(_ context.Context, channelID, messageID int64, emoji string, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("react", channelID); err != nil {
		return err
	}
	f.calls = append(f.calls, Call{Op: "react_remove", ChannelID: channelID, MessageID: messageID, Emoji: emoji, UserID: userID})
	return nil
}

func (f *Fake) FetchMessage(_ context.Context, channelID, messageID int64) (*gateway.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[channelID][messageID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (f *Fake) History(_ context.Context, channelID, after, before int64, limit int) ([]*gateway.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*gateway.Message
	for _, id := range f.order[channelID] {
		if id <= after {
			continue
		}
		if before != 0 && id >= before {
			continue
		}
		if msg, ok := f.messages[channelID][id]; ok {
			cp := *msg
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) GetChannel(_ context.Context, channelID int64) (*gateway.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.Channels[channelID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (f *Fake) GetGuild(_ context.Context, guildID int64) (*gateway.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.Guilds[guildID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *Fake) GetRole(_ context.Context, guildID, roleID int64) (*gateway.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, role := range f.Roles[guildID] {
		if role.ID == roleID {
			cp := role
			return &cp, nil
		}
	}
	return nil, gateway.ErrNotFound
}

func (f *Fake) GetMember(_ context.Context, guildID, userID int64) (*gateway.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Members[guildID][userID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *Fake) GuildRoles(_ context.Context, guildID int64) ([]gateway.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Role, len(f.Roles[guildID]))
	copy(out, f.Roles[guildID])
	return out, nil
}

func (f *Fake) GuildEmojis(_ context.Context, guildID int64) ([]gateway.Emoji, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Emoji, len(f.Emojis[guildID]))
	copy(out, f.Emojis[guildID])
	return out, nil
}

func (f *Fake) CanManageMessages(_ context.Context, guildID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Managers[guildID][userID], nil
}

// dmOffset keeps DM channel IDs out of the guild channel ID space.
const dmOffset = int64(1) << 40

func (f *Fake) OpenDM(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.DMFailure[userID]; ok {
		return 0, err
	}
	return dmOffset + userID, nil
}

func (f *Fake) DownloadAttachment(_ context.Context, att gateway.Attachment) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Blobs[att.ID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}
