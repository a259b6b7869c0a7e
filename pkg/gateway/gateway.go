// Copyright 2024-2026 Aiku AI

// Package gateway defines the chat platform boundary: the opaque handles the
// core passes around, the operations it may invoke, and the events it
// receives. The core never talks to a concrete platform SDK; everything goes
// through the Client interface so tests and the replay harness can substitute
// their own implementations.
package gateway

import (
	"context"
	"fmt"
	"time"
)

// LinkBase is the public URL prefix for message jump links.
const LinkBase = "https://chat.example"

// User is a platform user handle.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Bot  bool   `json:"bot,omitempty"`
}

// Mention renders a pinging mention token for the user.
func (u User) Mention() string {
	return fmt.Sprintf("<@%d>", u.ID)
}

// Role is a guild role handle.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Emoji is a guild emoji handle. ID zero means a plain unicode emoji.
type Emoji struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Channel is a guild channel handle.
type Channel struct {
	ID      int64  `json:"id"`
	GuildID int64  `json:"guild_id"`
	Name    string `json:"name"`
}

// Mention renders a clickable channel reference.
func (c Channel) Mention() string {
	return fmt.Sprintf("<#%d>", c.ID)
}

// Guild is a guild handle.
type Guild struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	OwnerID int64  `json:"owner_id"`
}

// Attachment describes an uploaded file on a message. The bytes are fetched
// separately via Client.DownloadAttachment.
type Attachment struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// Message is a message snapshot. CleanContent is the platform-rendered text
// with mentions as readable names; moderation always evaluates that form.
type Message struct {
	ID           int64        `json:"id"`
	ChannelID    int64        `json:"channel_id"`
	GuildID      int64        `json:"guild_id"`
	Author       User         `json:"author"`
	Content      string       `json:"content"`
	CleanContent string       `json:"clean_content"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	EmbedCount   int          `json:"embed_count,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// ImageCount is the attachment plus embed count used by image policies.
func (m *Message) ImageCount() int {
	return len(m.Attachments) + m.EmbedCount
}

// JumpURL returns the public link to the message.
func (m *Message) JumpURL() string {
	return JumpURL(m.GuildID, m.ChannelID, m.ID)
}

// JumpURL builds a message jump link from raw IDs.
func JumpURL(guildID, channelID, messageID int64) string {
	return fmt.Sprintf("%s/channels/%d/%d/%d", LinkBase, guildID, channelID, messageID)
}

// File is an attachment payload for outgoing messages.
type File struct {
	Name string
	Data []byte
}

// AllowedMentions restricts which mention tokens in an outgoing body actually
// ping. The zero value pings nothing.
type AllowedMentions struct {
	Users bool
	Roles bool
}

// SendRequest is the payload for Client.Send.
type SendRequest struct {
	Body            string
	Files           []File
	AllowedMentions AllowedMentions
}

// Client is the platform operation surface the core consumes. All calls carry
// a context and an implicit per-call timeout; failures are reported as the
// tagged error kinds in this package.
type Client interface {
	Send(ctx context.Context, channelID int64, req SendRequest) (*Message, error)
	Edit(ctx context.Context, channelID, messageID int64, body string) (*Message, error)
	Delete(ctx context.Context, channelID, messageID int64) error
	AddReaction(ctx context.Context, channelID, messageID int64, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID int64, emoji string, userID int64) error

	FetchMessage(ctx context.Context, channelID, messageID int64) (*Message, error)
	// History returns up to limit messages with ID greater than after and,
	// when before is nonzero, less than before, in ascending ID order.
	History(ctx context.Context, channelID, after, before int64, limit int) ([]*Message, error)

	GetChannel(ctx context.Context, channelID int64) (*Channel, error)
	GetGuild(ctx context.Context, guildID int64) (*Guild, error)
	GetRole(ctx context.Context, guildID, roleID int64) (*Role, error)
	GetMember(ctx context.Context, guildID, userID int64) (*User, error)
	GuildRoles(ctx context.Context, guildID int64) ([]Role, error)
	GuildEmojis(ctx context.Context, guildID int64) ([]Emoji, error)
	CanManageMessages(ctx context.Context, guildID, userID int64) (bool, error)

	// OpenDM returns the DM channel ID for a user.
	OpenDM(ctx context.Context, userID int64) (int64, error)
	DownloadAttachment(ctx context.Context, att Attachment) ([]byte, error)
}

// MessageCreate is emitted for every new message.
type MessageCreate struct {
	Message *Message
}

// MessageEdit is the raw edit event. Message may be nil when the edited
// message was not cached; handlers must fetch it themselves.
type MessageEdit struct {
	GuildID   int64
	ChannelID int64
	MessageID int64
	Message   *Message
}

// MessageDelete is the raw delete event.
type MessageDelete struct {
	GuildID   int64
	ChannelID int64
	MessageID int64
}

// ReactionAdd is the raw reaction-add event.
type ReactionAdd struct {
	GuildID   int64
	ChannelID int64
	MessageID int64
	UserID    int64
	Emoji     string
}

// ReactionRemove is the raw reaction-remove event.
type ReactionRemove struct {
	GuildID   int64
	ChannelID int64
	MessageID int64
	UserID    int64
	Emoji     string
}

// MemberUpdate is emitted when a guild member's profile changes.
type MemberUpdate struct {
	GuildID int64
	User    User
}
