// Copyright 2024-2026 Aiku AI

// Package rewrite translates message bodies crossing a mirror boundary so
// they render correctly in the destination guild: mentions become readable
// names, role and emoji references are remapped by name, and cross-mirror
// message links point at the mirrored copy.
package rewrite

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/aiku/channelguard/pkg/gateway"
)

var (
	jumpLinkRe   = regexp.MustCompile(regexp.QuoteMeta(gateway.LinkBase) + `/channels/(\d+)/(\d+)/(\d+)`)
	roleRefRe    = regexp.MustCompile(`<@&(\d+)>`)
	userRefRe    = regexp.MustCompile(`<@!?(\d+)>`)
	channelRefRe = regexp.MustCompile(`<#(\d+)>`)
	customEmRe   = regexp.MustCompile(`<(a?):([A-Za-z0-9_]+):(\d+)>`)
	bareEmRe     = regexp.MustCompile(`:([A-Za-z0-9_]+):`)
)

// zwsp keeps broadcast tokens from notifying without changing how they read.
const zwsp = "​"

// LinkResolver maps a source message ID to the first mirrored copy of that
// message in the given destination channel. ok is false when the message is
// not tracked or has no copy in that channel.
type LinkResolver func(sourceMsgID, destChannelID int64) (destMsgID int64, ok bool)

// Rewriter transforms bodies for one mirror hop. All lookups go through the
// gateway; lookup failures degrade to non-pinging literals and never abort
// the rewrite.
type Rewriter struct {
	Client      gateway.Client
	ResolveLink LinkResolver
}

// destState caches the destination guild lookups for a single Rewrite call.
type destState struct {
	roles  []gateway.Role
	emojis []gateway.Emoji
	loaded struct {
		roles  bool
		emojis bool
	}
}

func (r *Rewriter) destRoles(ctx context.Context, guildID int64, st *destState) []gateway.Role {
	if !st.loaded.roles {
		st.roles, _ = r.Client.GuildRoles(ctx, guildID)
		st.loaded.roles = true
	}
	return st.roles
}

func (r *Rewriter) destEmojis(ctx context.Context, guildID int64, st *destState) []gateway.Emoji {
	if !st.loaded.emojis {
		st.emojis, _ = r.Client.GuildEmojis(ctx, guildID)
		st.loaded.emojis = true
	}
	return st.emojis
}

// Rewrite applies all transformation passes in order and returns the body
// suitable for posting in dest. A body with no resolvable references passes
// through unchanged, so rewriting an already-rewritten body is a no-op.
func (r *Rewriter) Rewrite(ctx context.Context, body string, source, dest *gateway.Channel) string {
	var st destState
	body = r.rewriteJumpLinks(body, source, dest)
	body = r.rewriteRoleRefs(ctx, body, source, dest, &st)
	body = r.rewriteUserRefs(ctx, body, source)
	body = r.rewriteChannelRefs(ctx, body)
	body = neuterBroadcasts(body)
	body = r.rewriteEmojis(ctx, body, dest, &st)
	return body
}

// rewriteJumpLinks repoints links at messages in the source channel to their
// mirrored copy in the destination channel. Links to other channels, and to
// untracked messages, are left alone.
func (r *Rewriter) rewriteJumpLinks(body string, source, dest *gateway.Channel) string {
	if r.ResolveLink == nil {
		return body
	}
	return jumpLinkRe.ReplaceAllStringFunc(body, func(match string) string {
		parts := jumpLinkRe.FindStringSubmatch(match)
		guildID, _ := strconv.ParseInt(parts[1], 10, 64)
		channelID, _ := strconv.ParseInt(parts[2], 10, 64)
		msgID, _ := strconv.ParseInt(parts[3], 10, 64)
		if guildID != source.GuildID || channelID != source.ID {
			return match
		}
		destMsg, ok := r.ResolveLink(msgID, dest.ID)
		if !ok {
			return match
		}
		return gateway.JumpURL(dest.GuildID, dest.ID, destMsg)
	})
}

// rewriteRoleRefs maps <@&id> to the destination guild's role with the same
// name, or a literal \@name when no such role exists.
func (r *Rewriter) rewriteRoleRefs(ctx context.Context, body string, source, dest *gateway.Channel, st *destState) string {
	return roleRefRe.ReplaceAllStringFunc(body, func(match string) string {
		parts := roleRefRe.FindStringSubmatch(match)
		roleID, _ := strconv.ParseInt(parts[1], 10, 64)
		role, err := r.Client.GetRole(ctx, source.GuildID, roleID)
		if err != nil {
			return `\@deleted-role`
		}
		for _, dr := range r.destRoles(ctx, dest.GuildID, st) {
			if dr.Name == role.Name {
				return "<@&" + strconv.FormatInt(dr.ID, 10) + ">"
			}
		}
		return `\@` + role.Name
	})
}

func (r *Rewriter) rewriteUserRefs(ctx context.Context, body string, source *gateway.Channel) string {
	return userRefRe.ReplaceAllStringFunc(body, func(match string) string {
		parts := userRefRe.FindStringSubmatch(match)
		userID, _ := strconv.ParseInt(parts[1], 10, 64)
		member, err := r.Client.GetMember(ctx, source.GuildID, userID)
		if err != nil {
			return `\@unknown-user`
		}
		return `\@` + member.Name
	})
}

// rewriteChannelRefs flattens <#id> to a literal \#name. A clickable channel
// reference would point at the wrong guild on the destination side.
func (r *Rewriter) rewriteChannelRefs(ctx context.Context, body string) string {
	return channelRefRe.ReplaceAllStringFunc(body, func(match string) string {
		parts := channelRefRe.FindStringSubmatch(match)
		channelID, _ := strconv.ParseInt(parts[1], 10, 64)
		ch, err := r.Client.GetChannel(ctx, channelID)
		if err != nil {
			return `\#deleted-channel`
		}
		return `\#` + ch.Name
	})
}

func neuterBroadcasts(body string) string {
	body = strings.ReplaceAll(body, "@everyone", "@"+zwsp+"everyone")
	body = strings.ReplaceAll(body, "@here", "@"+zwsp+"here")
	return body
}

// rewriteEmojis fixes <:name:id> forms whose ID belongs to the source guild
// and upgrades bare :name: tokens to the destination guild's custom emoji.
// Custom forms are extracted into placeholders first so the bare pass never
// matches inside them.
func (r *Rewriter) rewriteEmojis(ctx context.Context, body string, dest *gateway.Channel, st *destState) string {
	emojis := r.destEmojis(ctx, dest.GuildID, st)
	if len(emojis) == 0 {
		return body
	}
	byName := make(map[string]gateway.Emoji, len(emojis))
	for _, em := range emojis {
		byName[em.Name] = em
	}

	var extracted []string
	body = customEmRe.ReplaceAllStringFunc(body, func(match string) string {
		parts := customEmRe.FindStringSubmatch(match)
		animated, name := parts[1], parts[2]
		if em, ok := byName[name]; ok {
			match = "<" + animated + ":" + name + ":" + strconv.FormatInt(em.ID, 10) + ">"
		}
		idx := len(extracted)
		extracted = append(extracted, match)
		return "\x00EMOJI" + strconv.Itoa(idx) + "\x00"
	})

	body = bareEmRe.ReplaceAllStringFunc(body, func(match string) string {
		name := match[1 : len(match)-1]
		em, ok := byName[name]
		if !ok {
			return match
		}
		return "<:" + name + ":" + strconv.FormatInt(em.ID, 10) + ">"
	})

	for idx, form := range extracted {
		body = strings.Replace(body, "\x00EMOJI"+strconv.Itoa(idx)+"\x00", form, 1)
	}
	return body
}
