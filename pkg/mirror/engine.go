// Copyright 2024-2026 Aiku AI

// Package mirror fans messages out from a source channel to its configured
// destination channels, keeping a bounded link table so later edits,
// reactions, and deletes can be replayed onto the mirrored copies.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/variationselector"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/channelguard/pkg/config"
	"github.com/aiku/channelguard/pkg/gateway"
	"github.com/aiku/channelguard/pkg/mirror/rewrite"
	"github.com/aiku/channelguard/pkg/store"
)

// AttributionTimeout is how long the same speaker can keep posting before an
// attribution header is added again.
const AttributionTimeout = 3 * time.Hour

// fanOutLimit bounds concurrent destination posts for one source message.
const fanOutLimit = 4

const tooLargeNotice = " File too large for this channel. Other attachments not shown>"

// Engine implements the mirror side of the bot. All handlers assume the
// dispatcher serializes events per source channel, so a config snapshot
// loaded at the top of a handler stays consistent for its duration.
type Engine struct {
	client gateway.Client
	store  store.Store
	notify *gateway.Notifier
	clock  func() time.Time
	log    zerolog.Logger

	// CommandPrefix marks messages the engine must not mirror.
	CommandPrefix string
}

// NewEngine creates a mirror engine. clock may be nil for real time.
func NewEngine(client gateway.Client, st store.Store, notify *gateway.Notifier, clock func() time.Time, log zerolog.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		client: client,
		store:  st,
		notify: notify,
		clock:  clock,
		log:    log.With().Str("component", "mirror").Logger(),
	}
}

func (e *Engine) updateMirror(ctx context.Context, channelID int64, fn func(cfg *config.MirrorConfig)) error {
	return store.UpdateWithRetry(ctx, e.store, store.ChannelScope(channelID), config.KeyMirror, func(raw json.RawMessage) (any, error) {
		var cfg config.MirrorConfig
		if raw != nil {
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return nil, err
			}
		}
		fn(&cfg)
		return cfg, nil
	})
}

func (e *Engine) loadMirror(ctx context.Context, channelID int64) (config.MirrorConfig, bool) {
	cfg, ok, err := store.GetJSON[config.MirrorConfig](ctx, e.store, store.ChannelScope(channelID), config.KeyMirror)
	if err != nil {
		e.log.Err(err).Int64("channel_id", channelID).Msg("Failed to load mirror config")
		return cfg, false
	}
	return cfg, ok
}

func (e *Engine) rewriterFor(cfg *config.MirrorConfig) *rewrite.Rewriter {
	table := Links(cfg)
	return &rewrite.Rewriter{
		Client: e.client,
		ResolveLink: func(sourceMsgID, destChannelID int64) (int64, bool) {
			for _, dl := range table.Get(sourceMsgID) {
				if dl.ChannelID == destChannelID && len(dl.MessageIDs) > 0 {
					return dl.MessageIDs[0], true
				}
			}
			return 0, false
		},
	}
}

// HandleMessage mirrors a new source message to every configured destination
// and records the produced messages in the link table.
func (e *Engine) HandleMessage(ctx context.Context, msg *gateway.Message) error {
	if msg.Author.Bot {
		return nil
	}
	cfg, ok := e.loadMirror(ctx, msg.ChannelID)
	if !ok || len(cfg.Destinations) == 0 {
		return nil
	}
	if e.CommandPrefix != "" && strings.HasPrefix(msg.Content, e.CommandPrefix) {
		return nil
	}
	now := e.clock()
	needsAttr := e.needsAttribution(&cfg, msg.Author.ID, now)

	if err := e.updateMirror(ctx, msg.ChannelID, func(c *config.MirrorConfig) {
		c.LastSpokeAuthor = msg.Author.ID
		c.LastSpokeTime = float64(now.UnixNano()) / float64(time.Second)
	}); err != nil {
		e.log.Err(err).Int64("channel_id", msg.ChannelID).Msg("Failed to persist attribution state")
	}

	// Attachment streams are not rewindable, so buffer the bytes once and
	// reuse them for every destination.
	files := e.prefetchAttachments(ctx, msg)

	sourceID := msg.ID
	body := msg.Content
	if cfg.Multiedit {
		repostID, err := e.multieditRepost(ctx, msg, files)
		if err != nil {
			e.log.Err(err).Int64("channel_id", msg.ChannelID).Int64("message_id", msg.ID).
				Msg("Multiedit repost failed")
			return err
		}
		sourceID = repostID
	}

	sourceCh, err := e.client.GetChannel(ctx, msg.ChannelID)
	if err != nil {
		return fmt.Errorf("failed to resolve source channel: %w", err)
	}
	header := ""
	if needsAttr {
		sourceGuild, err := e.client.GetGuild(ctx, sourceCh.GuildID)
		if err != nil {
			return fmt.Errorf("failed to resolve source guild: %w", err)
		}
		header = fmt.Sprintf("Posted by **%s** in *%s - #%s*:\n%s\n",
			msg.Author.Name, sourceGuild.Name, sourceCh.Name,
			gateway.JumpURL(sourceCh.GuildID, sourceCh.ID, sourceID))
	}

	rw := e.rewriterFor(&cfg)
	results := make([]config.DestLink, len(cfg.Destinations))
	var g errgroup.Group
	g.SetLimit(fanOutLimit)
	for i, destID := range cfg.Destinations {
		g.Go(func() error {
			ids, err := e.mirrorToDest(ctx, rw, sourceCh, destID, body, header, files, msg.Author)
			if err != nil {
				fanoutErrorCount.WithLabelValues("message").Inc()
				e.handleDestError(ctx, sourceCh.ID, destID, err)
				return nil
			}
			results[i] = config.DestLink{ChannelID: destID, MessageIDs: ids}
			return nil
		})
	}
	_ = g.Wait()
	fanoutCount.WithLabelValues("message").Inc()

	var links []config.DestLink
	for _, dl := range results {
		if dl.ChannelID != 0 && len(dl.MessageIDs) > 0 {
			links = append(links, dl)
		}
	}
	if len(links) == 0 {
		return nil
	}
	return e.updateMirror(ctx, msg.ChannelID, func(c *config.MirrorConfig) {
		table := Links(c)
		table.Put(sourceID, links)
		table.EvictIfOver(MaxLinks)
	})
}

func (e *Engine) needsAttribution(cfg *config.MirrorConfig, authorID int64, now time.Time) bool {
	if cfg.Multiedit {
		return false
	}
	if cfg.LastSpokeAuthor != authorID {
		return true
	}
	last := time.Unix(0, int64(cfg.LastSpokeTime*float64(time.Second)))
	return now.Sub(last) > AttributionTimeout
}

func (e *Engine) prefetchAttachments(ctx context.Context, msg *gateway.Message) []gateway.File {
	var files []gateway.File
	for _, att := range msg.Attachments {
		data, err := e.client.DownloadAttachment(ctx, att)
		if err != nil {
			e.log.Err(err).Int64("attachment_id", att.ID).Str("filename", att.Filename).
				Msg("Failed to download attachment, skipping")
			continue
		}
		files = append(files, gateway.File{Name: att.Filename, Data: data})
	}
	return files
}

// multieditRepost deletes the source message, sends a placeholder, reposts
// the body, and edits the placeholder to hold the repost's ID. The repost ID
// becomes the link-table key, so later mirroredit edits address it directly.
func (e *Engine) multieditRepost(ctx context.Context, msg *gateway.Message, files []gateway.File) (int64, error) {
	if err := e.client.Delete(ctx, msg.ChannelID, msg.ID); err != nil {
		e.log.Err(err).Int64("message_id", msg.ID).Msg("Failed to delete source message for repost")
	}
	placeholder, err := e.client.Send(ctx, msg.ChannelID, gateway.SendRequest{Body: PlaceholderBody})
	if err != nil {
		return 0, fmt.Errorf("failed to send placeholder: %w", err)
	}
	repost, err := e.client.Send(ctx, msg.ChannelID, gateway.SendRequest{Body: msg.Content, Files: files})
	if err != nil {
		return 0, fmt.Errorf("failed to repost message: %w", err)
	}
	if _, err := e.client.Edit(ctx, msg.ChannelID, placeholder.ID, strconv.FormatInt(repost.ID, 10)); err != nil {
		e.log.Err(err).Int64("message_id", placeholder.ID).Msg("Failed to point placeholder at repost")
	}
	return repost.ID, nil
}

func (e *Engine) mirrorToDest(ctx context.Context, rw *rewrite.Rewriter, sourceCh *gateway.Channel, destID int64, body, header string, files []gateway.File, author gateway.User) ([]int64, error) {
	destCh, err := e.client.GetChannel(ctx, destID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination channel: %w", err)
	}
	rewritten := rw.Rewrite(ctx, body, sourceCh, destCh)
	// The header counts against the first chunk's limit, so it joins the
	// body before splitting.
	if header != "" {
		rewritten = header + rewritten
	}
	chunks := Pagify(rewritten, ChunkLimit)
	return e.sendChunks(ctx, destID, chunks, files, author)
}

// sendChunks delivers the chunks, attaching all files to the final send. On
// size rejection it falls back to per-file follow-ups, then to a text-only
// notice.
func (e *Engine) sendChunks(ctx context.Context, destID int64, chunks []string, files []gateway.File, author gateway.User) ([]int64, error) {
	var ids []int64
	for i, chunk := range chunks {
		req := gateway.SendRequest{Body: chunk}
		if i == len(chunks)-1 {
			req.Files = files
		}
		sent, err := e.client.Send(ctx, destID, req)
		if errors.Is(err, gateway.ErrPayloadTooLarge) && len(req.Files) > 0 {
			attachmentFallbackCount.Inc()
			moreIDs, ferr := e.sendWithFileFallback(ctx, destID, chunk, files, author)
			if ferr != nil {
				return ids, ferr
			}
			ids = append(ids, moreIDs...)
			continue
		}
		if err != nil {
			return ids, err
		}
		ids = append(ids, sent.ID)
	}
	return ids, nil
}

func (e *Engine) sendWithFileFallback(ctx context.Context, destID int64, chunk string, files []gateway.File, author gateway.User) ([]int64, error) {
	var ids []int64
	sent, err := e.client.Send(ctx, destID, gateway.SendRequest{Body: chunk})
	if err != nil {
		return nil, err
	}
	ids = append(ids, sent.ID)
	for _, f := range files {
		fm, err := e.client.Send(ctx, destID, gateway.SendRequest{Files: []gateway.File{f}})
		if errors.Is(err, gateway.ErrPayloadTooLarge) {
			notice, nerr := e.client.Send(ctx, destID, gateway.SendRequest{
				Body:            author.Mention() + tooLargeNotice,
				AllowedMentions: gateway.AllowedMentions{Users: true},
			})
			if nerr != nil {
				e.log.Err(nerr).Int64("channel_id", destID).Msg("Failed to send oversize-file notice")
				break
			}
			ids = append(ids, notice.ID)
			break
		}
		if err != nil {
			e.log.Err(err).Int64("channel_id", destID).Str("filename", f.Name).
				Msg("Failed to send follow-up attachment")
			continue
		}
		ids = append(ids, fm.ID)
	}
	return ids, nil
}

// handleDestError reacts to a failed destination post. Permission failures
// trigger a one-time onboarding DM to the destination guild owner; anything
// else is just logged and mirroring continues to the other destinations.
func (e *Engine) handleDestError(ctx context.Context, sourceID, destID int64, err error) {
	log := e.log.With().Int64("source_channel", sourceID).Int64("dest_channel", destID).Logger()
	if !errors.Is(err, gateway.ErrForbidden) {
		log.Err(err).Msg("Failed to mirror to destination")
		return
	}
	log.Warn().Msg("Missing permissions in destination channel")
	if e.notify == nil {
		return
	}
	destCh, cerr := e.client.GetChannel(ctx, destID)
	if cerr != nil {
		return
	}
	guild, gerr := e.client.GetGuild(ctx, destCh.GuildID)
	if gerr != nil {
		return
	}
	e.notify.DMOnce(ctx, guild.OwnerID, fmt.Sprintf("mirror-perms:%d", destID), fmt.Sprintf(
		"Hi! I tried to mirror a message into #%s on %s but I'm missing permissions. "+
			"Please grant me Send Messages, Embed Links, and Attach Files in that channel so mirroring can work.",
		destCh.Name, guild.Name))
}

// HandleEdit re-renders a tracked source message into its existing
// destination messages, preserving the one-to-one ID mapping.
func (e *Engine) HandleEdit(ctx context.Context, ev gateway.MessageEdit) error {
	cfg, ok := e.loadMirror(ctx, ev.ChannelID)
	if !ok {
		return nil
	}
	links := Links(&cfg).Get(ev.MessageID)
	if len(links) == 0 {
		return nil
	}
	msg := ev.Message
	if msg == nil {
		var err error
		msg, err = e.client.FetchMessage(ctx, ev.ChannelID, ev.MessageID)
		if errors.Is(err, gateway.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to fetch edited message: %w", err)
		}
	}
	sourceCh, err := e.client.GetChannel(ctx, ev.ChannelID)
	if err != nil {
		return fmt.Errorf("failed to resolve source channel: %w", err)
	}
	rw := e.rewriterFor(&cfg)
	for _, dl := range links {
		destCh, err := e.client.GetChannel(ctx, dl.ChannelID)
		if err != nil {
			e.handleDestError(ctx, ev.ChannelID, dl.ChannelID, err)
			continue
		}
		rewritten := rw.Rewrite(ctx, msg.Content, sourceCh, destCh)
		chunks := PagifyExact(rewritten, len(dl.MessageIDs), ChunkLimit)
		for i, destMsgID := range dl.MessageIDs {
			if _, err := e.client.Edit(ctx, dl.ChannelID, destMsgID, chunks[i]); err != nil {
				fanoutErrorCount.WithLabelValues("edit").Inc()
				e.handleDestError(ctx, ev.ChannelID, dl.ChannelID, err)
				break
			}
		}
	}
	fanoutCount.WithLabelValues("edit").Inc()
	return nil
}

// HandleReactionAdd propagates a reaction from the original author (or, in
// multiedit mode, anyone) onto the last destination message of each link.
func (e *Engine) HandleReactionAdd(ctx context.Context, ev gateway.ReactionAdd) error {
	return e.handleReaction(ctx, ev.ChannelID, ev.MessageID, ev.UserID, ev.Emoji, false)
}

// HandleReactionRemove mirrors a reaction removal. The bot removes its own
// reaction on the destination side, so the gateway call passes actor zero.
func (e *Engine) HandleReactionRemove(ctx context.Context, ev gateway.ReactionRemove) error {
	return e.handleReaction(ctx, ev.ChannelID, ev.MessageID, ev.UserID, ev.Emoji, true)
}

func (e *Engine) handleReaction(ctx context.Context, channelID, messageID, userID int64, emoji string, remove bool) error {
	cfg, ok := e.loadMirror(ctx, channelID)
	if !ok {
		return nil
	}
	links := Links(&cfg).Get(messageID)
	if len(links) == 0 {
		return nil
	}
	if !cfg.Multiedit {
		msg, err := e.client.FetchMessage(ctx, channelID, messageID)
		if err != nil || msg.Author.ID != userID {
			return nil
		}
	}
	emoji = variationselector.FullyQualify(emoji)
	for _, dl := range links {
		last := dl.MessageIDs[len(dl.MessageIDs)-1]
		var err error
		if remove {
			err = e.client.RemoveReaction(ctx, dl.ChannelID, last, emoji, 0)
		} else {
			err = e.client.AddReaction(ctx, dl.ChannelID, last, emoji)
		}
		if err != nil {
			fanoutErrorCount.WithLabelValues("reaction").Inc()
			e.handleDestError(ctx, channelID, dl.ChannelID, err)
		}
	}
	fanoutCount.WithLabelValues("reaction").Inc()
	return nil
}

// HandleDelete removes the mirrored copies of a deleted source message. The
// link table entry is left behind; the size bound rolls it out eventually.
func (e *Engine) HandleDelete(ctx context.Context, ev gateway.MessageDelete) error {
	cfg, ok := e.loadMirror(ctx, ev.ChannelID)
	if !ok || cfg.NoDeletion {
		return nil
	}
	links := Links(&cfg).Get(ev.MessageID)
	if len(links) == 0 {
		return nil
	}
	for _, dl := range links {
		for _, destMsgID := range dl.MessageIDs {
			if err := e.client.Delete(ctx, dl.ChannelID, destMsgID); err != nil {
				fanoutErrorCount.WithLabelValues("delete").Inc()
				e.handleDestError(ctx, ev.ChannelID, dl.ChannelID, err)
			}
		}
	}
	fanoutCount.WithLabelValues("delete").Inc()
	return nil
}
