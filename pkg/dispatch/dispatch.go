// Copyright 2024-2026 Aiku AI

// Package dispatch routes gateway events through the moderation and mirror
// engines. Events for one source channel run strictly in arrival order on a
// dedicated worker; different channels run concurrently.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/channelguard/pkg/automod"
	"github.com/aiku/channelguard/pkg/gateway"
	"github.com/aiku/channelguard/pkg/mirror"
	"github.com/aiku/channelguard/pkg/watchdog"
)

// workerQueueSize bounds how many events one channel can queue before the
// feeding goroutine blocks.
const workerQueueSize = 64

type worker struct {
	jobs chan func()
}

// Dispatcher fans gateway events out to the engines in a fixed order per
// event: AutoMod first, then Watchdog, then Mirror. Mirror is skipped when
// AutoMod deleted the message.
type Dispatcher struct {
	client   gateway.Client
	automod  *automod.Engine
	watchdog *watchdog.Monitor
	mirror   *mirror.Engine
	log      zerolog.Logger

	mu      sync.Mutex
	closed  bool
	workers map[int64]*worker
	wg      sync.WaitGroup
}

// New creates a dispatcher over the three engines. Any engine may be nil to
// disable that stage.
func New(client gateway.Client, am *automod.Engine, wd *watchdog.Monitor, mir *mirror.Engine, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		client:   client,
		automod:  am,
		watchdog: wd,
		mirror:   mir,
		log:      log.With().Str("component", "dispatch").Logger(),
		workers:  make(map[int64]*worker),
	}
}

// enqueue hands a job to the FIFO worker for key, spawning the worker on
// first use. Jobs enqueued after Close are dropped. The send happens under
// the lock so Close cannot close the channel between lookup and send; the
// workers drain without taking the lock, so a full queue blocks but never
// deadlocks.
func (d *Dispatcher) enqueue(key int64, job func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	w, ok := d.workers[key]
	if !ok {
		w = &worker{jobs: make(chan func(), workerQueueSize)}
		d.workers[key] = w
		d.wg.Add(1)
		go d.run(w)
	}
	queueDepth.Inc()
	w.jobs <- job
}

func (d *Dispatcher) run(w *worker) {
	defer d.wg.Done()
	for job := range w.jobs {
		queueDepth.Dec()
		d.safeRun(job)
	}
}

func (d *Dispatcher) safeRun(job func()) {
	defer func() {
		if r := recover(); r != nil {
			panicCount.Inc()
			d.log.Error().Any("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered handler panic")
		}
	}()
	job()
}

// Close stops accepting events and waits for queued jobs to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// automodExempt reports whether the author is out of AutoMod's scope: bots,
// direct messages, and members holding manage-messages are never moderated.
// A failed permission lookup is logged and treated as not exempt.
func (d *Dispatcher) automodExempt(ctx context.Context, msg *gateway.Message) bool {
	if msg.Author.Bot || msg.GuildID == 0 {
		return true
	}
	manager, err := d.client.CanManageMessages(ctx, msg.GuildID, msg.Author.ID)
	if err != nil {
		d.log.Warn().Err(err).Int64("guild_id", msg.GuildID).Int64("user_id", msg.Author.ID).
			Msg("Failed to resolve manage-messages permission")
		return false
	}
	return manager
}

// OnMessageCreate routes a new message through AutoMod, Watchdog, and (when
// the message survived) Mirror. Bot and DM messages bypass both moderation
// stages; manager messages bypass AutoMod only.
func (d *Dispatcher) OnMessageCreate(ctx context.Context, ev gateway.MessageCreate) {
	eventCount.WithLabelValues("message_create").Inc()
	msg := ev.Message
	d.enqueue(msg.ChannelID, func() {
		deleted := false
		if d.automod != nil && !d.automodExempt(ctx, msg) {
			deleted = d.automod.HandleMessage(ctx, msg)
		}
		if d.watchdog != nil && !msg.Author.Bot {
			d.watchdog.Observe(ctx, msg)
		}
		if deleted || d.mirror == nil {
			return
		}
		if err := d.mirror.HandleMessage(ctx, msg); err != nil {
			d.log.Err(err).Int64("channel_id", msg.ChannelID).Int64("message_id", msg.ID).
				Msg("Mirror fan-out failed")
		}
	})
}

// OnMessageEdit re-runs AutoMod on the edited body, then updates mirrored
// copies. An edit whose message is gone by fetch time is dropped.
func (d *Dispatcher) OnMessageEdit(ctx context.Context, ev gateway.MessageEdit) {
	eventCount.WithLabelValues("message_edit").Inc()
	d.enqueue(ev.ChannelID, func() {
		msg := ev.Message
		if msg == nil {
			var err error
			msg, err = d.client.FetchMessage(ctx, ev.ChannelID, ev.MessageID)
			if errors.Is(err, gateway.ErrNotFound) {
				return
			}
			if err != nil {
				d.log.Err(err).Int64("message_id", ev.MessageID).Msg("Failed to fetch edited message")
				return
			}
			ev.Message = msg
		}
		if d.automod != nil && !d.automodExempt(ctx, msg) && d.automod.HandleMessage(ctx, msg) {
			return
		}
		if d.mirror == nil {
			return
		}
		if err := d.mirror.HandleEdit(ctx, ev); err != nil {
			d.log.Err(err).Int64("message_id", ev.MessageID).Msg("Mirror edit failed")
		}
	})
}

// OnMessageDelete propagates source deletions to mirrored copies.
func (d *Dispatcher) OnMessageDelete(ctx context.Context, ev gateway.MessageDelete) {
	eventCount.WithLabelValues("message_delete").Inc()
	if d.mirror == nil {
		return
	}
	d.enqueue(ev.ChannelID, func() {
		if err := d.mirror.HandleDelete(ctx, ev); err != nil {
			d.log.Err(err).Int64("message_id", ev.MessageID).Msg("Mirror delete failed")
		}
	})
}

// OnReactionAdd propagates reactions on tracked source messages.
func (d *Dispatcher) OnReactionAdd(ctx context.Context, ev gateway.ReactionAdd) {
	eventCount.WithLabelValues("reaction_add").Inc()
	if d.mirror == nil {
		return
	}
	d.enqueue(ev.ChannelID, func() {
		if err := d.mirror.HandleReactionAdd(ctx, ev); err != nil {
			d.log.Err(err).Int64("message_id", ev.MessageID).Msg("Mirror reaction add failed")
		}
	})
}

// OnReactionRemove propagates reaction removals on tracked source messages.
func (d *Dispatcher) OnReactionRemove(ctx context.Context, ev gateway.ReactionRemove) {
	eventCount.WithLabelValues("reaction_remove").Inc()
	if d.mirror == nil {
		return
	}
	d.enqueue(ev.ChannelID, func() {
		if err := d.mirror.HandleReactionRemove(ctx, ev); err != nil {
			d.log.Err(err).Int64("message_id", ev.MessageID).Msg("Mirror reaction remove failed")
		}
	})
}

// OnMemberUpdate feeds profile changes to the watchdog. Member updates are
// guild-wide, so they serialize on a negated guild key that cannot collide
// with channel IDs.
func (d *Dispatcher) OnMemberUpdate(ctx context.Context, ev gateway.MemberUpdate) {
	eventCount.WithLabelValues("member_update").Inc()
	if d.watchdog == nil {
		return
	}
	d.enqueue(-ev.GuildID, func() {
		d.watchdog.ObserveMemberUpdate(ctx, &ev)
	})
}
