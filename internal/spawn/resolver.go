package spawn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"spawnbot/internal/eventbus"
	"spawnbot/internal/storage"
	"spawnbot/internal/transport"
	logx "spawnbot/pkg/logx"
)

// Resolver consumes inbound guild messages and resolves the first qualifying
// claim against the active spawn.
type Resolver struct {
	opts   Options
	clock  Clock
	store  storage.Store
	reg    *Registry
	ledger Ledger
	msgr   transport.Messenger
	sched  *Scheduler
	bus    eventbus.Bus
	log    logx.Logger
}

func NewResolver(opts Options, clock Clock, store storage.Store, reg *Registry, ledger Ledger, msgr transport.Messenger, sched *Scheduler, bus eventbus.Bus, log logx.Logger) *Resolver {
	return &Resolver{
		opts:   opts.withDefaults(),
		clock:  clock,
		store:  store,
		reg:    reg,
		ledger: ledger,
		msgr:   msgr,
		sched:  sched,
		bus:    bus,
		log:    log,
	}
}

// HandleMessage reports whether the message claimed a spawn.
//
// First responder wins: the active spawn is removed from the registry (memory
// and durable mirror) before any slow work, so a near-simultaneous second
// claim finds nothing.
func (r *Resolver) HandleMessage(ctx context.Context, m transport.Message) bool {
	if m.FromID == r.msgr.SelfID() {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(m.Text), r.opts.CatchToken) {
		return false
	}

	ev, ok := r.reg.TakeByChannel(ctx, m.ChatID)
	if !ok {
		return false
	}
	elapsed := r.clock.Now().Sub(ev.SpawnedAt)

	total, err := r.ledger.GrantUnits(ctx, m.FromID, ev.GuildID, ev.Variant.ID, ev.Count, elapsed)
	if err != nil {
		// Fail-forward: the spawn stays resolved, the responder gets an
		// explicit failure notice, and nothing retries this event.
		r.log.Error("grant failed",
			logx.Int64("guild", ev.GuildID),
			logx.Int64("user", m.FromID),
			logx.String("variant", ev.Variant.ID),
			logx.Err(err))
		r.notify(ctx, ev.ChannelID, fmt.Sprintf("@%s caught the %s, but the catch could not be recorded. Sorry!", m.FromUsername, ev.Variant.Name))
	} else {
		r.notify(ctx, ev.ChannelID, r.caughtText(m.FromUsername, ev, total, elapsed))
	}

	// Post-resolution cleanup of the spawn message is opt-in per guild and
	// best-effort: permission or existence failures are swallowed.
	if gc, cfgErr := r.store.GuildConfig(ctx, ev.GuildID); cfgErr == nil && gc.CleanupOnCatch {
		ref := transport.MessageRef{ChatID: ev.ChannelID, MessageID: ev.MessageID}
		if delErr := r.msgr.DeleteMessage(ctx, ref); delErr != nil {
			r.log.Debug("spawn message cleanup failed", logx.Int64("guild", ev.GuildID), logx.Err(delErr))
		}
	}

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Kind:      eventbus.KindResolved,
			GuildID:   ev.GuildID,
			VariantID: ev.Variant.ID,
			Count:     ev.Count,
			UserID:    m.FromID,
		})
	}
	r.log.Info("spawn resolved",
		logx.Int64("guild", ev.GuildID),
		logx.Int64("user", m.FromID),
		logx.String("variant", ev.Variant.ID),
		logx.Int("count", ev.Count),
		logx.Duration("elapsed", elapsed))

	// Consume any reschedule deferred while the spawn was active, then
	// resume scheduling either way.
	r.sched.ConsumePending(ev.GuildID)
	r.sched.Arm(ctx, ev.GuildID)
	return true
}

func (r *Resolver) caughtText(username string, ev ActiveEvent, total int, elapsed time.Duration) string {
	qty := ""
	if ev.Count > 1 {
		qty = fmt.Sprintf("%d× ", ev.Count)
	}
	return fmt.Sprintf("@%s caught %s%s in %s! They now hold %d.",
		username, qty, ev.Variant.Name, elapsed.Round(time.Second), total)
}

func (r *Resolver) notify(ctx context.Context, channelID int64, text string) {
	if _, err := r.msgr.SendText(ctx, transport.ChatTarget{ChatID: channelID}, text); err != nil {
		r.log.Warn("resolution notice failed", logx.Int64("channel", channelID), logx.Err(err))
	}
}
