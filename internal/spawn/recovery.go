package spawn

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"spawnbot/internal/catalog"
	"spawnbot/internal/eventbus"
	"spawnbot/internal/storage"
	"spawnbot/internal/transport"
	logx "spawnbot/pkg/logx"
)

// Recovery reconstructs the active-spawn registry and pending timers from the
// durable store at process start. Persisted rows are validated, not trusted:
// anything that no longer checks out against the real chat message is dropped.
type Recovery struct {
	opts  Options
	clock Clock
	store storage.Store
	reg   *Registry
	cat   *catalog.Catalog
	msgr  transport.Messenger
	sched *Scheduler
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecovery(opts Options, clock Clock, store storage.Store, reg *Registry, cat *catalog.Catalog, msgr transport.Messenger, sched *Scheduler, bus eventbus.Bus, log logx.Logger) *Recovery {
	return &Recovery{
		opts:  opts.withDefaults(),
		clock: clock,
		store: store,
		reg:   reg,
		cat:   cat,
		msgr:  msgr,
		sched: sched,
		bus:   bus,
		log:   log,
	}
}

// Run validates every persisted active spawn, repopulates the registry with
// the survivors, and re-arms timers for all known guilds. Guilds whose
// persisted fire time is still in the future keep their original schedule.
func (rv *Recovery) Run(ctx context.Context) error {
	rows, err := rv.store.ListActiveSpawns(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			rv.validate(gctx, row)
			return nil
		})
	}
	_ = g.Wait()

	guilds, err := rv.store.ListGuilds(ctx)
	if err != nil {
		return err
	}
	now := rv.clock.Now()
	for _, gc := range guilds {
		if rv.reg.Get(gc.GuildID) != nil {
			// An active spawn survived; scheduling resumes on resolution.
			continue
		}
		if gc.NextFireAt > now.UnixMilli() {
			rv.sched.ArmRemaining(ctx, gc.GuildID, time.UnixMilli(gc.NextFireAt))
			continue
		}
		rv.sched.Arm(ctx, gc.GuildID)
	}

	rv.log.Info("recovery complete",
		logx.Int("persisted_rows", len(rows)),
		logx.Int("restored", rv.reg.Len()),
		logx.Int("guilds", len(guilds)))
	return nil
}

func (rv *Recovery) validate(ctx context.Context, row storage.ActiveSpawn) {
	ref := transport.MessageRef{ChatID: row.ChannelID, MessageID: row.MessageID}

	info, err := rv.msgr.FetchMessage(ctx, ref)
	if err != nil {
		rv.drop(ctx, row, "message unreachable")
		return
	}
	if info.AuthorID != rv.msgr.SelfID() {
		rv.drop(ctx, row, "foreign author")
		return
	}
	drift := info.SentAt.Sub(time.UnixMilli(row.SpawnedAt))
	if drift < 0 {
		drift = -drift
	}
	if drift > rv.opts.RecoveryDriftTolerance {
		rv.drop(ctx, row, "timestamp drift")
		return
	}
	variant, ok := rv.cat.Get(row.VariantID)
	if !ok {
		rv.drop(ctx, row, "unknown variant")
		return
	}

	rv.reg.Restore(ActiveEvent{
		GuildID:   row.GuildID,
		MessageID: row.MessageID,
		ChannelID: row.ChannelID,
		SpawnedAt: time.UnixMilli(row.SpawnedAt),
		Count:     row.Count,
		Variant:   variant,
	})
	rv.log.Info("active spawn restored", logx.Int64("guild", row.GuildID), logx.String("variant", row.VariantID))
}

func (rv *Recovery) drop(ctx context.Context, row storage.ActiveSpawn, reason string) {
	if err := rv.store.DeleteActiveSpawn(ctx, row.GuildID); err != nil {
		rv.log.Warn("stale spawn row not deleted", logx.Int64("guild", row.GuildID), logx.Err(err))
	}
	if rv.bus != nil {
		rv.bus.Publish(eventbus.Event{Kind: eventbus.KindRecoveryDropped, GuildID: row.GuildID, VariantID: row.VariantID})
	}
	rv.log.Warn("persisted spawn rejected",
		logx.Int64("guild", row.GuildID),
		logx.String("variant", row.VariantID),
		logx.String("reason", reason))
}
