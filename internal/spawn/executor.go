package spawn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"spawnbot/internal/catalog"
	"spawnbot/internal/eventbus"
	"spawnbot/internal/storage"
	"spawnbot/internal/transport"
	logx "spawnbot/pkg/logx"
)

// Executor performs the fire transition: guard, select, publish, register.
type Executor struct {
	mu       sync.Mutex
	inflight map[int64]bool
	lastFire map[int64]int64 // guild -> unix-ms of last successful fire

	opts  Options
	clock Clock
	store storage.Store
	reg   *Registry
	cat   *catalog.Catalog
	msgr  transport.Messenger
	sched *Scheduler
	bus   eventbus.Bus
	log   logx.Logger

	randInt func(n int) int
}

func NewExecutor(opts Options, clock Clock, store storage.Store, reg *Registry, cat *catalog.Catalog, msgr transport.Messenger, sched *Scheduler, bus eventbus.Bus, log logx.Logger) *Executor {
	return &Executor{
		inflight: make(map[int64]bool),
		lastFire: make(map[int64]int64),
		opts:     opts.withDefaults(),
		clock:    clock,
		store:    store,
		reg:      reg,
		cat:      cat,
		msgr:     msgr,
		sched:    sched,
		bus:      bus,
		log:      log,
		randInt:  rand.Intn,
	}
}

// SetRand overrides the random source (tests).
func (e *Executor) SetRand(fn func(n int) int) { e.randInt = fn }

// Fire attempts to publish a spawn for the guild. It returns true only when
// an event was actually published.
//
// forcedVariant selects a specific catalog entry when non-empty and known;
// manual marks an operator-triggered fire, which skips the debounce, and
// forcibly replaces any active spawn.
func (e *Executor) Fire(ctx context.Context, guildID int64, forcedVariant string, manual bool) bool {
	// Re-entrancy guard: a fire already in progress for this guild wins.
	e.mu.Lock()
	if e.inflight[guildID] {
		e.mu.Unlock()
		e.log.Debug("fire already in progress", logx.Int64("guild", guildID))
		return false
	}
	e.inflight[guildID] = true
	last := e.lastFire[guildID]
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, guildID)
		e.mu.Unlock()
	}()

	now := e.clock.Now()

	// Duplicate-fire suppression: a scheduled fire racing a recent one (e.g.
	// a timer callback landing just after a manual trigger) is dropped.
	if !manual && last > 0 && now.UnixMilli()-last < e.opts.DebounceWindow.Milliseconds() {
		e.log.Debug("fire debounced", logx.Int64("guild", guildID))
		return false
	}

	// Clear the armed timer and its persisted mirror up front, so a crash
	// mid-fire cannot leave a stale future timestamp.
	e.sched.ClearTimer(ctx, guildID)

	if ev := e.reg.Get(guildID); ev != nil {
		if !manual {
			e.log.Debug("spawn already active", logx.Int64("guild", guildID))
			e.sched.Arm(ctx, guildID)
			return false
		}
		// Manual triggers always restart the event: retract the old message
		// best-effort and drop the stale entry.
		ref := transport.MessageRef{ChatID: ev.ChannelID, MessageID: ev.MessageID}
		if err := e.msgr.DeleteMessage(ctx, ref); err != nil {
			e.log.Warn("stale spawn message not deleted", logx.Int64("guild", guildID), logx.Err(err))
		}
		e.reg.Clear(ctx, guildID)
	}

	gc, err := e.store.GuildConfig(ctx, guildID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.log.Warn("guild config read failed", logx.Int64("guild", guildID), logx.Err(err))
	}
	if gc.ChannelID == 0 {
		e.log.Debug("no spawn channel configured", logx.Int64("guild", guildID))
		e.sched.Arm(ctx, guildID)
		return false
	}

	limit := gc.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	count := e.drawCount(limit)

	variant, ok := catalog.Variant{}, false
	if forcedVariant != "" {
		variant, ok = e.cat.Get(forcedVariant)
	}
	if !ok {
		variant = e.cat.Pick(e.randInt)
	}

	ref, err := e.publish(ctx, transport.ChatTarget{ChatID: gc.ChannelID}, variant, count)
	if err != nil {
		e.log.Warn("spawn publish failed", logx.Int64("guild", guildID), logx.String("variant", variant.ID), logx.Err(err))
		e.sched.Arm(ctx, guildID)
		return false
	}

	ev := ActiveEvent{
		GuildID:   guildID,
		MessageID: ref.MessageID,
		ChannelID: gc.ChannelID,
		SpawnedAt: now,
		Count:     count,
		Variant:   variant,
	}
	e.reg.Set(ctx, ev)

	e.mu.Lock()
	e.lastFire[guildID] = now.UnixMilli()
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Kind: eventbus.KindSpawned, GuildID: guildID, VariantID: variant.ID, Count: count})
	}
	e.log.Info("spawn published",
		logx.Int64("guild", guildID),
		logx.String("variant", variant.ID),
		logx.Int("count", count),
		logx.Bool("manual", manual))
	return true
}

// drawCount samples the event size in [1, limit] with weight k for count k,
// so higher configured limits meaningfully favor multi-unit spawns over a
// uniform draw.
func (e *Executor) drawCount(limit int) int {
	if limit <= 1 {
		return 1
	}
	total := limit * (limit + 1) / 2
	r := e.randInt(total)
	for k := 1; k <= limit; k++ {
		r -= k
		if r < 0 {
			return k
		}
	}
	return limit
}

func (e *Executor) caption(v catalog.Variant, count int) string {
	qty := ""
	if count > 1 {
		qty = fmt.Sprintf(" ×%d", count)
	}
	return fmt.Sprintf("A wild %s%s appeared! Type %q to claim it.", v.Name, qty, e.opts.CatchToken)
}

// publishStrategy is one rung of the publish fallback ladder. hasMedia marks
// strategies whose success already delivered the creature image.
type publishStrategy struct {
	name     string
	hasMedia bool
	run      func(ctx context.Context) (transport.MessageRef, error)
}

// publish tries an ordered fallback chain: rich photo+caption, the same with
// a freshly read buffer, then plain text. The first success wins; when only
// text landed, the image is attempted as a separate follow-up whose failure
// is non-fatal (the claimable message already exists).
func (e *Executor) publish(ctx context.Context, to transport.ChatTarget, v catalog.Variant, count int) (transport.MessageRef, error) {
	text := e.caption(v, count)

	imgPath := ""
	if e.opts.AssetsDir != "" && strings.TrimSpace(v.Image) != "" {
		imgPath = filepath.Join(e.opts.AssetsDir, v.Image)
	}

	sendPhoto := func(ctx context.Context) (transport.MessageRef, error) {
		img, err := os.ReadFile(imgPath)
		if err != nil {
			return transport.MessageRef{}, err
		}
		return e.msgr.SendPhoto(ctx, to, img, v.Image, text)
	}

	var chain []publishStrategy
	if imgPath != "" {
		chain = append(chain,
			publishStrategy{name: "photo", hasMedia: true, run: sendPhoto},
			// Re-reads the file so a consumed or replaced buffer cannot fail
			// the retry the same way.
			publishStrategy{name: "photo_fresh_buffer", hasMedia: true, run: sendPhoto},
		)
	}
	chain = append(chain, publishStrategy{name: "text_only", run: func(ctx context.Context) (transport.MessageRef, error) {
		return e.msgr.SendText(ctx, to, text)
	}})

	var lastErr error
	for _, st := range chain {
		ref, err := st.run(ctx)
		if err != nil {
			lastErr = err
			e.log.Debug("publish strategy failed", logx.String("strategy", st.name), logx.String("variant", v.ID), logx.Err(err))
			continue
		}
		if !st.hasMedia && imgPath != "" {
			if img, err2 := os.ReadFile(imgPath); err2 == nil {
				if _, err2 = e.msgr.SendPhoto(ctx, to, img, v.Image, ""); err2 != nil {
					e.log.Warn("follow-up media failed", logx.String("variant", v.ID), logx.Err(err2))
				}
			}
		}
		return ref, nil
	}
	return transport.MessageRef{}, fmt.Errorf("publish: %w", lastErr)
}
