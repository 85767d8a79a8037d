package spawn

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"spawnbot/internal/storage"
	logx "spawnbot/pkg/logx"
)

// FireFunc is invoked when a guild's timer elapses. Wired to Executor.Fire.
type FireFunc func(ctx context.Context, guildID int64)

// Scheduler owns one timer per guild, computes randomized delays from the
// guild's configured bounds, and persists the computed fire time so a restart
// can resume the original schedule.
//
// It also carries the pending-reschedule flags: a reschedule requested while
// a spawn is active is deferred and applied once the spawn resolves.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[int64]Timer
	fireAts map[int64]time.Time
	pending map[int64]bool
	runCtx  context.Context

	opts  Options
	clock Clock
	store storage.Store
	reg   *Registry
	log   logx.Logger

	fire    FireFunc
	randInt func(n int) int
}

func NewScheduler(opts Options, clock Clock, store storage.Store, reg *Registry, log logx.Logger) *Scheduler {
	return &Scheduler{
		timers:  make(map[int64]Timer),
		fireAts: make(map[int64]time.Time),
		pending: make(map[int64]bool),
		opts:    opts.withDefaults(),
		clock:   clock,
		store:   store,
		reg:     reg,
		log:     log,
		randInt: rand.Intn,
	}
}

// SetFireFunc wires the timer callback. Must be called before Start.
func (s *Scheduler) SetFireFunc(fn FireFunc) { s.fire = fn }

// SetRand overrides the random source (tests).
func (s *Scheduler) SetRand(fn func(n int) int) { s.randInt = fn }

// Start records the context timer callbacks run under.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()
}

// Arm schedules the guild's next fire with a fresh random delay.
//
// If a spawn is currently active, arming is deferred: the pending flag is set
// and the timer is armed when the spawn resolves. A guild with no configured
// channel still gets a timer (the fire itself no-ops and reschedules), so
// spawning activates as soon as a channel is set.
func (s *Scheduler) Arm(ctx context.Context, guildID int64) {
	if s.reg.Get(guildID) != nil {
		s.mu.Lock()
		s.pending[guildID] = true
		s.mu.Unlock()
		s.log.Debug("arm deferred, spawn active", logx.Int64("guild", guildID))
		return
	}

	min, max := s.bounds(ctx, guildID)
	span := int(max/time.Second) - int(min/time.Second)
	delay := min + time.Duration(s.randInt(span+1))*time.Second
	s.armAt(ctx, guildID, delay, true)
}

// ArmRemaining re-creates a timer for a fire time persisted before a restart,
// without drawing a new random delay or rewriting next_fire_at.
func (s *Scheduler) ArmRemaining(ctx context.Context, guildID int64, fireAt time.Time) {
	delay := fireAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.armAt(ctx, guildID, delay, false)
}

func (s *Scheduler) armAt(ctx context.Context, guildID int64, delay time.Duration, persist bool) {
	fireAt := s.clock.Now().Add(delay)

	s.mu.Lock()
	// Cancel-then-set: never two live timers for one guild.
	if t := s.timers[guildID]; t != nil {
		t.Stop()
	}
	s.timers[guildID] = s.clock.AfterFunc(delay, func() { s.onTimer(guildID) })
	s.fireAts[guildID] = fireAt
	s.mu.Unlock()

	s.log.Debug("spawn armed", logx.Int64("guild", guildID), logx.Duration("delay", delay))
	if persist {
		if err := s.store.SetNextFire(ctx, guildID, fireAt.UnixMilli()); err != nil {
			s.log.Warn("next fire time not persisted", logx.Int64("guild", guildID), logx.Err(err))
		}
	}
}

func (s *Scheduler) onTimer(guildID int64) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	if s.fire != nil {
		s.fire(ctx, guildID)
	}
}

// bounds reads the guild's interval configuration, falling back to the engine
// defaults when unset or invalid.
func (s *Scheduler) bounds(ctx context.Context, guildID int64) (time.Duration, time.Duration) {
	min, max := s.opts.DefaultMinInterval, s.opts.DefaultMaxInterval
	gc, err := s.store.GuildConfig(ctx, guildID)
	if err == nil {
		if gc.MinIntervalS > 0 {
			min = time.Duration(gc.MinIntervalS) * time.Second
		}
		if gc.MaxIntervalS > 0 {
			max = time.Duration(gc.MaxIntervalS) * time.Second
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("guild config read failed, using defaults", logx.Int64("guild", guildID), logx.Err(err))
	}
	if max < min {
		max = min
	}
	return min, max
}

// ClearTimer cancels the guild's armed timer and clears the persisted fire
// time, so a crash mid-fire cannot leave a stale future timestamp.
func (s *Scheduler) ClearTimer(ctx context.Context, guildID int64) {
	s.mu.Lock()
	if t := s.timers[guildID]; t != nil {
		t.Stop()
	}
	delete(s.timers, guildID)
	delete(s.fireAts, guildID)
	s.mu.Unlock()

	if err := s.store.SetNextFire(ctx, guildID, 0); err != nil {
		s.log.Warn("next fire time not cleared", logx.Int64("guild", guildID), logx.Err(err))
	}
}

// RequestReschedule applies a configuration change to the guild's schedule:
// immediately when idle, deferred via the pending flag while a spawn is
// active.
func (s *Scheduler) RequestReschedule(ctx context.Context, guildID int64) {
	if s.reg.Get(guildID) != nil {
		s.mu.Lock()
		s.pending[guildID] = true
		s.mu.Unlock()
		return
	}
	s.Arm(ctx, guildID)
}

// ConsumePending clears and reports the guild's pending-reschedule flag.
func (s *Scheduler) ConsumePending(guildID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.pending[guildID]
	delete(s.pending, guildID)
	return v
}

// Status is the read-only schedule view for the operator surface.
type Status struct {
	Active    *ActiveEvent
	NextFire  time.Time // zero when no timer armed
	Pending   bool
	ArmedNow  time.Time // observation time
}

func (s *Scheduler) Status(guildID int64) Status {
	st := Status{Active: s.reg.Get(guildID), ArmedNow: s.clock.Now()}
	s.mu.Lock()
	st.NextFire = s.fireAts[guildID]
	st.Pending = s.pending[guildID]
	s.mu.Unlock()
	return st
}

// Shutdown stops every owned timer.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for gid, t := range s.timers {
		if t != nil {
			t.Stop()
		}
		delete(s.timers, gid)
	}
}
