// Package janitor runs periodic maintenance: pruning crash-leftover spawn
// rows that recovery never reclaimed and logging engine counters.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"spawnbot/internal/eventbus"
	"spawnbot/internal/spawn"
	"spawnbot/internal/storage"
	logx "spawnbot/pkg/logx"
)

// rows older than this with no registry entry are considered abandoned.
const abandonedAfter = 48 * time.Hour

type Config struct {
	Enabled  bool
	Schedule string // cron spec, default "@every 1h"
}

type Service struct {
	cfg   Config
	store storage.Store
	reg   *spawn.Registry
	bus   eventbus.Bus
	log   logx.Logger

	mu       sync.Mutex
	c        *cron.Cron
	unsub    func()
	spawned  uint64
	resolved uint64
}

func New(cfg Config, store storage.Store, reg *spawn.Registry, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	return &Service{cfg: cfg, store: store, reg: reg, bus: bus, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.c = c

	if s.bus != nil {
		ch, unsub := s.bus.Subscribe(64)
		s.unsub = unsub
		go s.count(ctx, ch)
	}
	s.log.Info("janitor started", logx.String("schedule", s.cfg.Schedule))
	return nil
}

func (s *Service) count(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.mu.Lock()
			switch e.Kind {
			case eventbus.KindSpawned:
				s.spawned++
			case eventbus.KindResolved:
				s.resolved++
			}
			s.mu.Unlock()
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-abandonedAfter).UnixMilli()
	removed, err := s.store.PruneActiveSpawns(ctx, cutoff, s.reg.GuildIDs())
	if err != nil {
		s.log.Warn("prune failed", logx.Err(err))
	}

	s.mu.Lock()
	spawned, resolved := s.spawned, s.resolved
	s.mu.Unlock()
	s.log.Info("maintenance sweep",
		logx.Int64("pruned_rows", removed),
		logx.Int("active_spawns", s.reg.Len()),
		logx.Uint64("spawned_total", spawned),
		logx.Uint64("resolved_total", resolved))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if c == nil {
		return
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}
