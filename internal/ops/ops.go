// Package ops is the operator command surface: manual spawn triggers,
// per-guild configuration, and read-only status. Configuration changes go
// through the scheduler's reschedule request so they take effect immediately
// when idle and after resolution when a spawn is active.
package ops

import (
	"context"
	"strings"
	"sync"

	"spawnbot/internal/catalog"
	"spawnbot/internal/ledger"
	"spawnbot/internal/spawn"
	"spawnbot/internal/storage"
	"spawnbot/internal/transport"
	logx "spawnbot/pkg/logx"
)

type command struct {
	name      string
	usage     string
	ownerOnly bool
	handle    func(ctx context.Context, m transport.Message, args []string) string
}

type Service struct {
	log      logx.Logger
	msgr     transport.Messenger
	store    storage.Store
	cat      *catalog.Catalog
	exec     *spawn.Executor
	sched    *spawn.Scheduler
	resolver *spawn.Resolver
	ledger   *ledger.Service

	ownerMu sync.RWMutex
	owners  map[int64]bool

	commands map[string]command
	botName  string
}

func New(log logx.Logger, msgr transport.Messenger, store storage.Store, cat *catalog.Catalog, exec *spawn.Executor, sched *spawn.Scheduler, resolver *spawn.Resolver, led *ledger.Service, ownerIDs []int64) *Service {
	s := &Service{
		log:      log,
		msgr:     msgr,
		store:    store,
		cat:      cat,
		exec:     exec,
		sched:    sched,
		resolver: resolver,
		ledger:   led,
		owners:   ownerSet(ownerIDs),
	}
	s.register()
	return s
}

func ownerSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// SetOwners replaces the owner list (config hot reload).
func (s *Service) SetOwners(ids []int64) {
	s.ownerMu.Lock()
	s.owners = ownerSet(ids)
	s.ownerMu.Unlock()
}

func (s *Service) isOwner(userID int64) bool {
	s.ownerMu.RLock()
	defer s.ownerMu.RUnlock()
	return s.owners[userID]
}

// DispatchLoop consumes inbound messages: commands go to the command table,
// everything else is offered to the catch resolver.
func (s *Service) DispatchLoop(ctx context.Context, updates <-chan transport.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-updates:
			if !ok {
				return nil
			}
			s.handle(ctx, m)
		}
	}
}

func (s *Service) handle(ctx context.Context, m transport.Message) {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		s.resolver.HandleMessage(ctx, m)
		return
	}

	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	// Telegram appends "@botname" in groups.
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	cmd, ok := s.commands[strings.ToLower(name)]
	if !ok {
		return
	}
	if cmd.ownerOnly && !s.isOwner(m.FromID) {
		s.reply(ctx, m.ChatID, "You are not allowed to do that.")
		return
	}
	reply := cmd.handle(ctx, m, fields[1:])
	if reply != "" {
		s.reply(ctx, m.ChatID, reply)
	}
}

func (s *Service) reply(ctx context.Context, chatID int64, text string) {
	if _, err := s.msgr.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text); err != nil {
		s.log.Warn("command reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}
