package ops

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"spawnbot/internal/storage"
	"spawnbot/internal/transport"
)

const (
	minIntervalFloor = 30 * time.Second
	maxIntervalCeil  = 6 * time.Hour
)

func (s *Service) register() {
	s.commands = map[string]command{
		"spawn": {
			name:      "spawn",
			usage:     "/spawn [variant] - force a spawn now",
			ownerOnly: true,
			handle:    s.cmdSpawn,
		},
		"status": {
			name:   "status",
			usage:  "/status - schedule and active spawn",
			handle: s.cmdStatus,
		},
		"setchannel": {
			name:      "setchannel",
			usage:     "/setchannel - spawn into this chat",
			ownerOnly: true,
			handle:    s.cmdSetChannel,
		},
		"interval": {
			name:      "interval",
			usage:     "/interval <min> <max> - e.g. /interval 2m 45m",
			ownerOnly: true,
			handle:    s.cmdInterval,
		},
		"limit": {
			name:      "limit",
			usage:     "/limit <n> - max units per spawn",
			ownerOnly: true,
			handle:    s.cmdLimit,
		},
		"cleanup": {
			name:      "cleanup",
			usage:     "/cleanup on|off - delete spawn message after catch",
			ownerOnly: true,
			handle:    s.cmdCleanup,
		},
		"bag": {
			name:   "bag",
			usage:  "/bag - your holdings in this guild",
			handle: s.cmdBag,
		},
		"dex": {
			name:   "dex",
			usage:  "/dex - spawnable creatures",
			handle: s.cmdDex,
		},
		"help": {
			name:   "help",
			usage:  "/help - this text",
			handle: s.cmdHelp,
		},
	}
}

func (s *Service) cmdSpawn(ctx context.Context, m transport.Message, args []string) string {
	variant := ""
	if len(args) > 0 {
		variant = args[0]
		if _, ok := s.cat.Get(variant); !ok {
			return fmt.Sprintf("Unknown creature %q - see /dex.", variant)
		}
	}
	if s.exec.Fire(ctx, m.ChatID, variant, true) {
		return "" // the spawn message itself is the feedback
	}
	return "No spawn occurred, try again shortly."
}

func (s *Service) cmdStatus(ctx context.Context, m transport.Message, _ []string) string {
	st := s.sched.Status(m.ChatID)
	if st.Active != nil {
		age := st.ArmedNow.Sub(st.Active.SpawnedAt).Round(time.Second)
		return fmt.Sprintf("Active spawn: %s ×%d, age %s (pending reschedule: %v)",
			st.Active.Variant.Name, st.Active.Count, age, st.Pending)
	}
	if !st.NextFire.IsZero() {
		in := st.NextFire.Sub(st.ArmedNow).Round(time.Second)
		if in < 0 {
			in = 0
		}
		return fmt.Sprintf("Next spawn in %s (pending reschedule: %v)", in, st.Pending)
	}
	return "Not scheduled. Use /setchannel to enable spawns here."
}

func (s *Service) cmdSetChannel(ctx context.Context, m transport.Message, _ []string) string {
	gc := s.guildConfig(ctx, m.ChatID)
	gc.ChannelID = m.ChatID
	if err := s.store.UpsertGuildConfig(ctx, gc); err != nil {
		return "Could not save the channel, try again."
	}
	s.sched.RequestReschedule(ctx, m.ChatID)
	return "Spawns will appear in this chat."
}

func (s *Service) cmdInterval(ctx context.Context, m transport.Message, args []string) string {
	if len(args) != 2 {
		return "Usage: /interval <min> <max> - e.g. /interval 2m 45m"
	}
	min, err1 := parseInterval(args[0])
	max, err2 := parseInterval(args[1])
	if err1 != nil || err2 != nil {
		return "Intervals must be durations (45s, 10m, 1h) or plain seconds."
	}
	if min < minIntervalFloor || max > maxIntervalCeil || min > max {
		return fmt.Sprintf("Bounds must satisfy %s ≤ min ≤ max ≤ %s.", minIntervalFloor, maxIntervalCeil)
	}
	gc := s.guildConfig(ctx, m.ChatID)
	gc.MinIntervalS = int(min / time.Second)
	gc.MaxIntervalS = int(max / time.Second)
	if err := s.store.UpsertGuildConfig(ctx, gc); err != nil {
		return "Could not save the interval, try again."
	}
	s.sched.RequestReschedule(ctx, m.ChatID)
	return fmt.Sprintf("Spawn interval set to %s–%s.", min, max)
}

func (s *Service) cmdLimit(ctx context.Context, m transport.Message, args []string) string {
	if len(args) != 1 {
		return "Usage: /limit <n>"
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > 50 {
		return "Limit must be between 1 and 50."
	}
	gc := s.guildConfig(ctx, m.ChatID)
	gc.MaxConcurrent = n
	if err := s.store.UpsertGuildConfig(ctx, gc); err != nil {
		return "Could not save the limit, try again."
	}
	s.sched.RequestReschedule(ctx, m.ChatID)
	return fmt.Sprintf("Spawns may now bring up to %d units.", n)
}

func (s *Service) cmdCleanup(ctx context.Context, m transport.Message, args []string) string {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return "Usage: /cleanup on|off"
	}
	gc := s.guildConfig(ctx, m.ChatID)
	gc.CleanupOnCatch = args[0] == "on"
	if err := s.store.UpsertGuildConfig(ctx, gc); err != nil {
		return "Could not save the setting, try again."
	}
	if gc.CleanupOnCatch {
		return "Spawn messages will be deleted after a catch."
	}
	return "Spawn messages will be kept after a catch."
}

func (s *Service) cmdBag(ctx context.Context, m transport.Message, _ []string) string {
	holdings, err := s.ledger.Holdings(ctx, m.FromID, m.ChatID)
	if err != nil {
		return "Could not read your bag, try again."
	}
	if len(holdings) == 0 {
		return "Your bag is empty. Catch something!"
	}
	var b strings.Builder
	b.WriteString("Your bag:\n")
	for _, h := range holdings {
		name := h.VariantID
		if v, ok := s.cat.Get(h.VariantID); ok {
			name = v.Name
		}
		fmt.Fprintf(&b, "  %s ×%d\n", name, h.Count)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Service) cmdDex(_ context.Context, _ transport.Message, _ []string) string {
	var b strings.Builder
	b.WriteString("Spawnable creatures:\n")
	for _, v := range s.cat.All() {
		fmt.Fprintf(&b, "  %s (%s, weight %d)\n", v.Name, v.Rarity, v.Weight)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Service) cmdHelp(_ context.Context, _ transport.Message, _ []string) string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range s.commands {
		fmt.Fprintf(&b, "  %s\n", c.usage)
	}
	return strings.TrimRight(b.String(), "\n")
}

// guildConfig reads the guild's row, or a fresh default when none exists.
func (s *Service) guildConfig(ctx context.Context, guildID int64) storage.GuildConfig {
	gc, err := s.store.GuildConfig(ctx, guildID)
	if err != nil {
		return storage.GuildConfig{GuildID: guildID, MaxConcurrent: 1}
	}
	return gc
}

// parseInterval accepts a Go duration string or a bare number of seconds.
func parseInterval(raw string) (time.Duration, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(raw)
}
