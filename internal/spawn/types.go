package spawn

import (
	"context"
	"time"

	"spawnbot/internal/catalog"
)

// ActiveEvent is one published, unresolved spawn awaiting a claim.
type ActiveEvent struct {
	GuildID   int64
	MessageID int
	ChannelID int64
	SpawnedAt time.Time
	Count     int
	Variant   catalog.Variant
}

// Ledger grants caught units to a responder. The engine treats it as an
// external collaborator; grant failures are fail-forward (the spawn stays
// resolved).
type Ledger interface {
	GrantUnits(ctx context.Context, userID, guildID int64, variantID string, count int, elapsed time.Duration) (newTotal int, err error)
}

// Options are the engine's tunables. Zero fields take the documented
// defaults; the debounce window and drift tolerance are deliberately
// configurable rather than buried constants.
type Options struct {
	// CatchToken is the exact text (case-insensitive, trimmed) a responder
	// must send to claim a spawn. Default "catch".
	CatchToken string

	// DefaultMinInterval/DefaultMaxInterval bound the random delay when a
	// guild has no configured interval. Defaults 60s / 1h.
	DefaultMinInterval time.Duration
	DefaultMaxInterval time.Duration

	// DebounceWindow suppresses a non-manual fire this soon after the last
	// successful fire. Default 5s.
	DebounceWindow time.Duration

	// RecoveryDriftTolerance is the maximum allowed gap between a persisted
	// spawned_at and the real message timestamp before the row is treated
	// as corrupt. Default 1h.
	RecoveryDriftTolerance time.Duration

	// AssetsDir holds the creature images referenced by the catalog. Empty
	// means text-only publishes.
	AssetsDir string
}

func (o Options) withDefaults() Options {
	if o.CatchToken == "" {
		o.CatchToken = "catch"
	}
	if o.DefaultMinInterval <= 0 {
		o.DefaultMinInterval = 60 * time.Second
	}
	if o.DefaultMaxInterval <= 0 {
		o.DefaultMaxInterval = time.Hour
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 5 * time.Second
	}
	if o.RecoveryDriftTolerance <= 0 {
		o.RecoveryDriftTolerance = time.Hour
	}
	return o
}
