package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// GuildConfig is one guild's scheduling configuration.
//
// ChannelID == 0 means no spawn channel is configured yet; scheduling still
// runs but publishing is a no-op until a channel is set. NextFireAt is an
// epoch-ms mirror of the armed timer, 0 when none.
type GuildConfig struct {
	GuildID        int64
	ChannelID      int64
	MinIntervalS   int
	MaxIntervalS   int
	MaxConcurrent  int
	NextFireAt     int64
	CleanupOnCatch bool
}

// ActiveSpawn is the durable row behind one in-flight spawn.
type ActiveSpawn struct {
	GuildID   int64
	MessageID int
	ChannelID int64
	SpawnedAt int64 // epoch-ms
	Count     int
	VariantID string
}

// Holding is a ledger row: units of one variant held by one user in one guild.
type Holding struct {
	UserID    int64
	GuildID   int64
	VariantID string
	Count     int
}

// Store is the persistence API used by the engine and its collaborators.
type Store interface {
	GuildConfig(ctx context.Context, guildID int64) (GuildConfig, error)
	UpsertGuildConfig(ctx context.Context, gc GuildConfig) error
	// SetNextFire updates only the next_fire_at mirror; at == 0 clears it.
	SetNextFire(ctx context.Context, guildID, at int64) error
	ListGuilds(ctx context.Context) ([]GuildConfig, error)

	PutActiveSpawn(ctx context.Context, row ActiveSpawn) error
	DeleteActiveSpawn(ctx context.Context, guildID int64) error
	ListActiveSpawns(ctx context.Context) ([]ActiveSpawn, error)
	// PruneActiveSpawns deletes rows spawned before cutoff (epoch-ms) whose
	// guild id is not in keep. Returns the number of rows removed.
	PruneActiveSpawns(ctx context.Context, cutoff int64, keep map[int64]bool) (int64, error)

	// GrantUnits adds n units of a variant to a user's holdings and returns
	// the user's new total for that variant.
	GrantUnits(ctx context.Context, userID, guildID int64, variantID string, n int) (int, error)
	Holdings(ctx context.Context, userID, guildID int64) ([]Holding, error)

	Close() error
}
