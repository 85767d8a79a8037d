package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "spawnbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store at cfg.Path, creating the schema if
// needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GuildConfig(ctx context.Context, guildID int64) (GuildConfig, error) {
	var gc GuildConfig
	var cleanup int
	err := s.db.QueryRowContext(ctx,
		`SELECT guild_id, channel_id, min_interval_s, max_interval_s, max_concurrent, next_fire_at, cleanup_on_catch
		 FROM guild_config WHERE guild_id = ?`, guildID,
	).Scan(&gc.GuildID, &gc.ChannelID, &gc.MinIntervalS, &gc.MaxIntervalS, &gc.MaxConcurrent, &gc.NextFireAt, &cleanup)
	if errors.Is(err, sql.ErrNoRows) {
		return GuildConfig{}, ErrNotFound
	}
	if err != nil {
		return GuildConfig{}, err
	}
	gc.CleanupOnCatch = cleanup != 0
	return gc, nil
}

func (s *sqliteStore) UpsertGuildConfig(ctx context.Context, gc GuildConfig) error {
	cleanup := 0
	if gc.CleanupOnCatch {
		cleanup = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_config(guild_id, channel_id, min_interval_s, max_interval_s, max_concurrent, next_fire_at, cleanup_on_catch)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(guild_id) DO UPDATE SET
		   channel_id=excluded.channel_id,
		   min_interval_s=excluded.min_interval_s,
		   max_interval_s=excluded.max_interval_s,
		   max_concurrent=excluded.max_concurrent,
		   next_fire_at=excluded.next_fire_at,
		   cleanup_on_catch=excluded.cleanup_on_catch`,
		gc.GuildID, gc.ChannelID, gc.MinIntervalS, gc.MaxIntervalS, gc.MaxConcurrent, gc.NextFireAt, cleanup,
	)
	return err
}

func (s *sqliteStore) SetNextFire(ctx context.Context, guildID, at int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE guild_config SET next_fire_at = ? WHERE guild_id = ?`, at, guildID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// First contact with this guild; create the row so the mirror sticks.
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO guild_config(guild_id, next_fire_at) VALUES(?,?)
			 ON CONFLICT(guild_id) DO UPDATE SET next_fire_at=excluded.next_fire_at`,
			guildID, at)
	}
	return err
}

func (s *sqliteStore) ListGuilds(ctx context.Context) ([]GuildConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guild_id, channel_id, min_interval_s, max_interval_s, max_concurrent, next_fire_at, cleanup_on_catch
		 FROM guild_config`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GuildConfig
	for rows.Next() {
		var gc GuildConfig
		var cleanup int
		if err := rows.Scan(&gc.GuildID, &gc.ChannelID, &gc.MinIntervalS, &gc.MaxIntervalS, &gc.MaxConcurrent, &gc.NextFireAt, &cleanup); err != nil {
			return nil, err
		}
		gc.CleanupOnCatch = cleanup != 0
		out = append(out, gc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutActiveSpawn(ctx context.Context, row ActiveSpawn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_spawns(guild_id, message_id, channel_id, spawned_at, count, variant_id)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(guild_id) DO UPDATE SET
		   message_id=excluded.message_id,
		   channel_id=excluded.channel_id,
		   spawned_at=excluded.spawned_at,
		   count=excluded.count,
		   variant_id=excluded.variant_id`,
		row.GuildID, row.MessageID, row.ChannelID, row.SpawnedAt, row.Count, row.VariantID,
	)
	return err
}

func (s *sqliteStore) DeleteActiveSpawn(ctx context.Context, guildID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM active_spawns WHERE guild_id = ?`, guildID)
	return err
}

func (s *sqliteStore) ListActiveSpawns(ctx context.Context) ([]ActiveSpawn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guild_id, message_id, channel_id, spawned_at, count, variant_id FROM active_spawns`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActiveSpawn
	for rows.Next() {
		var r ActiveSpawn
		if err := rows.Scan(&r.GuildID, &r.MessageID, &r.ChannelID, &r.SpawnedAt, &r.Count, &r.VariantID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneActiveSpawns(ctx context.Context, cutoff int64, keep map[int64]bool) (int64, error) {
	rows, err := s.ListActiveSpawns(ctx)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, r := range rows {
		if r.SpawnedAt >= cutoff || keep[r.GuildID] {
			continue
		}
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM active_spawns WHERE guild_id = ? AND spawned_at = ?`, r.GuildID, r.SpawnedAt)
		if err != nil {
			return removed, err
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return removed, nil
}

func (s *sqliteStore) GrantUnits(ctx context.Context, userID, guildID int64, variantID string, n int) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO holdings(user_id, guild_id, variant_id, count) VALUES(?,?,?,?)
		 ON CONFLICT(user_id, guild_id, variant_id) DO UPDATE SET count = count + excluded.count`,
		userID, guildID, variantID, n,
	)
	if err != nil {
		return 0, err
	}
	var total int
	err = s.db.QueryRowContext(ctx,
		`SELECT count FROM holdings WHERE user_id = ? AND guild_id = ? AND variant_id = ?`,
		userID, guildID, variantID,
	).Scan(&total)
	return total, err
}

func (s *sqliteStore) Holdings(ctx context.Context, userID, guildID int64) ([]Holding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, guild_id, variant_id, count FROM holdings
		 WHERE user_id = ? AND guild_id = ? ORDER BY variant_id`,
		userID, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.UserID, &h.GuildID, &h.VariantID, &h.Count); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
