// Package ledger is the minimal holdings ledger backing spawn rewards. The
// engine only sees the spawn.Ledger interface; this implementation keeps
// per-user counts in the SQLite store.
package ledger

import (
	"context"
	"time"

	"spawnbot/internal/storage"
	logx "spawnbot/pkg/logx"
)

type Service struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Service {
	return &Service{store: store, log: log}
}

// GrantUnits adds count units of a variant to the responder's holdings and
// returns the new per-variant total. elapsed is recorded for statistics only.
func (s *Service) GrantUnits(ctx context.Context, userID, guildID int64, variantID string, count int, elapsed time.Duration) (int, error) {
	total, err := s.store.GrantUnits(ctx, userID, guildID, variantID, count)
	if err != nil {
		return 0, err
	}
	s.log.Debug("units granted",
		logx.Int64("user", userID),
		logx.Int64("guild", guildID),
		logx.String("variant", variantID),
		logx.Int("count", count),
		logx.Duration("claim_time", elapsed))
	return total, nil
}

// Holdings lists the responder's per-variant counts in a guild.
func (s *Service) Holdings(ctx context.Context, userID, guildID int64) ([]storage.Holding, error) {
	return s.store.Holdings(ctx, userID, guildID)
}
