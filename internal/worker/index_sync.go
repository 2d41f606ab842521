package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/store"
)

// Rebuilder reloads a secondary ranking index from the store
type Rebuilder interface {
	Rebuild(ctx context.Context, st store.Store, now time.Time) error
	Count(ctx context.Context, p domain.Period, now time.Time) (int64, error)
}

// IndexSync brings the Redis ranking index back in line with durable XP
// history, which is the source of truth after a restart or a lost write.
type IndexSync struct {
	index  Rebuilder
	store  store.Store
	logger *slog.Logger
}

// NewIndexSync creates an index sync
func NewIndexSync(index Rebuilder, st store.Store, logger *slog.Logger) *IndexSync {
	return &IndexSync{index: index, store: st, logger: logger}
}

// SyncFromDatabase rebuilds every period bucket from the store
func (s *IndexSync) SyncFromDatabase(ctx context.Context) error {
	s.logger.Info("syncing ranking index from database")
	start := time.Now()
	if err := s.index.Rebuild(ctx, s.store, start); err != nil {
		return err
	}
	attrs := []any{"duration", time.Since(start)}
	for _, p := range domain.AllPeriods() {
		n, err := s.index.Count(ctx, p, start)
		if err != nil {
			s.logger.Warn("failed to count ranking bucket", "period", p, "error", err)
			continue
		}
		attrs = append(attrs, string(p), n)
	}
	s.logger.Info("ranking index synced", attrs...)
	return nil
}
