// Package leaderboard ranks users by XP per period and tracks how their
// positions move between refreshes.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/store"
)

// DefaultLimit is the number of entrants kept per leaderboard
const DefaultLimit = 50

// RankingSource produces raw XP totals for a period, ordered by XP descending
// then user ID ascending.
type RankingSource interface {
	Top(ctx context.Context, period domain.Period, now time.Time, limit int) ([]domain.XPTotal, error)
}

// StoreSource ranks straight from the durable store
type StoreSource struct {
	store store.Store
	loc   *time.Location
}

// NewStoreSource creates a source backed by the store's XP history
func NewStoreSource(st store.Store, loc *time.Location) *StoreSource {
	if loc == nil {
		loc = time.UTC
	}
	return &StoreSource{store: st, loc: loc}
}

// Top ranks allTime by cumulative XP and the other periods by XP events
// since the period started.
func (s *StoreSource) Top(ctx context.Context, period domain.Period, now time.Time, limit int) ([]domain.XPTotal, error) {
	start, bounded := period.Start(now, s.loc)
	if !bounded {
		return s.store.TopXP(ctx, limit)
	}
	return s.store.TopXPSince(ctx, start, limit)
}

// Aggregator computes leaderboard snapshots
type Aggregator struct {
	source RankingSource
	store  store.Store
	cache  *PositionChangeCache
	limit  int
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group
}

// NewAggregator creates a leaderboard aggregator. Display names and levels are
// read from st.
func NewAggregator(source RankingSource, st store.Store, cache *PositionChangeCache, limit int, logger *slog.Logger) *Aggregator {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Aggregator{
		source: source,
		store:  st,
		cache:  cache,
		limit:  limit,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// Cache returns the position change cache
func (a *Aggregator) Cache() *PositionChangeCache {
	return a.cache
}

// Compute returns the ranked, enriched entries for period. It does not touch
// the position change cache.
func (a *Aggregator) Compute(ctx context.Context, period domain.Period) ([]domain.LeaderboardEntry, error) {
	totals, err := a.source.Top(ctx, period, a.now(), a.limit)
	if err != nil {
		return nil, fmt.Errorf("ranking %s: %w", period, err)
	}
	domain.SortXPTotals(totals)
	if len(totals) > a.limit {
		totals = totals[:a.limit]
	}

	ids := make([]string, len(totals))
	for i, t := range totals {
		ids[i] = t.UserID
	}
	profiles, err := a.store.Progressions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(totals))
	for i, t := range totals {
		p, ok := profiles[t.UserID]
		if !ok {
			p = domain.NewUserProgression(t.UserID)
		}
		entries[i] = domain.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      t.UserID,
			DisplayName: p.NameOrID(),
			XP:          t.XP,
			Level:       p.Level,
		}
	}
	return entries, nil
}

// Refresh computes period and commits it as the new broadcast baseline. The
// returned snapshot carries position changes relative to the previous one.
func (a *Aggregator) Refresh(ctx context.Context, period domain.Period) (domain.LeaderboardSnapshot, error) {
	entries, err := a.Compute(ctx, period)
	if err != nil {
		return domain.LeaderboardSnapshot{}, err
	}
	return a.cache.DiffAndCommit(period, entries, a.now()), nil
}

// Snapshot returns an up to date view of period annotated against the last
// broadcast, without moving the baseline. Concurrent callers for the same
// period share one computation.
func (a *Aggregator) Snapshot(ctx context.Context, period domain.Period) (domain.LeaderboardSnapshot, error) {
	v, err, _ := a.group.Do(string(period), func() (interface{}, error) {
		entries, err := a.Compute(ctx, period)
		if err != nil {
			return nil, err
		}
		annotated, dropped := a.cache.Diff(period, entries)
		return domain.LeaderboardSnapshot{
			Period:      period,
			Leaderboard: annotated,
			Dropped:     dropped,
			ComputedAt:  a.now(),
		}, nil
	})
	if err != nil {
		return domain.LeaderboardSnapshot{}, err
	}
	return v.(domain.LeaderboardSnapshot), nil
}

// Last returns the last committed snapshot for period, refreshing once when
// nothing has been committed yet.
func (a *Aggregator) Last(ctx context.Context, period domain.Period) (domain.LeaderboardSnapshot, error) {
	if snap, ok := a.cache.Last(period); ok {
		return snap, nil
	}
	v, err, _ := a.group.Do("refresh:"+string(period), func() (interface{}, error) {
		if snap, ok := a.cache.Last(period); ok {
			return snap, nil
		}
		return a.Refresh(ctx, period)
	})
	if err != nil {
		return domain.LeaderboardSnapshot{}, err
	}
	return v.(domain.LeaderboardSnapshot), nil
}

// RankOf returns the user's rank in the last committed snapshot, or 0
func (a *Aggregator) RankOf(period domain.Period, userID string) int {
	snap, ok := a.cache.Last(period)
	if !ok {
		return 0
	}
	return snap.RankOf(userID)
}
