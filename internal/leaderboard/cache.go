package leaderboard

import (
	"sort"
	"sync"
	"time"

	"github.com/rewards-ledger/internal/domain"
)

type periodState struct {
	mu    sync.Mutex
	ranks map[string]int
	last  domain.LeaderboardSnapshot
	ok    bool
}

// PositionChangeCache remembers the last broadcast ranking of each period and
// annotates new rankings with how each entrant moved. Periods are locked
// independently.
type PositionChangeCache struct {
	mu      sync.Mutex
	periods map[domain.Period]*periodState
}

// NewPositionChangeCache creates an empty cache
func NewPositionChangeCache() *PositionChangeCache {
	return &PositionChangeCache{periods: make(map[domain.Period]*periodState)}
}

func (c *PositionChangeCache) state(p domain.Period) *periodState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.periods[p]
	if !ok {
		st = &periodState{ranks: map[string]int{}}
		c.periods[p] = st
	}
	return st
}

// Diff annotates entries against the committed ranking without changing it.
// dropped lists previously ranked users missing from entries.
func (c *PositionChangeCache) Diff(p domain.Period, entries []domain.LeaderboardEntry) (annotated []domain.LeaderboardEntry, dropped []string) {
	st := c.state(p)
	st.mu.Lock()
	defer st.mu.Unlock()
	return diff(st.ranks, entries)
}

// Commit replaces the committed ranking of snap.Period
func (c *PositionChangeCache) Commit(snap domain.LeaderboardSnapshot) {
	st := c.state(snap.Period)
	st.mu.Lock()
	defer st.mu.Unlock()
	commit(st, snap)
}

// DiffAndCommit diffs and commits as one step, so two refreshes of the same
// period can never both diff against the same baseline.
func (c *PositionChangeCache) DiffAndCommit(p domain.Period, entries []domain.LeaderboardEntry, at time.Time) domain.LeaderboardSnapshot {
	st := c.state(p)
	st.mu.Lock()
	defer st.mu.Unlock()

	annotated, dropped := diff(st.ranks, entries)
	snap := domain.LeaderboardSnapshot{
		Period:      p,
		Leaderboard: annotated,
		Dropped:     dropped,
		ComputedAt:  at,
	}
	commit(st, snap)
	return snap
}

// Last returns the last committed snapshot of a period
func (c *PositionChangeCache) Last(p domain.Period) (domain.LeaderboardSnapshot, bool) {
	st := c.state(p)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.last, st.ok
}

func commit(st *periodState, snap domain.LeaderboardSnapshot) {
	ranks := make(map[string]int, len(snap.Leaderboard))
	for _, e := range snap.Leaderboard {
		ranks[e.UserID] = e.Rank
	}
	st.ranks = ranks
	st.last = snap
	st.ok = true
}

func diff(prev map[string]int, entries []domain.LeaderboardEntry) ([]domain.LeaderboardEntry, []string) {
	out := make([]domain.LeaderboardEntry, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		seen[e.UserID] = struct{}{}
		change := domain.PositionChange{Movement: domain.MovementNew}
		if old, ok := prev[e.UserID]; ok {
			switch {
			case e.Rank < old:
				change = domain.PositionChange{Movement: domain.MovementUp, Magnitude: old - e.Rank}
			case e.Rank > old:
				change = domain.PositionChange{Movement: domain.MovementDown, Magnitude: e.Rank - old}
			default:
				change = domain.PositionChange{Movement: domain.MovementSame}
			}
		}
		e.PositionChange = &change
		out[i] = e
	}

	var dropped []string
	for id := range prev {
		if _, ok := seen[id]; !ok {
			dropped = append(dropped, id)
		}
	}
	sort.Strings(dropped)
	return out, dropped
}
