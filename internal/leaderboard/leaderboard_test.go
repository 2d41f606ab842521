package leaderboard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/store"
)

func entries(ids ...string) []domain.LeaderboardEntry {
	out := make([]domain.LeaderboardEntry, len(ids))
	for i, id := range ids {
		out[i] = domain.LeaderboardEntry{Rank: i + 1, UserID: id}
	}
	return out
}

func TestPositionChangeDiff(t *testing.T) {
	c := NewPositionChangeCache()
	now := time.Now()

	first := c.DiffAndCommit(domain.PeriodWeekly, entries("A", "B", "C"), now)
	for _, e := range first.Leaderboard {
		if e.PositionChange.Movement != domain.MovementNew {
			t.Fatalf("first ranking should be all new: %+v", e)
		}
	}

	snap := c.DiffAndCommit(domain.PeriodWeekly, entries("B", "A", "D"), now)
	want := map[string]domain.PositionChange{
		"B": {Movement: domain.MovementUp, Magnitude: 1},
		"A": {Movement: domain.MovementDown, Magnitude: 1},
		"D": {Movement: domain.MovementNew},
	}
	for _, e := range snap.Leaderboard {
		if *e.PositionChange != want[e.UserID] {
			t.Fatalf("%s: want=%+v got=%+v", e.UserID, want[e.UserID], *e.PositionChange)
		}
	}
	if len(snap.Dropped) != 1 || snap.Dropped[0] != "C" {
		t.Fatalf("dropped: %+v", snap.Dropped)
	}

	same := c.DiffAndCommit(domain.PeriodWeekly, entries("B", "A", "D"), now)
	for _, e := range same.Leaderboard {
		if e.PositionChange.Movement != domain.MovementSame {
			t.Fatalf("unchanged ranking: %+v", e)
		}
	}
}

func TestDiffDoesNotCommit(t *testing.T) {
	c := NewPositionChangeCache()
	c.DiffAndCommit(domain.PeriodDaily, entries("A", "B"), time.Now())

	c.Diff(domain.PeriodDaily, entries("B", "A"))
	annotated, _ := c.Diff(domain.PeriodDaily, entries("B", "A"))
	if annotated[0].PositionChange.Movement != domain.MovementUp {
		t.Fatalf("diff moved the baseline: %+v", annotated[0])
	}
}

func TestPeriodsAreIndependent(t *testing.T) {
	c := NewPositionChangeCache()
	c.DiffAndCommit(domain.PeriodDaily, entries("A", "B"), time.Now())
	snap := c.DiffAndCommit(domain.PeriodWeekly, entries("B", "A"), time.Now())
	if snap.Leaderboard[0].PositionChange.Movement != domain.MovementNew {
		t.Fatalf("weekly diffed against daily: %+v", snap.Leaderboard[0])
	}
	if _, ok := c.Last(domain.PeriodMonthly); ok {
		t.Fatalf("monthly should have no snapshot")
	}
}

func TestConcurrentDiffAndCommitSerializes(t *testing.T) {
	c := NewPositionChangeCache()
	c.DiffAndCommit(domain.PeriodWeekly, entries("A", "B"), time.Now())

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ups int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := c.DiffAndCommit(domain.PeriodWeekly, entries("B", "A"), time.Now())
			if snap.Leaderboard[0].PositionChange.Movement == domain.MovementUp {
				mu.Lock()
				ups++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ups != 1 {
		t.Fatalf("exactly one refresh should observe the move, got=%d", ups)
	}
}

func seed(t *testing.T, st *store.Memory, events []domain.XPEvent, names map[string]string) {
	t.Helper()
	ctx := context.Background()
	err := st.WithinTx(ctx, func(tx store.Tx) error {
		for _, e := range events {
			if err := tx.AppendXPEvent(ctx, e); err != nil {
				return err
			}
			p, err := tx.Progression(ctx, e.UserID)
			if err != nil {
				return err
			}
			p.XP += e.Amount
			p.Level = domain.LevelForXP(p.XP, 100)
			if err := tx.PutProgression(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	for id, name := range names {
		if err := st.SetDisplayName(ctx, id, name); err != nil {
			t.Fatalf("SetDisplayName: %v", err)
		}
	}
}

func newAggregator(st *store.Memory, now time.Time, limit int) *Aggregator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewAggregator(NewStoreSource(st, time.UTC), st, NewPositionChangeCache(), limit, logger)
	a.SetClock(func() time.Time { return now })
	return a
}

func TestWeeklyRankingTieBreak(t *testing.T) {
	st := store.NewMemory()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	week := time.Date(2026, 10, 11, 1, 0, 0, 0, time.UTC)
	seed(t, st, []domain.XPEvent{
		{UserID: "u1", Amount: 50, CreatedAt: week},
		{UserID: "u3", Amount: 80, CreatedAt: week},
		{UserID: "u2", Amount: 80, CreatedAt: week},
		{UserID: "u4", Amount: 30, CreatedAt: week},
		{UserID: "u4", Amount: 900, CreatedAt: week.AddDate(0, 0, -3)},
	}, map[string]string{"u2": "Priya"})

	entries, err := newAggregator(st, now, 0).Compute(context.Background(), domain.PeriodWeekly)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	order := []string{"u2", "u3", "u1", "u4"}
	for i, id := range order {
		if entries[i].UserID != id || entries[i].Rank != i+1 {
			t.Fatalf("position %d: want=%s got=%+v", i, id, entries[i])
		}
	}
	if entries[0].DisplayName != "Priya" || entries[1].DisplayName != "u3" {
		t.Fatalf("display names: %+v", entries[:2])
	}
	if entries[3].XP != 30 {
		t.Fatalf("weekly xp should exclude last week: %+v", entries[3])
	}
}

func TestAllTimeUsesCumulativeXP(t *testing.T) {
	st := store.NewMemory()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	seed(t, st, []domain.XPEvent{
		{UserID: "old", Amount: 500, CreatedAt: now.AddDate(-1, 0, 0)},
		{UserID: "new", Amount: 20, CreatedAt: now},
	}, nil)

	entries, err := newAggregator(st, now, 0).Compute(context.Background(), domain.PeriodAllTime)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(entries) != 2 || entries[0].UserID != "old" || entries[0].Level != 6 {
		t.Fatalf("entries: %+v", entries)
	}
}

func TestLimitDropsTail(t *testing.T) {
	st := store.NewMemory()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	var events []domain.XPEvent
	for i := 0; i < 60; i++ {
		events = append(events, domain.XPEvent{UserID: fmt.Sprintf("user-%02d", i), Amount: int64(i + 1), CreatedAt: now})
	}
	seed(t, st, events, nil)

	entries, err := newAggregator(st, now, 50).Compute(context.Background(), domain.PeriodDaily)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(entries) != 50 || entries[0].UserID != "user-59" || entries[49].UserID != "user-10" {
		t.Fatalf("got %d entries, first=%+v last=%+v", len(entries), entries[0], entries[len(entries)-1])
	}
}

func TestRefreshCommitsAndLast(t *testing.T) {
	st := store.NewMemory()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	seed(t, st, []domain.XPEvent{{UserID: "a", Amount: 10, CreatedAt: now}}, nil)
	agg := newAggregator(st, now, 0)
	ctx := context.Background()

	snap, err := agg.Last(ctx, domain.PeriodDaily)
	if err != nil || len(snap.Leaderboard) != 1 {
		t.Fatalf("Last: %+v err=%v", snap, err)
	}
	if agg.RankOf(domain.PeriodDaily, "a") != 1 {
		t.Fatalf("rank of a")
	}

	seed(t, st, []domain.XPEvent{{UserID: "b", Amount: 20, CreatedAt: now}}, nil)
	view, _ := agg.Snapshot(ctx, domain.PeriodDaily)
	if view.Leaderboard[1].PositionChange.Movement != domain.MovementDown {
		t.Fatalf("snapshot annotation: %+v", view.Leaderboard)
	}
	if agg.RankOf(domain.PeriodDaily, "a") != 1 {
		t.Fatalf("snapshot must not move the committed baseline")
	}

	refreshed, _ := agg.Refresh(ctx, domain.PeriodDaily)
	if refreshed.RankOf("b") != 1 || agg.RankOf(domain.PeriodDaily, "a") != 2 {
		t.Fatalf("refresh: %+v", refreshed.Leaderboard)
	}
}
