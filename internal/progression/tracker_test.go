package progression

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/keylock"
	"github.com/rewards-ledger/internal/ledger"
	"github.com/rewards-ledger/internal/store"
)

type fixture struct {
	store   *store.Memory
	ledger  *ledger.Ledger
	tracker *Tracker
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locks := keylock.New(time.Second)
	retry := store.RetryPolicy{Attempts: 3, Delay: time.Millisecond}
	l := ledger.New(st, locks, retry, logger)

	f := &fixture{
		store:  st,
		ledger: l,
		clock:  time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC),
	}
	f.tracker = New(st, l, locks, retry, Settings{XPPerLevel: 100, LevelUpBonus: 50, Location: time.UTC}, logger)
	f.tracker.SetClock(func() time.Time { return f.clock })
	return f
}

func TestAddXPWithoutLevelUp(t *testing.T) {
	f := newFixture(t)
	award, err := f.tracker.AddXP(context.Background(), "u1", 40, "quiz")
	if err != nil {
		t.Fatalf("AddXP: %v", err)
	}
	if award.XP != 40 || award.Level != 1 || award.LeveledUp || award.BonusCoins != 0 {
		t.Fatalf("award: %+v", award)
	}
}

func TestAddXPLevelUpCreditsBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.tracker.AddXP(ctx, "u1", 90, "quiz"); err != nil {
		t.Fatalf("AddXP: %v", err)
	}
	// 90 + 220 = 310 → level 4, three levels gained.
	award, err := f.tracker.AddXP(ctx, "u1", 220, "story")
	if err != nil {
		t.Fatalf("AddXP: %v", err)
	}
	if !award.LeveledUp || award.OldLevel != 1 || award.Level != 4 {
		t.Fatalf("award: %+v", award)
	}
	if award.BonusCoins != 150 {
		t.Fatalf("bonus: want=150 got=%d", award.BonusCoins)
	}

	w, _ := f.ledger.Wallet(ctx, "u1")
	if w.Balance != 150 {
		t.Fatalf("wallet: want=150 got=%d", w.Balance)
	}
	txs, _ := f.store.RecentTransactions(ctx, "u1", 0)
	if len(txs) != 1 || txs[0].Type != domain.TransactionLevelUpBonus {
		t.Fatalf("transactions: %+v", txs)
	}

	p, _ := f.tracker.Progression(ctx, "u1")
	if p.Level != 1+int(p.XP/100) {
		t.Fatalf("level invariant broken: %+v", p)
	}
}

func TestAddXPRejectsNonPositive(t *testing.T) {
	f := newFixture(t)
	for _, amount := range []int64{0, -10} {
		if _, err := f.tracker.AddXP(context.Background(), "u1", amount, "x"); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("amount %d: want ErrInvalidAmount got=%v", amount, err)
		}
	}
	if xp, _ := f.store.XPSince(context.Background(), "u1", time.Time{}); xp != 0 {
		t.Fatalf("xp event recorded for rejected call: %d", xp)
	}
}

func TestAddXPNeverDecreasesLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prev := 1
	for i := 0; i < 50; i++ {
		award, err := f.tracker.AddXP(ctx, "u1", int64(i%7+1)*13, "loop")
		if err != nil {
			t.Fatalf("AddXP: %v", err)
		}
		if award.Level < prev {
			t.Fatalf("level decreased: %d -> %d", prev, award.Level)
		}
		prev = award.Level
	}
}

func TestUpdateStreakCalendar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.tracker.UpdateStreak(ctx, "u1")
	if err != nil || p.Streak != 1 {
		t.Fatalf("first check-in: %+v err=%v", p, err)
	}

	f.clock = f.clock.Add(5 * time.Hour)
	p, _ = f.tracker.UpdateStreak(ctx, "u1")
	if p.Streak != 1 {
		t.Fatalf("same-day check-in changed streak: %d", p.Streak)
	}

	f.clock = f.clock.AddDate(0, 0, 1)
	p, _ = f.tracker.UpdateStreak(ctx, "u1")
	if p.Streak != 2 {
		t.Fatalf("next-day check-in: want=2 got=%d", p.Streak)
	}
	if !p.LastCheckIn.Equal(domain.CalendarDay(f.clock, time.UTC)) {
		t.Fatalf("last check-in not normalized to midnight: %s", p.LastCheckIn)
	}

	f.clock = f.clock.AddDate(0, 0, 3)
	p, _ = f.tracker.UpdateStreak(ctx, "u1")
	if p.Streak != 1 {
		t.Fatalf("gap should reset streak, got=%d", p.Streak)
	}
}
