package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rewards-ledger/internal/domain"
)

func TestMemoryTxCommitsAndRunsHooks(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	var hookRan bool
	err := s.WithinTx(ctx, func(tx Tx) error {
		w, err := tx.Wallet(ctx, "u1")
		if err != nil {
			return err
		}
		w.Balance = 25
		if err := tx.PutWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, domain.Transaction{ID: "t1", UserID: "u1", Type: domain.TransactionReward, Amount: 25}); err != nil {
			return err
		}
		// Staged writes are visible inside the same transaction.
		again, _ := tx.Wallet(ctx, "u1")
		if again.Balance != 25 {
			t.Errorf("staged wallet not visible: %+v", again)
		}
		tx.AfterCommit(func() { hookRan = true })
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if !hookRan {
		t.Fatalf("after-commit hook did not run")
	}

	w, _ := s.Wallet(ctx, "u1")
	if w.Balance != 25 || w.Version != 1 {
		t.Fatalf("wallet: %+v", w)
	}
	txs, _ := s.RecentTransactions(ctx, "u1", 0)
	if len(txs) != 1 {
		t.Fatalf("transactions: %+v", txs)
	}
}

func TestMemoryTxRollsBackOnError(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	var hookRan bool
	err := s.WithinTx(ctx, func(tx Tx) error {
		_ = tx.PutProgress(ctx, domain.ProgressRecord{UserID: "u1", ActivityID: "a1", FullyCompleted: true})
		_ = tx.AppendXPEvent(ctx, domain.XPEvent{UserID: "u1", Amount: 10, CreatedAt: time.Now()})
		tx.AfterCommit(func() { hookRan = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got=%v", err)
	}
	if hookRan {
		t.Fatalf("hook ran for a rolled back transaction")
	}
	if _, err := s.Progress(ctx, "u1", "a1"); !errors.Is(err, domain.ErrProgressNotFound) {
		t.Fatalf("progress leaked from rolled back tx: %v", err)
	}
	if xp, _ := s.XPSince(ctx, "u1", time.Time{}); xp != 0 {
		t.Fatalf("xp event leaked: %d", xp)
	}
}

func TestMemoryTxRollsBackWhenContextExpires(t *testing.T) {
	s := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithinTx(ctx, func(tx Tx) error {
		w, _ := tx.Wallet(ctx, "u1")
		w.Balance = 100
		if err := tx.PutWallet(ctx, w); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got=%v", err)
	}
	w, _ := s.Wallet(context.Background(), "u1")
	if w.Balance != 0 {
		t.Fatalf("partial write applied: %+v", w)
	}
}

func TestMemoryPutWalletRejectsStaleVersionAndNegative(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx Tx) error {
		return tx.PutWallet(ctx, domain.Wallet{UserID: "u1", Balance: 5, Version: 3})
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("want ErrConflict, got=%v", err)
	}

	err = s.WithinTx(ctx, func(tx Tx) error {
		return tx.PutWallet(ctx, domain.Wallet{UserID: "u1", Balance: -1})
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got=%v", err)
	}
}

func TestMemoryInsertBadgeOnce(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	b := domain.Badge{UserID: "u1", BadgeID: "star", EarnedAt: time.Now()}

	for i, want := range []bool{true, false} {
		var inserted bool
		err := s.WithinTx(ctx, func(tx Tx) error {
			var err error
			inserted, err = tx.InsertBadge(ctx, b)
			return err
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if inserted != want {
			t.Fatalf("insert %d: want=%v got=%v", i, want, inserted)
		}
	}
	badges, _ := s.Badges(ctx, "u1")
	if len(badges) != 1 {
		t.Fatalf("badges: %+v", badges)
	}
}

func TestMemoryTopXPSince(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	weekStart := time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC)

	events := []domain.XPEvent{
		{UserID: "a", Amount: 50, CreatedAt: weekStart.Add(time.Hour)},
		{UserID: "b", Amount: 80, CreatedAt: weekStart.Add(2 * time.Hour)},
		{UserID: "c", Amount: 80, CreatedAt: weekStart.Add(3 * time.Hour)},
		{UserID: "d", Amount: 30, CreatedAt: weekStart},
		{UserID: "a", Amount: 500, CreatedAt: weekStart.Add(-time.Second)},
	}
	if err := s.WithinTx(ctx, func(tx Tx) error {
		for _, e := range events {
			if err := tx.AppendXPEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	top, err := s.TopXPSince(ctx, weekStart, 3)
	if err != nil {
		t.Fatalf("TopXPSince: %v", err)
	}
	want := []domain.XPTotal{{UserID: "b", XP: 80}, {UserID: "c", XP: 80}, {UserID: "a", XP: 50}}
	if len(top) != len(want) {
		t.Fatalf("want=%v got=%v", want, top)
	}
	for i := range want {
		if top[i] != want[i] {
			t.Fatalf("position %d: want=%v got=%v", i, want[i], top[i])
		}
	}
}

func TestMemoryUpdateStandingsClearsDroppedRanks(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_ = s.UpdateStandings(ctx, []domain.Standing{{UserID: "a", WeeklyXP: 10, Rank: 1}, {UserID: "b", WeeklyXP: 5, Rank: 2}})
	_ = s.UpdateStandings(ctx, []domain.Standing{{UserID: "b", WeeklyXP: 20, Rank: 1}})

	a, _ := s.Progression(ctx, "a")
	b, _ := s.Progression(ctx, "b")
	if a.Rank != 0 {
		t.Fatalf("a should have dropped off: %+v", a)
	}
	if b.Rank != 1 || b.WeeklyXP != 20 {
		t.Fatalf("b: %+v", b)
	}
}
