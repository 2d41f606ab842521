package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/keylock"
	"github.com/rewards-ledger/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, keylock.New(time.Second), store.RetryPolicy{Attempts: 3, Delay: time.Millisecond}, logger), st
}

func assertBalanceInvariant(t *testing.T, st *store.Memory, userID string) {
	t.Helper()
	ctx := context.Background()
	w, _ := st.Wallet(ctx, userID)
	txs, _ := st.RecentTransactions(ctx, userID, 0)
	if sum := domain.SumTransactions(txs); sum != w.Balance {
		t.Fatalf("balance invariant broken for %s: balance=%d sum=%d", userID, w.Balance, sum)
	}
}

func TestCreditAndDebit(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	balance, err := l.Credit(ctx, "u1", 100, "quiz reward", domain.TransactionReward)
	if err != nil || balance != 100 {
		t.Fatalf("credit: balance=%d err=%v", balance, err)
	}
	balance, err = l.Spend(ctx, "u1", 30, "sticker pack")
	if err != nil || balance != 70 {
		t.Fatalf("spend: balance=%d err=%v", balance, err)
	}
	balance, err = l.Redeem(ctx, "u1", 20, "goodie")
	if err != nil || balance != 50 {
		t.Fatalf("redeem: balance=%d err=%v", balance, err)
	}

	txs, _ := st.RecentTransactions(ctx, "u1", 0)
	if len(txs) != 3 {
		t.Fatalf("want 3 transactions, got=%d", len(txs))
	}
	if txs[0].Type != domain.TransactionRedeem || txs[0].Status != domain.TransactionPending {
		t.Fatalf("newest transaction should be a pending redeem: %+v", txs[0])
	}
	assertBalanceInvariant(t, st, "u1")
}

func TestDebitInsufficientFunds(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Credit(ctx, "u1", 100, "seed", domain.TransactionCredit); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := l.Debit(ctx, "u1", 150, "too much")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got=%v", err)
	}

	w, _ := l.Wallet(ctx, "u1")
	if w.Balance != 100 {
		t.Fatalf("balance changed after failed debit: %d", w.Balance)
	}
	txs, _ := st.RecentTransactions(ctx, "u1", 0)
	if len(txs) != 1 {
		t.Fatalf("failed debit recorded a transaction: %+v", txs)
	}
}

func TestInvalidAmounts(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -5} {
		if _, err := l.Credit(ctx, "u1", amount, "x", domain.TransactionCredit); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("credit %d: want ErrInvalidAmount got=%v", amount, err)
		}
		if _, err := l.Debit(ctx, "u1", amount, "x"); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("debit %d: want ErrInvalidAmount got=%v", amount, err)
		}
	}
	txs, _ := st.RecentTransactions(ctx, "u1", 0)
	if len(txs) != 0 {
		t.Fatalf("rejected calls wrote transactions: %+v", txs)
	}
}

func TestCreditRejectsDebitType(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Credit(context.Background(), "u1", 5, "x", domain.TransactionSpend); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("want ErrInvalidRequest, got=%v", err)
	}
}

func TestConcurrentCreditsAndDebitsKeepInvariant(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Credit(ctx, "u1", 50, "seed", domain.TransactionCredit); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = l.Credit(ctx, "u1", 3, "reward", domain.TransactionReward)
		}()
		go func() {
			defer wg.Done()
			_, err := l.Debit(ctx, "u1", 5, "spend")
			if err != nil && !errors.Is(err, domain.ErrInsufficientFunds) {
				t.Errorf("unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	w, _ := l.Wallet(ctx, "u1")
	if w.Balance < 0 {
		t.Fatalf("balance went negative: %d", w.Balance)
	}
	assertBalanceInvariant(t, st, "u1")
}

func TestBalanceChangeNotification(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	var got []BalanceChange
	l.OnBalanceChange(func(c BalanceChange) { got = append(got, c) })

	_, _ = l.Credit(ctx, "u1", 10, "reward", domain.TransactionReward)
	_, _ = l.Debit(ctx, "u1", 50, "fails")

	if len(got) != 1 {
		t.Fatalf("want one notification for the committed credit, got=%d", len(got))
	}
	if got[0].Balance != 10 || got[0].Transaction.Amount != 10 {
		t.Fatalf("notification: %+v", got[0])
	}
}

func TestView(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = l.Credit(ctx, "u1", int64(i+1), "reward", domain.TransactionReward)
	}
	view, err := l.View(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if view.Balance != 15 || len(view.RecentTransactions) != 2 {
		t.Fatalf("view: %+v", view)
	}
	if view.RecentTransactions[0].Amount != 5 {
		t.Fatalf("recent transactions should be newest first: %+v", view.RecentTransactions)
	}

	empty, err := l.View(ctx, "nobody", 2)
	if err != nil || empty.Balance != 0 || empty.RecentTransactions == nil {
		t.Fatalf("empty view: %+v err=%v", empty, err)
	}
}
