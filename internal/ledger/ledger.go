// Package ledger owns wallet balances and the append-only transaction log.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/keylock"
	"github.com/rewards-ledger/internal/store"
)

// BalanceChange is emitted after a committed credit or debit
type BalanceChange struct {
	UserID      string
	Balance     int64
	Transaction domain.Transaction
}

// Ledger credits and debits wallets. Every call appends exactly one
// transaction and moves the balance by its signed amount in the same
// store transaction.
type Ledger struct {
	store  store.Store
	locks  *keylock.Locker
	retry  store.RetryPolicy
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	listeners []func(BalanceChange)
}

// New creates a wallet ledger
func New(st store.Store, locks *keylock.Locker, retry store.RetryPolicy, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  st,
		locks:  locks,
		retry:  retry,
		logger: logger,
		now:    time.Now,
	}
}

// OnBalanceChange subscribes fn to committed balance changes. fn runs on the
// committing goroutine and must not block.
func (l *Ledger) OnBalanceChange(fn func(BalanceChange)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *Ledger) notify(change BalanceChange) {
	l.mu.RLock()
	listeners := l.listeners
	l.mu.RUnlock()
	for _, fn := range listeners {
		fn(change)
	}
}

// Credit adds amount to the user's wallet and returns the new balance
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, description string, typ domain.TransactionType) (int64, error) {
	var balance int64
	err := l.locked(ctx, userID, func(tx store.Tx) error {
		var err error
		_, balance, err = l.CreditTx(ctx, tx, userID, amount, description, typ)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Debit removes amount from the user's wallet and returns the new balance
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, description string) (int64, error) {
	return l.debit(ctx, userID, amount, description, domain.TransactionDebit, domain.TransactionCompleted)
}

// Spend debits coins for an in-app purchase
func (l *Ledger) Spend(ctx context.Context, userID string, amount int64, description string) (int64, error) {
	return l.debit(ctx, userID, amount, description, domain.TransactionSpend, domain.TransactionCompleted)
}

// Redeem debits coins for a reward that still needs fulfilment; the
// transaction is recorded as pending.
func (l *Ledger) Redeem(ctx context.Context, userID string, amount int64, description string) (int64, error) {
	return l.debit(ctx, userID, amount, description, domain.TransactionRedeem, domain.TransactionPending)
}

func (l *Ledger) debit(ctx context.Context, userID string, amount int64, description string, typ domain.TransactionType, status domain.TransactionStatus) (int64, error) {
	var balance int64
	err := l.locked(ctx, userID, func(tx store.Tx) error {
		var err error
		_, balance, err = l.DebitTx(ctx, tx, userID, amount, description, typ, status)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// locked runs fn in its own store transaction while holding the user's key.
func (l *Ledger) locked(ctx context.Context, userID string, fn func(tx store.Tx) error) error {
	return store.Retry(ctx, l.retry, func(ctx context.Context) error {
		release, err := l.locks.Lock(ctx, keylock.UserKey(userID))
		if err != nil {
			return err
		}
		defer release()
		return l.store.WithinTx(ctx, fn)
	})
}

// CreditTx credits inside the caller's transaction. The caller must hold the
// user's lock.
func (l *Ledger) CreditTx(ctx context.Context, tx store.Tx, userID string, amount int64, description string, typ domain.TransactionType) (domain.Transaction, int64, error) {
	if amount <= 0 {
		return domain.Transaction{}, 0, fmt.Errorf("crediting %d: %w", amount, domain.ErrInvalidAmount)
	}
	if !typ.IsCredit() {
		return domain.Transaction{}, 0, fmt.Errorf("%w: %q is not a credit type", domain.ErrInvalidRequest, typ)
	}
	return l.apply(ctx, tx, userID, amount, description, typ, domain.TransactionCompleted)
}

// DebitTx debits inside the caller's transaction. It fails with
// ErrInsufficientFunds, writing nothing, when amount exceeds the balance.
func (l *Ledger) DebitTx(ctx context.Context, tx store.Tx, userID string, amount int64, description string, typ domain.TransactionType, status domain.TransactionStatus) (domain.Transaction, int64, error) {
	if amount <= 0 {
		return domain.Transaction{}, 0, fmt.Errorf("debiting %d: %w", amount, domain.ErrInvalidAmount)
	}
	if !typ.IsDebit() {
		return domain.Transaction{}, 0, fmt.Errorf("%w: %q is not a debit type", domain.ErrInvalidRequest, typ)
	}
	return l.apply(ctx, tx, userID, amount, description, typ, status)
}

func (l *Ledger) apply(ctx context.Context, tx store.Tx, userID string, amount int64, description string, typ domain.TransactionType, status domain.TransactionStatus) (domain.Transaction, int64, error) {
	wallet, err := tx.Wallet(ctx, userID)
	if err != nil {
		return domain.Transaction{}, 0, fmt.Errorf("loading wallet: %w", err)
	}

	entry := domain.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        typ,
		Amount:      amount,
		Description: description,
		Status:      status,
		CreatedAt:   l.now(),
	}

	newBalance := wallet.Balance + entry.SignedAmount()
	if newBalance < 0 {
		return domain.Transaction{}, 0, fmt.Errorf("debiting %d from balance %d: %w", amount, wallet.Balance, domain.ErrInsufficientFunds)
	}

	wallet.Balance = newBalance
	wallet.LastUpdated = entry.CreatedAt
	if err := tx.PutWallet(ctx, wallet); err != nil {
		return domain.Transaction{}, 0, fmt.Errorf("saving wallet: %w", err)
	}
	if err := tx.AppendTransaction(ctx, entry); err != nil {
		return domain.Transaction{}, 0, fmt.Errorf("appending transaction: %w", err)
	}

	tx.AfterCommit(func() {
		l.logger.Debug("wallet updated",
			"user_id", userID,
			"type", typ,
			"amount", amount,
			"balance", newBalance,
		)
		l.notify(BalanceChange{UserID: userID, Balance: newBalance, Transaction: entry})
	})

	return entry, newBalance, nil
}

// Wallet returns the user's current wallet
func (l *Ledger) Wallet(ctx context.Context, userID string) (domain.Wallet, error) {
	w, err := l.store.Wallet(ctx, userID)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("getting wallet: %w", err)
	}
	return w, nil
}

// View returns the balance together with the most recent transactions
func (l *Ledger) View(ctx context.Context, userID string, recent int) (domain.WalletView, error) {
	w, err := l.Wallet(ctx, userID)
	if err != nil {
		return domain.WalletView{}, err
	}
	txs, err := l.store.RecentTransactions(ctx, userID, recent)
	if err != nil {
		return domain.WalletView{}, fmt.Errorf("listing transactions: %w", err)
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	return domain.WalletView{UserID: userID, Balance: w.Balance, RecentTransactions: txs}, nil
}
