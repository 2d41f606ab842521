// Package store defines the persistence contracts of the rewards ledger.
//
// Every mutation happens inside WithinTx. An implementation must make the
// whole function body all-or-nothing: if fn returns an error, or ctx is done
// before commit, nothing written through the Tx becomes visible. Reads made
// through a Tx lock the rows they return until the transaction ends.
package store

import (
	"context"
	"time"

	"github.com/rewards-ledger/internal/domain"
)

// Tx is the unit of work handed to WithinTx
type Tx interface {
	// Wallet returns the locked wallet, or an empty one when the user has
	// never been credited.
	Wallet(ctx context.Context, userID string) (domain.Wallet, error)
	PutWallet(ctx context.Context, w domain.Wallet) error
	AppendTransaction(ctx context.Context, t domain.Transaction) error

	Progress(ctx context.Context, userID, activityID string) (domain.ProgressRecord, bool, error)
	ProgressFor(ctx context.Context, userID string, activityIDs []string) (map[string]domain.ProgressRecord, error)
	PutProgress(ctx context.Context, rec domain.ProgressRecord) error

	// Progression returns the locked progression, or a level 1 record when
	// the user has none yet.
	Progression(ctx context.Context, userID string) (domain.UserProgression, error)
	PutProgression(ctx context.Context, p domain.UserProgression) error
	AppendXPEvent(ctx context.Context, e domain.XPEvent) error

	Badge(ctx context.Context, userID, badgeID string) (domain.Badge, bool, error)
	// InsertBadge returns false without error when the badge already exists.
	InsertBadge(ctx context.Context, b domain.Badge) (bool, error)

	// AfterCommit registers fn to run once the transaction has committed.
	// It never runs for a rolled back transaction.
	AfterCommit(fn func())
}

// Store is the durable state of the ledger
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Wallet(ctx context.Context, userID string) (domain.Wallet, error)
	// RecentTransactions returns newest first. limit <= 0 returns all.
	RecentTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)

	Progress(ctx context.Context, userID, activityID string) (domain.ProgressRecord, error)
	Progression(ctx context.Context, userID string) (domain.UserProgression, error)
	Progressions(ctx context.Context, userIDs []string) (map[string]domain.UserProgression, error)
	Badges(ctx context.Context, userID string) ([]domain.Badge, error)

	// TopXP ranks by cumulative XP. TopXPSince ranks by the XP events at or
	// after since. Both order by XP descending then user ID ascending; limit
	// <= 0 returns everyone.
	TopXP(ctx context.Context, limit int) ([]domain.XPTotal, error)
	TopXPSince(ctx context.Context, since time.Time, limit int) ([]domain.XPTotal, error)
	XPSince(ctx context.Context, userID string, since time.Time) (int64, error)

	SetDisplayName(ctx context.Context, userID, name string) error
	UpdateStandings(ctx context.Context, standings []domain.Standing) error
}
