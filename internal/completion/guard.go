// Package completion decides whether an activity completion report earns a
// reward, and makes sure each unit of progress is paid for exactly once.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/ledger"
	"github.com/rewards-ledger/internal/progression"
	"github.com/rewards-ledger/internal/store"
)

// Decision is the classification of one report against the stored record
type Decision struct {
	Outcome   domain.Outcome
	Coins     int64
	XP        int64
	NewLevels int
	Record    domain.ProgressRecord
}

// Classify is the pure classification step. It never pays a level twice and
// never pays past the activity's coin budget.
func Classify(prev domain.ProgressRecord, exists bool, userID string, r domain.CompletionReport, now time.Time) Decision {
	rec := prev
	if !exists {
		rec = domain.ProgressRecord{UserID: userID, ActivityID: r.ActivityID}
	}
	if r.TotalLevels > rec.TotalLevels {
		rec.TotalLevels = r.TotalLevels
	}

	if rec.FullyCompleted {
		// Only an unlocked replay is recorded, and it spends the unlock.
		// Anything else leaves the record as stored.
		if r.IsReplay && rec.ReplayUnlocked {
			rec.ReplayUnlocked = false
			rec.LastCompletedAt = now
			return Decision{Outcome: domain.OutcomeReplay, Record: rec}
		}
		return Decision{Outcome: domain.OutcomeStale, Record: prev}
	}

	budget := r.CoinBudget()

	if r.CompletesActivity() {
		levels := rec.LevelsCompleted
		if r.LevelsCompleted > levels {
			levels = r.LevelsCompleted
		}
		if rec.TotalLevels > levels {
			levels = rec.TotalLevels
		}
		coins := budget - rec.TotalCoinsEarned
		if coins < 0 {
			coins = 0
		}
		d := Decision{
			Outcome:   domain.OutcomeFirstFullCompletion,
			Coins:     coins,
			XP:        r.TotalXP,
			NewLevels: levels - rec.LevelsCompleted,
		}
		rec.LevelsCompleted = levels
		rec.TotalCoinsEarned += coins
		rec.FullyCompleted = true
		rec.ReplayUnlocked = false
		rec.LastCompletedAt = now
		d.Record = rec
		return d
	}

	if r.LevelsCompleted > rec.LevelsCompleted {
		delta := r.LevelsCompleted - rec.LevelsCompleted
		coins := r.CoinsPerLevel * int64(delta)
		if budget > 0 && rec.TotalCoinsEarned+coins > budget {
			coins = budget - rec.TotalCoinsEarned
			if coins < 0 {
				coins = 0
			}
		}
		rec.LevelsCompleted = r.LevelsCompleted
		rec.TotalCoinsEarned += coins
		rec.LastCompletedAt = now
		return Decision{Outcome: domain.OutcomeNewProgress, Coins: coins, NewLevels: delta, Record: rec}
	}

	return Decision{Outcome: domain.OutcomeStale, Record: rec}
}

// Applied is a decision after its writes have been staged
type Applied struct {
	Decision
	Balance int64
	XPAward domain.XPAward
}

// Guard applies classifications to the ledger and progression tracker
type Guard struct {
	ledger  *ledger.Ledger
	tracker *progression.Tracker
	logger  *slog.Logger
	now     func() time.Time
}

// NewGuard creates a completion guard
func NewGuard(l *ledger.Ledger, tracker *progression.Tracker, logger *slog.Logger) *Guard {
	return &Guard{
		ledger:  l,
		tracker: tracker,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

// ApplyTx classifies the report and stages the record, coin and XP writes in
// tx. The caller must hold the (user, activity) and user locks so the read
// the classification is based on cannot go stale before commit.
func (g *Guard) ApplyTx(ctx context.Context, tx store.Tx, userID string, r domain.CompletionReport) (Applied, error) {
	prev, exists, err := tx.Progress(ctx, userID, r.ActivityID)
	if err != nil {
		return Applied{}, fmt.Errorf("loading progress: %w", err)
	}

	out := Applied{Decision: Classify(prev, exists, userID, r, g.now())}

	if out.Outcome != domain.OutcomeStale {
		if err := tx.PutProgress(ctx, out.Record); err != nil {
			return Applied{}, fmt.Errorf("saving progress: %w", err)
		}
	}

	if out.Coins > 0 {
		desc := fmt.Sprintf("Reward for %s", r.ActivityID)
		if _, _, err := g.ledger.CreditTx(ctx, tx, userID, out.Coins, desc, domain.TransactionReward); err != nil {
			return Applied{}, fmt.Errorf("crediting reward: %w", err)
		}
	}

	if out.XP > 0 {
		award, err := g.tracker.AddXPTx(ctx, tx, userID, out.XP, "activity:"+r.ActivityID)
		if err != nil {
			return Applied{}, fmt.Errorf("awarding xp: %w", err)
		}
		out.XPAward = award
	}

	wallet, err := tx.Wallet(ctx, userID)
	if err != nil {
		return Applied{}, fmt.Errorf("loading wallet: %w", err)
	}
	out.Balance = wallet.Balance

	g.logger.Debug("completion classified",
		"user_id", userID,
		"activity_id", r.ActivityID,
		"outcome", out.Outcome,
		"coins", out.Coins,
		"xp", out.XP,
	)
	return out, nil
}

// UnlockReplayTx charges cost coins and unlocks one replay of a fully
// completed activity.
func (g *Guard) UnlockReplayTx(ctx context.Context, tx store.Tx, userID, activityID string, cost int64) (domain.ProgressRecord, int64, error) {
	rec, exists, err := tx.Progress(ctx, userID, activityID)
	if err != nil {
		return domain.ProgressRecord{}, 0, fmt.Errorf("loading progress: %w", err)
	}
	if !exists {
		return domain.ProgressRecord{}, 0, domain.ErrProgressNotFound
	}
	if !rec.FullyCompleted || rec.ReplayUnlocked {
		return domain.ProgressRecord{}, 0, domain.ErrReplayNotAllowed
	}

	var balance int64
	if cost > 0 {
		desc := fmt.Sprintf("Replay unlock for %s", activityID)
		_, balance, err = g.ledger.DebitTx(ctx, tx, userID, cost, desc, domain.TransactionSpend, domain.TransactionCompleted)
		if err != nil {
			return domain.ProgressRecord{}, 0, err
		}
	} else {
		w, err := tx.Wallet(ctx, userID)
		if err != nil {
			return domain.ProgressRecord{}, 0, fmt.Errorf("loading wallet: %w", err)
		}
		balance = w.Balance
	}

	rec.ReplayUnlocked = true
	if err := tx.PutProgress(ctx, rec); err != nil {
		return domain.ProgressRecord{}, 0, fmt.Errorf("saving progress: %w", err)
	}
	return rec, balance, nil
}
