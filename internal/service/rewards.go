// Package service runs the rewards pipeline: classify a completion, pay coins
// and XP, evaluate badges, then notify listeners once the writes are durable.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rewards-ledger/internal/badge"
	"github.com/rewards-ledger/internal/completion"
	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/keylock"
	"github.com/rewards-ledger/internal/leaderboard"
	"github.com/rewards-ledger/internal/ledger"
	"github.com/rewards-ledger/internal/progression"
	"github.com/rewards-ledger/internal/store"
)

const maxDisplayName = 64

// Notifier receives pushes for a user's private channel
type Notifier interface {
	PublishWallet(view domain.WalletView)
	PublishLevelUp(lu domain.LevelUp)
}

// XPRecorder mirrors XP awards into a secondary ranking index
type XPRecorder interface {
	Record(ctx context.Context, userID string, amount int64, at time.Time) error
}

// RefreshTrigger asks for an early leaderboard refresh
type RefreshTrigger interface {
	Trigger()
}

// Settings holds the economy knobs the service needs
type Settings struct {
	ReplayCost         int64
	RecentTransactions int
}

// Deps are the collaborators of RewardsService
type Deps struct {
	Store       store.Store
	Locks       *keylock.Locker
	Retry       store.RetryPolicy
	Ledger      *ledger.Ledger
	Tracker     *progression.Tracker
	Guard       *completion.Guard
	Badges      *badge.Issuer
	Leaderboard *leaderboard.Aggregator
}

// RewardsService is the entry point for every reward-granting operation
type RewardsService struct {
	store       store.Store
	locks       *keylock.Locker
	retry       store.RetryPolicy
	ledger      *ledger.Ledger
	tracker     *progression.Tracker
	guard       *completion.Guard
	badges      *badge.Issuer
	leaderboard *leaderboard.Aggregator
	settings    Settings
	logger      *slog.Logger

	notifier Notifier
	index    XPRecorder
	refresh  RefreshTrigger
}

// NewRewardsService creates the rewards service
func NewRewardsService(deps Deps, settings Settings, logger *slog.Logger) *RewardsService {
	if settings.RecentTransactions <= 0 {
		settings.RecentTransactions = 10
	}
	s := &RewardsService{
		store:       deps.Store,
		locks:       deps.Locks,
		retry:       deps.Retry,
		ledger:      deps.Ledger,
		tracker:     deps.Tracker,
		guard:       deps.Guard,
		badges:      deps.Badges,
		leaderboard: deps.Leaderboard,
		settings:    settings,
		logger:      logger,
	}
	s.ledger.OnBalanceChange(s.onBalanceChange)
	return s
}

// SetNotifier routes wallet and level-up pushes to n
func (s *RewardsService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetIndex mirrors committed XP awards into idx
func (s *RewardsService) SetIndex(idx XPRecorder) {
	s.index = idx
}

// SetRefreshTrigger requests a leaderboard refresh after XP changes
func (s *RewardsService) SetRefreshTrigger(t RefreshTrigger) {
	s.refresh = t
}

func authorize(actorID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	if actorID != userID {
		return domain.ErrUnauthorizedActor
	}
	return nil
}

// ProcessCompletion classifies and pays a completion report. The actor must
// be the user the report is for. Each unit of progress is paid at most once
// no matter how many times or how concurrently the report is delivered.
func (s *RewardsService) ProcessCompletion(ctx context.Context, actorID, userID string, report domain.CompletionReport) (domain.CompletionResult, error) {
	if err := authorize(actorID, userID); err != nil {
		return domain.CompletionResult{}, err
	}
	if err := report.Validate(); err != nil {
		return domain.CompletionResult{}, err
	}

	var (
		applied  completion.Applied
		badgeRes domain.BadgeStatus
		badgeRan bool
	)
	err := s.withLocks(ctx, []string{keylock.ActivityKey(userID, report.ActivityID), keylock.UserKey(userID)}, func(tx store.Tx) error {
		var err error
		applied, err = s.guard.ApplyTx(ctx, tx, userID, report)
		if err != nil {
			return err
		}

		badgeRan = false
		if report.IsBadgeGame && strings.TrimSpace(report.BadgeName) != "" {
			required, ok := s.badges.Required(report.BadgeName)
			if !ok {
				required = []string{report.ActivityID}
			}
			badgeRes, err = s.badges.EvaluateTx(ctx, tx, userID, report.BadgeName, required)
			if err != nil {
				return err
			}
			badgeRan = true
		}

		if applied.XP > 0 {
			xp, award := applied.XP, applied.XPAward
			tx.AfterCommit(func() { s.afterXP(userID, xp, award.AwardedAt) })
			if award.LeveledUp {
				tx.AfterCommit(func() { s.pushLevelUp(userID, award) })
			}
		}
		return nil
	})
	if err != nil {
		if !domain.IsValidationError(err) {
			s.logger.Error("completion failed",
				"user_id", userID,
				"activity_id", report.ActivityID,
				"error", err,
			)
		}
		return domain.CompletionResult{}, fmt.Errorf("processing completion: %w", err)
	}

	result := domain.CompletionResult{
		Outcome:              applied.Outcome,
		CoinsEarned:          applied.Coins,
		TotalCoinsEarned:     applied.Record.TotalCoinsEarned,
		NewLevelsCompleted:   applied.NewLevels,
		TotalLevelsCompleted: applied.Record.LevelsCompleted,
		NewBalance:           applied.Balance,
		FullyCompleted:       applied.Record.FullyCompleted,
		ReplayUnlocked:       applied.Record.ReplayUnlocked,
		AllAnswersCorrect:    report.AllAnswersCorrect(),
		XPEarned:             applied.XP,
		LevelUp:              applied.XPAward.LeveledUp,
		NewLevel:             applied.XPAward.Level,
	}
	if badgeRan {
		result.BadgeEarned = badgeRes.NewlyEarned
		result.BadgeAlreadyEarned = badgeRes.HasBadge && !badgeRes.NewlyEarned
	}

	s.logger.Info("completion processed",
		"user_id", userID,
		"activity_id", report.ActivityID,
		"outcome", result.Outcome,
		"coins", result.CoinsEarned,
		"xp", result.XPEarned,
	)
	return result, nil
}

// UnlockReplay charges the replay cost and unlocks one replay of a fully
// completed activity.
func (s *RewardsService) UnlockReplay(ctx context.Context, actorID, userID, activityID string) (domain.ProgressRecord, int64, error) {
	if err := authorize(actorID, userID); err != nil {
		return domain.ProgressRecord{}, 0, err
	}
	if strings.TrimSpace(activityID) == "" {
		return domain.ProgressRecord{}, 0, fmt.Errorf("%w: activity id is required", domain.ErrInvalidRequest)
	}

	var (
		rec     domain.ProgressRecord
		balance int64
	)
	err := s.withLocks(ctx, []string{keylock.ActivityKey(userID, activityID), keylock.UserKey(userID)}, func(tx store.Tx) error {
		var err error
		rec, balance, err = s.guard.UnlockReplayTx(ctx, tx, userID, activityID, s.settings.ReplayCost)
		return err
	})
	if err != nil {
		return domain.ProgressRecord{}, 0, fmt.Errorf("unlocking replay: %w", err)
	}
	return rec, balance, nil
}

// withLocks runs fn in one store transaction while holding keys, retrying
// transient contention.
func (s *RewardsService) withLocks(ctx context.Context, keys []string, fn func(tx store.Tx) error) error {
	return store.Retry(ctx, s.retry, func(ctx context.Context) error {
		release, err := s.locks.LockAll(ctx, keys...)
		if err != nil {
			return err
		}
		defer release()
		return s.store.WithinTx(ctx, fn)
	})
}

// CheckIn records today's visit and returns the updated streak
func (s *RewardsService) CheckIn(ctx context.Context, actorID, userID string) (domain.UserProgression, error) {
	if err := authorize(actorID, userID); err != nil {
		return domain.UserProgression{}, err
	}
	return s.tracker.UpdateStreak(ctx, userID)
}

// SetDisplayName sets the name shown on leaderboards
func (s *RewardsService) SetDisplayName(ctx context.Context, actorID, userID, name string) error {
	if err := authorize(actorID, userID); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayName {
		return fmt.Errorf("%w: display name must be 1-%d characters", domain.ErrInvalidRequest, maxDisplayName)
	}
	if err := s.store.SetDisplayName(ctx, userID, name); err != nil {
		return fmt.Errorf("setting display name: %w", err)
	}
	return nil
}

// CollectBadge issues a catalogued badge once its prerequisites are complete
func (s *RewardsService) CollectBadge(ctx context.Context, actorID, userID, badgeID string) (domain.BadgeStatus, error) {
	if err := authorize(actorID, userID); err != nil {
		return domain.BadgeStatus{}, err
	}
	return s.badges.Collect(ctx, userID, badgeID)
}

// Badges lists the user's badges
func (s *RewardsService) Badges(ctx context.Context, userID string) ([]domain.Badge, error) {
	return s.badges.Badges(ctx, userID)
}

// Credit adds coins on behalf of the platform. It carries no actor; callers
// must admit only platform services.
func (s *RewardsService) Credit(ctx context.Context, userID string, amount int64, description string) (int64, error) {
	return s.ledger.Credit(ctx, userID, amount, description, domain.TransactionCredit)
}

// Spend debits coins for a purchase made by the user
func (s *RewardsService) Spend(ctx context.Context, actorID, userID string, amount int64, description string) (int64, error) {
	if err := authorize(actorID, userID); err != nil {
		return 0, err
	}
	return s.ledger.Spend(ctx, userID, amount, description)
}

// Redeem debits coins for a reward awaiting fulfilment
func (s *RewardsService) Redeem(ctx context.Context, actorID, userID string, amount int64, description string) (int64, error) {
	if err := authorize(actorID, userID); err != nil {
		return 0, err
	}
	return s.ledger.Redeem(ctx, userID, amount, description)
}

// Wallet returns the balance with recent transactions
func (s *RewardsService) Wallet(ctx context.Context, userID string) (domain.WalletView, error) {
	return s.ledger.View(ctx, userID, s.settings.RecentTransactions)
}

// Progression returns XP, level and streak
func (s *RewardsService) Progression(ctx context.Context, userID string) (domain.UserProgression, error) {
	return s.tracker.Progression(ctx, userID)
}

// Progress returns one activity's progress record
func (s *RewardsService) Progress(ctx context.Context, userID, activityID string) (domain.ProgressRecord, error) {
	rec, err := s.store.Progress(ctx, userID, activityID)
	if err != nil {
		return domain.ProgressRecord{}, fmt.Errorf("getting progress: %w", err)
	}
	return rec, nil
}

// onBalanceChange runs after commit while the user's lock is still held, so
// pushes for one user leave in commit order. The balance is the committed
// one; the transaction list is cut at the change that produced it.
func (s *RewardsService) onBalanceChange(change ledger.BalanceChange) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	view := domain.WalletView{UserID: change.UserID, Balance: change.Balance}
	txs, err := s.store.RecentTransactions(ctx, change.UserID, s.settings.RecentTransactions)
	if err != nil {
		s.logger.Warn("recent transactions unavailable for wallet push", "user_id", change.UserID, "error", err)
		txs = []domain.Transaction{change.Transaction}
	}
	for i, t := range txs {
		if t.ID == change.Transaction.ID {
			txs = txs[i:]
			break
		}
	}
	view.RecentTransactions = txs
	s.notifier.PublishWallet(view)
}

// pushLevelUp runs as an after-commit hook, behind the bonus credit's wallet
// push on the same channel.
func (s *RewardsService) pushLevelUp(userID string, award domain.XPAward) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lu := domain.LevelUp{
		UserID:      userID,
		OldLevel:    award.OldLevel,
		NewLevel:    award.Level,
		CoinsEarned: award.BonusCoins,
		TotalXP:     award.XP,
	}

	weekStart, _ := domain.PeriodWeekly.Start(award.AwardedAt, s.tracker.Location())
	if weekly, err := s.store.XPSince(ctx, userID, weekStart); err == nil {
		lu.WeeklyXP = weekly
	} else {
		s.logger.Warn("weekly xp unavailable for level-up push", "user_id", userID, "error", err)
	}
	if s.leaderboard != nil {
		lu.Rank = s.leaderboard.RankOf(domain.PeriodWeekly, userID)
	}
	if lu.Rank == 0 {
		if p, err := s.store.Progression(ctx, userID); err == nil {
			lu.Rank = p.Rank
		}
	}

	s.notifier.PublishLevelUp(lu)
}

func (s *RewardsService) afterXP(userID string, amount int64, at time.Time) {
	if s.index == nil {
		if s.refresh != nil {
			s.refresh.Trigger()
		}
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.index.Record(ctx, userID, amount, at); err != nil {
			s.logger.Warn("ranking index update failed", "user_id", userID, "error", err)
		}
		if s.refresh != nil {
			s.refresh.Trigger()
		}
	}()
}
