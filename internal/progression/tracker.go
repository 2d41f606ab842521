// Package progression tracks XP, levels and daily streaks.
package progression

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/keylock"
	"github.com/rewards-ledger/internal/ledger"
	"github.com/rewards-ledger/internal/store"
)

// Settings configures level math and the calendar
type Settings struct {
	XPPerLevel   int64
	LevelUpBonus int64
	Location     *time.Location
}

// Tracker owns UserProgression. Levels only ever go up because XP is only
// ever added.
type Tracker struct {
	store    store.Store
	ledger   *ledger.Ledger
	locks    *keylock.Locker
	retry    store.RetryPolicy
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a progression tracker
func New(st store.Store, l *ledger.Ledger, locks *keylock.Locker, retry store.RetryPolicy, settings Settings, logger *slog.Logger) *Tracker {
	if settings.XPPerLevel <= 0 {
		settings.XPPerLevel = 100
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &Tracker{
		store:    st,
		ledger:   l,
		locks:    locks,
		retry:    retry,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Location is the reference timezone for calendar math
func (t *Tracker) Location() *time.Location {
	return t.settings.Location
}

// AddXP awards XP in its own transaction
func (t *Tracker) AddXP(ctx context.Context, userID string, amount int64, source string) (domain.XPAward, error) {
	var award domain.XPAward
	err := t.locked(ctx, userID, func(tx store.Tx) error {
		var err error
		award, err = t.AddXPTx(ctx, tx, userID, amount, source)
		return err
	})
	return award, err
}

// AddXPTx awards XP inside the caller's transaction, records the XP event and
// credits the level-up bonus when a level boundary is crossed. The caller
// must hold the user's lock.
func (t *Tracker) AddXPTx(ctx context.Context, tx store.Tx, userID string, amount int64, source string) (domain.XPAward, error) {
	if amount <= 0 {
		return domain.XPAward{}, fmt.Errorf("adding %d xp: %w", amount, domain.ErrInvalidAmount)
	}

	p, err := tx.Progression(ctx, userID)
	if err != nil {
		return domain.XPAward{}, fmt.Errorf("loading progression: %w", err)
	}

	now := t.now()
	oldLevel := p.Level
	if derived := domain.LevelForXP(p.XP, t.settings.XPPerLevel); oldLevel < derived {
		oldLevel = derived
	}

	p.XP += amount
	p.Level = domain.LevelForXP(p.XP, t.settings.XPPerLevel)
	if p.Level < oldLevel {
		p.Level = oldLevel
	}
	p.UpdatedAt = now

	if err := tx.AppendXPEvent(ctx, domain.XPEvent{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		CreatedAt: now,
	}); err != nil {
		return domain.XPAward{}, fmt.Errorf("recording xp event: %w", err)
	}
	if err := tx.PutProgression(ctx, p); err != nil {
		return domain.XPAward{}, fmt.Errorf("saving progression: %w", err)
	}

	award := domain.XPAward{
		XP:        p.XP,
		OldLevel:  oldLevel,
		Level:     p.Level,
		LeveledUp: p.Level > oldLevel,
		AwardedAt: now,
	}
	if award.LeveledUp {
		award.BonusCoins = domain.LevelUpBonus(oldLevel, p.Level, t.settings.LevelUpBonus)
		if award.BonusCoins > 0 {
			desc := fmt.Sprintf("Level up bonus: reached level %d", p.Level)
			if _, _, err := t.ledger.CreditTx(ctx, tx, userID, award.BonusCoins, desc, domain.TransactionLevelUpBonus); err != nil {
				return domain.XPAward{}, fmt.Errorf("crediting level up bonus: %w", err)
			}
		}
		tx.AfterCommit(func() {
			t.logger.Info("user leveled up",
				"user_id", userID,
				"old_level", oldLevel,
				"new_level", award.Level,
				"bonus_coins", award.BonusCoins,
			)
		})
	}

	return award, nil
}

// UpdateStreak records a daily check-in. A second check-in on the same
// calendar day is a no-op.
func (t *Tracker) UpdateStreak(ctx context.Context, userID string) (domain.UserProgression, error) {
	var out domain.UserProgression
	err := t.locked(ctx, userID, func(tx store.Tx) error {
		p, err := tx.Progression(ctx, userID)
		if err != nil {
			return fmt.Errorf("loading progression: %w", err)
		}
		now := t.now()
		streak, changed := domain.NextStreak(p.Streak, p.LastCheckIn, now, t.settings.Location)
		if !changed {
			out = p
			return nil
		}
		p.Streak = streak
		p.LastCheckIn = domain.CalendarDay(now, t.settings.Location)
		p.UpdatedAt = now
		if err := tx.PutProgression(ctx, p); err != nil {
			return fmt.Errorf("saving progression: %w", err)
		}
		out = p
		return nil
	})
	return out, err
}

// Progression returns the user's current progression
func (t *Tracker) Progression(ctx context.Context, userID string) (domain.UserProgression, error) {
	p, err := t.store.Progression(ctx, userID)
	if err != nil {
		return domain.UserProgression{}, fmt.Errorf("getting progression: %w", err)
	}
	return p, nil
}

func (t *Tracker) locked(ctx context.Context, userID string, fn func(tx store.Tx) error) error {
	return store.Retry(ctx, t.retry, func(ctx context.Context) error {
		release, err := t.locks.Lock(ctx, keylock.UserKey(userID))
		if err != nil {
			return err
		}
		defer release()
		return t.store.WithinTx(ctx, fn)
	})
}
