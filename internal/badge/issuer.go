// Package badge issues badges once every prerequisite activity is complete.
package badge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/keylock"
	"github.com/rewards-ledger/internal/store"
)

// Issuer evaluates and collects badges
type Issuer struct {
	store   store.Store
	locks   *keylock.Locker
	retry   store.RetryPolicy
	catalog map[string][]string
	logger  *slog.Logger
	now     func() time.Time
}

// NewIssuer creates a badge issuer. catalog maps badge IDs to the activities
// that must be fully completed first.
func NewIssuer(st store.Store, locks *keylock.Locker, retry store.RetryPolicy, catalog map[string][]string, logger *slog.Logger) *Issuer {
	if catalog == nil {
		catalog = map[string][]string{}
	}
	return &Issuer{
		store:   st,
		locks:   locks,
		retry:   retry,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

// Required returns the catalogued prerequisites for badgeID
func (i *Issuer) Required(badgeID string) ([]string, bool) {
	req, ok := i.catalog[badgeID]
	return req, ok
}

// EvaluateTx issues badgeID inside tx when every required activity is fully
// completed. An existing badge is reported as held and never re-inserted.
func (i *Issuer) EvaluateTx(ctx context.Context, tx store.Tx, userID, badgeID string, required []string) (domain.BadgeStatus, error) {
	status := domain.BadgeStatus{BadgeID: badgeID}
	if strings.TrimSpace(badgeID) == "" {
		return status, fmt.Errorf("%w: badge id is required", domain.ErrInvalidRequest)
	}

	if _, held, err := tx.Badge(ctx, userID, badgeID); err != nil {
		return status, fmt.Errorf("loading badge: %w", err)
	} else if held {
		status.HasBadge = true
		return status, nil
	}

	records, err := tx.ProgressFor(ctx, userID, required)
	if err != nil {
		return status, fmt.Errorf("loading prerequisites: %w", err)
	}
	for _, id := range required {
		if rec, ok := records[id]; !ok || !rec.FullyCompleted {
			status.Missing = append(status.Missing, id)
		}
	}
	if len(status.Missing) > 0 {
		sort.Strings(status.Missing)
		return status, nil
	}

	inserted, err := tx.InsertBadge(ctx, domain.Badge{UserID: userID, BadgeID: badgeID, EarnedAt: i.now()})
	if err != nil {
		return status, fmt.Errorf("inserting badge: %w", err)
	}
	status.HasBadge = true
	status.NewlyEarned = inserted
	if inserted {
		tx.AfterCommit(func() {
			i.logger.Info("badge earned", "user_id", userID, "badge_id", badgeID)
		})
	}
	return status, nil
}

// Collect evaluates a catalogued badge for the user in its own transaction
func (i *Issuer) Collect(ctx context.Context, userID, badgeID string) (domain.BadgeStatus, error) {
	required, ok := i.catalog[badgeID]
	if !ok {
		return domain.BadgeStatus{}, fmt.Errorf("badge %q: %w", badgeID, domain.ErrBadgeNotFound)
	}

	var status domain.BadgeStatus
	err := store.Retry(ctx, i.retry, func(ctx context.Context) error {
		release, err := i.locks.Lock(ctx, keylock.UserKey(userID))
		if err != nil {
			return err
		}
		defer release()
		return i.store.WithinTx(ctx, func(tx store.Tx) error {
			status, err = i.EvaluateTx(ctx, tx, userID, badgeID, required)
			return err
		})
	})
	if err != nil {
		return domain.BadgeStatus{}, err
	}
	return status, nil
}

// Badges lists the badges a user holds
func (i *Issuer) Badges(ctx context.Context, userID string) ([]domain.Badge, error) {
	badges, err := i.store.Badges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing badges: %w", err)
	}
	if badges == nil {
		badges = []domain.Badge{}
	}
	return badges, nil
}
