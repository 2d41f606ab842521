package badge

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

func newTestIssuer(t *testing.T) (*Issuer, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := map[string][]string{
		"calm-master": {"breathing", "grounding"},
	}
	return NewIssuer(st, keylock.New(time.Second), store.RetryPolicy{Attempts: 3, Delay: time.Millisecond}, catalog, logger), st
}

func complete(t *testing.T, st *store.Memory, userID, activityID string) {
	t.Helper()
	ctx := context.Background()
	err := st.WithinTx(ctx, func(tx store.Tx) error {
		return tx.PutProgress(ctx, domain.ProgressRecord{UserID: userID, ActivityID: activityID, FullyCompleted: true})
	})
	if err != nil {
		t.Fatalf("seed progress: %v", err)
	}
}

func TestCollectRequiresAllPrerequisites(t *testing.T) {
	iss, st := newTestIssuer(t)
	ctx := context.Background()

	complete(t, st, "u1", "breathing")
	status, err := iss.Collect(ctx, "u1", "calm-master")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if status.HasBadge || status.NewlyEarned {
		t.Fatalf("badge issued with missing prerequisite: %+v", status)
	}
	if len(status.Missing) != 1 || status.Missing[0] != "grounding" {
		t.Fatalf("missing: %+v", status.Missing)
	}
}

func TestCollectIsIdempotent(t *testing.T) {
	iss, st := newTestIssuer(t)
	ctx := context.Background()

	complete(t, st, "u1", "breathing")
	complete(t, st, "u1", "grounding")

	first, err := iss.Collect(ctx, "u1", "calm-master")
	if err != nil || !first.HasBadge || !first.NewlyEarned {
		t.Fatalf("first collect: %+v err=%v", first, err)
	}
	second, err := iss.Collect(ctx, "u1", "calm-master")
	if err != nil || !second.HasBadge || second.NewlyEarned {
		t.Fatalf("second collect: %+v err=%v", second, err)
	}

	badges, _ := iss.Badges(ctx, "u1")
	if len(badges) != 1 {
		t.Fatalf("want one badge record, got=%+v", badges)
	}
}

func TestConcurrentCollectIssuesOnce(t *testing.T) {
	iss, st := newTestIssuer(t)
	ctx := context.Background()
	complete(t, st, "u1", "breathing")
	complete(t, st, "u1", "grounding")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		newly int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := iss.Collect(ctx, "u1", "calm-master")
			if err != nil {
				t.Errorf("Collect: %v", err)
				return
			}
			if status.NewlyEarned {
				mu.Lock()
				newly++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if newly != 1 {
		t.Fatalf("want exactly one newly earned, got=%d", newly)
	}
}

func TestCollectUnknownBadge(t *testing.T) {
	iss, _ := newTestIssuer(t)
	if _, err := iss.Collect(context.Background(), "u1", "nope"); !errors.Is(err, domain.ErrBadgeNotFound) {
		t.Fatalf("want ErrBadgeNotFound, got=%v", err)
	}
}

func TestEvaluateTxWithEmptyRequirementIssues(t *testing.T) {
	iss, st := newTestIssuer(t)
	ctx := context.Background()
	var status domain.BadgeStatus
	err := st.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		status, err = iss.EvaluateTx(ctx, tx, "u1", "welcome", nil)
		return err
	})
	if err != nil || !status.NewlyEarned {
		t.Fatalf("status: %+v err=%v", status, err)
	}
}
