package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rewards-ledger/internal/domain"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 5, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("wallet: %w", domain.ErrConflict)
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("want success after 3 calls, got err=%v calls=%d", err, calls)
	}
}

func TestRetryDoesNotRetryValidationErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 5}, func(context.Context) error {
		calls++
		return domain.ErrInsufficientFunds
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) || calls != 1 {
		t.Fatalf("want single call with ErrInsufficientFunds, got err=%v calls=%d", err, calls)
	}
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 3}, func(context.Context) error {
		calls++
		return domain.ErrLockTimeout
	})
	if !errors.Is(err, domain.ErrLockTimeout) || calls != 3 {
		t.Fatalf("want 3 calls ending in ErrLockTimeout, got err=%v calls=%d", err, calls)
	}
}

func TestRetryCustomRetryable(t *testing.T) {
	down := errors.New("connection refused")
	calls := 0
	policy := RetryPolicy{
		Attempts:  4,
		Delay:     time.Millisecond,
		Retryable: func(err error) bool { return !domain.IsValidationError(err) },
	}
	err := Retry(context.Background(), policy, func(context.Context) error {
		calls++
		if calls < 3 {
			return down
		}
		return domain.ErrInvalidAmount
	})
	if !errors.Is(err, domain.ErrInvalidAmount) || calls != 3 {
		t.Fatalf("want stop on validation error after 3 calls, got err=%v calls=%d", err, calls)
	}
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{Attempts: 100, Delay: 50 * time.Millisecond}, func(context.Context) error {
		calls++
		cancel()
		return domain.ErrConflict
	})
	if err == nil || calls != 1 {
		t.Fatalf("want early stop, got err=%v calls=%d", err, calls)
	}
}
