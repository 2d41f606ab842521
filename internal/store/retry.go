package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rewards-ledger/internal/domain"
)

// RetryPolicy bounds how often a failed operation is retried. Delay is the
// first backoff interval; later intervals grow exponentially with jitter.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	// Retryable decides which errors are worth another attempt. Nil means
	// transient store contention only (domain.IsRetryable).
	Retryable func(error) bool
}

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.Delay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.MaxInterval = 16 * p.Delay
	return b
}

// Retry runs fn until it succeeds, fails with an error the policy does not
// retry, or the attempts are used up.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = domain.IsRetryable
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy.backOff()), backoff.WithMaxTries(uint(attempts)))
	return err
}
