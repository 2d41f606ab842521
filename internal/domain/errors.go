package domain

import "errors"

// Domain errors
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrUnauthorizedActor = errors.New("actor may not act for this user")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidPeriod     = errors.New("invalid leaderboard period")
	ErrReplayNotAllowed  = errors.New("replay cannot be unlocked for this activity")
	ErrBadgeNotFound     = errors.New("badge not found")
	ErrProgressNotFound  = errors.New("activity progress not found")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrConflict          = errors.New("concurrent update conflict")
	ErrLockTimeout       = errors.New("timed out waiting for lock")
	ErrInternalError     = errors.New("could not process reward")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrBadgeNotFound) ||
		errors.Is(err, ErrProgressNotFound) ||
		errors.Is(err, ErrWalletNotFound)
}

// IsValidationError reports whether err was caused by caller input. These are
// never retried.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrReplayNotAllowed)
}

// IsRetryable reports whether err is transient contention that may succeed on
// another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrLockTimeout)
}
