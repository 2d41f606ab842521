// Package keylock serializes work per key. Different keys never contend.
package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rewards-ledger/internal/domain"
	"golang.org/x/sync/semaphore"
)

// Locker hands out one exclusive slot per key
type Locker struct {
	mu      sync.Mutex
	keys    map[string]*entry
	timeout time.Duration
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// New creates a Locker. A positive timeout bounds how long Lock waits.
func New(timeout time.Duration) *Locker {
	return &Locker{
		keys:    make(map[string]*entry),
		timeout: timeout,
	}
}

// UserKey is the lock key guarding a user's wallet and progression
func UserKey(userID string) string {
	return "user:" + userID
}

// ActivityKey is the lock key guarding one user's progress on one activity
func ActivityKey(userID, activityID string) string {
	return "activity:" + userID + ":" + activityID
}

// Lock blocks until key is free, the timeout elapses or ctx is done. The
// returned release func is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	acquireCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(acquireCtx, 1); err != nil {
		l.forget(key, e)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrLockTimeout, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.forget(key, e)
		})
	}, nil
}

// LockAll acquires keys in the order given and releases them in reverse.
// Callers must use a consistent order across call sites.
func (l *Locker) LockAll(ctx context.Context, keys ...string) (func(), error) {
	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range keys {
		release, err := l.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// Len returns the number of keys currently held or waited on
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (l *Locker) forget(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}
