package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewards-ledger/internal/domain"
)

type progressKey struct {
	userID     string
	activityID string
}

type badgeKey struct {
	userID  string
	badgeID string
}

// Memory is an in-process Store. Transactions are serialized behind a single
// mutex and staged until commit, so a failed or cancelled transaction leaves
// no trace. State does not survive a restart.
type Memory struct {
	mu           sync.RWMutex
	wallets      map[string]domain.Wallet
	transactions map[string][]domain.Transaction
	progress     map[progressKey]domain.ProgressRecord
	progressions map[string]domain.UserProgression
	xpEvents     []domain.XPEvent
	badges       map[badgeKey]domain.Badge
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		wallets:      make(map[string]domain.Wallet),
		transactions: make(map[string][]domain.Transaction),
		progress:     make(map[progressKey]domain.ProgressRecord),
		progressions: make(map[string]domain.UserProgression),
		badges:       make(map[badgeKey]domain.Badge),
	}
}

// WithinTx runs fn with exclusive access to the store. fn must only use the
// Tx it is given; calling the Memory read methods from inside fn deadlocks.
func (s *Memory) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hooks, err := s.runTx(ctx, fn)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

func (s *Memory) runTx(ctx context.Context, fn func(tx Tx) error) ([]func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:        s,
		wallets:      make(map[string]domain.Wallet),
		progress:     make(map[progressKey]domain.ProgressRecord),
		progressions: make(map[string]domain.UserProgression),
		badges:       make(map[badgeKey]domain.Badge),
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx.apply()
	return tx.hooks, nil
}

// Wallet returns the user's wallet, empty when never credited
func (s *Memory) Wallet(_ context.Context, userID string) (domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.wallets[userID]; ok {
		return w, nil
	}
	return domain.Wallet{UserID: userID}, nil
}

// RecentTransactions returns the user's transactions, newest first
func (s *Memory) RecentTransactions(_ context.Context, userID string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.transactions[userID]
	n := len(log)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Transaction, 0, n)
	for i := len(log) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, log[i])
	}
	return out, nil
}

// Progress returns one activity's progress record
func (s *Memory) Progress(_ context.Context, userID, activityID string) (domain.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.progress[progressKey{userID, activityID}]
	if !ok {
		return domain.ProgressRecord{}, domain.ErrProgressNotFound
	}
	return rec, nil
}

// Progression returns the user's progression, level 1 when absent
func (s *Memory) Progression(_ context.Context, userID string) (domain.UserProgression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.progressions[userID]; ok {
		return p, nil
	}
	return domain.NewUserProgression(userID), nil
}

// Progressions returns the progressions that exist for the given users
func (s *Memory) Progressions(_ context.Context, userIDs []string) (map[string]domain.UserProgression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.UserProgression, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.progressions[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Badges returns the user's badges in the order they were earned
func (s *Memory) Badges(_ context.Context, userID string) ([]domain.Badge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Badge
	for k, b := range s.badges {
		if k.userID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.Before(out[j].EarnedAt)
		}
		return out[i].BadgeID < out[j].BadgeID
	})
	return out, nil
}

// TopXP ranks users by cumulative XP
func (s *Memory) TopXP(_ context.Context, limit int) ([]domain.XPTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := make([]domain.XPTotal, 0, len(s.progressions))
	for id, p := range s.progressions {
		if p.XP > 0 {
			totals = append(totals, domain.XPTotal{UserID: id, XP: p.XP})
		}
	}
	return truncate(totals, limit), nil
}

// TopXPSince ranks users by XP earned at or after since
func (s *Memory) TopXPSince(_ context.Context, since time.Time, limit int) ([]domain.XPTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sums := make(map[string]int64)
	for _, e := range s.xpEvents {
		if !e.CreatedAt.Before(since) {
			sums[e.UserID] += e.Amount
		}
	}
	totals := make([]domain.XPTotal, 0, len(sums))
	for id, xp := range sums {
		totals = append(totals, domain.XPTotal{UserID: id, XP: xp})
	}
	return truncate(totals, limit), nil
}

// XPSince sums one user's XP events at or after since
func (s *Memory) XPSince(_ context.Context, userID string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.xpEvents {
		if e.UserID == userID && !e.CreatedAt.Before(since) {
			total += e.Amount
		}
	}
	return total, nil
}

// SetDisplayName stores the name shown on leaderboards
func (s *Memory) SetDisplayName(_ context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progressions[userID]
	if !ok {
		p = domain.NewUserProgression(userID)
	}
	p.DisplayName = name
	p.UpdatedAt = time.Now()
	s.progressions[userID] = p
	return nil
}

// UpdateStandings writes weekly XP and rank for the given users and clears the
// rank of anyone who fell off the board.
func (s *Memory) UpdateStandings(_ context.Context, standings []domain.Standing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ranked := make(map[string]domain.Standing, len(standings))
	for _, st := range standings {
		ranked[st.UserID] = st
	}
	for id, p := range s.progressions {
		if _, ok := ranked[id]; !ok && p.Rank != 0 {
			p.Rank = 0
			s.progressions[id] = p
		}
	}
	for id, st := range ranked {
		p, ok := s.progressions[id]
		if !ok {
			p = domain.NewUserProgression(id)
		}
		p.WeeklyXP = st.WeeklyXP
		p.Rank = st.Rank
		s.progressions[id] = p
	}
	return nil
}

func truncate(totals []domain.XPTotal, limit int) []domain.XPTotal {
	domain.SortXPTotals(totals)
	if limit > 0 && len(totals) > limit {
		totals = totals[:limit]
	}
	return totals
}

// memTx stages writes until commit. Reads see staged writes first.
type memTx struct {
	store *Memory

	wallets      map[string]domain.Wallet
	transactions []domain.Transaction
	progress     map[progressKey]domain.ProgressRecord
	progressions map[string]domain.UserProgression
	xpEvents     []domain.XPEvent
	badges       map[badgeKey]domain.Badge
	hooks        []func()
}

func (tx *memTx) Wallet(_ context.Context, userID string) (domain.Wallet, error) {
	if w, ok := tx.wallets[userID]; ok {
		return w, nil
	}
	if w, ok := tx.store.wallets[userID]; ok {
		return w, nil
	}
	return domain.Wallet{UserID: userID}, nil
}

func (tx *memTx) PutWallet(ctx context.Context, w domain.Wallet) error {
	if w.Balance < 0 {
		return fmt.Errorf("wallet %s: %w", w.UserID, domain.ErrInsufficientFunds)
	}
	current, err := tx.Wallet(ctx, w.UserID)
	if err != nil {
		return err
	}
	if current.Version != w.Version {
		return fmt.Errorf("wallet %s version %d != %d: %w", w.UserID, w.Version, current.Version, domain.ErrConflict)
	}
	w.Version++
	tx.wallets[w.UserID] = w
	return nil
}

func (tx *memTx) AppendTransaction(_ context.Context, t domain.Transaction) error {
	tx.transactions = append(tx.transactions, t)
	return nil
}

func (tx *memTx) Progress(_ context.Context, userID, activityID string) (domain.ProgressRecord, bool, error) {
	key := progressKey{userID, activityID}
	if rec, ok := tx.progress[key]; ok {
		return rec, true, nil
	}
	rec, ok := tx.store.progress[key]
	return rec, ok, nil
}

func (tx *memTx) ProgressFor(ctx context.Context, userID string, activityIDs []string) (map[string]domain.ProgressRecord, error) {
	out := make(map[string]domain.ProgressRecord, len(activityIDs))
	for _, id := range activityIDs {
		rec, ok, err := tx.Progress(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (tx *memTx) PutProgress(_ context.Context, rec domain.ProgressRecord) error {
	tx.progress[progressKey{rec.UserID, rec.ActivityID}] = rec
	return nil
}

func (tx *memTx) Progression(_ context.Context, userID string) (domain.UserProgression, error) {
	if p, ok := tx.progressions[userID]; ok {
		return p, nil
	}
	if p, ok := tx.store.progressions[userID]; ok {
		return p, nil
	}
	return domain.NewUserProgression(userID), nil
}

func (tx *memTx) PutProgression(_ context.Context, p domain.UserProgression) error {
	tx.progressions[p.UserID] = p
	return nil
}

func (tx *memTx) AppendXPEvent(_ context.Context, e domain.XPEvent) error {
	tx.xpEvents = append(tx.xpEvents, e)
	return nil
}

func (tx *memTx) Badge(_ context.Context, userID, badgeID string) (domain.Badge, bool, error) {
	key := badgeKey{userID, badgeID}
	if b, ok := tx.badges[key]; ok {
		return b, true, nil
	}
	b, ok := tx.store.badges[key]
	return b, ok, nil
}

func (tx *memTx) InsertBadge(ctx context.Context, b domain.Badge) (bool, error) {
	_, exists, err := tx.Badge(ctx, b.UserID, b.BadgeID)
	if err != nil || exists {
		return false, err
	}
	tx.badges[badgeKey{b.UserID, b.BadgeID}] = b
	return true, nil
}

func (tx *memTx) AfterCommit(fn func()) {
	tx.hooks = append(tx.hooks, fn)
}

func (tx *memTx) apply() {
	s := tx.store
	for id, w := range tx.wallets {
		s.wallets[id] = w
	}
	for _, t := range tx.transactions {
		s.transactions[t.UserID] = append(s.transactions[t.UserID], t)
	}
	for k, rec := range tx.progress {
		s.progress[k] = rec
	}
	for id, p := range tx.progressions {
		s.progressions[id] = p
	}
	s.xpEvents = append(s.xpEvents, tx.xpEvents...)
	for k, b := range tx.badges {
		s.badges[k] = b
	}
}
