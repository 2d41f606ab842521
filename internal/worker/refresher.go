package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/leaderboard"
	"github.com/rewards-ledger/internal/store"
)

// Publisher receives every committed leaderboard snapshot
type Publisher interface {
	PublishLeaderboard(snap domain.LeaderboardSnapshot)
}

// Refresher periodically recomputes every leaderboard period, commits the
// position changes and broadcasts the result. Trigger requests an early run.
type Refresher struct {
	aggregator *leaderboard.Aggregator
	store      store.Store
	publisher  Publisher
	periods    []domain.Period
	interval   time.Duration
	logger     *slog.Logger
	trigger    chan struct{}
	stopCh     chan struct{}
	doneCh     chan struct{}
	mu         sync.Mutex
	running    bool
}

// NewRefresher creates a leaderboard refresher
func NewRefresher(
	agg *leaderboard.Aggregator,
	st store.Store,
	publisher Publisher,
	periods []domain.Period,
	interval time.Duration,
	logger *slog.Logger,
) *Refresher {
	if len(periods) == 0 {
		periods = domain.AllPeriods()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Refresher{
		aggregator: agg,
		store:      st,
		publisher:  publisher,
		periods:    periods,
		interval:   interval,
		logger:     logger,
		trigger:    make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the background refresh loop
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info("leaderboard refresher started", "interval", r.interval, "periods", r.periods)

	go r.run(ctx)
	return nil
}

// Stop stops the refresh loop and waits for it to exit
func (r *Refresher) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.logger.Info("leaderboard refresher stopped")
	return nil
}

// Trigger requests a refresh without waiting for it. Requests made while one
// is already pending are merged.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// TriggerPeriod satisfies the subscribe hook; all periods refresh together.
func (r *Refresher) TriggerPeriod(domain.Period) {
	r.Trigger()
}

func (r *Refresher) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.refreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		case <-r.trigger:
			r.refreshAll(ctx)
		}
	}
}

func (r *Refresher) refreshAll(ctx context.Context) {
	startTime := time.Now()
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error("leaderboard refresh failed", "error", err)
		return
	}
	r.logger.Debug("leaderboard refresh completed", "duration", time.Since(startTime))
}

// RunOnce refreshes every period in parallel. Periods never share a baseline,
// so they do not need to be serialized against each other.
func (r *Refresher) RunOnce(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range r.periods {
		p := p
		g.Go(func() error {
			snap, err := r.aggregator.Refresh(ctx, p)
			if err != nil {
				return err
			}
			if r.publisher != nil {
				r.publisher.PublishLeaderboard(snap)
			}
			if p == domain.PeriodWeekly {
				r.writeStandings(ctx, snap)
			}
			return nil
		})
	}
	return g.Wait()
}

// writeStandings caches weekly XP and rank on each user's progression for
// level-up pushes. Failure only makes those fields stale.
func (r *Refresher) writeStandings(ctx context.Context, snap domain.LeaderboardSnapshot) {
	standings := make([]domain.Standing, len(snap.Leaderboard))
	for i, e := range snap.Leaderboard {
		standings[i] = domain.Standing{UserID: e.UserID, WeeklyXP: e.XP, Rank: e.Rank}
	}
	if err := r.store.UpdateStandings(ctx, standings); err != nil {
		r.logger.Warn("failed to write weekly standings", "error", err)
	}
}

// IsRunning returns whether the refresher is running
func (r *Refresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
