package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rewards-ledger/internal/config"
	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/store"
)

// NewClient opens and pings a Redis connection
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// RankingIndex keeps one sorted set of XP per period bucket so leaderboards
// can be read without scanning XP history.
type RankingIndex struct {
	client *redis.Client
	prefix string
	loc    *time.Location
	logger *slog.Logger
}

// NewRankingIndex creates a ranking index. Buckets are cut in loc.
func NewRankingIndex(client *redis.Client, prefix string, loc *time.Location, logger *slog.Logger) *RankingIndex {
	if loc == nil {
		loc = time.UTC
	}
	return &RankingIndex{
		client: client,
		prefix: prefix,
		loc:    loc,
		logger: logger,
	}
}

// bucketKey returns the sorted set holding the period bucket containing at
func (ri *RankingIndex) bucketKey(p domain.Period, at time.Time) string {
	return fmt.Sprintf("%s:xp:%s", ri.prefix, p.BucketKey(at, ri.loc))
}

// Record adds amount to the user's score in every bucket containing at
func (ri *RankingIndex) Record(ctx context.Context, userID string, amount int64, at time.Time) error {
	pipe := ri.client.Pipeline()
	for _, p := range domain.AllPeriods() {
		key := ri.bucketKey(p, at)
		pipe.ZIncrBy(ctx, key, float64(amount), userID)
		if ttl := p.Retention(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording xp: %w", err)
	}
	return nil
}

// Top returns the highest scores of the bucket containing now. Members tied
// with the last one are fetched as well so the user ID tie-break decides who
// makes the cut, not Redis' lexicographic order.
func (ri *RankingIndex) Top(ctx context.Context, p domain.Period, now time.Time, limit int) ([]domain.XPTotal, error) {
	key := ri.bucketKey(p, now)
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	results, err := ri.client.ZRevRangeWithScores(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top %d: %w", limit, err)
	}

	totals := make([]domain.XPTotal, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, z := range results {
		member := z.Member.(string)
		seen[member] = struct{}{}
		totals = append(totals, domain.XPTotal{UserID: member, XP: int64(z.Score)})
	}

	if limit > 0 && len(results) == limit {
		score := strconv.FormatFloat(results[len(results)-1].Score, 'f', -1, 64)
		tied, err := ri.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: score, Max: score}).Result()
		if err != nil {
			return nil, fmt.Errorf("getting ties: %w", err)
		}
		last := results[len(results)-1].Score
		for _, member := range tied {
			if _, ok := seen[member]; !ok {
				totals = append(totals, domain.XPTotal{UserID: member, XP: int64(last)})
			}
		}
	}

	domain.SortXPTotals(totals)
	if limit > 0 && len(totals) > limit {
		totals = totals[:limit]
	}
	return totals, nil
}

// Rebuild replaces the current buckets with totals read from the store
func (ri *RankingIndex) Rebuild(ctx context.Context, st store.Store, now time.Time) error {
	for _, p := range domain.AllPeriods() {
		var (
			totals []domain.XPTotal
			err    error
		)
		if start, bounded := p.Start(now, ri.loc); bounded {
			totals, err = st.TopXPSince(ctx, start, 0)
		} else {
			totals, err = st.TopXP(ctx, 0)
		}
		if err != nil {
			return fmt.Errorf("loading %s totals: %w", p, err)
		}

		key := ri.bucketKey(p, now)
		pipe := ri.client.TxPipeline()
		pipe.Del(ctx, key)
		if len(totals) > 0 {
			members := make([]redis.Z, len(totals))
			for i, t := range totals {
				members[i] = redis.Z{Score: float64(t.XP), Member: t.UserID}
			}
			pipe.ZAdd(ctx, key, members...)
		}
		if ttl := p.Retention(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("rebuilding %s: %w", p, err)
		}
		ri.logger.Info("ranking index rebuilt", "period", p, "key", key, "users", len(totals))
	}
	return nil
}

// Count returns the number of users in the bucket containing now
func (ri *RankingIndex) Count(ctx context.Context, p domain.Period, now time.Time) (int64, error) {
	count, err := ri.client.ZCard(ctx, ri.bucketKey(p, now)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}
