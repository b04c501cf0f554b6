package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Xeideverme/galpao/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// Rankings are cached per (period, limit) under a generation number.
// Invalidation bumps the generation, so every instance stops reading the
// old entries at once and they simply expire.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache implements leaderboard.Cache.
type LeaderboardCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ leaderboard.Cache = (*LeaderboardCache)(nil)

// NewLeaderboardCache creates a leaderboard cache. A non-positive ttl uses
// TTLLeaderboardCache.
func NewLeaderboardCache(cache *Cache, ttl time.Duration) *LeaderboardCache {
	if ttl <= 0 {
		ttl = TTLLeaderboardCache
	}
	return &LeaderboardCache{cache: cache, ttl: ttl}
}

func generationKey() string {
	return PrefixLeaderboard + "generation"
}

func rowsKey(generation int64, period leaderboard.Period, limit int) string {
	return fmt.Sprintf("%sv%d:%s:%d", PrefixLeaderboard, generation, period, limit)
}

func (l *LeaderboardCache) generation(ctx context.Context) (int64, error) {
	raw, err := l.cache.client.Get(ctx, generationKey()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Get returns the cached rows for the period and limit.
func (l *LeaderboardCache) Get(ctx context.Context, period leaderboard.Period, limit int) ([]leaderboard.Row, bool, error) {
	gen, err := l.generation(ctx)
	if err != nil {
		return nil, false, err
	}

	var rows []leaderboard.Row
	if err := l.cache.Get(ctx, rowsKey(gen, period, limit), &rows); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rows, true, nil
}

// Set stores rows under the current generation.
func (l *LeaderboardCache) Set(ctx context.Context, period leaderboard.Period, limit int, rows []leaderboard.Row) error {
	gen, err := l.generation(ctx)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []leaderboard.Row{}
	}
	return l.cache.Set(ctx, rowsKey(gen, period, limit), rows, l.ttl)
}

// Invalidate makes every cached ranking stale.
func (l *LeaderboardCache) Invalidate(ctx context.Context) error {
	return l.cache.client.Incr(ctx, generationKey()).Err()
}
