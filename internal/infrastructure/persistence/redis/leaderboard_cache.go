package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
	"github.com/alem-hub/learning-progress/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Key layout:
//   - "leaderboard:standings:{period}:{windowStartUnix}" holds the JSON
//     standings of one period window.
//   - "leaderboard:keys" is the set of live standings keys, so a points
//     award can drop every window at once.
//   - "leaderboard:generation" counts invalidations.
const (
	keyStandingsPrefix = "leaderboard:standings:"
	keyStandingsIndex  = "leaderboard:keys"
	keyStandingsGen    = "leaderboard:generation"
)

// setIfGeneration writes a standings key and indexes it only while the
// generation still equals ARGV[1].
//
//	KEYS: generation, standings key, index
//	ARGV: generation, payload, ttl in milliseconds
var setIfGeneration = redis.NewScript(`
if (redis.call('GET', KEYS[1]) or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
redis.call('SADD', KEYS[3], KEYS[2])
redis.call('PEXPIRE', KEYS[3], ARGV[3])
return 1
`)

// StandingsKey returns the cache key of a period window.
func StandingsKey(period leaderboard.Period, windowStart time.Time) string {
	return fmt.Sprintf("%s%s:%d", keyStandingsPrefix, period, windowStart.Unix())
}

// LeaderboardCache implements leaderboard.Cache on Redis. Every call goes
// through a circuit breaker so a dead Redis costs one fast rejection instead
// of a dial timeout per request.
type LeaderboardCache struct {
	cache   *Cache
	breaker *circuitbreaker.CircuitBreaker
}

// NewLeaderboardCache creates a new LeaderboardCache. A nil breaker gets the
// default cache breaker.
func NewLeaderboardCache(cache *Cache, breaker *circuitbreaker.CircuitBreaker) *LeaderboardCache {
	if breaker == nil {
		breaker = circuitbreaker.CacheBreaker(nil)
	}
	return &LeaderboardCache{cache: cache, breaker: breaker}
}

// Get returns the cached standings or false on a miss.
func (l *LeaderboardCache) Get(ctx context.Context, period leaderboard.Period, windowStart time.Time) ([]leaderboard.Standing, bool, error) {
	var standings []leaderboard.Standing
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		err := l.cache.getJSON(ctx, StandingsKey(period, windowStart), &standings)
		if errors.Is(err, ErrCacheMiss) {
			standings = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if standings == nil {
		return nil, false, nil
	}
	return standings, true, nil
}

// Generation returns the invalidation counter. A missing counter is 0.
func (l *LeaderboardCache) Generation(ctx context.Context) (int64, error) {
	var gen int64
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		v, err := l.cache.client.Get(ctx, keyStandingsGen).Int64()
		if errors.Is(err, redis.Nil) {
			gen = 0
			return nil
		}
		gen = v
		return err
	})
	return gen, err
}

// Set stores the standings of a period window built at generation.
func (l *LeaderboardCache) Set(ctx context.Context, period leaderboard.Period, windowStart time.Time, standings []leaderboard.Standing, ttl time.Duration, generation int64) (bool, error) {
	if standings == nil {
		standings = []leaderboard.Standing{}
	}
	data, err := json.Marshal(standings)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	var stored bool
	err = l.breaker.Execute(ctx, func(ctx context.Context) error {
		keys := []string{keyStandingsGen, StandingsKey(period, windowStart), keyStandingsIndex}
		n, err := setIfGeneration.Run(ctx, l.cache.client, keys, generation, data, ttl.Milliseconds()).Int()
		stored = n == 1
		return err
	})
	return stored, err
}

// Invalidate bumps the generation, then drops every cached window.
func (l *LeaderboardCache) Invalidate(ctx context.Context) error {
	return l.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := l.cache.client.Incr(ctx, keyStandingsGen).Err(); err != nil {
			return err
		}
		return l.cache.dropIndex(ctx, keyStandingsIndex)
	})
}

var _ leaderboard.Cache = (*LeaderboardCache)(nil)
