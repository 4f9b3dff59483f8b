package cache

import (
	"context"
	"math/rand/v2"
	"time"
)

// Score is one member of a ranking.
type Score struct {
	Member string
	Score  float64
}

// Cache is the shared, eventually consistent read cache. It is advisory: a
// failing cache must never fail a request, callers fall back to the store.
type Cache interface {
	// Get decodes the value at key into dest and reports whether it was found.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Put stores value for ttl with up to 10% jitter applied.
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	Evict(ctx context.Context, key string) error
	// EvictByPattern removes every key matching a glob pattern and returns the count.
	EvictByPattern(ctx context.Context, pattern string) (int64, error)
	AddScore(ctx context.Context, key, member string, delta float64) error
	TopScores(ctx context.Context, key string, n int64) ([]Score, error)
	// MarkOnce sets key if absent and reports whether this call set it.
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

const jitterRatio = 0.10

// RankingRetention bounds how long a daily ranking set is kept.
const RankingRetention = 8 * 24 * time.Hour

// Jitter spreads expirations of keys written together by ±10%.
func Jitter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	spread := float64(ttl) * jitterRatio
	offset := (rand.Float64()*2 - 1) * spread
	return ttl + time.Duration(offset)
}
