package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/checkout/internal/config"
)

const keyPrefix = "ratelimit:"

// Limiter throttles write bursts per client and scope. A nil Limiter allows
// everything.
type Limiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewLimiter(client redis.UniversalClient, rate float64, burst int) *Limiter {
	return &Limiter{bucket: NewTokenBucket(client), rate: rate, burst: burst}
}

// Provide returns nil when rate limiting is disabled. The bucket lives in
// Redis, so in-memory coordination disables it too.
func Provide(cfg config.Config, client *redis.Client) *Limiter {
	if !cfg.RateLimit.Enabled || cfg.UseInMemoryCoordination {
		return nil
	}
	return NewLimiter(client, cfg.RateLimit.Rate, cfg.RateLimit.Burst)
}

func (l *Limiter) Enabled() bool {
	return l != nil
}

func (l *Limiter) Allow(ctx context.Context, scope, subject string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := keyPrefix + scope + ":" + strings.TrimSpace(subject)
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
