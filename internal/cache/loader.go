package cache

import (
	"context"
	"time"

	"github.com/smallbiznis/checkout/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Reader serves read-through lookups. Concurrent misses on one key share a
// single load from the store.
type Reader struct {
	cache   Cache
	group   singleflight.Group
	log     *zap.Logger
	metrics *metrics.Coordination
}

func NewReader(c Cache, log *zap.Logger, m *metrics.Coordination) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{cache: c, log: log.Named("cache.reader"), metrics: m}
}

func (r *Reader) Cache() Cache {
	return r.cache
}

// Load returns the cached value at key or calls loader and caches its result.
// Cache failures are logged and the loader is used instead.
func Load[T any](ctx context.Context, r *Reader, key string, ttl time.Duration, loader func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	found, err := r.cache.Get(ctx, key, &cached)
	switch {
	case err != nil:
		r.metrics.IncCacheLookup(metrics.CacheResultError)
		r.log.Warn("cache get failed, reading from store", zap.String("key", key), zap.Error(err))
	case found:
		r.metrics.IncCacheLookup(metrics.CacheResultHit)
		return cached, nil
	default:
		r.metrics.IncCacheLookup(metrics.CacheResultMiss)
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return value, err
		}
		if putErr := r.cache.Put(ctx, key, value, ttl); putErr != nil {
			r.log.Warn("cache put failed", zap.String("key", key), zap.Error(putErr))
		}
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
