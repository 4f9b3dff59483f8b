package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "cache:"
	scanCount = 200
)

type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisCache) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, keyPrefix+key, data, Jitter(ttl)).Err()
}

func (r *RedisCache) Evict(ctx context.Context, key string) error {
	return r.client.Del(ctx, keyPrefix+key).Err()
}

// EvictByPattern walks the keyspace with SCAN so large caches never block Redis.
func (r *RedisCache) EvictByPattern(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, keyPrefix+pattern, scanCount).Result()
		if err != nil {
			return deleted, err
		}
		if len(batch) > 0 {
			n, err := r.client.Del(ctx, batch...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (r *RedisCache) AddScore(ctx context.Context, key, member string, delta float64) error {
	pipe := r.client.TxPipeline()
	pipe.ZIncrBy(ctx, keyPrefix+key, delta, member)
	pipe.Expire(ctx, keyPrefix+key, RankingRetention)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisCache) TopScores(ctx context.Context, key string, n int64) ([]Score, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.client.ZRevRangeWithScores(ctx, keyPrefix+key, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Score, 0, len(rows))
	for _, row := range rows {
		member, _ := row.Member.(string)
		out = append(out, Score{Member: member, Score: row.Score})
	}
	return out, nil
}

func (r *RedisCache) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, keyPrefix+key, "1", ttl).Result()
}
