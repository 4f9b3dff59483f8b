package lock

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "lock:"

// acquireScript grants the lock when it is free and the caller is at the head
// of the wait queue (or the queue is empty), re-enters when the caller already
// holds it, and otherwise enqueues the caller.
//
// KEYS: lock hash, wait queue, waiter deadlines
// ARGV: owner, lease ms, now ms, waiter deadline ms, queue ttl ms
// Returns {1, holds} when granted, {0, pttl} otherwise.
const acquireScript = `
local now = tonumber(ARGV[3])
while true do
  local head = redis.call("LINDEX", KEYS[2], 0)
  if not head then
    break
  end
  local deadline = tonumber(redis.call("ZSCORE", KEYS[3], head))
  if deadline == nil or deadline < now then
    redis.call("LPOP", KEYS[2])
    redis.call("ZREM", KEYS[3], head)
  else
    break
  end
end

if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
  local holds = redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return {1, holds}
end

if redis.call("EXISTS", KEYS[1]) == 0 then
  local head = redis.call("LINDEX", KEYS[2], 0)
  if (not head) or head == ARGV[1] then
    if head then
      redis.call("LPOP", KEYS[2])
      redis.call("ZREM", KEYS[3], ARGV[1])
    end
    redis.call("HSET", KEYS[1], ARGV[1], 1)
    redis.call("PEXPIRE", KEYS[1], ARGV[2])
    return {1, 1}
  end
end

if not redis.call("ZSCORE", KEYS[3], ARGV[1]) then
  redis.call("RPUSH", KEYS[2], ARGV[1])
end
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])
redis.call("PEXPIRE", KEYS[2], ARGV[5])
redis.call("PEXPIRE", KEYS[3], ARGV[5])
return {0, redis.call("PTTL", KEYS[1])}
`

// releaseScript decrements the caller's hold count and deletes the lock at zero.
// Returns the remaining holds, or -1 when the caller did not hold the lock.
const releaseScript = `
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 0 then
  return -1
end
local holds = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if holds > 0 then
  return holds
end
redis.call("DEL", KEYS[1])
return 0
`

const leaveQueueScript = `
redis.call("LREM", KEYS[1], 0, ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`

const defaultPollInterval = 20 * time.Millisecond

// RedisLocker is a fair, reentrant lease lock shared by every process using
// the same Redis.
type RedisLocker struct {
	client       redis.UniversalClient
	acquire      *redis.Script
	release      *redis.Script
	leave        *redis.Script
	opts         Options
	pollInterval time.Duration
	log          *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, opts Options, log *zap.Logger) *RedisLocker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client:       client,
		acquire:      redis.NewScript(acquireScript),
		release:      redis.NewScript(releaseScript),
		leave:        redis.NewScript(leaveQueueScript),
		opts:         opts.withDefaults(),
		pollInterval: defaultPollInterval,
		log:          log.Named("lock.redis"),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, owner Owner, key string) (bool, error) {
	return l.AcquireWithTimeout(ctx, owner, key, l.opts.WaitTime, l.opts.LeaseTime)
}

func (l *RedisLocker) AcquireWithTimeout(ctx context.Context, owner Owner, key string, wait, lease time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, errors.New("lock client not configured")
	}
	if err := validate(owner, key, lease); err != nil {
		return false, err
	}

	deadline := time.Now().Add(wait)
	// Waiter entries outlive the caller's deadline slightly so a slow poll is
	// not purged while still waiting.
	waiterDeadline := deadline.Add(2 * l.pollInterval)
	queueTTL := wait + lease + time.Second

	for {
		granted, pttl, err := l.try(ctx, owner, key, lease, waiterDeadline, queueTTL)
		if err != nil {
			l.leaveQueue(ctx, owner, key)
			return false, err
		}
		if granted {
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.leaveQueue(ctx, owner, key)
			return false, nil
		}

		sleep := l.pollInterval
		if pttl > 0 && pttl < sleep {
			sleep = pttl
		}
		if remaining < sleep {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.leaveQueue(ctx, owner, key)
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) try(ctx context.Context, owner Owner, key string, lease time.Duration, waiterDeadline time.Time, queueTTL time.Duration) (bool, time.Duration, error) {
	res, err := l.acquire.Run(ctx, l.client,
		[]string{lockKey(key), queueKey(key), timeoutKey(key)},
		string(owner),
		lease.Milliseconds(),
		time.Now().UnixMilli(),
		waiterDeadline.UnixMilli(),
		queueTTL.Milliseconds(),
	).Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, errors.New("unexpected lock script response")
	}
	if castToInt64(res[0]) == 1 {
		return true, 0, nil
	}
	return false, time.Duration(castToInt64(res[1])) * time.Millisecond, nil
}

func (l *RedisLocker) leaveQueue(ctx context.Context, owner Owner, key string) {
	ctx = context.WithoutCancel(ctx)
	if err := l.leave.Run(ctx, l.client, []string{queueKey(key), timeoutKey(key)}, string(owner)).Err(); err != nil {
		l.log.Warn("failed to leave lock queue", zap.String("key", key), zap.Error(err))
	}
}

func (l *RedisLocker) Release(ctx context.Context, owner Owner, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || owner == "" {
		return nil
	}
	holds, err := l.release.Run(context.WithoutCancel(ctx), l.client, []string{lockKey(key)}, string(owner)).Int64()
	if err != nil {
		return err
	}
	if holds < 0 {
		l.log.Debug("release of lock not held", zap.String("key", key), zap.String("owner", string(owner)))
	}
	return nil
}

func (l *RedisLocker) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, lockKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *RedisLocker) IsHeldBy(ctx context.Context, owner Owner, key string) (bool, error) {
	return l.client.HExists(ctx, lockKey(key), string(owner)).Result()
}

func (l *RedisLocker) ForceUnlock(ctx context.Context, key string) error {
	l.log.Warn("force unlocking", zap.String("key", key))
	return l.client.Del(ctx, lockKey(key)).Err()
}

func lockKey(key string) string    { return keyPrefix + key }
func queueKey(key string) string   { return keyPrefix + key + ":queue" }
func timeoutKey(key string) string { return keyPrefix + key + ":timeouts" }

func castToInt64(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		parsed, _ := strconv.ParseInt(v, 10, 64)
		return parsed
	default:
		return 0
	}
}
