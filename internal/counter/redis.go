package counter

import (
	"context"
	"errors"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "counter:"

// issueScript returns the rank on success, 0 when exhausted and -1 when the
// member already holds a grant.
const issueScript = `
if redis.call("SISMEMBER", KEYS[2], ARGV[1]) == 1 then
  return -1
end

local issued = redis.call("INCR", KEYS[1])
if issued > tonumber(ARGV[2]) then
  redis.call("DECR", KEYS[1])
  return 0
end

redis.call("SADD", KEYS[2], ARGV[1])
return issued
`

type RedisCounter struct {
	client redis.UniversalClient
	script *redis.Script
}

func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{
		client: client,
		script: redis.NewScript(issueScript),
	}
}

func (c *RedisCounter) IssueAtomically(ctx context.Context, counterKey, membershipKey, member string, max int64) (Admission, error) {
	if c == nil || c.client == nil {
		return Admission{}, errors.New("counter client not configured")
	}
	if err := validate(counterKey, membershipKey, member, max); err != nil {
		return Admission{}, err
	}

	res, err := c.script.Run(ctx, c.client,
		[]string{keyPrefix + counterKey, keyPrefix + membershipKey},
		member, max,
	).Int64()
	if err != nil {
		return Admission{}, err
	}

	switch {
	case res < 0:
		return Admission{Status: StatusAlreadyIssued}, nil
	case res == 0:
		return Admission{Status: StatusOutOfStock}, nil
	default:
		return Admission{Status: StatusGranted, Rank: res}, nil
	}
}

func (c *RedisCounter) HasIssued(ctx context.Context, membershipKey, member string) (bool, error) {
	return c.client.SIsMember(ctx, keyPrefix+membershipKey, member).Result()
}

func (c *RedisCounter) Seed(ctx context.Context, counterKey string, value int64) error {
	if counterKey == "" {
		return ErrEmptyKey
	}
	return c.client.SetNX(ctx, keyPrefix+counterKey, value, 0).Err()
}

func (c *RedisCounter) Current(ctx context.Context, counterKey string) (int64, error) {
	raw, err := c.client.Get(ctx, keyPrefix+counterKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}
