package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript runs the whole consume state machine server-side so the
// read-modify-write is a single atomic round trip. Timestamps are unix
// seconds. Reply: {allowed, remaining, resetAt, retryAfterSeconds}.
var consumeScript = redis.NewScript(`
local points = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local block = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local data = redis.call('HMGET', KEYS[1], 'remaining', 'reset', 'blocked')
local remaining = tonumber(data[1])
local reset = tonumber(data[2])
local blocked = tonumber(data[3])

if remaining == nil or (blocked and now >= blocked) or (not blocked and now >= reset) then
  remaining = points - 1
  reset = now + window
  redis.call('DEL', KEYS[1])
  redis.call('HSET', KEYS[1], 'remaining', remaining, 'reset', reset)
  redis.call('EXPIRE', KEYS[1], window)
  return {1, remaining, reset, 0}
end

if blocked and now < blocked then
  return {0, remaining, reset, blocked - now}
end

if remaining > 0 then
  remaining = remaining - 1
  redis.call('HSET', KEYS[1], 'remaining', remaining)
  return {1, remaining, reset, 0}
end

blocked = now + block
redis.call('HSET', KEYS[1], 'blocked', blocked)
redis.call('EXPIRE', KEYS[1], block)
return {0, 0, reset, block}
`)

// RedisStore keeps consumption records in a shared Redis, for
// multi-instance deployments. Atomicity comes from the Lua script, not
// from any client-side locking.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "rl:"}
}

func (s *RedisStore) Consume(ctx context.Context, key string, p Policy) (*Result, error) {
	now := time.Now()
	args := []interface{}{
		p.Points,
		int64(p.Window / time.Second),
		int64(p.Block / time.Second),
		now.Unix(),
	}

	raw, err := consumeScript.Run(ctx, s.rdb, []string{s.prefix + key}, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("consume script failed: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 4 {
		return nil, fmt.Errorf("unexpected consume reply: %v", raw)
	}

	allowed, _ := reply[0].(int64)
	remaining, _ := reply[1].(int64)
	resetAt, _ := reply[2].(int64)
	retryAfter, _ := reply[3].(int64)

	return &Result{
		Allowed:    allowed == 1,
		Remaining:  int(remaining),
		ResetAt:    time.Unix(resetAt, 0),
		RetryAfter: time.Duration(retryAfter) * time.Second,
	}, nil
}
