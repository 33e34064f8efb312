package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript runs the token bucket atomically in Redis.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, fractional)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 120)

return {allowed, tostring(tokens)}
`)

// RedisLimiterStore is a LimiterStore shared across replicas.
type RedisLimiterStore struct {
	client redis.Scripter
	prefix string
}

func NewRedisLimiterStore(addr, password string, db int) *RedisLimiterStore {
	return NewRedisLimiterStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func NewRedisLimiterStoreWithClient(c redis.Scripter) *RedisLimiterStore {
	return &RedisLimiterStore{client: c, prefix: "signalhub:limiter:"}
}

func (s *RedisLimiterStore) Allow(ctx context.Context, actorID string, perMinute, burst, cost int) (bool, error) {
	ratePerSec := float64(perMinute) / 60.0
	if ratePerSec <= 0 {
		ratePerSec = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, s.client, []string{s.prefix + actorID}, ratePerSec, max(burst, 1), cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, errors.New("redis limiter: invalid script response")
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}

// Ping checks the connection when the client supports it.
func (s *RedisLimiterStore) Ping(ctx context.Context) error {
	if p, ok := s.client.(interface {
		Ping(ctx context.Context) *redis.StatusCmd
	}); ok {
		return p.Ping(ctx).Err()
	}
	return nil
}
