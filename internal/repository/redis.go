package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps buckets in Redis hashes so quota is shared across gateway replicas.
// Idle eviction is left to key expiry: every consume pushes the expiry out by the TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to Redis and returns a Store implementation.
func NewRedisStore(addr string) (*RedisStore, error) {
	opt := &redis.Options{
		Addr: addr,
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, prefix: "tb:", now: time.Now}, nil
}

// tokenBucketLua refills and takes atomically. Tokens are returned as a string because
// Redis truncates Lua numbers to integers on the way out.
var tokenBucketLua = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local data = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(data[1]) or capacity
local last = tonumber(data[2]) or now

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta * rate)
last = math.max(last, now)
local allowed = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
end
redis.call('HSET', key, 'tokens', tostring(tokens), 'last', tostring(last))
redis.call('PEXPIRE', key, ttl)
return {allowed, tostring(tokens)}
`)

// Consume implements Store.
func (r *RedisStore) Consume(ctx context.Context, key BucketKey, limits Limits, cost float64) (Result, error) {
	if cost <= 0 {
		return Result{}, ErrInvalidCost
	}
	now := r.now().UnixMilli()
	ttl := limits.IdleTTL.Milliseconds()
	if ttl <= 0 {
		ttl = int64(float64(limits.Capacity) / limits.RefillPerSecond * 1000)
	}
	if ttl <= 0 {
		ttl = 1
	}
	args := []interface{}{
		limits.Capacity,
		strconv.FormatFloat(limits.RefillPerSecond/1000.0, 'g', -1, 64),
		now,
		strconv.FormatFloat(cost, 'g', -1, 64),
		ttl,
	}
	res, err := tokenBucketLua.Run(ctx, r.client, []string{r.prefix + key.String()}, args...).Result()
	if err != nil {
		return Result{}, fmt.Errorf("token bucket script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Result{}, fmt.Errorf("unexpected redis response: %v", res)
	}
	allowed, _ := arr[0].(int64)
	raw, _ := arr[1].(string)
	remaining, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse remaining tokens %q: %w", raw, err)
	}

	out := Result{Allowed: allowed == 1, Remaining: remaining}
	if !out.Allowed {
		wait := (cost - remaining) / limits.RefillPerSecond
		out.Wait = time.Duration(wait * float64(time.Second))
	}
	return out, nil
}

// Sweep implements Store. Redis expires idle buckets on its own.
func (r *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}

// Ping implements Store.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
