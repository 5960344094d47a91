package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sliding window over sorted set: members are request timestamps
// Check and insert are one script, so concurrent requests can't overshoot the limit
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local current = redis.call('ZCARD', key)
	if current < limit then
		local counter = redis.call('INCR', key .. ':counter')
		redis.call('ZADD', key, now, now .. ':' .. counter)
		local expire_seconds = math.ceil(window_ms / 1000)
		redis.call('EXPIRE', key, expire_seconds)
		redis.call('EXPIRE', key .. ':counter', expire_seconds)
		return {1, limit - current - 1, 0}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local reset_at = 0
	if oldest and #oldest >= 2 then
		reset_at = tonumber(oldest[2]) + window_ms
	end
	return {0, 0, reset_at}
`)

type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Redis backed sliding window rate limiter
type Limiter struct {
	client    redis.Scripter
	keyPrefix string
}

func NewLimiter(client redis.Scripter, keyPrefix string) *Limiter {
	return &Limiter{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Count request under the key and tell whether it fits into limit per window
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := time.Now()
	nowMs := now.UnixMilli()

	values, err := slidingWindow.Run(ctx, l.client,
		[]string{l.keyPrefix + key},
		nowMs, now.Add(-window).UnixMilli(), limit, window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis script error: %w", err)
	}
	if len(values) != 3 {
		return Result{}, fmt.Errorf("unexpected redis response length: %d", len(values))
	}

	resetAt := now.Add(window)
	if values[2] > 0 {
		resetAt = time.UnixMilli(values[2])
	}

	return Result{
		Allowed:   values[0] == 1,
		Remaining: int(values[1]),
		Limit:     limit,
		ResetAt:   resetAt,
	}, nil
}
