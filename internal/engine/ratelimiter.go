package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter caps outbound status queries per gateway with a sliding window
// kept in a Redis sorted set. The Lua script trims, counts and admits in one
// round trip.
type RateLimiter struct {
	redisClient redis.Cmdable
	logger      *slog.Logger
	window      time.Duration
	pollEvery   time.Duration
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window + 1000)
    return 1
end
return 0
`)

func NewRateLimiter(redisClient redis.Cmdable, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		window:      time.Second,
		pollEvery:   50 * time.Millisecond,
	}
}

func limiterKey(gateway domain.Gateway) string {
	return "rl:gateway:" + string(gateway.Normalize())
}

// Allow reports whether one more query to gateway fits in the current window.
// A limit of zero or less disables limiting. Redis failures fail open.
func (rl *RateLimiter) Allow(ctx context.Context, gateway domain.Gateway, limit int) bool {
	if limit <= 0 {
		return true
	}

	result, err := slidingWindowScript.Run(ctx, rl.redisClient, []string{limiterKey(gateway)},
		time.Now().UnixMilli(), rl.window.Milliseconds(), limit, uuid.NewString(),
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "gateway", gateway)
		return true
	}

	if result == 0 {
		rl.logger.Debug("rate limited", "gateway", gateway, "limit", limit)
		return false
	}
	return true
}

// Wait blocks until a slot is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, gateway domain.Gateway, limit int) error {
	ticker := time.NewTicker(rl.pollEvery)
	defer ticker.Stop()

	for {
		if rl.Allow(ctx, gateway, limit) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
