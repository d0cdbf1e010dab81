// Package ratelimit enforces the short- and long-window request limits per
// identity, backed by Redis fixed-window counters.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/errtax"
)

// LimitResult is the outcome of one window check.
type LimitResult struct {
	Allowed    bool
	Count      int
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Window     time.Duration
}

// Limiter enforces request-count windows against Redis. Only the fixed
// window algorithm is used: both the short (minute) and long (week) windows
// in this system are plan-wide counters, not per-burst smoothing, so the
// teacher's sliding-window/token-bucket/leaky-bucket variants have nothing
// to attach to here.
type Limiter struct {
	client *redis.Client
	script *redis.Script
	prefix string
}

func NewLimiter(cfg *config.RedisConfig) (*Limiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: connect to redis: %w", err)
	}

	return &Limiter{client: client, script: redis.NewScript(fixedWindowScript), prefix: "ratelimit:"}, nil
}

func (l *Limiter) Close() error {
	return l.client.Close()
}

// Check runs the fixed-window script for one (key, limit) pair.
func (l *Limiter) Check(ctx context.Context, key string, limit config.EndpointLimit) (*LimitResult, error) {
	fullKey := l.prefix + key
	now := time.Now().UnixMilli()

	res, err := l.script.Run(ctx, l.client, []string{fullKey}, limit.Requests, limit.Window.Milliseconds(), now).Result()
	if err != nil {
		return nil, errtax.TransientUpstream("ratelimit", fmt.Errorf("fixed window script: %w", err))
	}
	return parseFixedWindowResult(res, limit)
}

// CheckIdentity runs the short window for identityKey first and, only if it
// allows the request, the long window next — §4.F's algorithm is strictly
// sequential, so a request already denied by the short/burst window must
// never also consume the long/weekly quota. Each limit is scaled per plan's
// resolved (short, long) multiplier: 1.0 for an unrecognized or free-tier
// plan, a larger multiplier for paid tiers, and the configured anonymous
// fraction when anonymous is true (plan is ignored in that case).
func (l *Limiter) CheckIdentity(ctx context.Context, identityKey, plan string, cfg config.RateLimitConfig, anonymous bool) error {
	shortScale, longScale := cfg.ScaleFor(plan, anonymous)

	shortLimit := scaleLimit(cfg.ShortWindow, shortScale)
	longLimit := scaleLimit(cfg.LongWindow, longScale)

	shortResult, err := l.Check(ctx, identityKey+":short", shortLimit)
	if err != nil {
		return err
	}
	if !shortResult.Allowed {
		return errtax.RateLimited(shortLimit.Requests, "minute", shortResult.RetryAfter, shortResult.Remaining).WithContext(ctx)
	}

	longResult, err := l.Check(ctx, identityKey+":long", longLimit)
	if err != nil {
		return err
	}
	if !longResult.Allowed {
		return errtax.RateLimited(longLimit.Requests, "week", longResult.RetryAfter, longResult.Remaining).WithContext(ctx)
	}
	return nil
}

func scaleLimit(l config.EndpointLimit, scale float64) config.EndpointLimit {
	if scale <= 0 || scale == 1.0 {
		return l
	}
	scaled := int(float64(l.Requests) * scale)
	if scaled < 1 {
		scaled = 1
	}
	return config.EndpointLimit{Requests: scaled, Window: l.Window}
}

func parseFixedWindowResult(result interface{}, limit config.EndpointLimit) (*LimitResult, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) < 4 {
		return nil, errtax.Internal("ratelimit", fmt.Errorf("unexpected script result shape"))
	}

	allowed := fmt.Sprintf("%v", values[0]) == "1" || fmt.Sprintf("%v", values[0]) == "true"
	count := toInt(values[1])
	remaining := toInt(values[2])
	resetMs := toInt64(values[3])

	resetTime := time.UnixMilli(resetMs)
	retryAfter := time.Until(resetTime)
	if retryAfter < 0 {
		retryAfter = 0
	}

	return &LimitResult{
		Allowed:    allowed,
		Count:      count,
		Limit:      limit.Requests,
		Remaining:  remaining,
		RetryAfter: retryAfter,
		Window:     limit.Window,
	}, nil
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	default:
		var i int
		fmt.Sscanf(fmt.Sprintf("%v", v), "%d", &i)
		return i
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	default:
		var i int64
		fmt.Sscanf(fmt.Sprintf("%v", v), "%d", &i)
		return i
	}
}

// fixedWindowScript increments a counter bucketed to the current window and
// reports whether the increment stayed within limit. Grounded on
// internal/ratelimit/redis_limiter.go's fixedWindowScript (pre-adaptation),
// kept byte-for-byte since the algorithm itself is unchanged.
const fixedWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local windowStart = math.floor(now / window) * window
local windowKey = key .. ':' .. windowStart

local current = tonumber(redis.call('GET', windowKey)) or 0
local allowed = current < limit

if allowed then
    current = redis.call('INCR', windowKey)
    redis.call('EXPIRE', windowKey, math.ceil(window / 1000))
end

local remaining = math.max(0, limit - current)
local resetTime = windowStart + window

return {allowed, current, remaining, resetTime}
`
