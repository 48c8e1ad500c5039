/**
 * @description
 * Distributed fixed-window rate limiter for the webhook endpoint, backed by
 * Redis so the limit holds across horizontally scaled workers. The limit is
 * advisory for webhooks: over-limit notifications are logged and alerted, but
 * still answered 2xx so the gateway does not enter a retry storm.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RateLimiter reports whether a subject has exceeded its request budget.
type RateLimiter interface {
	Allow(ctx context.Context, scope, subject string) (bool, error)
}

// RedisRateLimiter implements fixed-window rate limiting using Redis.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisRateLimiter creates a limiter allowing `limit` requests per window.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "emergitag:rate_limit"
	}
	return &RedisRateLimiter{
		client: client,
		prefix: strings.TrimSuffix(trimmed, ":"),
		limit:  limit,
		window: window,
	}
}

// Allow consumes one unit of the subject's budget and reports whether it is
// still within the limit. Redis outages fail open: the webhook path must keep
// accepting traffic without Redis.
func (r *RedisRateLimiter) Allow(ctx context.Context, scope, subject string) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
	res, err := rateLimitScript.Run(ctx, r.client, []string{key}, r.window.Milliseconds()).Int64()
	if err != nil {
		return true, err
	}
	return res <= int64(r.limit), nil
}

// NoopRateLimiter always allows. Used when Redis is not configured.
type NoopRateLimiter struct{}

func (NoopRateLimiter) Allow(ctx context.Context, scope, subject string) (bool, error) {
	return true, nil
}
