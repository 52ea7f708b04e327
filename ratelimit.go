package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateRule is a fixed window: at most Limit hits per Window for one key.
type rateRule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	ruleRegister = rateRule{Key: "rl:register:", Limit: 5, Window: time.Minute}
	ruleLogin    = rateRule{Key: "rl:login:", Limit: 10, Window: time.Minute}
)

type rateAllower interface {
	Allow(ctx context.Context, identifier string, rule rateRule) (bool, time.Duration, error)
}

// redisLimiter counts with INCR and starts the window with EXPIRE.
// Redis failures let the request through.
type redisLimiter struct {
	client *redis.Client
}

func newRedisLimiter(client *redis.Client) *redisLimiter {
	return &redisLimiter{client: client}
}

// Allow returns whether identifier is within rule and, if not, how long until the window resets.
func (l *redisLimiter) Allow(ctx context.Context, identifier string, rule rateRule) (bool, time.Duration, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return true, 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			// a key without TTL would block the identifier forever
			l.client.Del(ctx, key)
			return true, 0, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	if int(count) <= rule.Limit {
		return true, 0, nil
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = rule.Window
	}
	return false, ttl, nil
}

// rateLimited wraps next with a per-IP limit. A nil limiter disables limiting.
func rateLimited(l rateAllower, rule rateRule, next http.HandlerFunc) http.HandlerFunc {
	if l == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter, err := l.Allow(r.Context(), clientIP(r), rule)
		if err != nil {
			slog.Warn("rate limiter unavailable, failing open", "rule", rule.Key, "error", err)
		}
		if !allowed {
			rateLimitedTotal.WithLabelValues(rule.Key).Inc()
			secs := int(retryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded")
			return
		}
		next(w, r)
	}
}
