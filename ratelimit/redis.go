package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed window counter per rule shared across nodes
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	rules  []Rule
	now    func() time.Time
}

// NewRedisLimiter returns a limiter storing counters under prefix
func NewRedisLimiter(client redis.UniversalClient, prefix string, rules ...Rule) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		rules:  validRules(rules),
		now:    time.Now,
	}
}

// Allow counts the request against every rule. It is rejected when any
// window is over its limit.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed := true
	for _, rule := range r.rules {
		window := r.now().Truncate(rule.Window).Unix()
		redisKey := fmt.Sprintf("%s:%s:%d:%s", r.prefix, rule.Window, window, key)

		count, err := r.client.Incr(ctx, redisKey).Result()
		if err != nil {
			return false, fmt.Errorf("rate limiter incr: %w", err)
		}

		if count == 1 {
			if err := r.client.Expire(ctx, redisKey, rule.Window).Err(); err != nil {
				return false, fmt.Errorf("rate limiter expire: %w", err)
			}
		}

		if count > int64(rule.Limit) {
			allowed = false
		}
	}
	return allowed, nil
}
