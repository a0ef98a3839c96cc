// Package ratelimit throttles requests per client key with one or more
// fixed rules, e.g. 50 per minute and 200 per day.
package ratelimit

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Rule allows Limit requests per Window
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultLoginRules is 50 per minute and 200 per day
func DefaultLoginRules() []Rule {
	return []Rule{
		{Limit: 50, Window: time.Minute},
		{Limit: 200, Window: 24 * time.Hour},
	}
}

// Limiter decides whether key may make another request
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Logger is the subset of the auth logger used here
type Logger interface {
	Warn(msg string, args ...any)
}

// Config for the fiber middleware
type Config struct {
	Limiter Limiter
	// KeyFunc picks the throttling key, the client IP by default.
	KeyFunc func(c *fiber.Ctx) string
	Logger  Logger
}

// Middleware rejects requests over the limit with 429 and a JSON body.
// Limiter failures let the request through and are logged.
func Middleware(cfg Config) fiber.Handler {
	if cfg.Limiter == nil {
		panic("ratelimit: Limiter is required")
	}

	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *fiber.Ctx) string {
			return c.IP()
		}
	}

	return func(c *fiber.Ctx) error {
		key := cfg.KeyFunc(c)
		allowed, err := cfg.Limiter.Allow(c.UserContext(), key)
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
			}
			return c.Next()
		}

		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"code":  "TOO_MANY_REQUESTS",
				"error": "too many requests",
			})
		}
		return c.Next()
	}
}

func validRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Limit > 0 && r.Window > 0 {
			out = append(out, r)
		}
	}
	return out
}
