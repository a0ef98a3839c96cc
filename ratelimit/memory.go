package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxKeys = 10000

type visitor struct {
	limiters []*rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps token buckets per key in process. Use it on a
// single node; RedisLimiter shares counts across nodes.
type MemoryLimiter struct {
	mu       sync.Mutex
	rules    []Rule
	visitors map[string]*visitor
	maxKeys  int
	idle     time.Duration
	now      func() time.Time
}

// NewMemoryLimiter returns an in process limiter for rules
func NewMemoryLimiter(rules ...Rule) *MemoryLimiter {
	rules = validRules(rules)

	var idle time.Duration
	for _, r := range rules {
		if r.Window > idle {
			idle = r.Window
		}
	}

	return &MemoryLimiter{
		rules:    rules,
		visitors: make(map[string]*visitor),
		maxKeys:  defaultMaxKeys,
		idle:     idle,
		now:      time.Now,
	}
}

// Allow takes one token from every bucket of key, or none when any
// bucket is empty.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	v, ok := m.visitors[key]
	if !ok {
		if len(m.visitors) >= m.maxKeys {
			m.evict(now)
		}
		v = &visitor{limiters: make([]*rate.Limiter, len(m.rules))}
		for i, r := range m.rules {
			v.limiters[i] = rate.NewLimiter(rate.Every(r.Window/time.Duration(r.Limit)), r.Limit)
		}
		m.visitors[key] = v
	}
	v.lastSeen = now

	for _, l := range v.limiters {
		if l.TokensAt(now) < 1 {
			return false, nil
		}
	}

	for _, l := range v.limiters {
		l.AllowN(now, 1)
	}
	return true, nil
}

func (m *MemoryLimiter) evict(now time.Time) {
	for key, v := range m.visitors {
		if now.Sub(v.lastSeen) > m.idle {
			delete(m.visitors, key)
		}
	}
}
