package steward

import (
	"context"
	"sync"
	"time"
)

// Limit is a fixed-window rate policy: at most Max requests per Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// Decision is the outcome of a rate-limit check. RetryAfter is set when the
// request was denied.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RateLimiter counts requests per (scope, key) in non-overlapping fixed
// windows. Counts within a live window are monotonic. Storage may be
// in-memory (MemoryRateLimiter) or external (redisrate.Limiter); the
// semantics are identical.
type RateLimiter interface {
	Check(ctx context.Context, scope, key string, l Limit) (Decision, error)
}

type fixedWindow struct {
	count    int
	resetsAt time.Time
}

// MemoryRateLimiter is the in-process RateLimiter. Expired windows are
// dropped lazily on access.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
	now     func() time.Time
}

// NewMemoryRateLimiter creates an empty in-memory limiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		windows: make(map[string]*fixedWindow),
		now:     time.Now,
	}
}

// Check implements RateLimiter.
func (m *MemoryRateLimiter) Check(_ context.Context, scope, key string, l Limit) (Decision, error) {
	if l.Max <= 0 || l.Window <= 0 {
		return Decision{Allowed: true}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	id := scope + "\x00" + key
	w, ok := m.windows[id]
	if !ok || !now.Before(w.resetsAt) {
		w = &fixedWindow{resetsAt: now.Add(l.Window)}
		m.windows[id] = w
	}
	if w.count >= l.Max {
		return Decision{RetryAfter: w.resetsAt.Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true}, nil
}
