// Package redisrate is a Redis-backed steward.RateLimiter for deployments
// that run more than one process. It implements the same fixed-window
// semantics as the in-memory limiter, with the window state held in Redis so
// all instances share one count.
package redisrate

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/stewardai/steward"
)

const keyPrefix = "steward:ratelimit"

// Limiter counts requests in Redis keyed by (scope, key). Each window is one
// Redis string counter with a TTL equal to the window; INCR and the initial
// PEXPIRE run in a pipeline so concurrent checks stay consistent.
type Limiter struct {
	client redis.UniversalClient
}

// New creates a Limiter on an existing Redis client.
func New(client redis.UniversalClient) *Limiter {
	return &Limiter{client: client}
}

// Check implements steward.RateLimiter. Errors are returned to the caller;
// the registry fails open on them.
func (l *Limiter) Check(ctx context.Context, scope, key string, limit steward.Limit) (steward.Decision, error) {
	if limit.Max <= 0 || limit.Window <= 0 {
		return steward.Decision{Allowed: true}, nil
	}

	redisKey := fmt.Sprintf("%s:%s:%s", keyPrefix, scope, key)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return steward.Decision{}, fmt.Errorf("redisrate: check %s: %w", redisKey, err)
	}
	if count == 1 {
		// First hit of a fresh window arms the TTL. If this PEXPIRE is lost
		// the recovery below re-arms it on a later check.
		l.client.PExpire(ctx, redisKey, limit.Window)
	} else if ttl, err := l.client.PTTL(ctx, redisKey).Result(); err == nil && ttl == -1 {
		l.client.PExpire(ctx, redisKey, limit.Window)
	}
	if count <= int64(limit.Max) {
		return steward.Decision{Allowed: true}, nil
	}

	ttl, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		ttl = limit.Window
	}
	return steward.Decision{RetryAfter: ttl}, nil
}

var _ steward.RateLimiter = (*Limiter)(nil)
