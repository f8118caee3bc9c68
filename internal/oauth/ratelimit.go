package oauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter counts authorization attempts per key in fixed windows.
type RateLimiter interface {
	// Allow records an attempt for key and reports whether it fits within
	// limit attempts for the current window, and how many remain.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, err error)

	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error
}

// RateLimitWindow is the counter for one key.
type RateLimitWindow struct {
	Key         string
	Count       int
	WindowStart time.Time
}

// MemoryRateLimiter is a fixed-window limiter for single-instance deployments.
// All window updates happen under one lock, so concurrent bursts are never
// undercounted.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*RateLimitWindow
	lastSweep time.Time
	clock     Clock
}

// NewMemoryRateLimiter creates a limiter. A nil clock uses real time.
func NewMemoryRateLimiter(clock Clock) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		windows: make(map[string]*RateLimitWindow),
		clock:   clockOrDefault(clock),
	}
}

func (r *MemoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	w, exists := r.windows[key]
	if !exists || !now.Before(w.WindowStart.Add(window)) {
		r.windows[key] = &RateLimitWindow{Key: key, Count: 1, WindowStart: now}
		if now.Sub(r.lastSweep) >= window {
			r.evictExpired(now, window)
			r.lastSweep = now
		}
		return true, limit - 1, nil
	}

	if w.Count >= limit {
		return false, 0, nil
	}
	w.Count++
	return true, limit - w.Count, nil
}

// evictExpired keeps the map bounded by dropping windows that have ended.
// It runs at most once per window. Called with r.mu held.
func (r *MemoryRateLimiter) evictExpired(now time.Time, window time.Duration) {
	for key, w := range r.windows {
		if !now.Before(w.WindowStart.Add(window)) {
			delete(r.windows, key)
		}
	}
}

func (r *MemoryRateLimiter) Reset(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, key)
	return nil
}

// fixedWindowScript increments the counter and starts the window on the first hit.
var fixedWindowScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RedisRateLimiter shares fixed windows across instances. The increment and
// the expiry are applied atomically by a Lua script.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter creates a Redis-backed limiter.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "sheetgate:"
	}
	return &RedisRateLimiter{
		client: client,
		prefix: prefix + "ratelimit:",
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	result, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit: allow check failed: %w", err)
	}
	count, ok := result.(int64)
	if !ok {
		return false, 0, fmt.Errorf("redis rate limit: unexpected result type %T", result)
	}
	if int(count) > limit {
		return false, 0, nil
	}
	return true, limit - int(count), nil
}

func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis rate limit: reset failed: %w", err)
	}
	return nil
}
