package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mediagate/internal/cache"
)

// RateLimitConfig bounds request throughput: a global token bucket over the
// whole server plus a per-client-IP window on the proxy endpoints. When a
// cache store is provided the per-client counters live there so limits hold
// across replicas; otherwise in-memory buckets apply per process.
type RateLimitConfig struct {
	GlobalRPS      float64
	GlobalBurst    int
	PerClientLimit int
	PerClientWin   time.Duration
	Store          cache.Store
}

type rateLimiter struct {
	global        *tokenBucket
	clientLimit   int
	clientWindow  time.Duration
	clientMu      sync.Mutex
	clientBuckets map[string]*ipLimiter
	store         cache.Store
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		clientLimit:   cfg.PerClientLimit,
		clientWindow:  cfg.PerClientWin,
		clientBuckets: make(map[string]*ipLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.clientWindow <= 0 {
		rl.clientWindow = time.Minute
	}
	if cfg.Store != nil && rl.clientLimit > 0 {
		rl.store = cfg.Store
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

func (r *rateLimiter) AllowClient(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.clientLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		count, remaining, err := r.store.Increment(ctx, fmt.Sprintf("mediagate:rate:%s", key), r.clientWindow)
		if err != nil {
			// A dead counter store must not take the gateway down with it.
			return true, 0, nil
		}
		if count <= int64(r.clientLimit) {
			return true, 0, nil
		}
		return false, remaining, nil
	}
	if key == "" {
		key = "unknown"
	}
	r.clientMu.Lock()
	bucket, exists := r.clientBuckets[key]
	if !exists {
		rate := float64(r.clientLimit) / r.clientWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.clientWindow.Seconds()
		}
		bucket = &ipLimiter{bucket: newTokenBucket(rate, r.clientLimit)}
		r.clientBuckets[key] = bucket
	}
	bucket.lastSeen = time.Now()
	r.cleanupLocked()
	r.clientMu.Unlock()

	if bucket.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.clientBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.clientWindow)
	for key, bucket := range r.clientBuckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.clientBuckets, key)
		}
	}
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	now := time.Now()
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: now,
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens -= 1
	return true
}
