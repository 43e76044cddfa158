package server

import (
	"sync"
	"time"

	"github.com/khoa-s-development/SentinelProxy-sub002/cache"
	"github.com/khoa-s-development/SentinelProxy-sub002/config"
	"github.com/khoa-s-development/SentinelProxy-sub002/pkg/metrics"
)

// tokenBucket is the per-key refillable counter. Guarded by mu.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// RateLimiter is a keyed token-bucket limiter. Each key gets its own bucket
// starting full; a token is credited per whole refill interval elapsed since
// the last refill, capped at the bucket capacity. Idle buckets are evicted
// by the backing store.
//
// A nil *RateLimiter allows everything, so callers can leave a limiter
// unconfigured without guarding every call site.
type RateLimiter[K comparable] struct {
	name           string
	maxTokens      int
	refillInterval time.Duration
	buckets        *cache.Expiring[K, *tokenBucket]

	// now is replaceable in tests.
	now func() time.Time
}

// NewRateLimiter builds a limiter from configuration. The name labels the
// limiter in metrics.
func NewRateLimiter[K comparable](name string, cfg config.RateLimiterConfig) (*RateLimiter[K], error) {
	refill, err := cfg.GetRefillInterval()
	if err != nil {
		return nil, err
	}
	idle, err := cfg.GetIdleExpiry()
	if err != nil {
		return nil, err
	}
	return &RateLimiter[K]{
		name:           name,
		maxTokens:      cfg.MaxTokens,
		refillInterval: refill,
		buckets:        cache.New[K, *tokenBucket](cache.ExpireAfterAccess, idle),
		now:            time.Now,
	}, nil
}

// TryAcquire attempts to take one token for key. It reports whether the
// token was granted.
func (r *RateLimiter[K]) TryAcquire(key K) bool {
	return r.TryAcquireN(key, 1)
}

// TryAcquireN attempts to take n tokens for key atomically: either all n are
// taken or none are.
func (r *RateLimiter[K]) TryAcquireN(key K, n int) bool {
	if r == nil {
		return true
	}
	now := r.now()
	b, _ := r.buckets.GetOrStore(key, func() *tokenBucket {
		return &tokenBucket{tokens: r.maxTokens, lastRefill: now}
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	// Credit one token per whole interval elapsed. lastRefill advances by
	// exactly the credited intervals rather than jumping to now, so partial
	// progress toward the next token is never discarded.
	if elapsed := now.Sub(b.lastRefill); elapsed >= r.refillInterval {
		intervals := int(elapsed / r.refillInterval)
		b.tokens += intervals
		if b.tokens > r.maxTokens {
			b.tokens = r.maxTokens
		}
		b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * r.refillInterval)
	}

	if b.tokens < n {
		metrics.RateLimitDecisionsTotal.WithLabelValues(r.name, "denied").Inc()
		return false
	}
	b.tokens -= n
	metrics.RateLimitDecisionsTotal.WithLabelValues(r.name, "allowed").Inc()
	return true
}

// Tokens returns the number of tokens currently available for key without
// consuming any. Keys with no bucket report a full bucket. A nil limiter
// reports 0: it tracks no budget at all, even though its TryAcquire admits
// everything.
func (r *RateLimiter[K]) Tokens(key K) int {
	if r == nil {
		return 0
	}
	b, ok := r.buckets.Get(key)
	if !ok {
		return r.maxTokens
	}
	now := r.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	tokens := b.tokens
	if elapsed := now.Sub(b.lastRefill); elapsed >= r.refillInterval {
		tokens += int(elapsed / r.refillInterval)
		if tokens > r.maxTokens {
			tokens = r.maxTokens
		}
	}
	return tokens
}

// Sweep evicts idle buckets. Called by the maintenance scheduler.
func (r *RateLimiter[K]) Sweep() int {
	if r == nil {
		return 0
	}
	return r.buckets.Sweep()
}

// ActiveBuckets returns the number of live buckets.
func (r *RateLimiter[K]) ActiveBuckets() int {
	if r == nil {
		return 0
	}
	return r.buckets.Len()
}
