package server

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoa-s-development/SentinelProxy-sub002/config"
)

func newTestLimiter(t *testing.T, maxTokens int, refill string) (*RateLimiter[string], *fakeClock) {
	t.Helper()
	r, err := NewRateLimiter[string]("test", config.RateLimiterConfig{
		MaxTokens:      maxTokens,
		RefillInterval: refill,
		IdleExpiry:     "1h",
	})
	require.NoError(t, err)
	clock := newFakeClock()
	r.now = clock.Now
	return r, clock
}

func TestRateLimiterStartsFull(t *testing.T) {
	r, _ := newTestLimiter(t, 10, "1s")

	for i := 0; i < 10; i++ {
		assert.True(t, r.TryAcquire("10.0.0.1"), "acquire %d", i)
	}
	assert.False(t, r.TryAcquire("10.0.0.1"))

	// Other keys have their own buckets.
	assert.True(t, r.TryAcquire("10.0.0.2"))
}

func TestRateLimiterRefillsWholeIntervals(t *testing.T) {
	r, clock := newTestLimiter(t, 10, "1s")

	for i := 0; i < 10; i++ {
		require.True(t, r.TryAcquire("10.0.0.1"))
	}
	require.False(t, r.TryAcquire("10.0.0.1"))

	// Under one interval: still empty.
	clock.Advance(900 * time.Millisecond)
	assert.False(t, r.TryAcquire("10.0.0.1"))

	// Past one interval: exactly one token, no more.
	clock.Advance(200 * time.Millisecond)
	assert.True(t, r.TryAcquire("10.0.0.1"))
	assert.False(t, r.TryAcquire("10.0.0.1"))
}

func TestRateLimiterKeepsFractionalProgress(t *testing.T) {
	r, clock := newTestLimiter(t, 1, "1s")

	require.True(t, r.TryAcquire("k"))
	require.False(t, r.TryAcquire("k"))

	// 1.5s elapsed credits one token and leaves 0.5s of progress toward
	// the next, so another 0.5s is enough for the following token.
	clock.Advance(1500 * time.Millisecond)
	assert.True(t, r.TryAcquire("k"))
	clock.Advance(500 * time.Millisecond)
	assert.True(t, r.TryAcquire("k"))
}

func TestRateLimiterCapsAtMaxTokens(t *testing.T) {
	r, clock := newTestLimiter(t, 3, "1s")

	require.True(t, r.TryAcquire("k"))
	clock.Advance(time.Hour)

	// A long idle period never overfills the bucket.
	assert.Equal(t, 3, r.Tokens("k"))
	for i := 0; i < 3; i++ {
		assert.True(t, r.TryAcquire("k"))
	}
	assert.False(t, r.TryAcquire("k"))
}

func TestRateLimiterAcquireNAtomic(t *testing.T) {
	r, _ := newTestLimiter(t, 5, "1s")

	assert.True(t, r.TryAcquireN("k", 3))
	// Only 2 left: a request for 3 takes nothing.
	assert.False(t, r.TryAcquireN("k", 3))
	assert.Equal(t, 2, r.Tokens("k"))
	assert.True(t, r.TryAcquireN("k", 2))
	assert.False(t, r.TryAcquire("k"))
}

func TestRateLimiterNilAllowsAll(t *testing.T) {
	var r *RateLimiter[string]
	assert.True(t, r.TryAcquire("anything"))
	assert.True(t, r.TryAcquireN("anything", 100))
	assert.Equal(t, 0, r.Sweep())
	// A nil limiter tracks no budget, so Tokens reports 0 even though
	// every acquire passes.
	assert.Equal(t, 0, r.Tokens("anything"))
}

func TestRateLimiterConcurrentAcquire(t *testing.T) {
	r, _ := newTestLimiter(t, 100, "1h")

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if r.TryAcquire("shared") {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	// Exactly the bucket capacity is granted regardless of contention.
	assert.Equal(t, int64(100), granted.Load())
}
