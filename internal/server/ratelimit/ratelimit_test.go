package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, cfg *Config) (*Limiter, *fakeClock) {
	t.Helper()
	cfg.CleanupInterval = 0
	l := NewLimiter(cfg)
	t.Cleanup(l.Stop)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l.now = clock.Now
	return l, clock
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(true, 1, 3, ""))

	for i := 0; i < 3; i++ {
		allowed, info := l.Allow("10.0.0.1", "/api-endpoint", "POST")
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 3, info.Limit)
		assert.Equal(t, 2-i, info.Remaining)
	}

	allowed, info := l.Allow("10.0.0.1", "/api-endpoint", "POST")
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)
	assert.InDelta(t, time.Second.Seconds(), info.RetryAfter.Seconds(), 0.01)
}

func TestLimiter_Refill(t *testing.T) {
	l, clock := newTestLimiter(t, NewConfig(true, 2, 1, ""))

	allowed, _ := l.Allow("c", "/api-endpoint", "POST")
	require.True(t, allowed)
	allowed, _ = l.Allow("c", "/api-endpoint", "POST")
	require.False(t, allowed)

	clock.Advance(500 * time.Millisecond)
	allowed, _ = l.Allow("c", "/api-endpoint", "POST")
	assert.True(t, allowed)
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(true, 1, 1, ""))

	allowed, _ := l.Allow("a", "/api-endpoint", "POST")
	require.True(t, allowed)
	allowed, _ = l.Allow("a", "/api-endpoint", "POST")
	require.False(t, allowed)

	allowed, _ = l.Allow("b", "/api-endpoint", "POST")
	assert.True(t, allowed)
}

func TestLimiter_EndpointSpecific(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(true, 1, 1, ""))

	allowed, _ := l.Allow("c", "/api-endpoint", "POST")
	require.True(t, allowed)
	allowed, _ = l.Allow("c", "/api-endpoint", "POST")
	require.False(t, allowed)

	// Report endpoint has double burst
	for i := 0; i < 2; i++ {
		allowed, _ = l.Allow("c", "/evaluation/notify", "POST")
		assert.True(t, allowed, "report %d", i+1)
	}
}

func TestLimiter_HealthUnlimited(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(true, 0.001, 1, ""))

	for i := 0; i < 100; i++ {
		allowed, info := l.Allow("c", "/health", "GET")
		require.True(t, allowed)
		assert.Equal(t, 0, info.Limit)
	}
}

func TestLimiter_Whitelist(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(true, 1, 1, "127.0.0.1, 10.0.0.9"))

	for i := 0; i < 10; i++ {
		allowed, _ := l.Allow("10.0.0.9", "/api-endpoint", "POST")
		require.True(t, allowed)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(false, 1, 1, ""))

	for i := 0; i < 10; i++ {
		allowed, _ := l.Allow("c", "/api-endpoint", "POST")
		require.True(t, allowed)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(true, 1, 50, ""))

	var wg sync.WaitGroup
	var allowedCount atomic.Int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("c", "/api-endpoint", "POST"); ok {
				allowedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), allowedCount.Load())
}

func TestLimiter_Cleanup(t *testing.T) {
	l, clock := newTestLimiter(t, NewConfig(true, 1, 1, ""))

	for i := 0; i < 5; i++ {
		l.Allow(fmt.Sprintf("client-%d", i), "/api-endpoint", "POST")
	}
	require.Len(t, l.buckets, 5)

	clock.Advance(30 * time.Minute)
	l.Allow("client-0", "/api-endpoint", "POST")
	clock.Advance(31 * time.Minute)
	l.cleanupBuckets()

	assert.Len(t, l.buckets, 1)
	assert.Contains(t, l.buckets, "client-0:/api-endpoint:POST")
}

func TestMatchEndpoint(t *testing.T) {
	configs := []EndpointConfig{
		{Path: "/api-endpoint", Method: "POST", Rate: 1},
		{Path: "/evaluation/", Method: "POST", Rate: 2},
	}

	assert.Equal(t, 1.0, MatchEndpoint("/api-endpoint", "POST", configs).Rate)
	assert.Equal(t, 2.0, MatchEndpoint("/evaluation/notify", "POST", configs).Rate)
	assert.Nil(t, MatchEndpoint("/api-endpoint", "GET", configs))
	assert.Nil(t, MatchEndpoint("/other", "POST", configs))
	assert.Equal(t, 0.0, MatchEndpoint("/health", "GET", configs).Rate)
}

func TestNewLimiter_NilConfig(t *testing.T) {
	l := NewLimiter(nil)
	defer l.Stop()
	l.Stop()

	allowed, _ := l.Allow("c", "/api-endpoint", "POST")
	assert.True(t, allowed)
}
