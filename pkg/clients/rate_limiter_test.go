package clients

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowRateLimiterAllowExhaustsWindow(t *testing.T) {
	limiter := NewWindowRateLimiter(time.Second, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow(), "call %d should be allowed", i)
	}
	assert.False(t, limiter.Allow(), "fourth call should be blocked")

	stats := limiter.GetStats()
	assert.Equal(t, int64(3), stats.AllowedCalls)
	assert.Equal(t, int64(1), stats.BlockedCalls)
}

func TestWindowRateLimiterResetsAfterWindow(t *testing.T) {
	limiter := NewWindowRateLimiter(50*time.Millisecond, 2)

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, limiter.Allow(), "window should have rolled over")
}

func TestWindowRateLimiterWaitSuspendsUntilWindowEnd(t *testing.T) {
	limiter := NewWindowRateLimiter(80*time.Millisecond, 1)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond,
		"second call should have waited for the window to end")
}

func TestWindowRateLimiterWaitHonorsContext(t *testing.T) {
	limiter := NewWindowRateLimiter(time.Hour, 1)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWindowRateLimiterConcurrentNeverOverAdmits(t *testing.T) {
	limiter := NewWindowRateLimiter(time.Second, 10)

	var admitted int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted)
}

func TestOperationLimiterIsolatesOperations(t *testing.T) {
	limiter := NewOperationLimiter(time.Second, map[string]int{"publish": 1}, 5)

	assert.True(t, limiter.Allow("publish"))
	assert.False(t, limiter.Allow("publish"), "publish budget is exhausted")
	assert.True(t, limiter.Allow("insights"), "insights has its own budget")
}

func TestOperationLimiterFallbackBudget(t *testing.T) {
	limiter := NewOperationLimiter(time.Second, nil, 2)

	assert.True(t, limiter.Allow("delete"))
	assert.True(t, limiter.Allow("delete"))
	assert.False(t, limiter.Allow("delete"))

	stats := limiter.Stats()
	require.Contains(t, stats, "delete")
	assert.Equal(t, 2, stats["delete"].MaxCalls)
}
