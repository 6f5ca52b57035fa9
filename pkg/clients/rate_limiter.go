// Package clients provides shared HTTP client and throttling implementations
package clients

import (
	"context"
	"sync"
	"time"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	// Allow checks if a call is allowed without blocking
	Allow() bool

	// Wait blocks until a call is allowed or the context is done
	Wait(ctx context.Context) error

	// GetStats returns rate limiter statistics
	GetStats() RateLimiterStats
}

// RateLimiterStats provides statistics about limiter state for monitoring
// and debugging.
type RateLimiterStats struct {
	Window       time.Duration `json:"window"`
	MaxCalls     int           `json:"max_calls"`
	WindowStart  time.Time     `json:"window_start"`
	CallCount    int           `json:"call_count"`
	AllowedCalls int64         `json:"allowed_calls"`
	BlockedCalls int64         `json:"blocked_calls"`
}

// WindowRateLimiter implements a sliding-window throttle: at most maxCalls
// calls may proceed within any window. When the window is exhausted, Wait
// suspends until the window ends, then resets and proceeds.
//
// The check-then-increment is performed under one mutex hold with no
// suspension point in between, so two concurrent callers can never both pass
// a full-window check.
type WindowRateLimiter struct {
	window   time.Duration
	maxCalls int

	windowStart  time.Time
	callCount    int
	allowedCalls int64
	blockedCalls int64

	mu sync.Mutex
}

// NewWindowRateLimiter creates a sliding-window limiter permitting maxCalls
// per window.
func NewWindowRateLimiter(window time.Duration, maxCalls int) *WindowRateLimiter {
	if window <= 0 {
		window = 60 * time.Second
	}
	if maxCalls <= 0 {
		maxCalls = 60
	}
	return &WindowRateLimiter{
		window:      window,
		maxCalls:    maxCalls,
		windowStart: time.Now(),
	}
}

// Allow checks if a call is allowed immediately. Returns true and consumes a
// slot if the window has capacity, false otherwise.
func (w *WindowRateLimiter) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rollWindow(time.Now())

	if w.callCount < w.maxCalls {
		w.callCount++
		w.allowedCalls++
		return true
	}

	w.blockedCalls++
	return false
}

// Wait blocks until a call is allowed
func (w *WindowRateLimiter) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := time.Now()
		w.rollWindow(now)

		if w.callCount < w.maxCalls {
			w.callCount++
			w.allowedCalls++
			w.mu.Unlock()
			return nil
		}

		w.blockedCalls++
		wakeAt := w.windowStart.Add(w.window)
		w.mu.Unlock()

		timer := time.NewTimer(time.Until(wakeAt))
		select {
		case <-timer.C:
			// Window has ended; loop to re-check under the lock. Another
			// caller may have consumed the fresh window in the meantime.
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}

// rollWindow resets the counter when the window has elapsed. Caller holds mu.
func (w *WindowRateLimiter) rollWindow(now time.Time) {
	if now.Sub(w.windowStart) >= w.window {
		w.windowStart = now
		w.callCount = 0
	}
}

// GetStats returns rate limiter statistics
func (w *WindowRateLimiter) GetStats() RateLimiterStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return RateLimiterStats{
		Window:       w.window,
		MaxCalls:     w.maxCalls,
		WindowStart:  w.windowStart,
		CallCount:    w.callCount,
		AllowedCalls: w.allowedCalls,
		BlockedCalls: w.blockedCalls,
	}
}

// OperationLimiter maintains one WindowRateLimiter per operation name so each
// (instance, operation) pair is throttled independently.
type OperationLimiter struct {
	window   time.Duration
	maxCalls map[string]int
	fallback int

	limiters map[string]*WindowRateLimiter
	mu       sync.Mutex
}

// NewOperationLimiter creates a per-operation limiter. maxCalls maps
// operation names to their per-window budget; operations not listed use
// fallback.
func NewOperationLimiter(window time.Duration, maxCalls map[string]int, fallback int) *OperationLimiter {
	if fallback <= 0 {
		fallback = 60
	}
	return &OperationLimiter{
		window:   window,
		maxCalls: maxCalls,
		fallback: fallback,
		limiters: make(map[string]*WindowRateLimiter),
	}
}

// Wait throttles the named operation, suspending until its window has
// capacity.
func (o *OperationLimiter) Wait(ctx context.Context, operation string) error {
	return o.limiter(operation).Wait(ctx)
}

// Allow checks the named operation without blocking
func (o *OperationLimiter) Allow(operation string) bool {
	return o.limiter(operation).Allow()
}

// Stats returns statistics for every operation seen so far
func (o *OperationLimiter) Stats() map[string]RateLimiterStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats := make(map[string]RateLimiterStats, len(o.limiters))
	for op, l := range o.limiters {
		stats[op] = l.GetStats()
	}
	return stats
}

func (o *OperationLimiter) limiter(operation string) *WindowRateLimiter {
	o.mu.Lock()
	defer o.mu.Unlock()

	if l, ok := o.limiters[operation]; ok {
		return l
	}

	max := o.fallback
	if m, ok := o.maxCalls[operation]; ok && m > 0 {
		max = m
	}
	l := NewWindowRateLimiter(o.window, max)
	o.limiters[operation] = l
	return l
}
