package service

import (
	"context"
	"sync"
	"time"
)

// RateLimiter bounds how many tasks run at once and how fast new ones are dispatched
type RateLimiter struct {
	mu sync.RWMutex

	// Global in-flight task limit
	maxConcurrent int

	// Per-queue dispatch rate limit, 0 disables it
	maxDispatchesPerMinute int
	dispatchWindows        map[string]*dispatchWindow
}

type dispatchWindow struct {
	count     int
	windowEnd time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxConcurrent, maxDispatchesPerMinute int) *RateLimiter {
	return &RateLimiter{
		maxConcurrent:          maxConcurrent,
		maxDispatchesPerMinute: maxDispatchesPerMinute,
		dispatchWindows:        make(map[string]*dispatchWindow),
	}
}

// MaxConcurrent returns the in-flight limit
func (rl *RateLimiter) MaxConcurrent() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.maxConcurrent
}

// CheckConcurrentLimit checks if another task may start given currentRunning in
// flight. A limit of 0 or less disables it.
func (rl *RateLimiter) CheckConcurrentLimit(ctx context.Context, currentRunning int) error {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if rl.maxConcurrent > 0 && currentRunning >= rl.maxConcurrent {
		return ErrRateLimitExceeded
	}

	return nil
}

// CheckDispatchRate checks if the queue may dispatch another task in the current minute
func (rl *RateLimiter) CheckDispatchRate(ctx context.Context, queue string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.maxDispatchesPerMinute <= 0 {
		return nil
	}

	now := time.Now()
	window, exists := rl.dispatchWindows[queue]

	if !exists || now.After(window.windowEnd) {
		rl.dispatchWindows[queue] = &dispatchWindow{
			count:     1,
			windowEnd: now.Add(1 * time.Minute),
		}
		return nil
	}

	if window.count >= rl.maxDispatchesPerMinute {
		return ErrRateLimitExceeded
	}

	window.count++
	return nil
}

// ReleaseDispatch returns a slot taken by CheckDispatchRate that was not used
func (rl *RateLimiter) ReleaseDispatch(queue string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if window, exists := rl.dispatchWindows[queue]; exists && window.count > 0 {
		window.count--
	}
}
