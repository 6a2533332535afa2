package router

import (
	"sync"
	"time"
)

// Signal rate limit defaults.
const (
	DefaultSignalLimit  = 100
	DefaultSignalWindow = time.Minute
)

// RateLimiter counts client signals per user in fixed windows.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*clientLimit
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit signals per window for each user. Zero values
// fall back to 100 per minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultSignalLimit
	}
	if window <= 0 {
		window = DefaultSignalWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientLimit),
	}
}

// Allow records a signal from userID at now and reports whether it is
// within the limit.
func (rl *RateLimiter) Allow(userID string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, exists := rl.clients[userID]
	if !exists {
		rl.clients[userID] = &clientLimit{count: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= rl.window {
		limit.count = 1
		limit.windowStart = now
		return true
	}

	if limit.count >= rl.limit {
		return false
	}

	limit.count++
	return true
}

// Cleanup drops users whose window started more than five windows ago.
func (rl *RateLimiter) Cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for userID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, userID)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of users with rate state.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
