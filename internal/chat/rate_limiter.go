package chat

import (
	"sync"
	"time"
)

// RateLimiter implements per-sender rate limiting
// ARCHITECTURAL DISCOVERY: Per-sender state tracking with periodic cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	senders map[string]*senderWindow

	now func() time.Time
}

// senderWindow counts messages in the current fixed window
type senderWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit messages per window for each sender
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		senders: make(map[string]*senderWindow),
		now:     time.Now,
	}
}

// Allow records one message for identity and reports whether it is within the limit
func (rl *RateLimiter) Allow(identity string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	w, exists := rl.senders[identity]
	if !exists {
		// FUNCTIONAL DISCOVERY: First message always allowed, initialize tracking
		rl.senders[identity] = &senderWindow{count: 1, windowStart: now}
		return true
	}

	// TECHNICAL DISCOVERY: Window resets once its full length has elapsed
	if now.Sub(w.windowStart) >= rl.window {
		w.count = 1
		w.windowStart = now
		return true
	}

	if w.count >= rl.limit {
		return false
	}

	w.count++
	return true
}

// Cleanup drops senders idle for five windows (call periodically)
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for identity, w := range rl.senders {
		if now.Sub(w.windowStart) > 5*rl.window {
			delete(rl.senders, identity)
		}
	}
}

// Tracked returns the number of senders currently tracked
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.senders)
}
