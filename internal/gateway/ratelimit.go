package gateway

import (
	"sync"
	"time"
)

// rateLimiter drops samples arriving faster than the minimum update interval,
// tracked per trip.
type rateLimiter struct {
	interval time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{interval: interval, lastSeen: make(map[string]time.Time)}
}

func (r *rateLimiter) allow(tripID string, now time.Time) bool {
	if r.interval <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.lastSeen[tripID]; ok && now.Sub(last) < r.interval {
		return false
	}
	r.lastSeen[tripID] = now
	return true
}

func (r *rateLimiter) forget(tripID string) {
	r.mu.Lock()
	delete(r.lastSeen, tripID)
	r.mu.Unlock()
}
