package server

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-player sliding-window message cap.
type RateLimiter struct {
	maxEvents int
	window    time.Duration
	events    map[string][]time.Time // playerID -> recent message times
	mu        sync.Mutex
}

func NewRateLimiter(maxEvents int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxEvents: maxEvents,
		window:    window,
		events:    make(map[string][]time.Time),
	}
}

// Allow records one message for playerID and reports whether it fits in the
// window. A rejected message is not counted against later ones.
func (r *RateLimiter) Allow(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	recent := r.events[playerID][:0]
	for _, ts := range r.events[playerID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= r.maxEvents {
		r.events[playerID] = recent
		return false
	}

	r.events[playerID] = append(recent, now)
	return true
}

// Remove drops a player's window. Called on disconnect.
func (r *RateLimiter) Remove(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, playerID)
}

// Cleanup evicts players whose whole window has aged out.
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	for id, timestamps := range r.events {
		stale := true
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(r.events, id)
		}
	}
}
