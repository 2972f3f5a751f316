// Package admission implements a client-local sliding-window rate limiter
// applied before a workflow is accepted. It is advisory only: state lives in
// process memory and does not survive restarts.
package admission

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is how far back request timestamps are counted.
	DefaultWindow = 10 * time.Second
	// DefaultLimit is the maximum number of requests inside the window.
	DefaultLimit = 5
)

// Gate tracks recent request timestamps per caller and rejects a new
// request when the caller's rate inside the window is at the limit.
type Gate struct {
	window time.Duration
	limit  int

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewGate creates a Gate. Non-positive window or limit fall back to the
// defaults.
func NewGate(window time.Duration, limit int) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Gate{
		window:  window,
		limit:   limit,
		windows: make(map[string][]time.Time),
	}
}

// Allow reports whether a request from caller at time now is admitted.
// Entries whose age is at least the window size are discarded first; if the
// remaining count has reached the limit the request is rejected without
// being recorded, otherwise now is recorded and the request admitted.
//
// Time is an explicit parameter so callers pass time.Now() and tests pass
// fixed instants.
func (g *Gate) Allow(caller string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-g.window)
	kept := g.windows[caller][:0]
	for _, ts := range g.windows[caller] {
		// Age exactly equal to the window counts as expired.
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= g.limit {
		g.windows[caller] = kept
		return false
	}

	g.windows[caller] = append(kept, now)
	return true
}
