// Package ratelimit implements a sliding-window request limiter for upstream APIs.
package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Default limits for public REST endpoints
const (
	DefaultMaxRequests = 30
	DefaultWindow      = time.Minute
)

// Limiter tracks request timestamps within a trailing window and denies
// requests once the window is full.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	clk         clock.Clock
	requests    []time.Time
}

// New creates a Limiter allowing maxRequests per window
func New(maxRequests int, window time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		clk:         clk,
		requests:    make([]time.Time, 0, maxRequests),
	}
}

// NewDefault creates a Limiter with the default limits
func NewDefault(clk clock.Clock) *Limiter {
	return New(DefaultMaxRequests, DefaultWindow, clk)
}

// CanRequest reports whether another request is allowed right now
func (l *Limiter) CanRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evict(l.clk.Now())
	return len(l.requests) < l.maxRequests
}

// Record registers a request at the current time
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.requests = append(l.requests, l.clk.Now())
}

// TimeUntilAvailable returns how long until the next request is allowed,
// or zero if one is allowed now.
func (l *Limiter) TimeUntilAvailable() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	l.evict(now)

	if len(l.requests) < l.maxRequests {
		return 0
	}

	// Oldest surviving entry determines when a slot frees up
	oldest := l.requests[0]
	wait := oldest.Add(l.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// evict drops timestamps older than the trailing window. Callers must hold mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.requests[:0]
	for _, t := range l.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.requests = kept
}
