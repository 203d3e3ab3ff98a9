// Package ratelimit provides a process-local sliding window limiter for the
// sensitive endpoint families (login, registration, password reset). State is
// deliberately kept in memory: limits reset on restart, and each instance
// counts independently.
package ratelimit

import (
	"sync"
	"time"

	"identity-service/internal/clock"
)

// Limiter tracks recent request timestamps per key and refuses a key once it
// has seen more than max requests inside the trailing window.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	clock  clock.Clock
	seen   map[string][]time.Time
}

func NewLimiter(max int, window time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.System()
	}
	return &Limiter{
		max:    max,
		window: window,
		clock:  clk,
		seen:   make(map[string][]time.Time),
	}
}

// Check records one request for key and reports whether it exceeded the
// limit. When limited, retryAfter is the number of seconds until the oldest
// in-window request ages out, never below 1.
func (l *Limiter) Check(key string) (limited bool, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	recent := l.seen[key][:0]
	for _, t := range l.seen[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.max {
		l.seen[key] = recent
		wait := l.window - now.Sub(recent[0])
		retryAfter = int(wait.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return true, retryAfter
	}

	l.seen[key] = append(recent, now)
	return false, 0
}

// Reset clears all recorded requests for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, key)
}

// Evict drops keys whose every recorded request has aged out of the window.
// Called periodically by the janitor so idle keys do not accumulate.
func (l *Limiter) Evict() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().Add(-l.window)
	evicted := 0
	for key, times := range l.seen {
		stale := true
		for _, t := range times {
			if t.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.seen, key)
			evicted++
		}
	}
	return evicted
}
