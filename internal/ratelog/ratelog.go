// Package ratelog gates repetitive log sites to at most one emission per interval.
package ratelog

import (
	"sync"
	"time"
)

// Limiter tracks the last emission time of a single log site
type Limiter struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
	// suppressed counts calls rejected since the last emission
	suppressed uint64
}

// New creates a limiter that allows one emission per interval.
// The first call to Allow always succeeds.
func New(interval time.Duration) *Limiter {
	return &Limiter{interval: interval, now: time.Now}
}

// WithClock replaces the time source (tests)
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow reports whether the site may log now.
// When it returns true, suppressed is the number of calls skipped since the
// previous emission.
func (l *Limiter) Allow() (ok bool, suppressed uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.last.IsZero() && now.Sub(l.last) < l.interval {
		l.suppressed++
		return false, 0
	}

	suppressed = l.suppressed
	l.suppressed = 0
	l.last = now
	return true, suppressed
}

// Reset arms the limiter to start a fresh interval at now.
// The next Allow succeeds only once the interval has elapsed.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.last = l.now()
	l.suppressed = 0
	l.mu.Unlock()
}

// Clear forgets the last emission so the next Allow succeeds immediately
func (l *Limiter) Clear() {
	l.mu.Lock()
	l.last = time.Time{}
	l.suppressed = 0
	l.mu.Unlock()
}
