// Package ratelimiter throttles repetitive log output.
//
// The accept loop can fail on every iteration while the process is out of
// descriptors; logging each failure would flood the sink. A Limiter lets a
// bounded number of events through and counts the ones it swallowed so the
// next admitted line can report them.
package ratelimiter

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket with a suppression counter.
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// New creates a Limiter admitting eventsPerSecond on average with bursts of
// up to burst events.
//
// Special cases:
//   - eventsPerSecond = 0: No throttling
//   - burst = 0: Treated as 1
func New(eventsPerSecond float64, burst int) *Limiter {
	limit := rate.Limit(eventsPerSecond)
	if eventsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(limit, burst)}
}

// Every creates a Limiter admitting one event per interval.
func Every(interval time.Duration, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// Allow reports whether the event may be emitted. When it may, suppressed
// is the number of events dropped since the previous admitted one.
func (l *Limiter) Allow() (ok bool, suppressed int64) {
	if !l.limiter.Allow() {
		l.suppressed.Add(1)
		return false, 0
	}
	return true, l.suppressed.Swap(0)
}

// Suppressed returns the number of events dropped and not yet reported.
func (l *Limiter) Suppressed() int64 {
	return l.suppressed.Load()
}
