// internal/platform/rate/rate.go
package rate

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket used to pace calls against rate-limited
// upstreams (paginated APIs, warehouse endpoints). Tokens refill
// continuously at a fixed per-second rate up to the burst capacity.
type Limiter struct {
	perSec float64
	burst  float64

	mu     sync.Mutex
	tokens float64
	asOf   time.Time
}

// New builds a limiter allowing perSec operations per second with the
// given burst capacity. Non-positive arguments are clamped to 1. The
// bucket starts full so the first burst is not delayed.
func New(perSec float64, burst int) *Limiter {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		perSec: perSec,
		burst:  float64(burst),
		tokens: float64(burst),
		asOf:   time.Now(),
	}
}

// Allow consumes a token if one is available and reports whether the
// caller may proceed immediately.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(time.Now())
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// Wait blocks until a token is available or ctx is done, returning
// ctx.Err() in the latter case.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill(time.Now())
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		delay := time.Duration((1 - l.tokens) / l.perSec * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens reports the tokens currently available.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(time.Now())
	return l.tokens
}

// Reset refills the bucket to capacity.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = l.burst
	l.asOf = time.Now()
}

// refill credits tokens for the time elapsed since the last update.
// Caller holds l.mu.
func (l *Limiter) refill(now time.Time) {
	l.tokens += now.Sub(l.asOf).Seconds() * l.perSec
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.asOf = now
}
