// internal/platform/resilience/backoff.go
package resilience

import (
	"math"
	"time"
)

// Backoff computes exponential retry delays: Base * Multiplier^attempt,
// capped at Cap. Attempt 0 is the first retry.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
}

// DefaultBackoff matches the scheduler's default retry curve (1s, 2s,
// 4s, ... capped at 60s).
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       1 * time.Second,
		Multiplier: 2.0,
		Cap:        60 * time.Second,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 1 * time.Second
	}
	mult := b.Multiplier
	if mult < 1.0 {
		mult = 2.0
	}
	cap := b.Cap
	if cap <= 0 {
		cap = 60 * time.Second
	}
	if attempt < 0 {
		attempt = 0
	}

	d := time.Duration(float64(base) * math.Pow(mult, float64(attempt)))
	if d > cap || d <= 0 {
		d = cap
	}
	return d
}
