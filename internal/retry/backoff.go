// Package retry reschedules failed delivery attempts from the durable
// attempt table with exponential backoff, and owns every attempt status
// transition after the initial insert.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: initial * multiplier^(attempt-1), capped,
// with optional proportional jitter to spread thundering herds.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // fraction of the delay, e.g. 0.1 for +/-10%
}

// DefaultBackoff returns the default schedule: 1s, 2s, 4s, ... capped at 5m.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Second,
		Max:        5 * time.Minute,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 {
		// uniform in [-jitter, +jitter]
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}

	return time.Duration(d)
}
