// Package backoff computes capped exponential retry delays.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Default policy values shared by the retry controller and the rate limiter.
const (
	DefaultInitial    = 2 * time.Second
	DefaultMultiplier = 2.0
	DefaultMax        = 60 * time.Second
	DefaultJitter     = 0.15
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	// Initial is the delay after the first failed attempt.
	Initial time.Duration

	// Multiplier grows the delay between consecutive attempts.
	Multiplier float64

	// Max caps the computed delay.
	Max time.Duration

	// Jitter is the symmetric random fraction applied to the delay
	// (0.15 means ±15%). Zero disables jitter.
	Jitter float64
}

// Default returns the standard deploy retry policy.
func Default() Policy {
	return Policy{
		Initial:    DefaultInitial,
		Multiplier: DefaultMultiplier,
		Max:        DefaultMax,
		Jitter:     DefaultJitter,
	}
}

// Delay returns the wait before attempt n+1, given that attempt n (1-based)
// just failed: min(Max, Initial·Multiplier^(n-1)), jittered. rnd may be nil
// when Jitter is zero.
func (p Policy) Delay(attempt int, rnd *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if max := float64(p.Max); p.Max > 0 && d > max {
		d = max
	}
	if p.Jitter > 0 && rnd != nil {
		// Uniform in [1-Jitter, 1+Jitter].
		factor := 1 + p.Jitter*(2*rnd.Float64()-1)
		d *= factor
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
