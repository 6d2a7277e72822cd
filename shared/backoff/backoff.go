// Package backoff provides the reconnection delay calculator used by the feeds.
package backoff

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default backoff settings for reconnection attempts
const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 60 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitter       = 0.1
)

// Calculator produces exponentially growing, jittered reconnection delays.
// Not safe for concurrent use; each feed owns its own Calculator.
type Calculator struct {
	exp      *backoff.ExponentialBackOff
	maxDelay time.Duration
}

// NewCalculator creates a Calculator with the default settings
func NewCalculator() *Calculator {
	return NewCalculatorWith(DefaultInitialDelay, DefaultMaxDelay, DefaultMultiplier, DefaultJitter)
}

// NewCalculatorWith creates a Calculator with explicit settings
func NewCalculatorWith(initial, maxDelay time.Duration, multiplier, jitter float64) *Calculator {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = maxDelay
	exp.Multiplier = multiplier
	exp.RandomizationFactor = jitter
	exp.MaxElapsedTime = 0 // never give up; exhaustion is the failover policy's job
	exp.Reset()

	return &Calculator{
		exp:      exp,
		maxDelay: maxDelay,
	}
}

// NextDelay returns the delay to wait before the next reconnection attempt and
// advances the internal interval. The jittered value can overshoot MaxInterval,
// so clamp it to keep every emitted delay within the cap.
func (c *Calculator) NextDelay() time.Duration {
	d := c.exp.NextBackOff()
	if d == backoff.Stop || d > c.maxDelay {
		d = c.maxDelay
	}
	return d
}

// Reset restores the delay to its initial value after a successful connection
func (c *Calculator) Reset() {
	c.exp.Reset()
}
