package feeds

import "time"

// breaker is a failure-count circuit breaker. After threshold consecutive
// failures it trips, and the owning loop sleeps for Cooldown before resetting.
// It is only touched from the feed's poll goroutine, so it needs no locking.
type breaker struct {
	threshold int
	step      time.Duration
	max       time.Duration
	failures  int
}

func newBreaker(threshold int, step, max time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		step:      step,
		max:       max,
	}
}

// Failure records one consecutive failure
func (b *breaker) Failure() {
	b.failures++
}

// Success clears the consecutive-failure count
func (b *breaker) Success() {
	b.failures = 0
}

// Tripped reports whether the failure threshold has been reached
func (b *breaker) Tripped() bool {
	return b.failures >= b.threshold
}

// Cooldown returns the backoff sleep for the current failure count,
// growing linearly per failure up to the cap.
func (b *breaker) Cooldown() time.Duration {
	cooldown := time.Duration(b.failures) * b.step
	if cooldown > b.max {
		cooldown = b.max
	}
	return cooldown
}

// Reset clears the failure count after a cooldown completes
func (b *breaker) Reset() {
	b.failures = 0
}

// Failures returns the current consecutive-failure count
func (b *breaker) Failures() int {
	return b.failures
}
