// Package backoff centralizes retry delay calculation so the retry engine
// and tests agree on exact schedules.
package backoff

import "time"

// Strategy computes the delay before a given retry.
type Strategy interface {
	// Delay returns the pause before retry number retry (1-based) given
	// the configured base delay.
	Delay(retry int, base time.Duration) time.Duration
}

// Exponential doubles the delay per retry: base, 2*base, 4*base, ...
type Exponential struct{}

// Delay implements Strategy. The exponent is clamped to keep the shift
// from overflowing time.Duration.
func (Exponential) Delay(retry int, base time.Duration) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if retry > 31 {
		retry = 31
	}
	d := base << uint(retry-1)
	if d < base {
		// Overflowed.
		return base << 30
	}
	return d
}

// Constant always waits the base delay.
type Constant struct{}

// Delay implements Strategy.
func (Constant) Delay(retry int, base time.Duration) time.Duration {
	return base
}
