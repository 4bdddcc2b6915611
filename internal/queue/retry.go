package queue

import (
	"math"
	"time"
)

// RetryPolicy defines exponential backoff parameters for requeued
// operations. The zero value means immediate eligibility: a failed
// operation returns to pending and is picked up by the very next sync.
type RetryPolicy struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns the delay for a given attempt (1-based) with
// clamping. A non-positive initial delay disables backoff entirely.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if r.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(factor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d < 0 {
		d = r.MaxDelay
	}
	return d
}
