package core

import (
	"math"
	"math/rand"
	"time"
)

const backoffJitterFraction = 0.2

// RetryPolicy bounds the exponential backoff between delivery attempts.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	defaults := DefaultConfig().Delivery
	return RetryPolicy{
		BaseDelay:   defaults.BaseDelay,
		MaxDelay:    defaults.MaxDelay,
		MaxAttempts: defaults.MaxAttempts,
	}
}

// Exhausted reports whether attemptCount leaves no retries.
func (p RetryPolicy) Exhausted(attemptCount int) bool {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	return attemptCount >= maxAttempts
}

// NextAttemptDelay computes min(base * 2^(attempt-1), max) with +-20%
// jitter. attempt is 1-based; rng is injected so the schedule is testable
// without real timers. A nil rng disables jitter.
func NextAttemptDelay(attempt int, policy RetryPolicy, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := policy.BaseDelay
	if base <= 0 {
		base = DefaultRetryPolicy().BaseDelay
	}
	maximum := policy.MaxDelay
	if maximum <= 0 {
		maximum = DefaultRetryPolicy().MaxDelay
	}

	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(base) * multiplier)
	if delay <= 0 || delay > maximum {
		delay = maximum
	}

	if rng == nil {
		return delay
	}
	// jitter in [-20%, +20%] spreads retries from herds of failing
	// deliveries across the backoff window
	spread := (rng.Float64()*2 - 1) * backoffJitterFraction
	jittered := time.Duration(float64(delay) * (1 + spread))
	if jittered <= 0 {
		return delay
	}
	if jittered > maximum {
		return maximum
	}
	return jittered
}
