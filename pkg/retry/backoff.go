package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines the interface for backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay before the given attempt (1-based)
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with additive jitter.
// The pre-jitter delay is non-decreasing across attempts.
type ExponentialBackoff struct {
	// BaseDelay is the initial delay duration
	BaseDelay time.Duration
	// MaxDelay caps the pre-jitter delay
	MaxDelay time.Duration
	// JitterMax is the upper bound of a uniform additive jitter
	JitterMax time.Duration
}

// DefaultExponentialBackoff returns the shared retry policy's backoff
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay: 1 * time.Second,
		MaxDelay:  30 * time.Second,
		JitterMax: 1 * time.Second,
	}
}

// NextDelay calculates min(base * 2^attempt, max) + uniform(0, jitterMax)
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.JitterMax > 0 {
		delay += rand.Float64() * float64(eb.JitterMax)
	}

	return time.Duration(delay)
}

// ConstantBackoff implements constant delay backoff, used in tests
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait waits for the specified duration or until the context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
