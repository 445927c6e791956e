// Package ratelimit paces consecutive downloads. With strictly sequential
// retrieval the conservative request-rate norm reduces to a randomized
// blocking pause between items rather than a token bucket.
package ratelimit

import (
	"math/rand"
	"time"
)

// Pacer imposes a pause between consecutive operations.
type Pacer interface {
	// Pause blocks for one pacing interval. It is not cancellable; the
	// interval is short and the process may simply be killed.
	Pause()
}

// JitteredPacer sleeps a uniformly random duration within [Min, Max].
type JitteredPacer struct {
	Min time.Duration
	Max time.Duration

	// sleep is swappable for tests
	sleep func(time.Duration)
}

// NewJitteredPacer creates a pacer over the given delay range.
func NewJitteredPacer(min, max time.Duration) *JitteredPacer {
	if max < min {
		max = min
	}
	return &JitteredPacer{Min: min, Max: max, sleep: time.Sleep}
}

// Pause blocks for a random duration within the configured range.
func (p *JitteredPacer) Pause() {
	p.sleep(p.NextDelay())
}

// NextDelay returns one sampled pacing interval.
func (p *JitteredPacer) NextDelay() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + time.Duration(rand.Int63n(int64(p.Max-p.Min)))
}

// NopPacer skips pacing entirely, for tests.
type NopPacer struct{}

// Pause does nothing.
func (NopPacer) Pause() {}
