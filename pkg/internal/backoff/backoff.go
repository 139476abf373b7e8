// Package backoff computes exponentially growing retry delays.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Backoff doubles a delay on every call to Next, up to a maximum.
//
// It is not safe for concurrent use.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter spreads each delay uniformly over (0, delay].
	Jitter bool

	current time.Duration
}

// New returns a jittered Backoff starting at initial and capped at max.
func New(initial, max time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: max, Jitter: true}
}

// Next returns the delay to wait before the next retry.
func (b *Backoff) Next() time.Duration {
	if b.current <= 0 {
		b.current = b.Initial
	} else {
		b.current = min(b.current*2, b.Max)
	}
	if b.Max > 0 && b.current > b.Max {
		b.current = b.Max
	}
	if b.current <= 0 {
		return 0
	}

	// Full jitter
	if b.Jitter {
		return b.current - rand.N(b.current)
	}
	return b.current
}

// Reset starts the sequence over.
func (b *Backoff) Reset() {
	b.current = 0
}
