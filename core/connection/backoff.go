package connection

import "time"

// Backoff yields capped exponential delays: base, 2*base, 4*base ... max.
// It never gives up.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

// NewBackoff returns a Backoff starting at base and capped at max.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max < base {
		max = base
	}
	return &Backoff{Base: base, Max: max}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	d := b.Max
	if b.attempt < 32 {
		if s := b.Base << uint(b.attempt); s > 0 && s < b.Max {
			d = s
		}
	}
	b.attempt++
	return d
}

// Attempt is the number of delays handed out since the last Reset.
func (b *Backoff) Attempt() int { return b.attempt }

// Reset starts the sequence over.
func (b *Backoff) Reset() { b.attempt = 0 }
