package processor

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: exponential doubling from Base, capped
// at Cap, with up to 50% random jitter so redelivered events do not
// hammer a recovering dependency in lockstep.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff is the retry policy used unless config overrides it.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        250 * time.Millisecond,
		Cap:         30 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before retry number attempt (1-based, the wait
// after the attempt-th failure).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if d > b.Cap {
		d = b.Cap
	}
	// Jitter in [d/2, d].
	half := d / 2
	return half + rand.N(half+1)
}
