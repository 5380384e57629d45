package client

import (
	"math/rand"
	"time"
)

// backoffDelay returns the delay before reconnect attempt n (0-based):
// base doubled per attempt, capped at max, with up to 50% random jitter
// added so a fleet of clients does not reconnect in lockstep.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if max <= 0 {
		max = defaultBackoffMax
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	d += jitter
	if d > max+max/2 {
		d = max + max/2
	}
	return d
}
