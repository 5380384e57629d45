package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_GrowsAndStaysBounded(t *testing.T) {
	base := 500 * time.Millisecond
	max := 30 * time.Second

	for attempt := 0; attempt < 20; attempt++ {
		// Jitter is random; sample a few times per attempt.
		for i := 0; i < 10; i++ {
			d := backoffDelay(attempt, base, max)
			assert.GreaterOrEqual(t, d, base, "attempt %d below base", attempt)
			assert.LessOrEqual(t, d, max+max/2, "attempt %d above cap with jitter", attempt)
		}
	}
}

func TestBackoffDelay_FirstAttemptNearBase(t *testing.T) {
	base := time.Second
	for i := 0; i < 10; i++ {
		d := backoffDelay(0, base, 30*time.Second)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/2, "first delay is base plus at most half of base in jitter")
	}
}

func TestBackoffDelay_ZeroConfigUsesDefaults(t *testing.T) {
	d := backoffDelay(0, 0, 0)
	assert.GreaterOrEqual(t, d, defaultBackoffBase)
	assert.LessOrEqual(t, d, defaultBackoffMax+defaultBackoffMax/2)
}
