package opc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsExponentiallyWithinJitter(t *testing.T) {
	t.Parallel()
	p := ReconnectPolicy{Base: time.Second, Cap: 30 * time.Second, Jitter: 0.2}

	for attempt, want := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
	} {
		d := p.backoff(attempt)
		lo := time.Duration(float64(want) * 0.8)
		hi := time.Duration(float64(want) * 1.2)
		assert.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
		assert.LessOrEqual(t, d, hi, "attempt %d", attempt)
	}
}

func TestBackoffRespectsCap(t *testing.T) {
	t.Parallel()
	p := ReconnectPolicy{Base: time.Second, Cap: 5 * time.Second, Jitter: 0.2}

	for i := 0; i < 50; i++ {
		d := p.backoff(20)
		assert.LessOrEqual(t, d, time.Duration(float64(5*time.Second)*1.2))
	}
}

func TestBackoffZeroValueDefaults(t *testing.T) {
	t.Parallel()
	var p ReconnectPolicy
	q := p.normalized()

	assert.Equal(t, time.Second, q.Base)
	assert.Equal(t, 30*time.Second, q.Cap)
	assert.InDelta(t, 0.2, q.Jitter, 1e-9)
	assert.Zero(t, q.MaxAttempts)
}
