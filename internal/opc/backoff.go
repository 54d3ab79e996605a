package opc

import (
	"math/rand"
	"time"
)

// ReconnectPolicy controls the retry schedule after transport loss.
// The zero value means: base 1s, cap 30s, jitter ±20%, unbounded attempts.
type ReconnectPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	Jitter      float64
	MaxAttempts int
}

func (p ReconnectPolicy) normalized() ReconnectPolicy {
	q := p
	if q.Base <= 0 {
		q.Base = time.Second
	}
	if q.Cap <= 0 {
		q.Cap = 30 * time.Second
	}
	if q.Cap < q.Base {
		q.Cap = q.Base
	}
	if q.Jitter <= 0 || q.Jitter > 1 {
		q.Jitter = 0.2
	}
	return q
}

// backoff returns the delay before the given attempt (1-based): exponential
// from Base, capped at Cap, with symmetric jitter.
func (p ReconnectPolicy) backoff(attempt int) time.Duration {
	q := p.normalized()
	d := q.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.Cap {
			d = q.Cap
			break
		}
	}
	spread := float64(d) * q.Jitter
	delta := (rand.Float64()*2 - 1) * spread // #nosec G404 non-crypto
	return time.Duration(float64(d) + delta)
}
