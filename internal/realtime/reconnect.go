package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// reconnectPolicy yields min(max, base * 2^n) for the nth reconnect.
type reconnectPolicy struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int
}

func (p reconnectPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * p.base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.max
	b.Reset()
	return b
}

// delay returns the wait before reconnect n (1-based).
func (p reconnectPolicy) delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	b := p.newBackOff()
	var d time.Duration
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// exhausted reports whether attempts already made reach the cap.
func (p reconnectPolicy) exhausted(attempts int) bool {
	return attempts >= p.maxAttempts
}
