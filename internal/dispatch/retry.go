package dispatch

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes delays for anti-greylisting rechecks. Greylisting servers
// want the sender to come back later; retrying too fast reads as abuse.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay: 30 * time.Second,
		MaxDelay:  10 * time.Minute,
		Factor:    2.0,
		Jitter:    0.1,
	}
}

// NextDelay returns the wait before recheck attempt n (0-based).
func (b Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.BaseDelay) * math.Pow(b.Factor, float64(attempt))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay += (rand.Float64() * 2 * jitterRange) - jitterRange
	}

	if delay < float64(time.Second) {
		delay = float64(time.Second)
	}
	return time.Duration(delay)
}
