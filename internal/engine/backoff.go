package engine

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: base * 2^(attempt-1) plus up to 50% jitter,
// capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter returns a random duration in [0, d). Nil means no jitter.
	Jitter func(d time.Duration) time.Duration
}

func NewBackoff(base, max time.Duration) Backoff {
	return Backoff{Base: base, Max: max, Jitter: randomJitter}
}

func randomJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return rand.N(d)
}

// Delay returns how long to wait after the given (1-based) failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}

	if b.Jitter != nil {
		delay += b.Jitter(delay / 2)
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// Next returns the instant after which the entry becomes eligible again.
func (b Backoff) Next(now time.Time, attempt int) time.Time {
	return now.Add(b.Delay(attempt))
}
