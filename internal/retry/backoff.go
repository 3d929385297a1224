// Package retry computes the delay between attempts of a task.
package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/vk/medallion/internal/model"
)

// jitterFraction bounds jitter to +/-10% of the computed delay.
const jitterFraction = 0.1

// Backoff returns the delay before attempt number attempt+1, given that
// attempt attempts (1-based) have already failed:
//
//	InitialBackoff * Multiplier^(attempt-1), capped at MaxBackoff.
//
// With Jitter set, the delay is spread by up to 10% in either direction.
func Backoff(p model.RetryPolicy, attempt int) time.Duration {
	return backoff(p, attempt, rand.Float64)
}

func backoff(p model.RetryPolicy, attempt int, random func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if p.MaxBackoff > 0 && delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	if p.Jitter {
		delay += delay * jitterFraction * (2*random() - 1)
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// Exhausted reports whether a task that has used attempts attempts may not run again.
func Exhausted(p model.RetryPolicy, attempts int) bool {
	return attempts >= p.MaxAttempts
}
