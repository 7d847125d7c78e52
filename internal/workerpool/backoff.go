package workerpool

import (
	"math/rand"
	"time"
)

// Backoff computes the exponential-with-jitter delay for retry attempt
// (0-indexed), starting at 1s, doubling, capped at 30s, with ±20%
// jitter — the schedule shared by the Worker Pool and the Upstream
// Client.
func Backoff(attempt int) time.Duration {
	base := time.Second
	maxDelay := 30 * time.Second

	delay := base << attempt // 2^attempt seconds
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}

	jitterFrac := 0.2
	jitter := float64(delay) * jitterFrac * (2*rand.Float64() - 1) // +/-20%
	d := time.Duration(float64(delay) + jitter)
	if d < 0 {
		d = 0
	}
	return d
}
