package notification

import (
	"time"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/backoff"
)

// RetryDelay is the delay before delivery attempt number attempts+1,
// bounded by maxDelay.
func RetryDelay(base, maxDelay time.Duration, attempts int) time.Duration {
	d := backoff.Exponential(base, attempts)
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	// Half fixed, half jitter: never retry immediately.
	return d/2 + backoff.FullJitter(d/2)
}
