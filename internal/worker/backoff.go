package worker

import "time"

// backoff returns the retry delay after the given number of failed attempts.
// The ladder is steep on purpose: transient fetch errors clear quickly, while
// repeatedly failing extractions get out of the way of fresh items.
func backoff(attempts int) time.Duration {
	switch {
	case attempts <= 1:
		return 30 * time.Second
	case attempts == 2:
		return 120 * time.Second
	default:
		return 600 * time.Second
	}
}
