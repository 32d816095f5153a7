// Package retrypolicy holds the single exponential backoff policy used by
// every retrying component (SMS, email, dialer callbacks).
package retrypolicy

import "time"

// Backoff returns base * 2^attempt, capped at max. attempt counts completed
// attempts, so the first retry (attempt 0) waits exactly base.
func Backoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
