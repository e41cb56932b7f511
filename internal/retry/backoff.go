// Package retry drains the outbox of pending deliveries on a fixed period,
// backing off exponentially per event.
package retry

import "time"

// maxBackoffShift bounds the doubling so the delay cannot overflow.
const maxBackoffShift = 40

// Backoff returns the delay before attempt retryCount+1: initial * 2^retryCount.
func Backoff(initial time.Duration, retryCount int) time.Duration {
	if initial <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxBackoffShift {
		retryCount = maxBackoffShift
	}
	return initial << uint(retryCount)
}

// Eligible reports whether an event last attempted at lastAttempt with
// retryCount prior failures is due for another attempt at now.
func Eligible(now, lastAttempt time.Time, initial time.Duration, retryCount int) bool {
	return !now.Before(lastAttempt.Add(Backoff(initial, retryCount)))
}
