package recovery

import (
	"time"
)

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay before the given attempt (1-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if we should retry after the given number of consecutive failures.
	ShouldRetry(attempt int) bool
}

// FixedInterval retries at a constant interval up to MaxAttempts consecutive failures.
type FixedInterval struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultStrategy returns 5 attempts spaced 5s apart.
func DefaultStrategy() *FixedInterval {
	return &FixedInterval{
		Interval:    5 * time.Second,
		MaxAttempts: 5,
	}
}

// GetDelay returns the fixed interval regardless of attempt.
func (s *FixedInterval) GetDelay(int) time.Duration {
	return s.Interval
}

// ShouldRetry reports whether fewer than MaxAttempts failures happened in a row.
// A non-positive MaxAttempts halts on the first failure.
func (s *FixedInterval) ShouldRetry(attempt int) bool {
	return attempt < s.MaxAttempts
}
