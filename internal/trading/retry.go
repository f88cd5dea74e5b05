package trading

import "time"

// RetryPolicy bounds the control loop's failure path: after MaxAttempts
// consecutive failed cycles the loop gives up for good. Backoff maps the
// consecutive-failure count (1-based) to a sleep.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// LinearBackoff sleeps attempt × step: 30s, 60s, 90s, ...
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// NoBackoff returns immediately; used in tests.
func NoBackoff() func(int) time.Duration {
	return func(int) time.Duration { return 0 }
}
