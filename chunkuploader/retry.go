package chunkuploader

import "time"

// RetryPolicy decides whether a failed attempt is retried and how long to wait before it.
// The delay before attempt k+1 is BaseDelay*2^(k-1), capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryDecision is the result of RetryPolicy.Decide.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

// Decide returns the decision after attempt (1-based) failed with err.
// Permanent errors and exhausted attempts are not retried.
func (p RetryPolicy) Decide(attempt int, err error) RetryDecision {
	if err == nil || IsPermanent(err) || attempt >= p.MaxAttempts {
		return RetryDecision{}
	}
	return RetryDecision{Retry: true, Delay: p.Backoff(attempt)}
}

// Backoff returns the delay after the given failed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		next := delay * 2
		if next < delay {
			// overflow
			if p.MaxDelay > 0 {
				return p.MaxDelay
			}
			return delay
		}
		delay = next
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
