package chunkuploader

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Second, policy.Backoff(1))
	assert.Equal(t, 2*time.Second, policy.Backoff(2))
	assert.Equal(t, 4*time.Second, policy.Backoff(3))
	assert.Equal(t, 5*time.Second, policy.Backoff(4))
	assert.Equal(t, 5*time.Second, policy.Backoff(60))

	uncapped := RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, 400*time.Millisecond, uncapped.Backoff(3))
}

func TestRetryPolicy_Decide(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
	transient := NewTransientError(errors.New("replica overloaded"))

	assert.Equal(t, RetryDecision{Retry: true, Delay: time.Second}, policy.Decide(1, transient))
	assert.Equal(t, RetryDecision{Retry: true, Delay: 2 * time.Second}, policy.Decide(2, transient))
	assert.False(t, policy.Decide(3, transient).Retry, "attempts exhausted")

	assert.False(t, policy.Decide(1, NewPermanentError(errors.New("invalid argument"))).Retry)
	assert.True(t, policy.Decide(1, errors.New("connection reset")).Retry, "unknown errors are transient")
	assert.False(t, policy.Decide(1, nil).Retry)
}
