package chunkuploader

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket shared by every worker of a run. One token is one byte.
// Its capacity is one chunk, so the long-run throughput never exceeds the target rate
// by more than a single chunk's worth of burst.
type RateLimiter struct {
	limiter  *rate.Limiter
	capacity int
}

// NewRateLimiter creates a limiter that refills bytesPerSecond tokens per second up to capacity.
// A non-positive bytesPerSecond disables limiting.
func NewRateLimiter(bytesPerSecond float64, capacity int) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	limit := rate.Inf
	if bytesPerSecond > 0 {
		limit = rate.Limit(bytesPerSecond)
	}
	return &RateLimiter{
		limiter:  rate.NewLimiter(limit, capacity),
		capacity: capacity,
	}
}

// Wait blocks until n bytes worth of tokens are available or ctx is done.
// Requests larger than the capacity are taken in capacity-sized steps.
func (l *RateLimiter) Wait(ctx context.Context, n int) error {
	for n > 0 {
		step := n
		if step > l.capacity {
			step = l.capacity
		}
		if err := l.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// reserve takes n tokens at now and returns how long the caller has to wait before using them.
func (l *RateLimiter) reserve(now time.Time, n int) (time.Duration, bool) {
	r := l.limiter.ReserveN(now, n)
	if !r.OK() {
		return 0, false
	}
	return r.DelayFrom(now), true
}
