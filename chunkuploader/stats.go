package chunkuploader

import (
	"sync"
	"time"
)

// Stats accumulates the durations of accepted submissions of the current run. The running
// average feeds hung detection.
type Stats struct {
	mu       sync.Mutex
	accepted int64
	busy     time.Duration
}

// NewStats ...
func NewStats() *Stats {
	return &Stats{}
}

// Record adds an accepted submission that took d.
func (s *Stats) Record(d time.Duration) {
	s.mu.Lock()
	s.accepted++
	s.busy += d
	s.mu.Unlock()
}

// Average is the mean duration of an accepted submission, or 0 before the first one.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accepted == 0 {
		return 0
	}
	return s.busy / time.Duration(s.accepted)
}

// Accepted returns the number of accepted submissions.
func (s *Stats) Accepted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *Stats) reset() {
	s.mu.Lock()
	s.accepted, s.busy = 0, 0
	s.mu.Unlock()
}
