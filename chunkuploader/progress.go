package chunkuploader

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	Total     int
	Completed int
	InFlight  int
	Failed    int
	Remaining int

	TotalBytes     int64
	CompletedBytes int64
	RemainingBytes int64

	// Rate is the throughput of accepted bytes over the trailing window, in bytes per second.
	Rate float64
	// ETA is the estimated time left. It is only meaningful when HasETA is set.
	ETA    time.Duration
	HasETA bool

	Elapsed time.Duration

	// Index and State describe the transition that produced the snapshot.
	Index uint32
	State ChunkState

	// Final is set on the last snapshot of a run, which is always delivered.
	Final  bool
	Status JobStatus
}

// Percent returns the share of accepted bytes in the range [0, 100].
func (s Snapshot) Percent() float64 {
	if s.TotalBytes == 0 {
		if s.Total == 0 {
			return 100
		}
		return float64(s.Completed) * 100 / float64(s.Total)
	}
	return float64(s.CompletedBytes) * 100 / float64(s.TotalBytes)
}

type rateSample struct {
	at    time.Time
	bytes int64
}

// Tracker derives progress snapshots from chunk transitions. It keeps its own counters and
// never touches the outcomes owned by the scheduler.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time
	window  time.Duration
	start   time.Time
	lengths []int64
	states  []ChunkState
	samples []rateSample

	completed, inFlight, failed int
	totalBytes                  int64
	completedBytes              int64
	failedBytes                 int64
}

// NewTracker creates a tracker for chunks, with the chunks in skipped already counted as completed.
func NewTracker(chunks []Chunk, skipped map[uint32]bool, window time.Duration) *Tracker {
	return newTracker(chunks, skipped, window, time.Now)
}

func newTracker(chunks []Chunk, skipped map[uint32]bool, window time.Duration, now func() time.Time) *Tracker {
	t := &Tracker{
		now:     now,
		window:  window,
		start:   now(),
		lengths: make([]int64, len(chunks)),
		states:  make([]ChunkState, len(chunks)),
	}
	for i, c := range chunks {
		t.lengths[i] = c.Length
		t.totalBytes += c.Length
		if skipped[c.Index] {
			t.states[i] = StateSucceeded
			t.completed++
			t.completedBytes += c.Length
		}
	}
	return t
}

// Record applies a chunk transition and returns the resulting snapshot.
func (t *Tracker) Record(index uint32, state ChunkState) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if int(index) < len(t.states) {
		t.apply(int(index), state, now)
	}
	s := t.snapshotLocked(now)
	s.Index = index
	s.State = state
	s.Status = StatusRunning
	return s
}

// Snapshot returns the current view without recording a transition.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.snapshotLocked(t.now())
	s.Status = StatusRunning
	return s
}

// Finish returns the final snapshot of the run.
func (t *Tracker) Finish(status JobStatus) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.snapshotLocked(t.now())
	s.Final = true
	s.Status = status
	if status != StatusSucceeded {
		s.HasETA = false
		s.ETA = 0
	}
	return s
}

func (t *Tracker) apply(i int, state ChunkState, now time.Time) {
	prev := t.states[i]
	if prev == state {
		return
	}

	switch prev {
	case StateInFlight:
		t.inFlight--
	case StateSucceeded:
		t.completed--
		t.completedBytes -= t.lengths[i]
	case StateFailed:
		t.failed--
		t.failedBytes -= t.lengths[i]
	}

	switch state {
	case StateInFlight:
		t.inFlight++
	case StateSucceeded:
		t.completed++
		t.completedBytes += t.lengths[i]
		t.samples = append(t.samples, rateSample{at: now, bytes: t.lengths[i]})
	case StateFailed:
		t.failed++
		t.failedBytes += t.lengths[i]
	}
	t.states[i] = state
}

func (t *Tracker) snapshotLocked(now time.Time) Snapshot {
	total := len(t.states)
	s := Snapshot{
		Total:          total,
		Completed:      t.completed,
		InFlight:       t.inFlight,
		Failed:         t.failed,
		Remaining:      total - t.completed - t.failed,
		TotalBytes:     t.totalBytes,
		CompletedBytes: t.completedBytes,
		RemainingBytes: t.totalBytes - t.completedBytes - t.failedBytes,
		Elapsed:        now.Sub(t.start),
	}

	s.Rate = t.rateLocked(now)
	if s.RemainingBytes == 0 {
		s.HasETA = true
	} else if s.Rate > 0 {
		s.ETA = time.Duration(float64(s.RemainingBytes) / s.Rate * float64(time.Second))
		s.HasETA = true
	}
	return s
}

func (t *Tracker) rateLocked(now time.Time) float64 {
	cutoff := now.Add(-t.window)
	keep := 0
	for keep < len(t.samples) && t.samples[keep].at.Before(cutoff) {
		keep++
	}
	t.samples = t.samples[keep:]

	span := t.window
	if elapsed := now.Sub(t.start); elapsed < span {
		span = elapsed
	}
	if span <= 0 || len(t.samples) == 0 {
		return 0
	}

	var bytes int64
	for _, sample := range t.samples {
		bytes += sample.bytes
	}
	return float64(bytes) / span.Seconds()
}
