// Package chunkuploader splits a payload into fixed-size chunks and drives their submission
// to a size-capped remote endpoint with bounded concurrency, a throughput ceiling,
// per-chunk retries and resumable progress.
package chunkuploader

import (
	"context"
	"fmt"
	"time"
)

// Chunk is a contiguous byte range of the payload. Index is its stable identity
// across runs over the same payload and chunk size.
type Chunk struct {
	Index  uint32
	Offset int64
	Length int64
}

// ChunkProvider provides the payload bytes for upload.
// Implementations can read from files or memory buffers.
type ChunkProvider interface {
	// Size returns the total payload size in bytes.
	Size() int64

	// ReadRange returns the bytes in [offset, offset+length). It is called once per attempt,
	// possibly from several goroutines at once. Failures should be reported as *IOError.
	ReadRange(offset, length int64) ([]byte, error)
}

// Submitter delivers a single chunk to the remote side.
// A nil error means the remote side accepted the chunk. Failures should be wrapped with
// NewTransientError or NewPermanentError; unclassified errors are retried.
//
// Submit must return promptly once ctx is done. Timeouts, hung detection and fail-fast aborts
// cancel ctx and then wait for Submit to return, so a run cannot end before its in-flight calls do.
// An implementation that cannot stop a call it already sent may block until the call completes
// and report its real outcome; a nil error is then recorded as accepted.
type Submitter interface {
	Submit(ctx context.Context, index uint32, data []byte) error
}

// RemoteLister is implemented by submitters that can report which chunks the remote side
// already holds.
type RemoteLister interface {
	ListChunks(ctx context.Context) ([]uint32, error)
}

// ResumeStore persists the indices of accepted chunks under a key.
// MarkComplete must be idempotent and safe for concurrent use.
type ResumeStore interface {
	Load(ctx context.Context, key string) ([]uint32, error)
	MarkComplete(ctx context.Context, key string, index uint32) error
	Reset(ctx context.Context, key string) error
}

// ChunkState is the lifecycle state of a single chunk within a run.
type ChunkState int

const (
	StatePending ChunkState = iota
	StateInFlight
	StateSucceeded
	StateFailed
)

func (s ChunkState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in-flight"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ChunkState(%d)", int(s))
	}
}

// ChunkOutcome is the current outcome of a chunk. Attempts counts submit attempts made in this run;
// chunks skipped because of the resume record are Succeeded with zero attempts.
type ChunkOutcome struct {
	State     ChunkState
	Attempts  int
	Err       error
	Exhausted bool
}

// Job describes one upload invocation.
type Job struct {
	// Key identifies the resume record of this upload target.
	Key string

	// Provider supplies the payload bytes.
	Provider ChunkProvider

	// Offset is the byte offset at which chunking starts. Chunk 0 begins here.
	Offset int64

	// ChunkOffset skips every chunk below this index without recording it.
	ChunkOffset uint32

	// Only, when not empty, restricts the run to these indices; all other chunks are
	// assumed to be accepted already.
	Only []uint32
}

// JobStatus is the terminal status of a run.
type JobStatus int

const (
	// StatusSucceeded means every chunk is Succeeded.
	StatusSucceeded JobStatus = iota
	// StatusFailed means the run drained and at least one chunk failed.
	StatusFailed
	// StatusAborted means a terminal failure stopped a fail-fast run, or a fatal error occurred.
	StatusAborted
	// StatusCancelled means the caller cancelled the run.
	StatusCancelled
	// StatusRunning is only reported in intermediate snapshots.
	StatusRunning
)

func (s JobStatus) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	case StatusCancelled:
		return "cancelled"
	case StatusRunning:
		return "running"
	default:
		return fmt.Sprintf("JobStatus(%d)", int(s))
	}
}

// ChunkFailure is a chunk that reached a terminal failure.
type ChunkFailure struct {
	Index    uint32
	Attempts int
	Err      error
}

// UploadResult represents the result of uploading all chunks.
type UploadResult struct {
	Status JobStatus

	// Total is the number of chunks of the payload.
	Total int
	// Skipped chunks were already accepted (resume record, remote listing, chunk offset or Only filter).
	Skipped int
	// Uploaded chunks were accepted during this run.
	Uploaded int
	// Failed chunks reached a terminal failure, ordered by index.
	Failed []ChunkFailure
	// Unfinished chunks never reached a terminal state because the run was cancelled or aborted.
	Unfinished []uint32

	// Outcomes holds the final outcome of every chunk, indexed by chunk index.
	Outcomes []ChunkOutcome

	BytesSent            int64
	Duration             time.Duration
	AverageChunkDuration time.Duration
}

// Succeeded returns the number of chunks that are accepted, including skipped ones.
func (r *UploadResult) Succeeded() int {
	return r.Skipped + r.Uploaded
}

// FailedIndices returns the indices of terminally failed chunks.
func (r *UploadResult) FailedIndices() []uint32 {
	indices := make([]uint32, 0, len(r.Failed))
	for _, f := range r.Failed {
		indices = append(indices, f.Index)
	}
	return indices
}

// Rate returns the average throughput of the run in bytes per second.
func (r *UploadResult) Rate() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.BytesSent) / r.Duration.Seconds()
}
