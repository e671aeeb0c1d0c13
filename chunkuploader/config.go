package chunkuploader

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MiB is the unit of the CLI throughput option.
	MiB = 1024 * 1024

	// DefaultChunkSize fits a single ingress message of the remote endpoint.
	DefaultChunkSize int64 = 2 * 1000 * 1000

	// DefaultConcurrency is the number of parallel submissions when none is configured.
	DefaultConcurrency = 4

	// DefaultTargetRateMiBs is the default throughput ceiling in MiB/s.
	DefaultTargetRateMiBs = 4.0

	// DefaultMaxRetryPerChunk counts every attempt, including the first one.
	DefaultMaxRetryPerChunk = 3
)

// FailurePolicy controls how the run reacts to a chunk reaching a terminal failure.
type FailurePolicy int

const (
	// FailFast stops admitting work and cancels in-flight submissions on the first terminal failure.
	FailFast FailurePolicy = iota
	// Drain lets every other chunk reach a terminal state and reports all failures together.
	Drain
)

func (p FailurePolicy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case Drain:
		return "drain"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy parses "fail-fast" or "drain".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail-fast", "failfast":
		return FailFast, nil
	case "drain", "best-effort":
		return Drain, nil
	default:
		return FailFast, newConfigurationError("failure_policy", "unknown policy %q (valid: fail-fast, drain)", s)
	}
}

// Config holds configuration for the chunk uploader.
type Config struct {
	// Parallel enables the bounded-concurrency path. When false a single worker submits
	// chunks in ascending index order and the run is fail-fast.
	Parallel bool

	// Concurrency is the maximum number of chunks in flight at once.
	// Default: 4
	Concurrency int

	// ChunkSize is the size of every chunk except possibly the last one.
	// Default: 2,000,000 bytes
	ChunkSize int64

	// TargetRate is the aggregate throughput ceiling in bytes per second. Zero disables limiting.
	// Default: 4 MiB/s
	TargetRate float64

	// MaxRetryPerChunk is the maximum number of attempts per chunk.
	// Default: 3
	MaxRetryPerChunk int

	// RetryBaseDelay is the backoff before the second attempt; it doubles for each later attempt.
	// Default: 1 second
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff. Zero means uncapped.
	// Default: 30 seconds
	RetryMaxDelay time.Duration

	// ChunkTimeout bounds a single submit call. Zero disables the timeout.
	// Default: 2 minutes
	ChunkTimeout time.Duration

	// HungThreshold is the duration after which a submission is considered hung
	// if it exceeds the average submission time by this amount.
	// Default: 30 seconds
	HungThreshold time.Duration

	// FailurePolicy selects fail-fast or drain behaviour on terminal chunk failures.
	FailurePolicy FailurePolicy

	// AutoResume loads the persisted resume record and skips chunks it contains.
	AutoResume bool

	// VerifyRemote asks the submitter (when it implements RemoteLister) which chunks the
	// remote side already holds, and records them before the run starts.
	VerifyRemote bool

	// ProgressWindow is the trailing window used for the instantaneous rate.
	// Default: 10 seconds
	ProgressWindow time.Duration

	// OnProgress, when set, receives a snapshot after every chunk transition and a final one.
	// It is called from the coordinating goroutine and must not block for long.
	OnProgress func(Snapshot)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Parallel:         true,
		Concurrency:      DefaultConcurrency,
		ChunkSize:        DefaultChunkSize,
		TargetRate:       DefaultTargetRateMiBs * MiB,
		MaxRetryPerChunk: DefaultMaxRetryPerChunk,
		RetryBaseDelay:   time.Second,
		RetryMaxDelay:    30 * time.Second,
		ChunkTimeout:     2 * time.Minute,
		HungThreshold:    30 * time.Second,
		FailurePolicy:    FailFast,
		AutoResume:       true,
		ProgressWindow:   10 * time.Second,
	}
}

// Validate checks the configuration once, before the scheduler starts.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return newConfigurationError("chunk_size", "must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkSize > int64(maxInt) {
		return newConfigurationError("chunk_size", "%d does not fit in memory", c.ChunkSize)
	}
	if c.Parallel && c.Concurrency < 1 {
		return newConfigurationError("max_concurrent", "must be a positive integer, got %d", c.Concurrency)
	}
	if c.TargetRate < 0 {
		return newConfigurationError("target_rate", "must not be negative, got %f", c.TargetRate)
	}
	if c.MaxRetryPerChunk < 1 {
		return newConfigurationError("max_retries", "must be a positive integer, got %d", c.MaxRetryPerChunk)
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		return newConfigurationError("retry_delay", "must not be negative")
	}
	if c.ChunkTimeout < 0 || c.HungThreshold < 0 || c.ProgressWindow < 0 {
		return newConfigurationError("", "timeouts must not be negative")
	}
	if c.FailurePolicy != FailFast && c.FailurePolicy != Drain {
		return newConfigurationError("failure_policy", "unknown policy %d", int(c.FailurePolicy))
	}
	return nil
}

func (c Config) workers() int {
	if !c.Parallel {
		return 1
	}
	return c.Concurrency
}

func (c Config) failurePolicy() FailurePolicy {
	if !c.Parallel {
		return FailFast
	}
	return c.FailurePolicy
}

func (c Config) retryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.MaxRetryPerChunk,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
	}
}

func (c Config) progressWindow() time.Duration {
	if c.ProgressWindow <= 0 {
		return 10 * time.Second
	}
	return c.ProgressWindow
}

const maxInt = int(^uint(0) >> 1)
