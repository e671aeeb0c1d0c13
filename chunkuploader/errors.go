package chunkuploader

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed chunk submission.
type ErrorKind int

const (
	// Transient failures (network blips, remote overload, timeouts) are retried with backoff.
	Transient ErrorKind = iota
	// Permanent failures (rejected call shape, authentication) end the chunk immediately.
	Permanent
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// SubmitError is returned by Submitter implementations to classify a failed call.
// Errors that are not a SubmitError are treated as Transient.
type SubmitError struct {
	Kind ErrorKind
	Err  error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("%s submit error: %s", e.Kind, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a retryable submit failure.
func NewTransientError(err error) error {
	return &SubmitError{Kind: Transient, Err: err}
}

// NewPermanentError wraps err as a non-retryable submit failure.
func NewPermanentError(err error) error {
	return &SubmitError{Kind: Permanent, Err: err}
}

// IsPermanent reports whether err carries a Permanent SubmitError.
func IsPermanent(err error) bool {
	var submitErr *SubmitError
	if errors.As(err, &submitErr) {
		return submitErr.Kind == Permanent
	}
	return false
}

// ConfigurationError is returned before any submission when the upload cannot start
// with the given settings.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func newConfigurationError(field, format string, v ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, v...)}
}

// IOError is returned when a byte range of the payload cannot be read. It is fatal for the run.
type IOError struct {
	Offset int64
	Length int64
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read range [%d, %d): %s", e.Offset, e.Offset+e.Length, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

var (
	// ErrChunksFailed is returned when the run drained but some chunks reached a terminal failure.
	ErrChunksFailed = errors.New("one or more chunks failed")

	// ErrAborted is returned when a terminal chunk failure stopped a fail-fast run.
	ErrAborted = errors.New("upload aborted")

	errHung = errors.New("submission hung")
)
