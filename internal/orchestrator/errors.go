package orchestrator

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidOutput marks stage output that failed schema validation.
	ErrInvalidOutput = errors.New("invalid stage output")

	// ErrUnavailable marks an inference capability that cannot serve the run at all.
	ErrUnavailable = errors.New("inference unavailable")

	// ErrCancelled is reported when a run is cancelled at a stage boundary.
	ErrCancelled = errors.New("run cancelled")

	// ErrAlreadyStarted is returned when an orchestrator is run twice.
	ErrAlreadyStarted = errors.New("orchestrator already started")
)

// FailureKind classifies a stage failure for the fallback policy.
type FailureKind string

const (
	// FailureTransient covers timeouts and invalid output; retried, then resolved by policy.
	FailureTransient FailureKind = "transient"

	// FailureUnavailable means the inference capability is unusable for the whole run.
	FailureUnavailable FailureKind = "unavailable"

	// FailureCancelled means the run was cancelled before the stage could start.
	FailureCancelled FailureKind = "cancelled"
)

// Retryable reports whether another attempt may succeed.
func (k FailureKind) Retryable() bool {
	return k == FailureTransient
}

// ClassifyError maps a stage error onto a FailureKind.
func ClassifyError(err error) FailureKind {
	switch {
	case errors.Is(err, ErrUnavailable):
		return FailureUnavailable
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return FailureCancelled
	default:
		return FailureTransient
	}
}

// StageError is a classified failure of one stage invocation.
type StageError struct {
	Stage    StageName
	Kind     FailureKind
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("stage %s failed after %d attempts (%s): %v", e.Stage, e.Attempts, e.Kind, e.Err)
	}
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// AbortError is returned by Orchestrator.Run when a run ends in StateAborted.
type AbortError struct {
	RunID string
	Stage StageName
	Err   error
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	return fmt.Sprintf("run %s aborted at %s: %v", e.RunID, e.Stage, e.Err)
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *AbortError) Unwrap() error {
	return e.Err
}
