package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job, session, experience or project does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a job is not in the state a transition expects
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Conflict reasons
const (
	ReasonAlreadyInProgress = "already_in_progress"
	ReasonAlreadySubmitted  = "already_submitted"
	ReasonNotCancellable    = "not_cancellable"
)

// ValidationError is rejected input, surfaced synchronously before anything is persisted
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ConflictError is a request that collides with existing state
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// IsConflict reports whether err is a ConflictError with the given reason.
// An empty reason matches any conflict.
func IsConflict(err error, reason string) bool {
	var conflictErr *ConflictError
	if !errors.As(err, &conflictErr) {
		return false
	}
	return reason == "" || conflictErr.Reason == reason
}

// TransientExecutionError is a transform failure worth retrying
type TransientExecutionError struct {
	Err error
}

func (e *TransientExecutionError) Error() string {
	return "transient execution error: " + e.Err.Error()
}

func (e *TransientExecutionError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable
func NewTransientError(err error) error {
	return &TransientExecutionError{Err: err}
}

// FatalExecutionError is a transform failure that must not be retried
type FatalExecutionError struct {
	Err error
}

func (e *FatalExecutionError) Error() string {
	return "fatal execution error: " + e.Err.Error()
}

func (e *FatalExecutionError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps err as terminal
func NewFatalError(err error) error {
	return &FatalExecutionError{Err: err}
}

// IsTransient reports whether an execution error may succeed on another attempt.
// Deadline overruns count as transient; explicit fatal errors never do.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fatalErr *FatalExecutionError
	if errors.As(err, &fatalErr) {
		return false
	}
	var transientErr *TransientExecutionError
	if errors.As(err, &transientErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// SideEffectError is a failed export or notification dispatch. It is logged where it
// happens and never changes a job's outcome.
type SideEffectError struct {
	Op  string
	Err error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("side effect %s failed: %v", e.Op, e.Err)
}

func (e *SideEffectError) Unwrap() error {
	return e.Err
}
