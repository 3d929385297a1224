// Package failure defines the error taxonomy shared by the engine, the
// coordinator and the external collaborators.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Class is the coarse category an error falls into.
type Class string

const (
	ClassNone        Class = ""
	ClassTransient   Class = "transient"
	ClassPermanent   Class = "permanent"
	ClassQuality     Class = "quality"
	ClassDefinition  Class = "definition"
	ClassConcurrency Class = "concurrency"
)

// TransientError is a retryable collaborator failure (network, throttling, timeout).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a non-retryable collaborator failure (schema mismatch, auth).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// QualityThresholdError reports that data, not execution, failed.
type QualityThresholdError struct {
	TaskID      string
	FailedRules []string
}

func (e *QualityThresholdError) Error() string {
	return fmt.Sprintf("quality thresholds not met for %s: %v", e.TaskID, e.FailedRules)
}

// DefinitionError rejects a pipeline definition at load time.
type DefinitionError struct {
	Pipeline string
	Err      error
}

func (e *DefinitionError) Error() string {
	if e.Pipeline == "" {
		return "invalid pipeline definition: " + e.Err.Error()
	}
	return fmt.Sprintf("invalid pipeline definition %q: %v", e.Pipeline, e.Err)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// ConcurrencyConflictError is returned when a partition is already in flight
// or a watermark moved underneath a compare-and-swap.
type ConcurrencyConflictError struct {
	Pipeline  string
	Partition string
	RunID     string
	Reason    string
}

func (e *ConcurrencyConflictError) Error() string {
	msg := fmt.Sprintf("concurrency conflict on %s/%s: %s", e.Pipeline, e.Partition, e.Reason)
	if e.RunID != "" {
		msg += " (run " + e.RunID + ")"
	}
	return msg
}

// Transient wraps err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Transientf formats a new transient error.
func Transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// Permanentf formats a new permanent error.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// Classify maps err onto the taxonomy. Explicitly typed errors win; deadline
// expiry is a transient timeout; cancellation is permanent; anything else
// unrecognised is treated as transient and left to the retry bound.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var (
		transient   *TransientError
		permanent   *PermanentError
		quality     *QualityThresholdError
		definition  *DefinitionError
		concurrency *ConcurrencyConflictError
	)
	switch {
	case errors.As(err, &permanent):
		return ClassPermanent
	case errors.As(err, &transient):
		return ClassTransient
	case errors.As(err, &quality):
		return ClassQuality
	case errors.As(err, &definition):
		return ClassDefinition
	case errors.As(err, &concurrency):
		return ClassConcurrency
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.Is(err, context.Canceled):
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// IsRetryable reports whether err may be retried under a retry policy.
func IsRetryable(err error) bool {
	return Classify(err) == ClassTransient
}
