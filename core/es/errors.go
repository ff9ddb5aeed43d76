package es

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict is returned when the expected version of an
	// append does not match the aggregate's current version. It is never
	// retried by the store; callers reload and resubmit.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrNotStarted is returned by every operation while the store is stopped.
	ErrNotStarted = errors.New("event store not started")
	// ErrInvalidArgument marks malformed input (empty aggregate id, empty batch, bad paging).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInternal wraps unexpected backend failures.
	ErrInternal = errors.New("internal error")
	// ErrNoEvents is returned when a batch contains no events.
	ErrNoEvents = fmt.Errorf("%w: no events to store", ErrInvalidArgument)
)

// ConflictError carries both sides of a failed optimistic concurrency check.
type ConflictError struct {
	AggregateID string
	Expected    Version
	Actual      Version
}

func NewConflictError(aggregateID string, expected, actual Version) *ConflictError {
	return &ConflictError{AggregateID: aggregateID, Expected: expected, Actual: actual}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"%s: expected version %d, got %d (aggregate_id=%s)",
		ErrConcurrencyConflict,
		e.Expected,
		e.Actual,
		e.AggregateID,
	)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrencyConflict }

// IsConflict reports whether err is a concurrency conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConcurrencyConflict) }

// internalErr classifies err: known taxonomy errors pass through,
// everything else is wrapped as ErrInternal.
func internalErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrNotStarted),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrInternal):
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
