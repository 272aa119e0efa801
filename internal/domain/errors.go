package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingActivity is returned when a type requires an activity and none was supplied.
	ErrMissingActivity = errors.New("an activity is required for this entity type")
	// ErrUnexpectedActivity is returned when an activity is supplied for a type without an activity model.
	ErrUnexpectedActivity = errors.New("entity type has no activity model; an activity cannot be supplied")
	ErrDuplicateTick      = errors.New("duplicate clock tick")
	ErrDuplicateActivity  = errors.New("activity already linked to a clock tick")
	// ErrConstraintViolation marks a breached history invariant such as overlapping
	// ranges or a second open interval. It always aborts the current save.
	ErrConstraintViolation = errors.New("temporal constraint violation")
	// ErrConcurrentModification is retryable: reload the entity and save again.
	ErrConcurrentModification = errors.New("entity was modified concurrently")
	ErrNotFound               = errors.New("not found")
	ErrUnsupportedOperation   = errors.New("operation is not supported on temporal entities")
	ErrInvalidDeclaration     = errors.New("invalid entity type declaration")
)

// StorageError wraps a driver error with the temporal error kind it maps to.
// Both remain reachable through errors.Is and errors.As.
type StorageError struct {
	Kind       error
	Constraint string
	Err        error
}

func (e *StorageError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%v (%s): %v", e.Kind, e.Constraint, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IsRetryable reports whether the whole save may be retried after reloading.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
