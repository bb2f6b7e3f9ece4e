package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for Store operations, mirroring the teacher's
// taskstore.ErrNotFound/ErrValidation idiom.
var (
	// ErrNotFound is returned when an entity with the given ID does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrValidation is returned when an entity fails validation.
	ErrValidation = errors.New("entity validation failed")

	// ErrInvalidTransition is returned when a status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// NotFoundError wraps ErrNotFound with the entity kind and ID that was not found.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransitionError wraps ErrInvalidTransition with the attempted edge.
type TransitionError struct {
	TaskID   int64
	From, To TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %d: invalid transition %s -> %s", e.TaskID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError wraps ErrValidation with a human-readable reason.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }
