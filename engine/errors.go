package engine

import "errors"

// Error taxonomy surfaced to the application layer. Lifecycle operations wrap
// these with context; callers match with errors.Is.
var (
	// ErrInvalidState is returned for transitions not allowed from the
	// current status, e.g. activating a sequence with no steps.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict is returned when a lead already has an active enrollment
	// in the sequence.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned for missing sequences, steps, enrollments,
	// leads or templates.
	ErrNotFound = errors.New("not found")
)
