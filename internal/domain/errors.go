package domain

import "errors"

var (
	// ErrValidation marks caller input that was rejected before any processing.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a lookup for a batch, unit, or transaction that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks a unit state change that violates the
	// lifecycle state machine. It indicates a caller bug, never user input.
	ErrInvalidTransition = errors.New("invalid state transition")
)
