package model

import "errors"

// Sentinel errors for the pipeline's failure taxonomy. Callers match them
// with errors.Is; packages wrap them with eris for context and stack traces.
var (
	// ErrValidation marks a malformed extracted variant, rejected at ingestion.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a referenced session or listing id that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks an illegal change-proposal status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)
