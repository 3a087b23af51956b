package domain

import "errors"

// Sentinel errors shared by every service. Callers wrap them with
// fmt.Errorf("%w: ...") to add a user-facing message; the HTTP layer
// classifies with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidFile       = errors.New("invalid file")
)
