package model

import "errors"

// Domain error kinds. Callers match with errors.Is; the wrapped message says which check failed.
var (
	ErrInvalidTime       = errors.New("invalid time")
	ErrDoctorUnavailable = errors.New("doctor unavailable")
	ErrSlotConflict      = errors.New("slot conflict")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")

	// ErrInvalidInput covers malformed requests that never reach a scheduling check.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden is returned when the caller's role may not fire a transition.
	ErrForbidden = errors.New("forbidden")
)
