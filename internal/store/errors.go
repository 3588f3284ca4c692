package store

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
)

// ConflictError reports a scheduling conflict together with the existing
// window the candidate collided with, for caller display. It unwraps to
// ErrConflict so errors.Is(err, ErrConflict) holds.
type ConflictError struct {
	TechnicianID  string
	ConflictStart time.Time
	ConflictEnd   time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"technician %s already has an appointment from %s to %s",
		e.TechnicianID,
		e.ConflictStart.Format(time.RFC3339),
		e.ConflictEnd.Format(time.RFC3339),
	)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}
