package session

import (
	"errors"
	"fmt"

	"github.com/studiofit/session-engine/credit"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced session doesn't exist.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStatusConflict is returned when a conditional update observed a
	// different status than the caller expected (lost race).
	ErrStatusConflict = errors.New("session status changed concurrently")

	// ErrDuplicateSession is returned when creating a session whose ID exists.
	ErrDuplicateSession = errors.New("session already exists")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidTransitionError carries the rejected edge.
type InvalidTransitionError struct {
	SessionID credit.SessionID
	From      Status
	To        Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for session %s: %s -> %s", e.SessionID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
