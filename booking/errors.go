package booking

import (
	"errors"
	"fmt"

	"github.com/studiofit/session-engine/credit"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSlotUnavailable is returned when the session is not an open
	// available slot (already claimed, wrong status, or lost race).
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrNotOwned is returned when a client tries to cancel a session that
	// belongs to someone else.
	ErrNotOwned = errors.New("session not owned by client")

	// ErrConsistency marks a failed compensation: a multi-step operation
	// failed AND the compensating action failed too. Requires manual
	// reconciliation; never retried automatically.
	ErrConsistency = errors.New("consistency repair failed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConsistencyError carries both the original failure and the failed
// compensation. It is logged at the highest severity before being returned.
type ConsistencyError struct {
	Op              string
	SessionID       credit.SessionID
	ClientID        credit.ClientID
	Cause           error
	CompensationErr error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s failed for session %s and compensation failed: %v (original: %v)",
		e.Op, e.SessionID, e.CompensationErr, e.Cause)
}

func (e *ConsistencyError) Unwrap() error {
	return ErrConsistency
}

// IsClientError returns true for ordinary validation failures that are shown
// inline to users, as opposed to operational faults.
func IsClientError(err error) bool {
	return errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrNotOwned) ||
		credit.IsClientError(err)
}
