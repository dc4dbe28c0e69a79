/*
store.go - Persistence interface for session records

PURPOSE:
  Defines how session records are created, read and transitioned. The store
  enforces the state machine: UpdateSession validates any status change with
  CanTransition and applies it conditionally on the caller's expected status,
  so the database (or the memory store's lock) is the final arbiter of who
  wins a race for a slot.

SEE ALSO:
  - record.go: Entity and state machine
  - store/sqlite: Conditional UPDATE ... WHERE status = ? implementation
*/
package session

import (
	"context"
	"time"

	"github.com/studiofit/session-engine/credit"
)

// Filter narrows ListSessions. Zero fields are ignored.
type Filter struct {
	TrainerID credit.TrainerID
	ClientID  credit.ClientID
	Statuses  []Status
	From      *time.Time
	To        *time.Time
}

type Store interface {
	// CreateSession inserts a new record. Fails with ErrDuplicateSession if
	// the ID exists.
	CreateSession(ctx context.Context, r Record) error

	// GetSession returns the record or nil if missing.
	GetSession(ctx context.Context, id credit.SessionID) (*Record, error)

	// UpdateSession applies mutate under a compare-and-swap on status:
	// if the stored status differs from expect, ErrStatusConflict is returned
	// and nothing is written. A status change made by mutate is validated
	// against the state machine (InvalidTransitionError on a disallowed
	// edge). Returns the updated record.
	UpdateSession(ctx context.Context, id credit.SessionID, expect Status, mutate func(*Record) error) (*Record, error)

	// ListSessions returns records matching the filter, ordered by StartsAt.
	ListSessions(ctx context.Context, f Filter) ([]Record, error)

	// FindOverlapping returns the trainer's records in the given statuses
	// whose [start, start+duration) window overlaps [start, end).
	FindOverlapping(ctx context.Context, trainerID credit.TrainerID, start, end time.Time, statuses []Status) ([]Record, error)
}
