/*
Package session owns individual training-session entities and their status
state machine.

PURPOSE:
  A SessionRecord is a concrete time slot: who trains, with which trainer,
  when, for how long, and where it sits in its lifecycle. Records are created
  by admins (available/blocked slots) or by the recurrence generator, and
  mutated only through status transitions; soft status (cancelled) is
  preferred over deletion so history survives.

STATE MACHINE:
  available -> requested   (client books an open/admin slot)
  available -> confirmed   (admin/trainer directly assigns)
  requested -> confirmed   (trainer/admin approves)
  requested -> cancelled
  confirmed -> completed   (terminal)
  confirmed -> cancelled   (terminal)
  blocked                  (terminal; trainer time block, no client attached)

  No transition leaves completed or cancelled. Any disallowed transition
  fails with InvalidTransitionError regardless of caller.

CONCURRENCY:
  Store.UpdateSession is conditional on the caller's expected status
  (compare-and-swap). Two concurrent claims of the same available slot can
  never both succeed: the loser observes ErrStatusConflict.

SEE ALSO:
  - booking: The coordination layer that drives these transitions
  - store/sqlite, store/memory: Store implementations
*/
package session

import (
	"time"

	"github.com/studiofit/session-engine/credit"
)

// =============================================================================
// STATUS - Session lifecycle states
// =============================================================================

type Status string

const (
	StatusAvailable Status = "available"
	StatusRequested Status = "requested"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusBlocked   Status = "blocked"
)

// transitions is the full state machine. Absent keys/values are disallowed.
var transitions = map[Status][]Status{
	StatusAvailable: {StatusRequested, StatusConfirmed},
	StatusRequested: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves the status.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// ValidStatus reports whether s is a known status value.
func ValidStatus(s Status) bool {
	switch s {
	case StatusAvailable, StatusRequested, StatusConfirmed,
		StatusCompleted, StatusCancelled, StatusBlocked:
		return true
	}
	return false
}

// =============================================================================
// RECORD - One concrete session slot
// =============================================================================

type Record struct {
	ID        credit.SessionID
	TrainerID credit.TrainerID // empty = unassigned/open slot
	ClientID  credit.ClientID  // empty = open for booking

	StartsAt        time.Time
	DurationMinutes int
	Status          Status

	// Deducted marks whether a credit has been debited for this record.
	Deducted bool

	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EndsAt returns the exclusive end of the session's time window.
func (r *Record) EndsAt() time.Time {
	return r.StartsAt.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

// Overlaps reports whether the record's [StartsAt, EndsAt) window intersects
// [start, end).
func (r *Record) Overlaps(start, end time.Time) bool {
	return r.StartsAt.Before(end) && start.Before(r.EndsAt())
}

// Open reports whether the slot can still be claimed by a client.
func (r *Record) Open() bool {
	return r.Status == StatusAvailable && r.ClientID == ""
}
