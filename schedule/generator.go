/*
generator.go - Recurring session generation

PURPOSE:
  Expands a recurrence rule ("every Tuesday and Thursday at 07:00 for 12
  weeks") into individual session records. Each occurrence is handled on its
  own: a conflict or a failed claim skips that occurrence and the run
  continues, so one bad Tuesday never blocks the rest of the series. Partial
  success is the expected outcome, not an error.

EXPANSION:
  - Weekdays set:   walk day by day from the rule's start, keeping days whose
                    weekday is in the set, at the start's clock time.
  - Weekdays empty: step by IntervalDays (default 7) from the start.
  Generation stops at Count occurrences, at Until, or at the hard cap of 52,
  whichever comes first. Hitting the cap sets Truncated on the result.

CONFLICTS:
  Before creating an occurrence, the trainer's calendar is checked for any
  confirmed or blocked record overlapping the candidate window. Overlaps are
  reported in the result's Skipped list with the conflicting session IDs.

PRE-ASSIGNED CLIENTS:
  When the rule names a client, each created slot is immediately claimed
  through the booking service, debiting one credit per occurrence with the
  same idempotency and compensation guarantees as a manual booking. A failed
  claim (for example the client ran out of credits mid-series) skips the
  occurrence but leaves the slot open for someone else.
*/
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studiofit/session-engine/booking"
	"github.com/studiofit/session-engine/credit"
	"github.com/studiofit/session-engine/session"
)

// MaxOccurrences caps a single rule expansion. Longer series are truncated,
// never rejected.
const MaxOccurrences = 52

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidRule is returned when a rule cannot be expanded at all.
	ErrInvalidRule = errors.New("invalid recurrence rule")
)

// =============================================================================
// RULE
// =============================================================================

// Rule describes a recurring series of sessions for one trainer.
type Rule struct {
	TrainerID credit.TrainerID

	// ClientID, when set, pre-assigns every generated occurrence to this
	// client via the booking flow.
	ClientID credit.ClientID

	// Start is the first candidate occurrence; its clock time is reused for
	// every later occurrence.
	Start time.Time

	DurationMinutes int

	// Weekdays restricts occurrences to these weekdays. When empty the rule
	// steps by IntervalDays instead.
	Weekdays []time.Weekday

	// IntervalDays is the step between occurrences when Weekdays is empty.
	// Zero means weekly.
	IntervalDays int

	// Count limits the series length. Zero means unbounded (the cap and
	// Until still apply).
	Count int

	// Until, when set, is the inclusive end of the series.
	Until *time.Time
}

// Validate reports whether the rule can be expanded.
func (r Rule) Validate() error {
	if r.TrainerID == "" {
		return fmt.Errorf("%w: trainer is required", ErrInvalidRule)
	}
	if r.Start.IsZero() {
		return fmt.Errorf("%w: start is required", ErrInvalidRule)
	}
	if r.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidRule)
	}
	if r.IntervalDays < 0 {
		return fmt.Errorf("%w: interval cannot be negative", ErrInvalidRule)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: count cannot be negative", ErrInvalidRule)
	}
	if r.Count == 0 && r.Until == nil && len(r.Weekdays) == 0 && r.IntervalDays == 0 {
		// An open-ended rule is fine (the cap bounds it) but it needs at
		// least one recurrence dimension to be intentional.
		return fmt.Errorf("%w: set count, until, weekdays or an interval", ErrInvalidRule)
	}
	return nil
}

// Occurrences expands the rule into concrete start times, in order. The
// second return value reports whether the series was cut at MaxOccurrences.
func (r Rule) Occurrences() ([]time.Time, bool) {
	limit := MaxOccurrences
	if r.Count > 0 && r.Count < limit {
		limit = r.Count
	}

	var out []time.Time
	include := func(t time.Time) bool {
		return r.Until == nil || !t.After(*r.Until)
	}

	if len(r.Weekdays) > 0 {
		set := make(map[time.Weekday]bool, len(r.Weekdays))
		for _, d := range r.Weekdays {
			set[d] = true
		}
		// Walk a year plus one week of days. The extra week guarantees a
		// single-weekday series sees the occurrence past the cap, so
		// truncation is reported even when match 52 lands on day 365.
		for t, days := r.Start, 0; days < 373; t, days = t.AddDate(0, 0, 1), days+1 {
			if !include(t) {
				return out, false
			}
			if !set[t.Weekday()] {
				continue
			}
			if len(out) == limit {
				return out, r.Count == 0 || r.Count > MaxOccurrences
			}
			out = append(out, t)
		}
		return out, false
	}

	step := r.IntervalDays
	if step == 0 {
		step = 7
	}
	for t := r.Start; include(t); t = t.AddDate(0, 0, step) {
		if len(out) == limit {
			return out, r.Count == 0 || r.Count > MaxOccurrences
		}
		out = append(out, t)
	}
	return out, false
}

// =============================================================================
// RESULT
// =============================================================================

// SkipReason classifies why an occurrence was not created.
type SkipReason string

const (
	// SkipOverlap: the trainer already has a confirmed or blocked session in
	// the window.
	SkipOverlap SkipReason = "overlap"

	// SkipClaimFailed: the slot was created but the pre-assigned client's
	// claim failed; the slot remains open.
	SkipClaimFailed SkipReason = "claim_failed"

	// SkipCreateFailed: the store rejected the occurrence.
	SkipCreateFailed SkipReason = "create_failed"
)

// Skip describes one occurrence that did not make it into the series.
type Skip struct {
	StartsAt      time.Time
	Reason        SkipReason
	ConflictsWith []credit.SessionID
	Detail        string
}

// Result is the outcome of one rule expansion.
type Result struct {
	Created   []session.Record
	Skipped   []Skip
	Truncated bool
}

// =============================================================================
// GENERATOR
// =============================================================================

type Generator struct {
	Sessions session.Store
	Booking  *booking.Service

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewGenerator(sessions session.Store, bookings *booking.Service) *Generator {
	return &Generator{
		Sessions: sessions,
		Booking:  bookings,
		Now:      time.Now,
	}
}

// Generate expands the rule and creates one session per non-conflicting
// occurrence. Occurrences are independent: a skip or a failed claim is
// recorded in the result and the run continues.
func (g *Generator) Generate(ctx context.Context, rule Rule) (*Result, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	starts, truncated := rule.Occurrences()
	res := &Result{Truncated: truncated}

	for _, startsAt := range starts {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		endsAt := startsAt.Add(time.Duration(rule.DurationMinutes) * time.Minute)
		busy, err := g.Sessions.FindOverlapping(ctx, rule.TrainerID, startsAt, endsAt,
			[]session.Status{session.StatusConfirmed, session.StatusBlocked})
		if err != nil {
			return res, fmt.Errorf("failed to check trainer calendar: %w", err)
		}
		if len(busy) > 0 {
			ids := make([]credit.SessionID, 0, len(busy))
			for _, b := range busy {
				ids = append(ids, b.ID)
			}
			res.Skipped = append(res.Skipped, Skip{
				StartsAt:      startsAt,
				Reason:        SkipOverlap,
				ConflictsWith: ids,
			})
			continue
		}

		now := g.Now()
		rec := session.Record{
			ID:              credit.SessionID(uuid.NewString()),
			TrainerID:       rule.TrainerID,
			StartsAt:        startsAt,
			DurationMinutes: rule.DurationMinutes,
			Status:          session.StatusAvailable,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := g.Sessions.CreateSession(ctx, rec); err != nil {
			res.Skipped = append(res.Skipped, Skip{
				StartsAt: startsAt,
				Reason:   SkipCreateFailed,
				Detail:   err.Error(),
			})
			continue
		}

		if rule.ClientID != "" {
			claimed, err := g.Booking.BookSession(ctx, rule.ClientID, rec.ID)
			if err != nil {
				// The slot stays open; only the claim for this client failed.
				res.Skipped = append(res.Skipped, Skip{
					StartsAt: startsAt,
					Reason:   SkipClaimFailed,
					Detail:   err.Error(),
				})
				continue
			}
			rec = *claimed
		}

		res.Created = append(res.Created, rec)
	}

	return res, nil
}
