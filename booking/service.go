/*
service.go - BookingService: the coordination point for all multi-entity
mutations

PURPOSE:
  Books, cancels and completes sessions against a client and a trainer,
  keeping the CreditLedger and the session store consistent. Every mutation
  path that touches both a balance and a session status funnels through here
  so the invariants hold regardless of entry point.

BOOKING FLOW (BookSession):
  1. Load session; NotFound / SlotUnavailable checks
  2. Debit one credit (idempotent per session)
  3. Increment the client's scheduled counter
  4. Transition available -> confirmed, attach client, mark deducted
  5. Emit session_booked

  Steps 2-4 are one atomic unit from the caller's perspective: any failure
  after the debit triggers a compensating refund before the error surfaces.
  If the compensation itself fails the operation escalates to a
  ConsistencyError, logged at the highest severity and never auto-retried.

CONCURRENCY:
  Operations on the same session ID are serialized by a per-session lock,
  and the store's conditional status update is the last line of defense for
  callers that bypass this process. Exactly one of two simultaneous
  BookSession calls on the same available slot succeeds; the loser receives
  ErrSlotUnavailable.

SEE ALSO:
  - policy.go: Refund eligibility table
  - credit/ledger.go: Debit/Refund semantics
  - session/store.go: Conditional transitions
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/studiofit/session-engine/credit"
	"github.com/studiofit/session-engine/event"
	"github.com/studiofit/session-engine/session"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Ledger   credit.Ledger
	Sessions session.Store
	Clients  credit.ClientStore
	Events   event.Emitter
	Policy   CancellationPolicy

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	locks keyedLocks
}

func NewService(ledger credit.Ledger, sessions session.Store, clients credit.ClientStore, events event.Emitter) *Service {
	if events == nil {
		events = event.Nop{}
	}
	return &Service{
		Ledger:   ledger,
		Sessions: sessions,
		Clients:  clients,
		Events:   events,
		Policy:   DefaultCancellationPolicy(),
		Now:      time.Now,
	}
}

// =============================================================================
// BOOK
// =============================================================================

// BookSession claims an available slot for a client, consuming one credit.
func (s *Service) BookSession(ctx context.Context, clientID credit.ClientID, sessionID credit.SessionID) (*session.Record, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	rec, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil {
		return nil, session.ErrNotFound
	}
	if !rec.Open() {
		return nil, ErrSlotUnavailable
	}

	balance, err := s.Ledger.Debit(ctx, clientID, 1, sessionID)
	if err != nil {
		// Session untouched; InsufficientCredits and friends propagate as-is.
		return nil, err
	}

	if _, err := s.Clients.UpdateClient(ctx, clientID, func(c *credit.Client) error {
		c.SessionsScheduled++
		return nil
	}); err != nil {
		if cerr := s.compensateDebit(ctx, clientID, sessionID, "BookSession", err); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("failed to update client counters: %w", err)
	}

	updated, err := s.Sessions.UpdateSession(ctx, sessionID, session.StatusAvailable, func(r *session.Record) error {
		r.Status = session.StatusConfirmed
		r.ClientID = clientID
		r.Deducted = true
		return nil
	})
	if err != nil {
		// Roll the counter and the debit back before surfacing.
		if _, uerr := s.Clients.UpdateClient(ctx, clientID, func(c *credit.Client) error {
			c.SessionsScheduled--
			return nil
		}); uerr != nil {
			return nil, s.escalate("BookSession", clientID, sessionID, err, uerr)
		}
		if cerr := s.compensateDebit(ctx, clientID, sessionID, "BookSession", err); cerr != nil {
			return nil, cerr
		}
		if errors.Is(err, session.ErrStatusConflict) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	s.Events.Emit(event.SessionBooked, map[string]any{
		"client_id":   string(clientID),
		"session_id":  string(sessionID),
		"trainer_id":  string(updated.TrainerID),
		"starts_at":   updated.StartsAt,
		"new_balance": balance,
	})
	return updated, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelSession cancels a requested/confirmed session. Refund eligibility is
// decided by the cancellation policy table for the given actor; a forfeited
// credit stays consumed.
func (s *Service) CancelSession(ctx context.Context, clientID credit.ClientID, sessionID credit.SessionID, cancelledBy Actor) (*session.Record, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	rec, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil {
		return nil, session.ErrNotFound
	}
	if cancelledBy != ActorStaff && rec.ClientID != clientID {
		return nil, ErrNotOwned
	}

	from := rec.Status
	if !session.CanTransition(from, session.StatusCancelled) {
		return nil, &session.InvalidTransitionError{SessionID: sessionID, From: from, To: session.StatusCancelled}
	}

	owner := rec.ClientID
	refund := owner != "" && s.Policy.RefundEligible(cancelledBy, rec.StartsAt, s.Now(), rec.Deducted)

	updated, err := s.Sessions.UpdateSession(ctx, sessionID, from, func(r *session.Record) error {
		r.Status = session.StatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	if refund {
		if _, err := s.Ledger.Refund(ctx, owner, 1, sessionID); err != nil {
			// The session is already cancelled; a failed refund leaves the
			// ledger short. Escalate for manual reconciliation.
			return nil, s.escalate("CancelSession", owner, sessionID, nil, err)
		}
	}

	if owner != "" {
		if _, err := s.Clients.UpdateClient(ctx, owner, func(c *credit.Client) error {
			if from == session.StatusConfirmed || from == session.StatusRequested {
				c.SessionsScheduled--
			}
			c.SessionsCancelled++
			return nil
		}); err != nil {
			return nil, s.escalate("CancelSession", owner, sessionID, nil, err)
		}
	}

	s.Events.Emit(event.SessionCancelled, map[string]any{
		"client_id":    string(owner),
		"session_id":   string(sessionID),
		"cancelled_by": string(cancelledBy),
		"refunded":     refund,
	})
	return updated, nil
}

// =============================================================================
// COMPLETE
// =============================================================================

// CompleteSession transitions confirmed -> completed. No credit movement:
// the credit was consumed at booking. Emits session_completed, the trigger
// external automation listens for.
func (s *Service) CompleteSession(ctx context.Context, sessionID credit.SessionID, trainerID credit.TrainerID) (*session.Record, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	rec, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil {
		return nil, session.ErrNotFound
	}

	updated, err := s.Sessions.UpdateSession(ctx, sessionID, rec.Status, func(r *session.Record) error {
		r.Status = session.StatusCompleted
		if r.TrainerID == "" {
			r.TrainerID = trainerID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	owner := updated.ClientID
	if owner != "" {
		if _, err := s.Clients.UpdateClient(ctx, owner, func(c *credit.Client) error {
			c.SessionsCompleted++
			c.SessionsScheduled--
			return nil
		}); err != nil {
			return nil, s.escalate("CompleteSession", owner, sessionID, nil, err)
		}
		if err := s.Ledger.RecordCompletion(ctx, owner, sessionID); err != nil {
			log.Printf("[booking] WARN completion marker failed for session %s: %v", sessionID, err)
		}
	}

	s.Events.Emit(event.SessionCompleted, map[string]any{
		"client_id":  string(owner),
		"session_id": string(sessionID),
		"trainer_id": string(updated.TrainerID),
	})
	return updated, nil
}

// =============================================================================
// COMPENSATION
// =============================================================================

// compensateDebit rolls a debit back. ReverseDebit clears the session's
// standing debit, so a retried booking debits again and the session's one
// cancellation refund stays untouched. Returns nil when the compensation
// succeeded (the caller then surfaces its original error), or a
// ConsistencyError when it did not.
func (s *Service) compensateDebit(ctx context.Context, clientID credit.ClientID, sessionID credit.SessionID, op string, cause error) error {
	if _, rerr := s.Ledger.ReverseDebit(ctx, clientID, 1, sessionID); rerr != nil {
		return s.escalate(op, clientID, sessionID, cause, rerr)
	}
	return nil
}

// escalate logs a failed compensation at the highest severity and wraps it
// as a ConsistencyError. These are operational alerts, not user-facing
// validation failures, and are never retried automatically.
func (s *Service) escalate(op string, clientID credit.ClientID, sessionID credit.SessionID, cause, compErr error) error {
	e := &ConsistencyError{
		Op:              op,
		SessionID:       sessionID,
		ClientID:        clientID,
		Cause:           cause,
		CompensationErr: compErr,
	}
	log.Printf("[booking] CONSISTENCY %v", e)
	return e
}

// =============================================================================
// PER-SESSION LOCKS
// =============================================================================

// keyedLocks serializes operations per session ID. Entries are reference
// counted and removed once the last holder releases, so the map stays
// proportional to in-flight operations rather than lifetime session count.
type keyedLocks struct {
	mu sync.Mutex
	m  map[credit.SessionID]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedLocks) lock(id credit.SessionID) func() {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[credit.SessionID]*refLock)
	}
	l, ok := k.m[id]
	if !ok {
		l = &refLock{}
		k.m[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.m, id)
		}
		k.mu.Unlock()
	}
}
