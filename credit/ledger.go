/*
ledger.go - The CreditLedger contract and default implementation

PURPOSE:
  The ledger owns every credit mutation. Booking, cancellation, purchase and
  admin flows all funnel through Allocate/Debit/Refund so the invariants hold
  regardless of entry point:

  1. A balance never goes negative
  2. sum(transaction deltas) == SessionsRemaining at all times
  3. At most one booking debit and one refund per session

IDEMPOTENT DEBIT:
  Debit is idempotent per related session while the debit STANDS. A second
  debit for a session with a standing debit is a no-op returning the current
  balance - this guards against duplicate-trigger bugs upstream, and against
  the race where two bookers pass the pre-check simultaneously (the store's
  uniqueness check catches the loser). A debit reversed by ReverseDebit no
  longer stands: a retried booking after a compensated failure debits again.
  Rollbacks use their own reason so they never consume the session's one
  cancellation refund.

EVENTS:
  Every successful Allocate/Debit/Refund emits credit_changed to the injected
  emitter. Emission is best-effort and never on the critical path of the
  write (see the event package).

SEE ALSO:
  - store.go: Persistence interfaces
  - booking: The only caller allowed to move session-linked credits
*/
package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studiofit/session-engine/event"
)

// =============================================================================
// LEDGER - Credit balance contract
// =============================================================================

type Ledger interface {
	// Allocate increases a client's balance. Fails with ErrInvalidAmount if
	// amount <= 0. The note lands on the transaction for the audit trail.
	// Returns the new balance.
	Allocate(ctx context.Context, clientID ClientID, amount int, reason Reason, note string) (int, error)

	// Debit decrements the balance for a session. Fails with
	// ErrInsufficientCredits if the balance would go negative. Idempotent per
	// session: a repeat debit is a no-op returning the current balance.
	Debit(ctx context.Context, clientID ClientID, amount int, sessionID SessionID) (int, error)

	// Refund returns credits for a session. Fails with ErrAlreadyRefunded if
	// a refund for that session already exists.
	Refund(ctx context.Context, clientID ClientID, amount int, sessionID SessionID) (int, error)

	// ReverseDebit compensates a booking debit after a failed booking. It
	// restores the balance and clears the session's standing debit so a
	// retried booking debits again. Does not touch the session's one
	// cancellation refund.
	ReverseDebit(ctx context.Context, clientID ClientID, amount int, sessionID SessionID) (int, error)

	// Balance returns the client's current balance.
	Balance(ctx context.Context, clientID ClientID) (int, error)

	// History returns the client's transactions, chronologically.
	History(ctx context.Context, clientID ClientID) ([]Transaction, error)

	// RecordCompletion appends a zero-delta completion marker for audit.
	// No balance movement and no event.
	RecordCompletion(ctx context.Context, clientID ClientID, sessionID SessionID) error
}

// =============================================================================
// DEFAULT LEDGER
// =============================================================================

type DefaultLedger struct {
	Store  Store
	Events event.Emitter

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewLedger(store Store, events event.Emitter) *DefaultLedger {
	if events == nil {
		events = event.Nop{}
	}
	return &DefaultLedger{Store: store, Events: events, Now: time.Now}
}

func (l *DefaultLedger) Allocate(ctx context.Context, clientID ClientID, amount int, reason Reason, note string) (int, error) {
	if amount <= 0 {
		return 0, &InvalidAmountError{Amount: amount}
	}

	var balance int
	err := l.withTx(ctx, func(s Store) error {
		c, err := s.UpdateClient(ctx, clientID, func(c *Client) error {
			c.SessionsRemaining += amount
			c.TotalSessionsAllocated += amount
			return nil
		})
		if err != nil {
			return err
		}
		balance = c.SessionsRemaining
		tx := l.newTransaction(clientID, amount, reason, "")
		tx.Note = note
		return s.AppendTransaction(ctx, tx)
	})
	if err != nil {
		return 0, err
	}

	l.emitCreditChanged(clientID, amount, balance, reason)
	return balance, nil
}

func (l *DefaultLedger) Debit(ctx context.Context, clientID ClientID, amount int, sessionID SessionID) (int, error) {
	if amount <= 0 {
		return 0, &InvalidAmountError{Amount: amount}
	}

	var (
		balance int
		noop    bool
	)
	err := l.withTx(ctx, func(s Store) error {
		existing, err := s.TransactionsBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to check prior debits: %w", err)
		}
		if standingDebits(existing) > 0 {
			// Already deducted for this session; report current balance.
			noop = true
			c, err := s.GetClient(ctx, clientID)
			if err != nil {
				return err
			}
			if c == nil {
				return ErrClientNotFound
			}
			balance = c.SessionsRemaining
			return nil
		}

		c, err := s.UpdateClient(ctx, clientID, func(c *Client) error {
			if c.SessionsRemaining-amount < 0 {
				return &InsufficientCreditsError{
					ClientID:  clientID,
					Available: c.SessionsRemaining,
					Requested: amount,
				}
			}
			c.SessionsRemaining -= amount
			return nil
		})
		if err != nil {
			return err
		}
		balance = c.SessionsRemaining
		return s.AppendTransaction(ctx, l.newTransaction(clientID, -amount, ReasonBookingDebit, sessionID))
	})
	if err != nil {
		return 0, err
	}

	if !noop {
		l.emitCreditChanged(clientID, -amount, balance, ReasonBookingDebit)
	}
	return balance, nil
}

func (l *DefaultLedger) Refund(ctx context.Context, clientID ClientID, amount int, sessionID SessionID) (int, error) {
	if amount <= 0 {
		return 0, &InvalidAmountError{Amount: amount}
	}

	var balance int
	err := l.withTx(ctx, func(s Store) error {
		existing, err := s.TransactionsBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to check prior refunds: %w", err)
		}
		for _, tx := range existing {
			if tx.Reason == ReasonCancellationRefund {
				return &AlreadyRefundedError{ClientID: clientID, SessionID: sessionID}
			}
		}

		c, err := s.UpdateClient(ctx, clientID, func(c *Client) error {
			c.SessionsRemaining += amount
			return nil
		})
		if err != nil {
			return err
		}
		balance = c.SessionsRemaining
		return s.AppendTransaction(ctx, l.newTransaction(clientID, amount, ReasonCancellationRefund, sessionID))
	})
	if err != nil {
		return 0, err
	}

	l.emitCreditChanged(clientID, amount, balance, ReasonCancellationRefund)
	return balance, nil
}

func (l *DefaultLedger) ReverseDebit(ctx context.Context, clientID ClientID, amount int, sessionID SessionID) (int, error) {
	if amount <= 0 {
		return 0, &InvalidAmountError{Amount: amount}
	}

	var balance int
	err := l.withTx(ctx, func(s Store) error {
		existing, err := s.TransactionsBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to check prior debits: %w", err)
		}
		if standingDebits(existing) <= 0 {
			return fmt.Errorf("no standing debit to reverse for session %s", sessionID)
		}

		c, err := s.UpdateClient(ctx, clientID, func(c *Client) error {
			c.SessionsRemaining += amount
			return nil
		})
		if err != nil {
			return err
		}
		balance = c.SessionsRemaining
		return s.AppendTransaction(ctx, l.newTransaction(clientID, amount, ReasonBookingRollback, sessionID))
	})
	if err != nil {
		return 0, err
	}

	l.emitCreditChanged(clientID, amount, balance, ReasonBookingRollback)
	return balance, nil
}

func (l *DefaultLedger) Balance(ctx context.Context, clientID ClientID) (int, error) {
	c, err := l.Store.GetClient(ctx, clientID)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, ErrClientNotFound
	}
	return c.SessionsRemaining, nil
}

func (l *DefaultLedger) History(ctx context.Context, clientID ClientID) ([]Transaction, error) {
	return l.Store.TransactionsByClient(ctx, clientID)
}

func (l *DefaultLedger) RecordCompletion(ctx context.Context, clientID ClientID, sessionID SessionID) error {
	return l.Store.AppendTransaction(ctx, l.newTransaction(clientID, 0, ReasonCompletionNoop, sessionID))
}

// =============================================================================
// INTERNALS
// =============================================================================

// withTx runs fn atomically when the store supports transactions; otherwise
// writes are sequential and the store's uniqueness constraints remain the
// last line of defense.
func (l *DefaultLedger) withTx(ctx context.Context, fn func(Store) error) error {
	if ts, ok := l.Store.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(l.Store)
}

// standingDebits counts booking debits not yet undone by a rollback. A
// session with a standing debit rejects further debits; one without accepts
// a fresh debit even if earlier attempts were compensated.
func standingDebits(txs []Transaction) int {
	n := 0
	for _, tx := range txs {
		switch tx.Reason {
		case ReasonBookingDebit:
			n++
		case ReasonBookingRollback:
			n--
		}
	}
	return n
}

func (l *DefaultLedger) newTransaction(clientID ClientID, delta int, reason Reason, sessionID SessionID) Transaction {
	return Transaction{
		ID:               TransactionID(uuid.NewString()),
		ClientID:         clientID,
		Delta:            delta,
		Reason:           reason,
		RelatedSessionID: sessionID,
		CreatedAt:        l.Now().UTC(),
	}
}

func (l *DefaultLedger) emitCreditChanged(clientID ClientID, delta, balance int, reason Reason) {
	l.Events.Emit(event.CreditChanged, map[string]any{
		"client_id":   string(clientID),
		"delta":       delta,
		"new_balance": balance,
		"reason":      string(reason),
	})
}
