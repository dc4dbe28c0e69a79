/*
Package credit is the session-credit ledger at the core of the studio engine.

PURPOSE:
  Tracks how many paid session-credits each client holds. Every balance
  change is recorded as an immutable LedgerTransaction; the client's
  cached balance is reconciled in the same write, never recomputed lazily.

KEY CONCEPTS IN THIS FILE (types.go):
  - Client: The credit counters owned exclusively by this package
  - Transaction: An immutable ledger entry recording a balance change
  - Reason: Why a balance changed (purchase, booking_debit, ...)
  - Client/Session/Trainer IDs: Type-safe identifiers shared by all packages

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only compensated
  2. Auditability: Every transaction carries a reason and session reference
  3. Idempotency: At most one standing booking debit and one refund per
     session (a rollback clears the standing debit so a retry can debit)
  4. Invariant: sum of a client's transaction deltas == SessionsRemaining

SEE ALSO:
  - ledger.go: The Ledger contract and default implementation
  - store.go: Persistence interfaces
  - errors.go: Sentinel and structured errors
*/
package credit

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type SessionID string
type TrainerID string
type TransactionID string

// =============================================================================
// TRANSACTION - Atomic change to a client's credit balance
// =============================================================================

// Reason classifies why a client's balance changed.
type Reason string

const (
	ReasonPurchase           Reason = "purchase"            // Storefront package purchase
	ReasonBookingDebit       Reason = "booking_debit"       // Credit consumed by a booking
	ReasonBookingRollback    Reason = "booking_rollback"    // Compensation for a failed booking's debit
	ReasonCancellationRefund Reason = "cancellation_refund" // Eligible cancellation
	ReasonCompletionNoop     Reason = "completion_noop"     // Zero-delta audit marker on completion
	ReasonAdminAdjustment    Reason = "admin_adjustment"    // Manual staff correction
)

// Transaction is one immutable ledger entry. Delta is a signed credit count;
// RelatedSessionID links booking debits and refunds to the session they
// belong to and is empty for purchases and adjustments.
type Transaction struct {
	ID               TransactionID
	ClientID         ClientID
	Delta            int
	Reason           Reason
	RelatedSessionID SessionID
	Note             string
	CreatedAt        time.Time
}

// =============================================================================
// CLIENT - Credit counters, mutated only through ledger/booking transactions
// =============================================================================

// Client holds the four credit counters plus the cached balance.
//
// INVARIANT: SessionsRemaining equals the running sum of the client's
// transaction deltas. The counter is written in the same atomic unit as the
// transaction append, so reads never see drift.
type Client struct {
	ID   ClientID
	Name string

	SessionsRemaining      int
	TotalSessionsAllocated int
	SessionsCompleted      int
	SessionsScheduled      int
	SessionsCancelled      int

	CreatedAt time.Time
}

// SumDeltas computes a balance from raw transactions. Used by tests and
// reconciliation checks; the hot path reads Client.SessionsRemaining.
func SumDeltas(txs []Transaction) int {
	total := 0
	for _, tx := range txs {
		total += tx.Delta
	}
	return total
}
