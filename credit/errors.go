/*
errors.go - Centralized error types for the credit ledger

PURPOSE:
  All ledger error types in one place. Callers match with errors.Is/As;
  the API layer maps these to HTTP statuses.

ERROR CATEGORIES:
  1. Validation errors - Invalid amounts
  2. Balance errors - Insufficient credits
  3. Idempotency errors - Duplicate debits/refunds for a session

USAGE:
  if errors.Is(err, credit.ErrInsufficientCredits) {
      // ordinary validation failure, show inline
  }
*/
package credit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an allocate/debit/refund amount is <= 0.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientCredits is returned when a debit would drive the balance
	// below zero.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAlreadyRefunded is returned when a refund transaction already exists
	// for the related session.
	ErrAlreadyRefunded = errors.New("session already refunded")

	// ErrDuplicateDebit is returned by stores when a booking debit already
	// exists for the related session. The ledger treats this as a no-op, so
	// callers normally never see it.
	ErrDuplicateDebit = errors.New("duplicate debit for session")

	// ErrClientNotFound is returned when a referenced client doesn't exist.
	ErrClientNotFound = errors.New("client not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditsError provides details about a balance shortage.
type InsufficientCreditsError struct {
	ClientID  ClientID
	Available int
	Requested int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for %s: available %d, requested %d",
		e.ClientID, e.Available, e.Requested)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// AlreadyRefundedError identifies the session whose refund was duplicated.
type AlreadyRefundedError struct {
	ClientID  ClientID
	SessionID SessionID
}

func (e *AlreadyRefundedError) Error() string {
	return fmt.Sprintf("refund already issued for session %s (client %s)",
		e.SessionID, e.ClientID)
}

func (e *AlreadyRefundedError) Unwrap() error {
	return ErrAlreadyRefunded
}

// InvalidAmountError reports the offending amount.
type InvalidAmountError struct {
	Amount int
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %d: must be positive", e.Amount)
}

func (e *InvalidAmountError) Unwrap() error {
	return ErrInvalidAmount
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input
// rather than a storage fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrAlreadyRefunded)
}

// IsNotFound returns true if the error indicates a missing client.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound)
}
