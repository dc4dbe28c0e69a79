/*
store.go - Persistence interfaces for clients and ledger transactions

PURPOSE:
  Defines the interface between the ledger and the database. Transactions
  are append-only; clients are read-modify-write under per-store
  serialization.

APPEND-ONLY CONTRACT:
  ledger_transactions has no Update and no Delete. Corrections are made by
  appending a compensating transaction, never by editing history.

IDEMPOTENCY:
  The store enforces at most one STANDING booking debit and at most one
  refund per related session (a trigger in SQL, a map check in memory). A
  booking_rollback append clears the standing debit so a retried booking
  may debit again. AppendTransaction returns ErrDuplicateDebit /
  ErrAlreadyRefunded when the constraint trips; the ledger decides which
  of those is a no-op.

IMPLEMENTATIONS:
  - store/sqlite: production store, shared with the session package
  - store/memory: in-memory store for tests and dev mode

SEE ALSO:
  - ledger.go: Higher-level contract using this interface
*/
package credit

import "context"

// =============================================================================
// TRANSACTION STORE - Append-only ledger persistence
// =============================================================================

type TransactionStore interface {
	// AppendTransaction persists a transaction. Returns ErrDuplicateDebit or
	// ErrAlreadyRefunded when a debit/refund already exists for the related
	// session. This is the ONLY write operation on the ledger table.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// TransactionsByClient returns all transactions for a client,
	// chronologically.
	TransactionsByClient(ctx context.Context, clientID ClientID) ([]Transaction, error)

	// TransactionsBySession returns the transactions that reference a session
	// (its debit, refund and completion marker, if any).
	TransactionsBySession(ctx context.Context, sessionID SessionID) ([]Transaction, error)
}

// =============================================================================
// CLIENT STORE - Counter persistence
// =============================================================================

type ClientStore interface {
	GetClient(ctx context.Context, id ClientID) (*Client, error)

	// SaveClient inserts or replaces a client record.
	SaveClient(ctx context.Context, c Client) error

	// UpdateClient applies mutate to the stored client under the store's
	// serialization guarantee. Returns ErrClientNotFound if missing; if
	// mutate returns an error nothing is written.
	UpdateClient(ctx context.Context, id ClientID, mutate func(*Client) error) (*Client, error)

	ListClients(ctx context.Context) ([]Client, error)
}

// Store is what the ledger needs: transactions plus client counters.
type Store interface {
	TransactionStore
	ClientStore
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic append + counter update
// =============================================================================

// TxStore wraps Store with transaction support. The default ledger uses it
// when available so a transaction append and its counter update commit as one
// unit; stores without it fall back to sequential writes.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
