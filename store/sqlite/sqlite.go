/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements credit.TxStore and session.Store against one database file.
  In production the same patterns apply to PostgreSQL, only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  The ledger_transactions table has no UPDATE and no DELETE statements.
  Corrections happen by appending compensating transactions.

KEY TABLES:
  clients:             Balance and lifetime counters
  sessions:            Session records with their status
  ledger_transactions: Immutable ledger of all credit movements

UNIQUENESS:
  Two database-level checks are the last line of defense behind the
  ledger's own read-before-write:
  - trg_one_standing_debit: at most one STANDING booking debit per
    session. A booking_rollback row undoes the standing debit, so a
    retried booking after a compensated failure may debit again.
  - idx_unique_session_refund: at most one refund per session.
  A violation surfaces as credit.ErrDuplicateDebit / ErrAlreadyRefunded.

CONCURRENCY:
  Uses sync.RWMutex for in-process serialization; the conditional
  UPDATE ... WHERE status = ? makes session transitions a compare-and-swap
  for anything that bypasses the process.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't block
  the single writer.

USAGE:
  store, err := sqlite.New("./data/studio.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := credit.NewLedger(store, events)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - credit/store.go, session/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studiofit/session-engine/credit"
	"github.com/studiofit/session-engine/session"
)

// Store implements credit.TxStore and session.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Clients (balance and lifetime counters)
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		sessions_remaining INTEGER NOT NULL DEFAULT 0,
		total_allocated INTEGER NOT NULL DEFAULT 0,
		sessions_completed INTEGER NOT NULL DEFAULT 0,
		sessions_scheduled INTEGER NOT NULL DEFAULT 0,
		sessions_cancelled INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Ledger (append-only record of every credit movement)
	CREATE TABLE IF NOT EXISTS ledger_transactions (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL,
		related_session_id TEXT,
		note TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_client
		ON ledger_transactions(client_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_session
		ON ledger_transactions(related_session_id)
		WHERE related_session_id IS NOT NULL;

	-- CRITICAL: at most one standing booking debit and one refund per
	-- session. Catches duplicate-trigger bugs and booking races that slip
	-- past the ledger's own read-before-write check. The debit check is a
	-- trigger, not a unique index, because a booking_rollback row undoes
	-- the standing debit and a later retry must be allowed to debit again.
	DROP INDEX IF EXISTS idx_unique_session_debit;
	CREATE TRIGGER IF NOT EXISTS trg_one_standing_debit
	BEFORE INSERT ON ledger_transactions
	WHEN NEW.reason = 'booking_debit' AND (
		SELECT COUNT(*) FROM ledger_transactions
		WHERE related_session_id = NEW.related_session_id
		  AND reason = 'booking_debit'
	) > (
		SELECT COUNT(*) FROM ledger_transactions
		WHERE related_session_id = NEW.related_session_id
		  AND reason = 'booking_rollback'
	)
	BEGIN
		SELECT RAISE(ABORT, 'standing debit exists for session');
	END;

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_session_refund
		ON ledger_transactions(related_session_id)
		WHERE reason = 'cancellation_refund';

	-- Sessions
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		trainer_id TEXT NOT NULL DEFAULT '',
		client_id TEXT NOT NULL DEFAULT '',
		starts_at TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		status TEXT NOT NULL,
		deducted BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Overlap checks walk a trainer's calendar in time order (hot path)
	CREATE INDEX IF NOT EXISTS idx_sessions_trainer_starts
		ON sessions(trainer_id, starts_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_client
		ON sessions(client_id) WHERE client_id != '';
	CREATE INDEX IF NOT EXISTS idx_sessions_status
		ON sessions(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTION STORE (credit.TransactionStore)
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx credit.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return appendTransaction(ctx, s.db, tx)
}

func appendTransaction(ctx context.Context, db execer, tx credit.Transaction) error {
	query := `
		INSERT INTO ledger_transactions
		(id, client_id, delta, reason, related_session_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		string(tx.ID),
		string(tx.ClientID),
		tx.Delta,
		string(tx.Reason),
		nullString(string(tx.RelatedSessionID)),
		tx.Note,
		tx.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "standing debit exists") {
			return credit.ErrDuplicateDebit
		}
		if isUniqueConstraintError(err) && tx.Reason == credit.ReasonCancellationRefund {
			return credit.ErrAlreadyRefunded
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	return nil
}

func (s *Store) TransactionsByClient(ctx context.Context, clientID credit.ClientID) ([]credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryTransactions(ctx, s.db, `
		SELECT id, client_id, delta, reason, related_session_id, note, created_at
		FROM ledger_transactions
		WHERE client_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(clientID))
}

func (s *Store) TransactionsBySession(ctx context.Context, sessionID credit.SessionID) ([]credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryTransactions(ctx, s.db, `
		SELECT id, client_id, delta, reason, related_session_id, note, created_at
		FROM ledger_transactions
		WHERE related_session_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(sessionID))
}

func queryTransactions(ctx context.Context, db querier, query string, args ...any) ([]credit.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []credit.Transaction
	for rows.Next() {
		var (
			tx        credit.Transaction
			sessionID sql.NullString
			note      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.ClientID, &tx.Delta, &tx.Reason, &sessionID, &note, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.RelatedSessionID = credit.SessionID(sessionID.String)
		tx.Note = note.String
		tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// =============================================================================
// CLIENT STORE (credit.ClientStore)
// =============================================================================

func (s *Store) GetClient(ctx context.Context, id credit.ClientID) (*credit.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getClient(ctx, s.db, id)
}

func getClient(ctx context.Context, db querier, id credit.ClientID) (*credit.Client, error) {
	var (
		c         credit.Client
		createdAt string
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, name, sessions_remaining, total_allocated,
		       sessions_completed, sessions_scheduled, sessions_cancelled, created_at
		FROM clients WHERE id = ?
	`, string(id)).Scan(
		&c.ID, &c.Name, &c.SessionsRemaining, &c.TotalSessionsAllocated,
		&c.SessionsCompleted, &c.SessionsScheduled, &c.SessionsCancelled, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

func (s *Store) SaveClient(ctx context.Context, c credit.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return saveClient(ctx, s.db, c)
}

func saveClient(ctx context.Context, db execer, c credit.Client) error {
	query := `
		INSERT INTO clients
		(id, name, sessions_remaining, total_allocated,
		 sessions_completed, sessions_scheduled, sessions_cancelled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			sessions_remaining = excluded.sessions_remaining,
			total_allocated = excluded.total_allocated,
			sessions_completed = excluded.sessions_completed,
			sessions_scheduled = excluded.sessions_scheduled,
			sessions_cancelled = excluded.sessions_cancelled
	`

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := db.ExecContext(ctx, query,
		string(c.ID), c.Name, c.SessionsRemaining, c.TotalSessionsAllocated,
		c.SessionsCompleted, c.SessionsScheduled, c.SessionsCancelled,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) UpdateClient(ctx context.Context, id credit.ClientID, mutate func(*credit.Client) error) (*credit.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return updateClient(ctx, s.db, id, mutate)
}

func updateClient(ctx context.Context, db querier, id credit.ClientID, mutate func(*credit.Client) error) (*credit.Client, error) {
	c, err := getClient(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, credit.ErrClientNotFound
	}
	if err := mutate(c); err != nil {
		return nil, err
	}
	if err := saveClient(ctx, db, *c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]credit.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listClients(ctx, s.db)
}

func listClients(ctx context.Context, db querier) ([]credit.Client, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, sessions_remaining, total_allocated,
		       sessions_completed, sessions_scheduled, sessions_cancelled, created_at
		FROM clients ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []credit.Client
	for rows.Next() {
		var (
			c         credit.Client
			createdAt string
		)
		if err := rows.Scan(
			&c.ID, &c.Name, &c.SessionsRemaining, &c.TotalSessionsAllocated,
			&c.SessionsCompleted, &c.SessionsScheduled, &c.SessionsCancelled, &createdAt,
		); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (credit.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(credit.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx credit.Transaction) error {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) TransactionsByClient(ctx context.Context, clientID credit.ClientID) ([]credit.Transaction, error) {
	return queryTransactions(ctx, ts.tx, `
		SELECT id, client_id, delta, reason, related_session_id, note, created_at
		FROM ledger_transactions
		WHERE client_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(clientID))
}

func (ts *txStore) TransactionsBySession(ctx context.Context, sessionID credit.SessionID) ([]credit.Transaction, error) {
	return queryTransactions(ctx, ts.tx, `
		SELECT id, client_id, delta, reason, related_session_id, note, created_at
		FROM ledger_transactions
		WHERE related_session_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(sessionID))
}

func (ts *txStore) GetClient(ctx context.Context, id credit.ClientID) (*credit.Client, error) {
	return getClient(ctx, ts.tx, id)
}

func (ts *txStore) SaveClient(ctx context.Context, c credit.Client) error {
	return saveClient(ctx, ts.tx, c)
}

func (ts *txStore) UpdateClient(ctx context.Context, id credit.ClientID, mutate func(*credit.Client) error) (*credit.Client, error) {
	return updateClient(ctx, ts.tx, id, mutate)
}

func (ts *txStore) ListClients(ctx context.Context) ([]credit.Client, error) {
	return listClients(ctx, ts.tx)
}

// =============================================================================
// SESSION STORE (session.Store)
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, r session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sessions
		(id, trainer_id, client_id, starts_at, duration_minutes, status,
		 deducted, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		string(r.ID), string(r.TrainerID), string(r.ClientID),
		r.StartsAt.UTC().Format(time.RFC3339),
		r.DurationMinutes, string(r.Status), r.Deducted, r.Notes,
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return session.ErrDuplicateSession
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id credit.SessionID) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getSession(ctx, id)
}

func (s *Store) getSession(ctx context.Context, id credit.SessionID) (*session.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trainer_id, client_id, starts_at, duration_minutes, status,
		       deducted, notes, created_at, updated_at
		FROM sessions WHERE id = ?
	`, string(id))

	r, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Record, error) {
	var (
		r                  session.Record
		startsAt           string
		createdAt, updated string
	)
	err := row.Scan(
		&r.ID, &r.TrainerID, &r.ClientID, &startsAt, &r.DurationMinutes,
		&r.Status, &r.Deducted, &r.Notes, &createdAt, &updated,
	)
	if err != nil {
		return nil, err
	}

	r.StartsAt, _ = time.Parse(time.RFC3339, startsAt)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &r, nil
}

// UpdateSession applies mutate under a compare-and-swap on status. The
// conditional WHERE clause makes the database the final arbiter of a race:
// zero rows affected means someone else changed the status first.
func (s *Store) UpdateSession(ctx context.Context, id credit.SessionID, expect session.Status, mutate func(*session.Record) error) (*session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, session.ErrNotFound
	}
	if r.Status != expect {
		return nil, session.ErrStatusConflict
	}

	before := r.Status
	if err := mutate(r); err != nil {
		return nil, err
	}
	if r.Status != before && !session.CanTransition(before, r.Status) {
		return nil, &session.InvalidTransitionError{SessionID: id, From: before, To: r.Status}
	}
	r.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET trainer_id = ?, client_id = ?, starts_at = ?, duration_minutes = ?,
		    status = ?, deducted = ?, notes = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(r.TrainerID), string(r.ClientID),
		r.StartsAt.UTC().Format(time.RFC3339), r.DurationMinutes,
		string(r.Status), r.Deducted, r.Notes,
		r.UpdatedAt.UTC().Format(time.RFC3339),
		string(id), string(before),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, session.ErrStatusConflict
	}

	return r, nil
}

func (s *Store) ListSessions(ctx context.Context, f session.Filter) ([]session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, trainer_id, client_id, starts_at, duration_minutes, status,
		       deducted, notes, created_at, updated_at
		FROM sessions
	`
	var (
		where []string
		args  []any
	)
	if f.TrainerID != "" {
		where = append(where, "trainer_id = ?")
		args = append(args, string(f.TrainerID))
	}
	if f.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, string(f.ClientID))
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.From != nil {
		where = append(where, "starts_at >= ?")
		args = append(args, f.From.UTC().Format(time.RFC3339))
	}
	if f.To != nil {
		where = append(where, "starts_at < ?")
		args = append(args, f.To.UTC().Format(time.RFC3339))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY starts_at ASC"

	return s.querySessions(ctx, query, args...)
}

// FindOverlapping returns the trainer's sessions in the given statuses whose
// window intersects [start, end). The SQL narrows by start time; the exact
// half-open overlap check happens in Go because end times are derived from
// the duration column.
func (s *Store) FindOverlapping(ctx context.Context, trainerID credit.TrainerID, start, end time.Time, statuses []session.Status) ([]session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := []any{string(trainerID), end.UTC().Format(time.RFC3339)}
	query := `
		SELECT id, trainer_id, client_id, starts_at, duration_minutes, status,
		       deducted, notes, created_at, updated_at
		FROM sessions
		WHERE trainer_id = ? AND starts_at < ?
	`
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY starts_at ASC"

	candidates, err := s.querySessions(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var out []session.Record
	for _, r := range candidates {
		if r.Overlaps(start, end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]session.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []session.Record
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_transactions", "sessions", "clients"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
