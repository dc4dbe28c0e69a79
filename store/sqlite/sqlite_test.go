package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiofit/session-engine/credit"
	"github.com/studiofit/session-engine/session"
	"github.com/studiofit/session-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func tx(id, client string, delta int, reason credit.Reason, sessionID string) credit.Transaction {
	return credit.Transaction{
		ID:               credit.TransactionID(id),
		ClientID:         credit.ClientID(client),
		Delta:            delta,
		Reason:           reason,
		RelatedSessionID: credit.SessionID(sessionID),
		CreatedAt:        time.Now().UTC(),
	}
}

// =============================================================================
// LEDGER UNIQUENESS
// =============================================================================

func TestAppendTransaction_SecondDebitForSessionRejected(t *testing.T) {
	// GIVEN: A booking debit already on the ledger for a session
	// WHEN: A second debit for the same session is appended directly,
	//       bypassing the ledger's own check
	// THEN: The standing-debit trigger rejects it as ErrDuplicateDebit

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendTransaction(ctx, tx("t1", "alice", -1, credit.ReasonBookingDebit, "sess-1")))

	err := store.AppendTransaction(ctx, tx("t2", "alice", -1, credit.ReasonBookingDebit, "sess-1"))
	assert.ErrorIs(t, err, credit.ErrDuplicateDebit)

	// A debit for a different session is fine.
	assert.NoError(t, store.AppendTransaction(ctx, tx("t3", "alice", -1, credit.ReasonBookingDebit, "sess-2")))
}

func TestAppendTransaction_SecondRefundForSessionRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendTransaction(ctx, tx("t1", "alice", -1, credit.ReasonBookingDebit, "sess-1")))
	require.NoError(t, store.AppendTransaction(ctx, tx("t2", "alice", 1, credit.ReasonCancellationRefund, "sess-1")))

	err := store.AppendTransaction(ctx, tx("t3", "alice", 1, credit.ReasonCancellationRefund, "sess-1"))
	assert.ErrorIs(t, err, credit.ErrAlreadyRefunded)
}

func TestAppendTransaction_RolledBackDebitCanBeRetried(t *testing.T) {
	// GIVEN: A debit followed by its compensating rollback
	// WHEN: A fresh debit for the session is appended
	// THEN: Accepted; only a STANDING debit blocks, and the rollback did not
	//       consume the session's one refund

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendTransaction(ctx, tx("t1", "alice", -1, credit.ReasonBookingDebit, "sess-1")))
	require.NoError(t, store.AppendTransaction(ctx, tx("t2", "alice", 1, credit.ReasonBookingRollback, "sess-1")))

	require.NoError(t, store.AppendTransaction(ctx, tx("t3", "alice", -1, credit.ReasonBookingDebit, "sess-1")))

	// The retried debit stands, so a further debit is rejected again.
	err := store.AppendTransaction(ctx, tx("t4", "alice", -1, credit.ReasonBookingDebit, "sess-1"))
	assert.ErrorIs(t, err, credit.ErrDuplicateDebit)

	// The refund slot is still free.
	assert.NoError(t, store.AppendTransaction(ctx, tx("t5", "alice", 1, credit.ReasonCancellationRefund, "sess-1")))
}

func TestAppendTransaction_PurchasesAreNotConstrained(t *testing.T) {
	// Only booking debits and refunds are unique per session; everything
	// else may repeat.
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendTransaction(ctx, tx("t1", "alice", 10, credit.ReasonPurchase, "")))
	require.NoError(t, store.AppendTransaction(ctx, tx("t2", "alice", 10, credit.ReasonPurchase, "")))

	txs, err := store.TransactionsByClient(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestTransactions_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := credit.Transaction{
		ID:               "t1",
		ClientID:         "alice",
		Delta:            -1,
		Reason:           credit.ReasonBookingDebit,
		RelatedSessionID: "sess-1",
		Note:             "booked via app",
		CreatedAt:        time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.AppendTransaction(ctx, in))

	bySession, err := store.TransactionsBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, in, bySession[0])
}

// =============================================================================
// CLIENTS
// =============================================================================

func TestClients_SaveGetUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	missing, err := store.GetClient(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing, "missing client is nil, not an error")

	c := credit.Client{
		ID:                "alice",
		Name:              "Alice Morgan",
		SessionsRemaining: 10,
		CreatedAt:         time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveClient(ctx, c))

	got, err := store.GetClient(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c, *got)

	updated, err := store.UpdateClient(ctx, "alice", func(c *credit.Client) error {
		c.SessionsRemaining--
		c.SessionsScheduled++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, updated.SessionsRemaining)
	assert.Equal(t, 1, updated.SessionsScheduled)

	_, err = store.UpdateClient(ctx, "ghost", func(*credit.Client) error { return nil })
	assert.ErrorIs(t, err, credit.ErrClientNotFound)
}

// =============================================================================
// TRANSACTIONS (WithTx)
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that appends a ledger row and then fails
	// WHEN: WithTx returns the error
	// THEN: The appended row is gone

	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s credit.Store) error {
		if err := s.AppendTransaction(ctx, tx("t1", "alice", 10, credit.ReasonPurchase, "")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	txs, err := store.TransactionsByClient(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s credit.Store) error {
		if err := s.SaveClient(ctx, credit.Client{ID: "alice", Name: "Alice", CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
		return s.AppendTransaction(ctx, tx("t1", "alice", 10, credit.ReasonPurchase, ""))
	})
	require.NoError(t, err)

	txs, err := store.TransactionsByClient(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

// =============================================================================
// SESSIONS
// =============================================================================

func mondaySlot(id string, offset time.Duration) session.Record {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).Add(offset)
	return session.Record{
		ID:              credit.SessionID(id),
		TrainerID:       "trainer-sam",
		StartsAt:        start,
		DurationMinutes: 60,
		Status:          session.StatusAvailable,
		CreatedAt:       start.Add(-24 * time.Hour),
		UpdatedAt:       start.Add(-24 * time.Hour),
	}
}

func TestSessions_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := mondaySlot("s1", 0)
	rec.Notes = "introductory assessment"
	require.NoError(t, store.CreateSession(ctx, rec))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec, *got)

	assert.ErrorIs(t, store.CreateSession(ctx, rec), session.ErrDuplicateSession)

	missing, err := store.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateSession_CompareAndSwap(t *testing.T) {
	// GIVEN: An available session
	// WHEN: Updating with a stale expected status
	// THEN: ErrStatusConflict; the record is untouched

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, mondaySlot("s1", 0)))

	_, err := store.UpdateSession(ctx, "s1", session.StatusConfirmed, func(r *session.Record) error {
		r.Status = session.StatusCompleted
		return nil
	})
	assert.ErrorIs(t, err, session.ErrStatusConflict)

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusAvailable, got.Status)

	updated, err := store.UpdateSession(ctx, "s1", session.StatusAvailable, func(r *session.Record) error {
		r.Status = session.StatusConfirmed
		r.ClientID = "alice"
		r.Deducted = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, session.StatusConfirmed, updated.Status)
	assert.Equal(t, credit.ClientID("alice"), updated.ClientID)
}

func TestUpdateSession_IllegalTransitionRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, mondaySlot("s1", 0)))

	_, err := store.UpdateSession(ctx, "s1", session.StatusAvailable, func(r *session.Record) error {
		r.Status = session.StatusCompleted
		return nil
	})
	var transErr *session.InvalidTransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, session.StatusAvailable, transErr.From)
	assert.Equal(t, session.StatusCompleted, transErr.To)
}

func TestListSessions_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mondaySlot("s1", 0)
	b := mondaySlot("s2", 2*time.Hour)
	b.ClientID = "alice"
	b.Status = session.StatusConfirmed
	c := mondaySlot("s3", 26*time.Hour)
	for _, r := range []session.Record{a, b, c} {
		require.NoError(t, store.CreateSession(ctx, r))
	}

	byClient, err := store.ListSessions(ctx, session.Filter{ClientID: "alice"})
	require.NoError(t, err)
	require.Len(t, byClient, 1)
	assert.Equal(t, credit.SessionID("s2"), byClient[0].ID)

	byStatus, err := store.ListSessions(ctx, session.Filter{Statuses: []session.Status{session.StatusAvailable}})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	from := a.StartsAt.Add(time.Hour)
	to := a.StartsAt.Add(25 * time.Hour)
	windowed, err := store.ListSessions(ctx, session.Filter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, credit.SessionID("s2"), windowed[0].ID)
}

func TestFindOverlapping_HalfOpenWindows(t *testing.T) {
	// GIVEN: A confirmed 09:00-10:00 session
	// WHEN: Probing adjacent and intersecting windows
	// THEN: Back-to-back windows do not collide; intersecting ones do

	store := newTestStore(t)
	ctx := context.Background()

	rec := mondaySlot("s1", 0)
	rec.Status = session.StatusConfirmed
	require.NoError(t, store.CreateSession(ctx, rec))

	statuses := []session.Status{session.StatusConfirmed, session.StatusBlocked}

	hit, err := store.FindOverlapping(ctx, "trainer-sam", rec.StartsAt.Add(30*time.Minute), rec.StartsAt.Add(90*time.Minute), statuses)
	require.NoError(t, err)
	assert.Len(t, hit, 1)

	after, err := store.FindOverlapping(ctx, "trainer-sam", rec.EndsAt(), rec.EndsAt().Add(time.Hour), statuses)
	require.NoError(t, err)
	assert.Empty(t, after)

	otherTrainer, err := store.FindOverlapping(ctx, "trainer-lee", rec.StartsAt, rec.EndsAt(), statuses)
	require.NoError(t, err)
	assert.Empty(t, otherTrainer)

	// Status filter excludes available slots.
	availOnly, err := store.FindOverlapping(ctx, "trainer-sam", rec.StartsAt, rec.EndsAt(), []session.Status{session.StatusAvailable})
	require.NoError(t, err)
	assert.Empty(t, availOnly)
}

// =============================================================================
// RESET
// =============================================================================

func TestReset_ClearsEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveClient(ctx, credit.Client{ID: "alice", Name: "Alice", CreatedAt: time.Now().UTC()}))
	require.NoError(t, store.AppendTransaction(ctx, tx("t1", "alice", 10, credit.ReasonPurchase, "")))
	require.NoError(t, store.CreateSession(ctx, mondaySlot("s1", 0)))

	require.NoError(t, store.Reset(ctx))

	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)

	sessions, err := store.ListSessions(ctx, session.Filter{})
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
