package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiofit/session-engine/credit"
	"github.com/studiofit/session-engine/session"
	"github.com/studiofit/session-engine/store/memory"
)

func TestWithTx_SnapshotRollback(t *testing.T) {
	// GIVEN: A transaction that mutates a client and the ledger, then fails
	// WHEN: WithTx returns the error
	// THEN: Both mutations are rolled back

	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.SaveClient(ctx, credit.Client{ID: "alice", Name: "Alice", SessionsRemaining: 5}))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s credit.Store) error {
		if _, err := s.UpdateClient(ctx, "alice", func(c *credit.Client) error {
			c.SessionsRemaining = 0
			return nil
		}); err != nil {
			return err
		}
		if err := s.AppendTransaction(ctx, credit.Transaction{
			ID: "t1", ClientID: "alice", Delta: -5, Reason: credit.ReasonBookingDebit,
			RelatedSessionID: "s1", CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	c, err := store.GetClient(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, c.SessionsRemaining)

	txs, err := store.TransactionsByClient(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, txs)

	// The rolled-back debit does not poison the uniqueness index.
	err = store.AppendTransaction(ctx, credit.Transaction{
		ID: "t2", ClientID: "alice", Delta: -1, Reason: credit.ReasonBookingDebit,
		RelatedSessionID: "s1", CreatedAt: time.Now().UTC(),
	})
	assert.NoError(t, err)
}

func TestDebitAndRefundUniquePerSession(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	debit := credit.Transaction{
		ID: "t1", ClientID: "alice", Delta: -1, Reason: credit.ReasonBookingDebit,
		RelatedSessionID: "s1", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.AppendTransaction(ctx, debit))

	debit.ID = "t2"
	assert.ErrorIs(t, store.AppendTransaction(ctx, debit), credit.ErrDuplicateDebit)

	refund := credit.Transaction{
		ID: "t3", ClientID: "alice", Delta: 1, Reason: credit.ReasonCancellationRefund,
		RelatedSessionID: "s1", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.AppendTransaction(ctx, refund))

	refund.ID = "t4"
	assert.ErrorIs(t, store.AppendTransaction(ctx, refund), credit.ErrAlreadyRefunded)
}

func TestRolledBackDebitCanBeRetried(t *testing.T) {
	// A booking_rollback clears the standing debit: a fresh debit for the
	// same session is accepted, and the refund slot stays free.
	store := memory.New()
	ctx := context.Background()

	entry := func(id string, delta int, reason credit.Reason) credit.Transaction {
		return credit.Transaction{
			ID: credit.TransactionID(id), ClientID: "alice", Delta: delta,
			Reason: reason, RelatedSessionID: "s1", CreatedAt: time.Now().UTC(),
		}
	}

	require.NoError(t, store.AppendTransaction(ctx, entry("t1", -1, credit.ReasonBookingDebit)))
	require.NoError(t, store.AppendTransaction(ctx, entry("t2", 1, credit.ReasonBookingRollback)))

	require.NoError(t, store.AppendTransaction(ctx, entry("t3", -1, credit.ReasonBookingDebit)))
	assert.ErrorIs(t, store.AppendTransaction(ctx, entry("t4", -1, credit.ReasonBookingDebit)), credit.ErrDuplicateDebit)

	assert.NoError(t, store.AppendTransaction(ctx, entry("t5", 1, credit.ReasonCancellationRefund)))
}

func TestUpdateSession_CASAndValidation(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	rec := session.Record{
		ID: "s1", TrainerID: "trainer-sam",
		StartsAt:        time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		Status:          session.StatusAvailable,
	}
	require.NoError(t, store.CreateSession(ctx, rec))

	_, err := store.UpdateSession(ctx, "s1", session.StatusConfirmed, func(r *session.Record) error {
		r.Status = session.StatusCompleted
		return nil
	})
	assert.ErrorIs(t, err, session.ErrStatusConflict)

	_, err = store.UpdateSession(ctx, "s1", session.StatusAvailable, func(r *session.Record) error {
		r.Status = session.StatusCompleted
		return nil
	})
	var transErr *session.InvalidTransitionError
	assert.ErrorAs(t, err, &transErr)

	updated, err := store.UpdateSession(ctx, "s1", session.StatusAvailable, func(r *session.Record) error {
		r.Status = session.StatusConfirmed
		r.ClientID = "alice"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, session.StatusConfirmed, updated.Status)
	assert.False(t, updated.UpdatedAt.IsZero())
}

func TestReset(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.SaveClient(ctx, credit.Client{ID: "alice", Name: "Alice"}))
	require.NoError(t, store.CreateSession(ctx, session.Record{ID: "s1", Status: session.StatusAvailable}))
	require.NoError(t, store.Reset(ctx))

	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)

	rec, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
