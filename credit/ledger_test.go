package credit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiofit/session-engine/credit"
	"github.com/studiofit/session-engine/event"
	"github.com/studiofit/session-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*credit.DefaultLedger, *memory.Store, *event.Recorder) {
	t.Helper()
	store := memory.New()
	rec := event.NewRecorder()
	ledger := credit.NewLedger(store, rec)
	return ledger, store, rec
}

func seedClient(t *testing.T, store *memory.Store, id credit.ClientID, name string) {
	t.Helper()
	err := store.SaveClient(context.Background(), credit.Client{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

// =============================================================================
// ALLOCATE
// =============================================================================

func TestLedger_Allocate_IncreasesBalance(t *testing.T) {
	// GIVEN: A client with no credits
	// WHEN: Allocating a 10-pack
	// THEN: Balance is 10 and the purchase transaction is on the ledger

	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()
	seedClient(t, store, "alice", "Alice")

	balance, err := ledger.Allocate(ctx, "alice", 10, credit.ReasonPurchase, "10-pack")
	require.NoError(t, err)
	assert.Equal(t, 10, balance)

	txs, err := ledger.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, 10, txs[0].Delta)
	assert.Equal(t, credit.ReasonPurchase, txs[0].Reason)
	assert.Equal(t, "10-pack", txs[0].Note)
}

func TestLedger_Allocate_RejectsNonPositiveAmounts(t *testing.T) {
	// GIVEN: A client
	// WHEN: Allocating zero or negative credits
	// THEN: The ledger rejects with ErrInvalidAmount and writes nothing

	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()
	seedClient(t, store, "alice", "Alice")

	for _, amount := range []int{0, -5} {
		_, err := ledger.Allocate(ctx, "alice", amount, credit.ReasonPurchase, "")
		assert.ErrorIs(t, err, credit.ErrInvalidAmount)

		var invErr *credit.InvalidAmountError
		assert.ErrorAs(t, err, &invErr)
		assert.Equal(t, amount, invErr.Amount)
	}

	txs, err := ledger.History(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestLedger_Allocate_UnknownClient(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.Allocate(context.Background(), "ghost", 5, credit.ReasonPurchase, "")
	assert.ErrorIs(t, err, credit.ErrClientNotFound)
}

// =============================================================================
// DEBIT
// =============================================================================

func TestLedger_Debit_InsufficientCredits(t *testing.T) {
	// GIVEN: A client with 1 credit
	// WHEN: Debiting 2
	// THEN: Rejected with InsufficientCreditsError; balance never goes negative

	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()
	seedClient(t, store, "alice", "Alice")
	_, err := ledger.Allocate(ctx, "alice", 1, credit.ReasonPurchase, "")
	require.NoError(t, err)

	_, err = ledger.Debit(ctx, "alice", 2, "sess-1")
	assert.ErrorIs(t, err, credit.ErrInsufficientCredits)

	var insErr *credit.InsufficientCreditsError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, 1, insErr.Available)
	assert.Equal(t, 2, insErr.Requested)

	balance, err := ledger.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, balance)
}

func TestLedger_Debit_IdempotentPerSession(t *testing.T) {
	// GIVEN: A session already debited for a client
	// WHEN: The same session is debited again (duplicate trigger upstream)
	// THEN: No-op returning the current balance; no second transaction, no
	//       second event

	ledger, store, rec := newTestLedger(t)
	ctx := context.Background()
	seedClient(t, store, "alice", "Alice")
	_, err := ledger.Allocate(ctx, "alice", 10, credit.ReasonPurchase, "")
	require.NoError(t, err)

	first, err := ledger.Debit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 9, first)

	again, err := ledger.Debit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 9, again, "repeat debit must not change the balance")

	txs, err := store.TransactionsBySession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1, "only one debit transaction per session")

	// One allocate + one debit event; the no-op emits nothing.
	assert.Equal(t, 2, rec.CountOf(event.CreditChanged))
}

// =============================================================================
// REVERSE DEBIT
// =============================================================================

func TestLedger_ReverseDebit_RestoresBalanceAndAllowsRetry(t *testing.T) {
	// GIVEN: A debited session whose booking failed downstream
	// WHEN: The debit is reversed, then the booking retries the debit
	// THEN: The rollback restores the balance and the retry debits again
	//       instead of silently no-opping

	ledger, store, rec := newTestLedger(t)
	ctx := context.Background()
	seedClient(t, store, "alice", "Alice")
	_, err := ledger.Allocate(ctx, "alice", 5, credit.ReasonPurchase, "")
	require.NoError(t, err)

	_, err = ledger.Debit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)

	balance, err := ledger.ReverseDebit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 5, balance)

	retry, err := ledger.Debit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 4, retry, "retry after a rollback must consume a credit")

	txs, err := store.TransactionsBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, credit.ReasonBookingRollback, txs[1].Reason)
	assert.Equal(t, 1, txs[1].Delta)

	// Allocate + debit + rollback + retry debit, all announced.
	assert.Equal(t, 4, rec.CountOf(event.CreditChanged))
}

func TestLedger_ReverseDebit_LeavesRefundAvailable(t *testing.T) {
	// GIVEN: A session whose first debit was rolled back and then rebooked
	// WHEN: The session is later cancelled with a refund
	// THEN: The refund succeeds; the rollback did not consume the session's
	//       one refund

	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()
	seedClient(t, store, "alice", "Alice")
	_, err := ledger.Allocate(ctx, "alice", 5, credit.ReasonPurchase, "")
	require.NoError(t, err)

	_, err = ledger.Debit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)
	_, err = ledger.ReverseDebit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)

	balance, err := ledger.Refund(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 5, balance)

	txs, err := ledger.History(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, balance, credit.SumDeltas(txs))
}

func TestLedger_ReverseDebit_RequiresStandingDebit(t *testing.T) {
	// GIVEN: A session with no standing debit
	// WHEN: Reversing
	// THEN: Rejected; the balance cannot be inflated by stray rollbacks

	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()
	seedClient(t, store, "alice", "Alice")
	_, err := ledger.Allocate(ctx, "alice", 5, credit.ReasonPurchase, "")
	require.NoError(t, err)

	_, err = ledger.ReverseDebit(ctx, "alice", 1, "sess-1")
	require.Error(t, err)

	// A second reversal after a real debit+rollback is rejected too.
	_, err = ledger.Debit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)
	_, err = ledger.ReverseDebit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)
	_, err = ledger.ReverseDebit(ctx, "alice", 1, "sess-1")
	require.Error(t, err)

	balance, err := ledger.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, balance)
}

// =============================================================================
// REFUND
// =============================================================================

func TestLedger_Refund_OnlyOncePerSession(t *testing.T) {
	// GIVEN: A debited session that was already refunded
	// WHEN: Refunding the same session again
	// THEN: Rejected with AlreadyRefundedError; balance unchanged

	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()
	seedClient(t, store, "alice", "Alice")
	_, err := ledger.Allocate(ctx, "alice", 10, credit.ReasonPurchase, "")
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)

	balance, err := ledger.Refund(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 10, balance)

	_, err = ledger.Refund(ctx, "alice", 1, "sess-1")
	assert.ErrorIs(t, err, credit.ErrAlreadyRefunded)

	var refErr *credit.AlreadyRefundedError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, credit.SessionID("sess-1"), refErr.SessionID)

	balance, err = ledger.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestLedger_TransactionDeltasAlwaysSumToBalance(t *testing.T) {
	// GIVEN: A mixed history of allocations, debits, refunds and a completion
	// WHEN: Summing every transaction delta
	// THEN: The sum equals the live balance at every step

	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()
	seedClient(t, store, "alice", "Alice")

	check := func() {
		txs, err := ledger.History(ctx, "alice")
		require.NoError(t, err)
		balance, err := ledger.Balance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, balance, credit.SumDeltas(txs))
	}

	_, err := ledger.Allocate(ctx, "alice", 15, credit.ReasonPurchase, "")
	require.NoError(t, err)
	check()

	for i, sid := range []credit.SessionID{"s1", "s2", "s3"} {
		_, err = ledger.Debit(ctx, "alice", 1, sid)
		require.NoError(t, err)
		check()

		if i == 1 {
			_, err = ledger.Refund(ctx, "alice", 1, sid)
			require.NoError(t, err)
			check()
		}
	}

	require.NoError(t, ledger.RecordCompletion(ctx, "alice", "s1"))
	check()
}

func TestLedger_RecordCompletion_NoBalanceMovement(t *testing.T) {
	// GIVEN: A debited session
	// WHEN: Recording its completion marker
	// THEN: Zero-delta transaction appended, balance untouched, no event

	ledger, store, rec := newTestLedger(t)
	ctx := context.Background()
	seedClient(t, store, "alice", "Alice")
	_, err := ledger.Allocate(ctx, "alice", 5, credit.ReasonPurchase, "")
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)

	events := rec.CountOf(event.CreditChanged)
	require.NoError(t, ledger.RecordCompletion(ctx, "alice", "sess-1"))

	balance, err := ledger.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, balance)
	assert.Equal(t, events, rec.CountOf(event.CreditChanged))

	txs, err := store.TransactionsBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, credit.ReasonCompletionNoop, txs[1].Reason)
	assert.Zero(t, txs[1].Delta)
}

// =============================================================================
// EVENTS
// =============================================================================

func TestLedger_EmitsCreditChanged(t *testing.T) {
	// GIVEN: A ledger with a recording emitter
	// WHEN: Debiting a credit
	// THEN: credit_changed carries delta, new balance and reason

	ledger, store, rec := newTestLedger(t)
	ctx := context.Background()
	seedClient(t, store, "alice", "Alice")
	_, err := ledger.Allocate(ctx, "alice", 5, credit.ReasonPurchase, "")
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, "alice", 1, "sess-1")
	require.NoError(t, err)

	ev := rec.LastOf(event.CreditChanged)
	require.NotNil(t, ev)
	assert.Equal(t, "alice", ev.Payload["client_id"])
	assert.Equal(t, -1, ev.Payload["delta"])
	assert.Equal(t, 4, ev.Payload["new_balance"])
	assert.Equal(t, string(credit.ReasonBookingDebit), ev.Payload["reason"])
}
