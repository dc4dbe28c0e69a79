package purchase_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiofit/session-engine/credit"
	"github.com/studiofit/session-engine/event"
	"github.com/studiofit/session-engine/purchase"
	"github.com/studiofit/session-engine/store/memory"
)

func newTestService(t *testing.T) (*purchase.Service, *credit.DefaultLedger, *memory.Store) {
	t.Helper()
	store := memory.New()
	ledger := credit.NewLedger(store, event.Nop{})
	svc := purchase.NewService(purchase.DefaultCatalog(), ledger)
	return svc, ledger, store
}

func TestCatalog_Find(t *testing.T) {
	catalog := purchase.DefaultCatalog()

	pkg, err := catalog.Find("pack-10")
	require.NoError(t, err)
	assert.Equal(t, 10, pkg.Credits)
	assert.True(t, pkg.Price.Equal(decimal.NewFromInt(800)))

	_, err = catalog.Find("pack-999")
	assert.ErrorIs(t, err, purchase.ErrPackageNotFound)
}

func TestPackage_PricePerCredit(t *testing.T) {
	pkg := purchase.Package{Credits: 20, Price: decimal.NewFromInt(1500)}
	assert.True(t, pkg.PricePerCredit().Equal(decimal.NewFromInt(75)))

	// Uneven division rounds to cents.
	odd := purchase.Package{Credits: 3, Price: decimal.NewFromInt(250)}
	assert.True(t, odd.PricePerCredit().Equal(decimal.RequireFromString("83.33")))

	assert.True(t, purchase.Package{}.PricePerCredit().IsZero())
}

func TestPurchase_AllocatesThroughLedger(t *testing.T) {
	// GIVEN: A client and the standard catalog
	// WHEN: Buying a 5-pack
	// THEN: Five credits land on the ledger and the receipt reflects it

	svc, ledger, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveClient(ctx, credit.Client{ID: "alice", Name: "Alice", CreatedAt: time.Now().UTC()}))

	receipt, err := svc.Purchase(ctx, "alice", "pack-5")
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.ID)
	assert.Equal(t, 5, receipt.Credits)
	assert.Equal(t, 5, receipt.NewBalance)
	assert.True(t, receipt.Price.Equal(decimal.NewFromInt(425)))

	balance, err := ledger.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, balance)

	txs, err := ledger.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, credit.ReasonPurchase, txs[0].Reason)
	assert.Contains(t, txs[0].Note, "pack-5")
}

func TestPurchase_UnknownPackage(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveClient(ctx, credit.Client{ID: "alice", Name: "Alice", CreatedAt: time.Now().UTC()}))

	_, err := svc.Purchase(ctx, "alice", "pack-999")
	assert.ErrorIs(t, err, purchase.ErrPackageNotFound)
}

func TestPurchase_UnknownClient(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Purchase(context.Background(), "ghost", "pack-5")
	assert.ErrorIs(t, err, credit.ErrClientNotFound)
}
