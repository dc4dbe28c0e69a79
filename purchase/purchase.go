/*
purchase.go - Credit package catalog and purchases

PURPOSE:
  Sells bundles of session credits. A purchase allocates the bundle's credit
  count through the ledger (one purchase transaction, full audit trail) and
  returns a receipt with the monetary amount. Prices are exact decimals;
  credits themselves are whole numbers.
*/
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/studiofit/session-engine/credit"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrPackageNotFound is returned for an unknown package ID.
	ErrPackageNotFound = errors.New("package not found")
)

// =============================================================================
// CATALOG
// =============================================================================

// Package is one purchasable credit bundle.
type Package struct {
	ID      string
	Name    string
	Credits int
	Price   decimal.Decimal
}

// PricePerCredit returns the effective per-credit price, rounded to cents.
func (p Package) PricePerCredit() decimal.Decimal {
	if p.Credits == 0 {
		return decimal.Zero
	}
	return p.Price.DivRound(decimal.NewFromInt(int64(p.Credits)), 2)
}

// Catalog holds the packages on offer, in display order.
type Catalog []Package

// DefaultCatalog returns the studio's standard offering.
func DefaultCatalog() Catalog {
	return Catalog{
		{ID: "single", Name: "Single Session", Credits: 1, Price: decimal.NewFromInt(90)},
		{ID: "pack-5", Name: "5-Session Pack", Credits: 5, Price: decimal.NewFromInt(425)},
		{ID: "pack-10", Name: "10-Session Pack", Credits: 10, Price: decimal.NewFromInt(800)},
		{ID: "pack-20", Name: "20-Session Pack", Credits: 20, Price: decimal.NewFromInt(1500)},
	}
}

// Find returns the package with the given ID.
func (c Catalog) Find(id string) (Package, error) {
	for _, p := range c {
		if p.ID == id {
			return p, nil
		}
	}
	return Package{}, fmt.Errorf("%w: %s", ErrPackageNotFound, id)
}

// =============================================================================
// SERVICE
// =============================================================================

// Receipt records one completed purchase.
type Receipt struct {
	ID         string
	ClientID   credit.ClientID
	PackageID  string
	Credits    int
	Price      decimal.Decimal
	NewBalance int
	At         time.Time
}

type Service struct {
	Catalog Catalog
	Ledger  credit.Ledger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewService(catalog Catalog, ledger credit.Ledger) *Service {
	return &Service{
		Catalog: catalog,
		Ledger:  ledger,
		Now:     time.Now,
	}
}

// Purchase allocates a package's credits to the client and returns the
// receipt. The ledger transaction is the durable record; the receipt is a
// convenience for the caller.
func (s *Service) Purchase(ctx context.Context, clientID credit.ClientID, packageID string) (*Receipt, error) {
	pkg, err := s.Catalog.Find(packageID)
	if err != nil {
		return nil, err
	}

	balance, err := s.Ledger.Allocate(ctx, clientID, pkg.Credits, credit.ReasonPurchase,
		fmt.Sprintf("purchase %s (%s)", pkg.ID, pkg.Price.StringFixed(2)))
	if err != nil {
		return nil, err
	}

	return &Receipt{
		ID:         uuid.NewString(),
		ClientID:   clientID,
		PackageID:  pkg.ID,
		Credits:    pkg.Credits,
		Price:      pkg.Price,
		NewBalance: balance,
		At:         s.Now(),
	}, nil
}
