/*
Package factory provides JSON to Go studio configuration conversion.

PURPOSE:
  Converts JSON studio configuration into booking.CancellationPolicy and
  purchase.Catalog values. This enables per-deployment configuration without
  code changes - a studio owner can adjust the refund cutoff or the package
  catalog in JSON, and the factory creates the proper Go structs.

WHY JSON?
  - Non-developers can modify the policy and catalog
  - Easy integration with an admin UI
  - Version control for configuration
  - Database storage of configs

JSON SCHEMA:
  {
    "cancellation_policy": {
      "client": {"cutoff_hours": 24},
      "staff":  {"waive_cutoff": true}
    },
    "packages": [
      {"id": "pack-10", "name": "10-Session Pack", "credits": 10, "price": "800.00"}
    ],
    "default_session_minutes": 60
  }

KEY FEATURES:
  - Validates structure and amounts
  - Sets sensible defaults (24h client cutoff, 60-minute sessions)
  - Exact decimal prices, never floats

USAGE:
  cfg, err := factory.ParseConfig(jsonString)
  svc.Policy = cfg.CancellationPolicy

SEE ALSO:
  - booking/policy.go: CancellationPolicy definition
  - purchase/purchase.go: Catalog definition
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/studiofit/session-engine/booking"
	"github.com/studiofit/session-engine/purchase"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the JSON representation of a studio configuration.
type ConfigJSON struct {
	CancellationPolicy    map[string]RuleJSON `json:"cancellation_policy,omitempty"`
	Packages              []PackageJSON       `json:"packages,omitempty"`
	DefaultSessionMinutes int                 `json:"default_session_minutes,omitempty"`
}

// RuleJSON is one cancellation rule keyed by actor.
type RuleJSON struct {
	CutoffHours int  `json:"cutoff_hours,omitempty"`
	WaiveCutoff bool `json:"waive_cutoff,omitempty"`
}

// PackageJSON is one purchasable package. Price is a decimal string.
type PackageJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Credits int    `json:"credits"`
	Price   string `json:"price"`
}

// =============================================================================
// STUDIO CONFIG
// =============================================================================

// StudioConfig is the parsed, validated configuration.
type StudioConfig struct {
	CancellationPolicy    booking.CancellationPolicy
	Catalog               purchase.Catalog
	DefaultSessionMinutes int
}

// ParseConfig parses a JSON string into a StudioConfig. Missing sections fall
// back to the defaults.
func ParseConfig(jsonStr string) (*StudioConfig, error) {
	var cj ConfigJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return FromJSON(cj)
}

// FromJSON converts ConfigJSON to a StudioConfig.
func FromJSON(cj ConfigJSON) (*StudioConfig, error) {
	cfg := &StudioConfig{
		CancellationPolicy:    booking.DefaultCancellationPolicy(),
		Catalog:               purchase.DefaultCatalog(),
		DefaultSessionMinutes: 60,
	}

	if len(cj.CancellationPolicy) > 0 {
		policy := booking.CancellationPolicy{}
		for actor, rj := range cj.CancellationPolicy {
			a := booking.Actor(actor)
			if !booking.ValidActor(a) {
				return nil, fmt.Errorf("unknown actor in cancellation policy: %q", actor)
			}
			if rj.CutoffHours < 0 {
				return nil, fmt.Errorf("negative cutoff for actor %q", actor)
			}
			policy[a] = booking.CancellationRule{
				CutoffWindow: time.Duration(rj.CutoffHours) * time.Hour,
				WaiveCutoff:  rj.WaiveCutoff,
			}
		}
		cfg.CancellationPolicy = policy
	}

	if len(cj.Packages) > 0 {
		catalog := make(purchase.Catalog, 0, len(cj.Packages))
		for _, pj := range cj.Packages {
			if pj.ID == "" || pj.Credits <= 0 {
				return nil, fmt.Errorf("invalid package %q: id and positive credits are required", pj.ID)
			}
			price, err := decimal.NewFromString(pj.Price)
			if err != nil {
				return nil, fmt.Errorf("invalid price for package %q: %w", pj.ID, err)
			}
			if price.IsNegative() {
				return nil, fmt.Errorf("negative price for package %q", pj.ID)
			}
			catalog = append(catalog, purchase.Package{
				ID:      pj.ID,
				Name:    pj.Name,
				Credits: pj.Credits,
				Price:   price,
			})
		}
		cfg.Catalog = catalog
	}

	if cj.DefaultSessionMinutes > 0 {
		cfg.DefaultSessionMinutes = cj.DefaultSessionMinutes
	}

	return cfg, nil
}

// ToJSON converts a StudioConfig back to its JSON representation.
func ToJSON(cfg *StudioConfig) ConfigJSON {
	cj := ConfigJSON{
		CancellationPolicy:    make(map[string]RuleJSON, len(cfg.CancellationPolicy)),
		DefaultSessionMinutes: cfg.DefaultSessionMinutes,
	}
	for actor, rule := range cfg.CancellationPolicy {
		cj.CancellationPolicy[string(actor)] = RuleJSON{
			CutoffHours: int(rule.CutoffWindow / time.Hour),
			WaiveCutoff: rule.WaiveCutoff,
		}
	}
	for _, p := range cfg.Catalog {
		cj.Packages = append(cj.Packages, PackageJSON{
			ID:      p.ID,
			Name:    p.Name,
			Credits: p.Credits,
			Price:   p.Price.StringFixed(2),
		})
	}
	return cj
}
