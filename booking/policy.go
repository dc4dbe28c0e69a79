/*
policy.go - Table-driven cancellation/refund policy

PURPOSE:
  Decides whether a cancellation refunds its credit. The rule is a table
  keyed by the cancelling actor, not an inline condition, because staff
  cancellations may waive the cutoff window while client cancellations are
  bound by it.

DEFAULT POLICY:
  client: refund iff the session starts >= 24h from now AND a credit was
          actually deducted
  staff:  window waived; refund iff a credit was deducted

  Either rule can be replaced per deployment (see factory.ParseConfig).
*/
package booking

import "time"

// Actor identifies who initiated a cancellation.
type Actor string

const (
	ActorClient Actor = "client"
	ActorStaff  Actor = "staff"
)

// ValidActor reports whether a is a known actor kind.
func ValidActor(a Actor) bool {
	return a == ActorClient || a == ActorStaff
}

// CancellationRule is one row of the policy table.
type CancellationRule struct {
	// CutoffWindow is the minimum lead time before the session start for a
	// refund to be issued.
	CutoffWindow time.Duration

	// WaiveCutoff ignores CutoffWindow entirely (typical for staff).
	WaiveCutoff bool
}

// CancellationPolicy maps each actor to its refund rule.
type CancellationPolicy map[Actor]CancellationRule

// DefaultCancellationPolicy returns the studio default: clients are bound by
// a 24-hour cutoff, staff cancellations waive it.
func DefaultCancellationPolicy() CancellationPolicy {
	return CancellationPolicy{
		ActorClient: {CutoffWindow: 24 * time.Hour},
		ActorStaff:  {WaiveCutoff: true},
	}
}

// RefundEligible applies the table: a refund is issued iff a credit was
// deducted for the session and the actor's rule is satisfied at now.
func (p CancellationPolicy) RefundEligible(actor Actor, startsAt, now time.Time, deducted bool) bool {
	if !deducted {
		return false
	}
	rule, ok := p[actor]
	if !ok {
		// Unknown actors get the strictest known rule rather than a free pass.
		rule = CancellationRule{CutoffWindow: 24 * time.Hour}
	}
	if rule.WaiveCutoff {
		return true
	}
	return startsAt.Sub(now) >= rule.CutoffWindow
}
