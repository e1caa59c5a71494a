// Package conflict implements the reconciliation policy for counters that
// can be mutated on both sides of the sync relationship between cycles.
//
// The one counter class in this system is the party credit balance: local
// sales decrement it while hub-side administration tops it up. Neither
// side holds a lock, so an incoming update cannot simply overwrite. The
// policy biases toward never silently erasing an unacknowledged local
// decrement. The quota (credit limit) has a single writer, the hub, and is
// always accepted.
package conflict

import "math"

// epsilon for float comparison of money-like values. The policy branches
// are tunable; only the intent (protect unreplicated local consumption)
// is fixed.
const epsilon = 1e-6

// State is the counter pair under reconciliation.
type State struct {
	Balance float64
	Limit   float64
}

// Rule identifies which policy branch produced a decision, for audit logs.
type Rule string

const (
	// RuleLocalPending keeps the local balance because an unacknowledged
	// outbox entry for this record is still in flight.
	RuleLocalPending Rule = "local_pending"

	// RuleRegrant accepts the incoming balance because the limit changed
	// alongside it: an administrative re-grant.
	RuleRegrant Rule = "regrant"

	// RuleProtectLocal keeps the lower local balance: presumed local
	// consumption not yet replicated, which must not be regressed.
	RuleProtectLocal Rule = "protect_local"

	// RuleAcceptIncoming accepts the incoming balance to repair drift
	// from consumption recorded elsewhere.
	RuleAcceptIncoming Rule = "accept_incoming"
)

// Decision is the reconciled outcome plus the branch that produced it.
type Decision struct {
	Balance float64
	Limit   float64
	Rule    Rule
}

// Reconcile applies the counter policy to one incoming update.
//
// pendingOutbox reports whether the node has an outstanding (not yet
// synced) outbox entry for this exact record. The limit is taken from the
// incoming state unconditionally in every branch.
func Reconcile(local, incoming State, pendingOutbox bool) Decision {
	d := Decision{Limit: incoming.Limit}

	switch {
	case pendingOutbox:
		// A local decrement is in flight; the incoming value predates it.
		d.Balance = local.Balance
		d.Rule = RuleLocalPending
	case local.Balance < incoming.Balance && limitChanged(local, incoming):
		d.Balance = incoming.Balance
		d.Rule = RuleRegrant
	case local.Balance < incoming.Balance:
		d.Balance = local.Balance
		d.Rule = RuleProtectLocal
	default:
		d.Balance = incoming.Balance
		d.Rule = RuleAcceptIncoming
	}
	return d
}

func limitChanged(local, incoming State) bool {
	return math.Abs(local.Limit-incoming.Limit) > epsilon
}
