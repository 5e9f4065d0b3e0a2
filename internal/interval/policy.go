package interval

import "github.com/conorfennell/knolbot/internal/domain"

// DefaultThreshold is the per-level answer count T used by DefaultPolicy.
const DefaultThreshold = 5

// Policy decides when an item moves between periods.
type Policy struct {
	// Threshold is T. Promotion out of the period at level n needs more than n*T
	// correct answers; demotion needs more than T wrong answers at any level.
	Threshold int
}

// DefaultPolicy returns the reference policy with T = 5.
func DefaultPolicy() *Policy {
	return &Policy{Threshold: DefaultThreshold}
}

// Decision is the outcome of a policy check.
type Decision struct {
	From   domain.Period
	To     domain.Period
	Notify bool
}

// Changed reports whether the item moved to another period.
func (d Decision) Changed() bool {
	return d.From != d.To
}

// Promote is checked after a correct answer. It moves the item at most one step
// toward a longer period; Monthly is terminal.
func (p *Policy) Promote(current domain.Period, correct, wrong int) Decision {
	stay := Decision{From: current, To: current}

	next, ok := current.Longer()
	if !ok {
		return stay
	}
	if correct <= p.Threshold*current.Level() {
		return stay
	}
	return Decision{From: current, To: next, Notify: true}
}

// Demote is checked once the wrong-answer attempts for a question are exhausted.
// It moves the item at most one step toward a shorter period; Daily is terminal.
func (p *Policy) Demote(current domain.Period, correct, wrong int) Decision {
	stay := Decision{From: current, To: current}

	prev, ok := current.Shorter()
	if !ok {
		return stay
	}
	if wrong <= p.Threshold {
		return stay
	}
	return Decision{From: current, To: prev, Notify: true}
}
