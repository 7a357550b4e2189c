// Package weight computes the voting and assessment weight an actor's
// ballot carries. The calculation is pure: it reads the membership oracle
// and the delegation registry and never mutates either.
package weight

import (
	"fmt"
	"sync"

	"github.com/villagemutual/core/pkg/membership"
	"github.com/villagemutual/core/pkg/platform"
)

// Contributions above this threshold earn one bonus weight unit.
const contributionBonusThreshold = 1000

// Delegations maps delegators to their single active delegate.
// Last write wins; a delegator has at most one delegate at a time.
type Delegations struct {
	mu        sync.RWMutex
	delegates map[membership.Identity]membership.Identity
}

// NewDelegations creates an empty registry.
func NewDelegations() *Delegations {
	return &Delegations{delegates: make(map[membership.Identity]membership.Identity)}
}

// Set records delegator -> delegate, replacing any prior delegation.
func (d *Delegations) Set(delegator, delegate membership.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delegates[delegator] = delegate
}

// Clear removes a delegator's delegation.
func (d *Delegations) Clear(delegator membership.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.delegates, delegator)
}

// DelegatorsOf returns all delegators currently pointing at the delegate.
func (d *Delegations) DelegatorsOf(delegate membership.Identity) []membership.Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []membership.Identity
	for from, to := range d.delegates {
		if to == delegate {
			out = append(out, from)
		}
	}
	return out
}

// Calculator derives an actor's weight from membership data and delegations.
type Calculator struct {
	oracle      membership.Oracle
	delegations *Delegations
}

// NewCalculator creates a calculator over the given oracle and registry.
func NewCalculator(oracle membership.Oracle, delegations *Delegations) *Calculator {
	return &Calculator{oracle: oracle, delegations: delegations}
}

// Weight computes the actor's current weight:
// 1 for approved membership, +1 for council membership, +reputation/2,
// +1 per approved delegator, +1 for contributions above the bonus
// threshold. Unapproved actors with nothing delegated score zero.
func (c *Calculator) Weight(id membership.Identity) int64 {
	var w int64

	if c.oracle.IsApproved(id) {
		w++
	}
	if c.oracle.IsCouncilMember(id) {
		w++
	}

	w += int64(c.oracle.Reputation(id)) / 2

	if c.delegations != nil {
		for _, delegator := range c.delegations.DelegatorsOf(id) {
			if c.oracle.IsApproved(delegator) {
				w++
			}
		}
	}

	if c.oracle.ContributionTotal(id) > contributionBonusThreshold {
		w++
	}

	return w
}

// Delegate records a delegation after checking both parties are approved.
func (c *Calculator) Delegate(delegator, delegate membership.Identity) error {
	if !c.oracle.IsApproved(delegator) {
		return fmt.Errorf("delegator %s: %w", delegator, platform.ErrUnauthorized)
	}
	if !c.oracle.IsApproved(delegate) {
		return fmt.Errorf("delegate %s: %w", delegate, platform.ErrUnauthorized)
	}
	if delegator == delegate {
		return fmt.Errorf("self-delegation: %w", platform.ErrInvalidInput)
	}
	c.delegations.Set(delegator, delegate)
	return nil
}
