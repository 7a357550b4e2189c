// Package dao owns proposal governance: creation, weighted voting against
// a category-dependent quorum, deadline/early finalization and the
// execution of passed proposals through category handlers.
package dao

import (
	"fmt"
	"sync"
	"time"

	"github.com/villagemutual/core/pkg/audit"
	"github.com/villagemutual/core/pkg/ballot"
	"github.com/villagemutual/core/pkg/membership"
	"github.com/villagemutual/core/pkg/platform"
	"github.com/villagemutual/core/pkg/weight"
)

// Handler executes a passed proposal's intent. Handlers are the external
// collaborators that actually change user status, plans, funds or
// governance parameters.
type Handler func(in Intent) error

// Engine runs the proposal state machine.
type Engine struct {
	mu        sync.Mutex
	proposals map[uint64]*Proposal
	nextID    uint64
	handlers  map[Category]Handler

	cfg     platform.Config
	oracle  membership.Oracle
	calc    *weight.Calculator
	ballots *ballot.Ledger
	emitter audit.Emitter
	clock   func() time.Time
}

// NewEngine wires the governance engine.
func NewEngine(oracle membership.Oracle, calc *weight.Calculator, ballots *ballot.Ledger, cfg platform.Config, emitter audit.Emitter) *Engine {
	if emitter == nil {
		emitter = audit.Discard{}
	}
	return &Engine{
		proposals: make(map[uint64]*Proposal),
		handlers:  make(map[Category]Handler),
		cfg:       cfg,
		oracle:    oracle,
		calc:      calc,
		ballots:   ballots,
		emitter:   emitter,
		clock:     time.Now,
	}
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// SetHandler registers the execution handler for a category.
func (e *Engine) SetHandler(c Category, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[c] = h
}

// CreateProposal opens a proposal for voting. User-approval proposals are
// open to any approved member; everything else requires council
// membership. The intent is validated for its category here, once.
func (e *Engine) CreateProposal(proposer membership.Identity, c Category, title, description string, in Intent) (uint64, error) {
	if !e.oracle.IsApproved(proposer) {
		return 0, fmt.Errorf("proposer %s: %w", proposer, platform.ErrUnauthorized)
	}
	if !openToAllMembers(c) && !e.oracle.IsCouncilMember(proposer) {
		return 0, fmt.Errorf("category %s is council-only, proposer %s: %w", c, proposer, platform.ErrUnauthorized)
	}
	if title == "" {
		return 0, fmt.Errorf("proposal title empty: %w", platform.ErrInvalidInput)
	}
	if err := in.Validate(c); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	e.nextID++
	p := &Proposal{
		ID:             e.nextID,
		Proposer:       proposer,
		Category:       c,
		Title:          title,
		Description:    description,
		Intent:         in,
		Status:         StatusOpen,
		VotingStart:    now,
		VotingEnd:      now.Add(e.cfg.ProposalDuration),
		RequiredQuorum: quorumFor(c, e.cfg.MinimumQuorum),
		CreatedAt:      now,
	}
	e.proposals[p.ID] = p

	e.emitter.Emit("proposal.created", subjectRef(p.ID), string(proposer), map[string]any{
		"category": string(c),
		"quorum":   p.RequiredQuorum,
		"title":    title,
	})
	return p.ID, nil
}

// VoteOnProposal records a weighted vote and immediately attempts
// finalization. Zero-weight voters are rejected. A proposal whose deadline
// already elapsed is finalized lazily here and the vote is not counted.
func (e *Engine) VoteOnProposal(voter membership.Identity, proposalID uint64, inFavor bool) error {
	if !e.oracle.IsApproved(voter) {
		return fmt.Errorf("voter %s: %w", voter, platform.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return fmt.Errorf("proposal %d: %w", proposalID, platform.ErrNotFound)
	}
	if p.Status != StatusOpen {
		return fmt.Errorf("proposal %d in state %s: %w", proposalID, p.Status, platform.ErrAlreadyProcessed)
	}

	now := e.clock()
	if now.After(p.VotingEnd) {
		// Expiry is detected lazily; the late vote closes the proposal
		// but is not counted.
		e.finalizeLocked(p, now)
		return fmt.Errorf("proposal %d voting closed: %w", proposalID, platform.ErrAlreadyProcessed)
	}

	// Weight is computed only for votes that can still count.
	w := e.calc.Weight(voter)
	if w == 0 {
		return fmt.Errorf("voter %s has no voting weight: %w", voter, platform.ErrUnauthorized)
	}

	subject := ballot.Subject{Kind: ballot.SubjectProposal, ID: proposalID}
	if _, err := e.ballots.Cast(subject, voter, inFavor, w, ""); err != nil {
		return err
	}

	if inFavor {
		p.ForWeight += w
	} else {
		p.AgainstWeight += w
	}
	p.VotesCast++

	e.emitter.Emit("proposal.voted", subjectRef(proposalID), string(voter), map[string]any{
		"in_favor": inFavor,
		"weight":   w,
	})

	e.finalizeLocked(p, now)
	return nil
}

// Finalize applies the finalization policy to a proposal right now.
// Anyone may call it; it is how expired proposals get closed without a
// further vote.
func (e *Engine) Finalize(proposalID uint64) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return "", fmt.Errorf("proposal %d: %w", proposalID, platform.ErrNotFound)
	}
	e.finalizeLocked(p, e.clock())
	return p.Status, nil
}

// finalizeLocked closes a proposal once either the deadline elapsed or
// quorum is reached. Quorum counts ballots cast; once met, the weighted
// tally decides immediately, without waiting for the deadline. Quorum
// unmet at the deadline fails the proposal.
func (e *Engine) finalizeLocked(p *Proposal, now time.Time) {
	if p.Status != StatusOpen {
		return
	}

	quorumMet := int64(p.VotesCast) >= p.RequiredQuorum
	deadline := now.After(p.VotingEnd)
	if !quorumMet && !deadline {
		return
	}

	switch {
	case !quorumMet:
		p.Status = StatusFailed
	case p.ForWeight > p.AgainstWeight:
		p.Status = StatusPassed
	default:
		p.Status = StatusRejected
	}

	e.emitter.Emit("proposal.finalized", subjectRef(p.ID), string(p.Proposer), map[string]any{
		"status":  string(p.Status),
		"for":     p.ForWeight,
		"against": p.AgainstWeight,
		"votes":   p.VotesCast,
		"quorum":  p.RequiredQuorum,
	})
}

// ExecuteProposal runs a passed proposal's category handler. Council-only.
// On handler failure the proposal stays Passed and execution may be
// retried.
func (e *Engine) ExecuteProposal(executor membership.Identity, proposalID uint64) error {
	if !e.oracle.IsCouncilMember(executor) {
		return fmt.Errorf("executor %s: %w", executor, platform.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return fmt.Errorf("proposal %d: %w", proposalID, platform.ErrNotFound)
	}
	if p.Status != StatusPassed {
		return fmt.Errorf("proposal %d in state %s: %w", proposalID, p.Status, platform.ErrAlreadyProcessed)
	}

	h, ok := e.handlers[p.Category]
	if !ok {
		return fmt.Errorf("no handler for category %s: %w", p.Category, platform.ErrInvalidInput)
	}
	if err := h(p.Intent); err != nil {
		return fmt.Errorf("execute proposal %d: %w", proposalID, err)
	}

	p.Status = StatusExecuted
	e.emitter.Emit("proposal.executed", subjectRef(proposalID), string(executor), map[string]any{
		"category": string(p.Category),
	})
	return nil
}

// DelegateVote assigns the delegator's weight contribution to the
// delegate. Last write wins; both parties must be approved.
func (e *Engine) DelegateVote(delegator, delegate membership.Identity) error {
	if err := e.calc.Delegate(delegator, delegate); err != nil {
		return err
	}
	e.emitter.Emit("vote.delegated", "delegation/"+string(delegator), string(delegator), map[string]any{
		"delegate": string(delegate),
	})
	return nil
}

// GetProposal returns a copy of a proposal.
func (e *Engine) GetProposal(proposalID uint64) (Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[proposalID]
	if !ok {
		return Proposal{}, fmt.Errorf("proposal %d: %w", proposalID, platform.ErrNotFound)
	}
	return *p, nil
}

// ProposalsByStatus returns proposals currently in the given status, in
// creation order.
func (e *Engine) ProposalsByStatus(s Status) []Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Proposal
	for id := uint64(1); id <= e.nextID; id++ {
		if p, ok := e.proposals[id]; ok && p.Status == s {
			out = append(out, *p)
		}
	}
	return out
}

func subjectRef(id uint64) string {
	return fmt.Sprintf("proposal/%d", id)
}
