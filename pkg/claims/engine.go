// Package claims owns the claim lifecycle: submission, the three
// finalization paths (direct council decision, multi-assessor majority,
// general-member vote) and the payout that debits the safety pool.
package claims

import (
	"fmt"
	"sync"
	"time"

	"github.com/villagemutual/core/pkg/audit"
	"github.com/villagemutual/core/pkg/ballot"
	"github.com/villagemutual/core/pkg/catalog"
	"github.com/villagemutual/core/pkg/membership"
	"github.com/villagemutual/core/pkg/platform"
	"github.com/villagemutual/core/pkg/treasury"
	"github.com/villagemutual/core/pkg/weight"
)

const (
	// Assessments finalize once this many are in and the weighted tally
	// is not tied.
	minAssessments = 3
	// General-member claim votes finalize at this count.
	minClaimVotes = 5

	rejectionPenalty = -10
	payoutBonus      = 5
)

// Engine runs the claim state machine. All mutations happen under one
// lock, so a status transition and its pool debit are a single atomic
// step from any caller's point of view.
type Engine struct {
	mu         sync.Mutex
	claims     map[uint64]*Claim
	byClaimant map[membership.Identity][]uint64
	nextID     uint64

	oracle  membership.Oracle
	catalog catalog.Catalog
	calc    *weight.Calculator
	ballots *ballot.Ledger
	pool    *treasury.Pool
	emitter audit.Emitter
	clock   func() time.Time
}

// NewEngine wires the claims engine.
func NewEngine(oracle membership.Oracle, cat catalog.Catalog, calc *weight.Calculator, ballots *ballot.Ledger, pool *treasury.Pool, emitter audit.Emitter) *Engine {
	if emitter == nil {
		emitter = audit.Discard{}
	}
	return &Engine{
		claims:     make(map[uint64]*Claim),
		byClaimant: make(map[membership.Identity][]uint64),
		oracle:     oracle,
		catalog:    cat,
		calc:       calc,
		ballots:    ballots,
		pool:       pool,
		emitter:    emitter,
		clock:      time.Now,
	}
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// SubmitClaim files a claim against the claimant's covered subscription.
// Emergency claims skip straight to UnderReview.
func (e *Engine) SubmitClaim(claimant membership.Identity, amount int64, category Category, evidence EvidenceHash, description string) (uint64, error) {
	if !e.oracle.IsApproved(claimant) {
		return 0, fmt.Errorf("claimant %s: %w", claimant, platform.ErrUnauthorized)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("claim amount %d: %w", amount, platform.ErrInvalidInput)
	}

	sub, err := e.catalog.ActiveSubscription(claimant)
	if err != nil {
		return 0, fmt.Errorf("claimant %s has no coverage: %w", claimant, platform.ErrUnauthorized)
	}
	plan, err := e.catalog.GetPlan(sub.PlanID)
	if err != nil {
		return 0, err
	}
	if amount > plan.MaxCoverage {
		return 0, fmt.Errorf("claim amount %d exceeds plan coverage %d: %w", amount, plan.MaxCoverage, platform.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	status := StatusSubmitted
	if category == CategoryEmergency {
		status = StatusUnderReview
	}

	e.nextID++
	c := &Claim{
		ID:             e.nextID,
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		Claimant:       claimant,
		Amount:         amount,
		Evidence:       evidence,
		Description:    description,
		Category:       category,
		Status:         status,
		CreatedAt:      e.clock(),
	}
	e.claims[c.ID] = c
	e.byClaimant[claimant] = append(e.byClaimant[claimant], c.ID)

	e.emitter.Emit("claim.submitted", subjectRef(c.ID), string(claimant), map[string]any{
		"amount":   amount,
		"category": string(category),
		"status":   string(status),
	})
	return c.ID, nil
}

// AssessClaim records an assessor's decision. Once enough assessments are
// in, a weighted majority finalizes the claim; an exact tie waits for more
// assessments.
func (e *Engine) AssessClaim(assessor membership.Identity, claimID uint64, decision bool, rationale string) error {
	if !e.oracle.IsApproved(assessor) {
		return fmt.Errorf("assessor %s: %w", assessor, platform.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.claims[claimID]
	if !ok {
		return fmt.Errorf("claim %d: %w", claimID, platform.ErrNotFound)
	}
	if !adjudicable(c.Status) {
		return fmt.Errorf("claim %d in state %s: %w", claimID, c.Status, platform.ErrAlreadyProcessed)
	}

	w := e.calc.Weight(assessor)
	subject := ballot.Subject{Kind: ballot.SubjectClaimAssessment, ID: claimID, Round: c.ReviewRound}
	if _, err := e.ballots.Cast(subject, assessor, decision, w, rationale); err != nil {
		return err
	}

	e.emitter.Emit("claim.assessed", subjectRef(claimID), string(assessor), map[string]any{
		"decision": decision,
		"weight":   w,
	})

	tally := e.ballots.Tally(subject)
	if tally.Count < minAssessments || tally.For == tally.Against {
		return nil
	}
	return e.finalizeLocked(c, tally.For > tally.Against, "assessment majority")
}

// VoteOnClaim records a general-member vote. Only usable while the claim
// is under review; finalizes by weighted majority at the vote threshold.
func (e *Engine) VoteOnClaim(voter membership.Identity, claimID uint64, approve bool) error {
	if !e.oracle.IsApproved(voter) {
		return fmt.Errorf("voter %s: %w", voter, platform.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.claims[claimID]
	if !ok {
		return fmt.Errorf("claim %d: %w", claimID, platform.ErrNotFound)
	}
	if c.Status != StatusUnderReview {
		return fmt.Errorf("claim %d in state %s: %w", claimID, c.Status, platform.ErrAlreadyProcessed)
	}

	w := e.calc.Weight(voter)
	subject := ballot.Subject{Kind: ballot.SubjectClaimVote, ID: claimID, Round: c.ReviewRound}
	if _, err := e.ballots.Cast(subject, voter, approve, w, ""); err != nil {
		return err
	}

	e.emitter.Emit("claim.voted", subjectRef(claimID), string(voter), map[string]any{
		"approve": approve,
		"weight":  w,
	})

	tally := e.ballots.Tally(subject)
	if tally.Count < minClaimVotes || tally.For == tally.Against {
		return nil
	}
	return e.finalizeLocked(c, tally.For > tally.Against, "member vote majority")
}

// ApproveClaim is the council fast path. The pool balance is checked
// before the transition, and the payout happens in the same step.
func (e *Engine) ApproveClaim(councilMember membership.Identity, claimID uint64) error {
	if !e.oracle.IsCouncilMember(councilMember) {
		return fmt.Errorf("approver %s: %w", councilMember, platform.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.claims[claimID]
	if !ok {
		return fmt.Errorf("claim %d: %w", claimID, platform.ErrNotFound)
	}
	if !adjudicable(c.Status) {
		return fmt.Errorf("claim %d in state %s: %w", claimID, c.Status, platform.ErrAlreadyProcessed)
	}
	if !e.pool.CanCover(c.Amount) {
		return fmt.Errorf("claim %d payout %d: %w", claimID, c.Amount, platform.ErrInsufficientReserves)
	}
	return e.finalizeLocked(c, true, fmt.Sprintf("council decision by %s", councilMember))
}

// RejectClaim is the council rejection fast path. Records the reason and
// penalizes the claimant's reputation.
func (e *Engine) RejectClaim(councilMember membership.Identity, claimID uint64, reason string) error {
	if !e.oracle.IsCouncilMember(councilMember) {
		return fmt.Errorf("rejector %s: %w", councilMember, platform.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.claims[claimID]
	if !ok {
		return fmt.Errorf("claim %d: %w", claimID, platform.ErrNotFound)
	}
	if !adjudicable(c.Status) {
		return fmt.Errorf("claim %d in state %s: %w", claimID, c.Status, platform.ErrAlreadyProcessed)
	}
	c.AdjudicatorNotes = reason
	return e.finalizeLocked(c, false, reason)
}

// DisputeClaim lets the original claimant contest a rejection. The dispute
// re-opens adjudication; routing it back into review is the resubmission
// flow's call.
func (e *Engine) DisputeClaim(claimant membership.Identity, claimID uint64, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.claims[claimID]
	if !ok {
		return fmt.Errorf("claim %d: %w", claimID, platform.ErrNotFound)
	}
	if c.Claimant != claimant {
		return fmt.Errorf("disputer %s is not the claimant: %w", claimant, platform.ErrUnauthorized)
	}
	if c.Status != StatusRejected {
		return fmt.Errorf("claim %d in state %s: %w", claimID, c.Status, platform.ErrAlreadyProcessed)
	}

	c.Status = StatusDisputed
	c.AdjudicatorNotes = reason
	e.emitter.Emit("claim.disputed", subjectRef(claimID), string(claimant), map[string]any{"reason": reason})
	return nil
}

// ReopenDisputed returns a disputed claim to review. Council-gated. The
// review round advances so adjudication starts over on fresh ballots; the
// tally that rejected the claim cannot re-finalize it, and earlier
// assessors and voters may act again.
func (e *Engine) ReopenDisputed(councilMember membership.Identity, claimID uint64) error {
	if !e.oracle.IsCouncilMember(councilMember) {
		return fmt.Errorf("reopener %s: %w", councilMember, platform.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.claims[claimID]
	if !ok {
		return fmt.Errorf("claim %d: %w", claimID, platform.ErrNotFound)
	}
	if !canTransition(c.Status, StatusUnderReview) {
		return fmt.Errorf("claim %d in state %s: %w", claimID, c.Status, platform.ErrAlreadyProcessed)
	}

	c.Status = StatusUnderReview
	c.ReviewRound++
	e.emitter.Emit("claim.reopened", subjectRef(claimID), string(councilMember), map[string]any{
		"round": c.ReviewRound,
	})
	return nil
}

// ProcessPayout retries the payout of a claim left in Approved after a
// failed debit. Council-gated.
func (e *Engine) ProcessPayout(processor membership.Identity, claimID uint64) error {
	if !e.oracle.IsCouncilMember(processor) {
		return fmt.Errorf("processor %s: %w", processor, platform.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.claims[claimID]
	if !ok {
		return fmt.Errorf("claim %d: %w", claimID, platform.ErrNotFound)
	}
	if c.Status != StatusApproved {
		return fmt.Errorf("claim %d in state %s: %w", claimID, c.Status, platform.ErrAlreadyProcessed)
	}
	return e.payoutLocked(c)
}

// finalizeLocked is the single guarded transition every finalization path
// funnels through. Callers hold the engine lock and have verified the
// claim is still adjudicable.
func (e *Engine) finalizeLocked(c *Claim, approved bool, note string) error {
	if approved {
		if !canTransition(c.Status, StatusApproved) {
			return fmt.Errorf("claim %d in state %s: %w", c.ID, c.Status, platform.ErrAlreadyProcessed)
		}
		c.Status = StatusApproved
		e.emitter.Emit("claim.approved", subjectRef(c.ID), string(c.Claimant), map[string]any{"note": note})
		return e.payoutLocked(c)
	}

	if !canTransition(c.Status, StatusRejected) {
		return fmt.Errorf("claim %d in state %s: %w", c.ID, c.Status, platform.ErrAlreadyProcessed)
	}
	c.Status = StatusRejected
	_ = e.oracle.ApplyReputationDelta(c.Claimant, rejectionPenalty)
	e.emitter.Emit("claim.rejected", subjectRef(c.ID), string(c.Claimant), map[string]any{"note": note})
	return nil
}

// payoutLocked debits the pool and marks the claim Paid in one step. If
// the debit fails the claim stays Approved and the payout can be retried;
// a claim is never marked Paid without the debit succeeding.
func (e *Engine) payoutLocked(c *Claim) error {
	if err := e.pool.PayClaim(c.ID, string(c.Claimant), c.Amount); err != nil {
		e.emitter.Emit("claim.payout_deferred", subjectRef(c.ID), string(c.Claimant), map[string]any{
			"amount": c.Amount,
			"error":  err.Error(),
		})
		return err
	}

	now := e.clock()
	c.Status = StatusPaid
	c.PaidAt = &now
	_ = e.oracle.ApplyReputationDelta(c.Claimant, payoutBonus)
	e.emitter.Emit("claim.paid", subjectRef(c.ID), string(c.Claimant), map[string]any{"amount": c.Amount})
	return nil
}

// GetClaim returns a copy of a claim.
func (e *Engine) GetClaim(claimID uint64) (Claim, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.claims[claimID]
	if !ok {
		return Claim{}, fmt.Errorf("claim %d: %w", claimID, platform.ErrNotFound)
	}
	return *c, nil
}

// ClaimsByClaimant returns the claimant's claims in submission order.
func (e *Engine) ClaimsByClaimant(claimant membership.Identity) []Claim {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Claim, 0, len(e.byClaimant[claimant]))
	for _, id := range e.byClaimant[claimant] {
		out = append(out, *e.claims[id])
	}
	return out
}

// ClaimsByStatus returns all claims currently in the given status.
func (e *Engine) ClaimsByStatus(s Status) []Claim {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Claim
	for id := uint64(1); id <= e.nextID; id++ {
		if c, ok := e.claims[id]; ok && c.Status == s {
			out = append(out, *c)
		}
	}
	return out
}

// RiskScoreFor computes the informational risk score for a claim.
func (e *Engine) RiskScoreFor(claimID uint64) (int, error) {
	e.mu.Lock()
	c, ok := e.claims[claimID]
	if !ok {
		e.mu.Unlock()
		return 0, fmt.Errorf("claim %d: %w", claimID, platform.ErrNotFound)
	}
	claim := *c
	history := len(e.byClaimant[claim.Claimant])
	e.mu.Unlock()

	plan, err := e.catalog.GetPlan(claim.PlanID)
	if err != nil {
		return 0, err
	}
	return RiskScore(claim.Amount, plan.MaxCoverage, history), nil
}

// Statistics reports claim counts and amounts for the whole book.
type Statistics struct {
	Total          int   `json:"total"`
	Paid           int   `json:"paid"`
	TotalRequested int64 `json:"total_requested"`
	TotalPaidOut   int64 `json:"total_paid_out"`
}

// Stats summarizes the claim book.
func (e *Engine) Stats() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	var s Statistics
	for _, c := range e.claims {
		s.Total++
		s.TotalRequested += c.Amount
		if c.Status == StatusPaid {
			s.Paid++
			s.TotalPaidOut += c.Amount
		}
	}
	return s
}

func subjectRef(id uint64) string {
	return fmt.Sprintf("claim/%d", id)
}
