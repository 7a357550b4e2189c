// Package treasury owns the safety pool: the single shared reserve that
// premiums flow into and approved claims are paid from. Every debit is
// validated against the reserve floors inside the same critical section
// that applies it, so a successful debit can never leave the pool below
// its solvency floor.
package treasury

import (
	"fmt"
	"sync"
	"time"

	"github.com/villagemutual/core/pkg/audit"
	"github.com/villagemutual/core/pkg/membership"
	"github.com/villagemutual/core/pkg/platform"
)

// SafetyPool is the pool's accounting state. Amounts are minor units.
type SafetyPool struct {
	TotalBalance         int64     `json:"total_balance"`
	PremiumContributions int64     `json:"premium_contributions"`
	ClaimPayouts         int64     `json:"claim_payouts"`
	InvestmentReturns    int64     `json:"investment_returns"`
	ReserveRatioBps      int64     `json:"reserve_ratio_bps"`
	MinimumReserve       int64     `json:"minimum_reserve"`
	LastAuditAt          time.Time `json:"last_audit_at"`
}

// MovementKind labels one balance movement.
type MovementKind string

const (
	MovementPremium     MovementKind = "PREMIUM"
	MovementFunding     MovementKind = "FUNDING"
	MovementReturns     MovementKind = "RETURNS"
	MovementClaimPayout MovementKind = "CLAIM_PAYOUT"
	MovementWithdrawal  MovementKind = "WITHDRAWAL"
)

// Movement is one applied credit or debit, for durable history sinks.
type Movement struct {
	Kind      MovementKind `json:"kind"`
	Amount    int64        `json:"amount"`
	Actor     string       `json:"actor"`
	Reference string       `json:"reference,omitempty"`
	At        time.Time    `json:"at"`
}

// HistorySink receives applied movements. Sink errors do not roll back the
// pool; the pool is the source of truth and the sink is history.
type HistorySink interface {
	RecordMovement(m Movement) error
}

// Summary is the aggregate financial view.
type Summary struct {
	TotalPremiums     int64 `json:"total_premiums"`
	TotalPayouts      int64 `json:"total_payouts"`
	NetBalance        int64 `json:"net_balance"`
	ReservePercentBps int64 `json:"reserve_percent_bps"`
	InvestmentReturns int64 `json:"investment_returns"`
	CurrentBalance    int64 `json:"current_balance"`
}

// AuditReport is the outcome of a financial audit.
type AuditReport struct {
	ExpectedBalance int64     `json:"expected_balance"`
	ActualBalance   int64     `json:"actual_balance"`
	Discrepancy     int64     `json:"discrepancy"`
	Tolerance       int64     `json:"tolerance"`
	Clean           bool      `json:"clean"`
	AuditedAt       time.Time `json:"audited_at"`
}

// Pool guards the safety pool. All mutations are council-gated except
// premium receipt and claim payout, which the engines trigger.
type Pool struct {
	mu               sync.Mutex
	state            SafetyPool
	frozen           bool
	maxClaimRatioBps int64
	auditTolerance   int64

	oracle  membership.Oracle
	emitter audit.Emitter
	history HistorySink
	clock   func() time.Time
}

// NewPool creates a pool with the configured floors and an opening balance
// of zero.
func NewPool(oracle membership.Oracle, cfg platform.Config, emitter audit.Emitter) *Pool {
	if emitter == nil {
		emitter = audit.Discard{}
	}
	return &Pool{
		state: SafetyPool{
			ReserveRatioBps: cfg.ReserveRatioBps,
			MinimumReserve:  cfg.MinimumReserve,
		},
		maxClaimRatioBps: cfg.MaxClaimRatioBps,
		auditTolerance:   cfg.AuditTolerance,
		oracle:           oracle,
		emitter:          emitter,
		clock:            time.Now,
	}
}

// WithClock overrides the clock for testing.
func (p *Pool) WithClock(clock func() time.Time) *Pool {
	p.clock = clock
	return p
}

// WithHistory attaches a durable movement sink.
func (p *Pool) WithHistory(h HistorySink) *Pool {
	p.history = h
	return p
}

// ReceivePremium credits one premium payment. Implements the catalog's
// premium sink.
func (p *Pool) ReceivePremium(payer string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("premium amount %d: %w", amount, platform.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frozen {
		return fmt.Errorf("premium receipt: %w", platform.ErrFundsFrozen)
	}

	p.state.TotalBalance += amount
	p.state.PremiumContributions += amount
	p.record(MovementPremium, amount, payer, "")
	p.emitter.Emit("treasury.premium_received", "pool", payer, map[string]any{"amount": amount})
	return nil
}

// AddExternalFunding credits grant or donor money. Council-gated. External
// funding is tracked under investment returns so the audit equation stays
// closed.
func (p *Pool) AddExternalFunding(funder membership.Identity, amount int64) error {
	if err := p.ensureCouncil(funder); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("funding amount %d: %w", amount, platform.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frozen {
		return fmt.Errorf("external funding: %w", platform.ErrFundsFrozen)
	}

	p.state.TotalBalance += amount
	p.state.InvestmentReturns += amount
	p.record(MovementFunding, amount, string(funder), "")
	p.emitter.Emit("treasury.external_funding_added", "pool", string(funder), map[string]any{"amount": amount})
	return nil
}

// UpdateInvestmentReturns credits realized investment yield. Council-gated.
func (p *Pool) UpdateInvestmentReturns(updater membership.Identity, returns int64) error {
	if err := p.ensureCouncil(updater); err != nil {
		return err
	}
	if returns <= 0 {
		return fmt.Errorf("returns amount %d: %w", returns, platform.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frozen {
		return fmt.Errorf("investment returns: %w", platform.ErrFundsFrozen)
	}

	p.state.TotalBalance += returns
	p.state.InvestmentReturns += returns
	p.record(MovementReturns, returns, string(updater), "")
	p.emitter.Emit("treasury.investment_returns_updated", "pool", string(updater), map[string]any{"amount": returns})
	return nil
}

// WithdrawReserveFunds debits the pool for a stated purpose. Council-gated
// and validated against both reserve floors.
func (p *Pool) WithdrawReserveFunds(withdrawer membership.Identity, amount int64, purpose string) error {
	if err := p.ensureCouncil(withdrawer); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("withdrawal amount %d: %w", amount, platform.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frozen {
		return fmt.Errorf("withdrawal: %w", platform.ErrFundsFrozen)
	}
	if err := p.checkDebit(amount); err != nil {
		return err
	}

	p.state.TotalBalance -= amount
	p.record(MovementWithdrawal, amount, string(withdrawer), purpose)
	p.emitter.Emit("treasury.reserve_withdrawn", "pool", string(withdrawer), map[string]any{
		"amount":  amount,
		"purpose": purpose,
	})
	return nil
}

// PayClaim debits an approved claim payout. The claims engine calls this
// inside its own finalization step; the reserve floors are re-validated
// here against the pre-debit snapshot.
func (p *Pool) PayClaim(claimID uint64, claimant string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("payout amount %d: %w", amount, platform.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frozen {
		return fmt.Errorf("claim payout: %w", platform.ErrFundsFrozen)
	}
	if err := p.checkDebit(amount); err != nil {
		return err
	}

	p.state.TotalBalance -= amount
	p.state.ClaimPayouts += amount
	p.record(MovementClaimPayout, amount, claimant, fmt.Sprintf("claim/%d", claimID))
	p.emitter.Emit("treasury.claim_paid", fmt.Sprintf("claim/%d", claimID), claimant, map[string]any{"amount": amount})
	return nil
}

// CanCover reports whether a debit of the given amount would pass the
// reserve floors right now. Advisory; PayClaim re-checks atomically.
func (p *Pool) CanCover(amount int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.frozen && amount > 0 && p.checkDebit(amount) == nil
}

// Freeze blocks all credits and debits. Council-gated.
func (p *Pool) Freeze(freezer membership.Identity, reason string) error {
	if err := p.ensureCouncil(freezer); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.frozen = true
	p.emitter.Emit("treasury.frozen", "pool", string(freezer), map[string]any{"reason": reason})
	return nil
}

// Unfreeze lifts the emergency freeze. Council-gated.
func (p *Pool) Unfreeze(unfreezer membership.Identity) error {
	if err := p.ensureCouncil(unfreezer); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.frozen = false
	p.emitter.Emit("treasury.unfrozen", "pool", string(unfreezer), nil)
	return nil
}

// Frozen reports whether the emergency freeze is active.
func (p *Pool) Frozen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frozen
}

// SetMinimumReserve updates the absolute reserve floor. Council-gated.
func (p *Pool) SetMinimumReserve(setter membership.Identity, minimum int64) error {
	if err := p.ensureCouncil(setter); err != nil {
		return err
	}
	if minimum < 0 {
		return fmt.Errorf("minimum reserve %d: %w", minimum, platform.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.MinimumReserve = minimum
	p.emitter.Emit("treasury.minimum_reserve_updated", "pool", string(setter), map[string]any{"minimum": minimum})
	return nil
}

// UpdateReserveRatio updates the target reserve ratio. Council-gated;
// basis points in [0, 10000].
func (p *Pool) UpdateReserveRatio(setter membership.Identity, ratioBps int64) error {
	if err := p.ensureCouncil(setter); err != nil {
		return err
	}
	if ratioBps < 0 || ratioBps > 10000 {
		return fmt.Errorf("reserve ratio %d bps: %w", ratioBps, platform.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.ReserveRatioBps = ratioBps
	p.emitter.Emit("treasury.reserve_ratio_updated", "pool", string(setter), map[string]any{"ratio_bps": ratioBps})
	return nil
}

// ConductAudit recomputes the expected balance from the cumulative
// counters and reports any discrepancy beyond tolerance. The ledger is
// never auto-corrected; remediation is a separate council action.
func (p *Pool) ConductAudit(auditor membership.Identity) (AuditReport, error) {
	if err := p.ensureCouncil(auditor); err != nil {
		return AuditReport{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	expected := p.state.PremiumContributions + p.state.InvestmentReturns - p.state.ClaimPayouts
	diff := p.state.TotalBalance - expected
	if diff < 0 {
		diff = -diff
	}

	report := AuditReport{
		ExpectedBalance: expected,
		ActualBalance:   p.state.TotalBalance,
		Discrepancy:     diff,
		Tolerance:       p.auditTolerance,
		Clean:           diff <= p.auditTolerance,
		AuditedAt:       now,
	}
	p.state.LastAuditAt = now

	if !report.Clean {
		p.emitter.Emit("treasury.audit_discrepancy", "pool", string(auditor), map[string]any{
			"expected": expected,
			"actual":   p.state.TotalBalance,
		})
	}
	p.emitter.Emit("treasury.audit_completed", "pool", string(auditor), map[string]any{
		"expected": expected,
		"actual":   p.state.TotalBalance,
		"clean":    report.Clean,
	})
	return report, nil
}

// FinancialSummary returns the aggregate view. Reserve percentage is
// balance over premium contributions in basis points.
func (p *Pool) FinancialSummary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	var pctBps int64
	if p.state.PremiumContributions > 0 {
		pctBps = p.state.TotalBalance * 10000 / p.state.PremiumContributions
	}
	return Summary{
		TotalPremiums:     p.state.PremiumContributions,
		TotalPayouts:      p.state.ClaimPayouts,
		NetBalance:        p.state.PremiumContributions - p.state.ClaimPayouts,
		ReservePercentBps: pctBps,
		InvestmentReturns: p.state.InvestmentReturns,
		CurrentBalance:    p.state.TotalBalance,
	}
}

// CheckReserveHealth reports whether the balance satisfies both floors and
// what the ratio-based floor currently is.
func (p *Pool) CheckReserveHealth() (healthy bool, balance, minimumRequired int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	minimumRequired = p.ratioFloorLocked()
	healthy = p.state.TotalBalance >= minimumRequired && p.state.TotalBalance >= p.state.MinimumReserve
	return healthy, p.state.TotalBalance, minimumRequired
}

// ClaimCapacity is the balance available above the absolute floor.
func (p *Pool) ClaimCapacity() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	capacity := p.state.TotalBalance - p.state.MinimumReserve
	if capacity < 0 {
		return 0
	}
	return capacity
}

// Snapshot returns a copy of the accounting state.
func (p *Pool) Snapshot() SafetyPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Restore replaces the accounting state, for loading persisted snapshots.
func (p *Pool) Restore(s SafetyPool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// checkDebit validates a debit against both floors. Callers hold the lock.
func (p *Pool) checkDebit(amount int64) error {
	after := p.state.TotalBalance - amount
	if after < p.state.MinimumReserve {
		return fmt.Errorf("balance %d after debit below minimum reserve %d: %w",
			after, p.state.MinimumReserve, platform.ErrInsufficientReserves)
	}
	if floor := p.ratioFloorLocked(); after < floor {
		return fmt.Errorf("balance %d after debit below ratio floor %d: %w",
			after, floor, platform.ErrInsufficientReserves)
	}
	return nil
}

func (p *Pool) ratioFloorLocked() int64 {
	return p.state.PremiumContributions * p.maxClaimRatioBps / 10000
}

func (p *Pool) ensureCouncil(id membership.Identity) error {
	if !p.oracle.IsCouncilMember(id) {
		return fmt.Errorf("actor %s: %w", id, platform.ErrUnauthorized)
	}
	return nil
}

func (p *Pool) record(kind MovementKind, amount int64, actor, ref string) {
	if p.history == nil {
		return
	}
	_ = p.history.RecordMovement(Movement{
		Kind:      kind,
		Amount:    amount,
		Actor:     actor,
		Reference: ref,
		At:        p.clock(),
	})
}
