package claims

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/villagemutual/core/pkg/audit"
	"github.com/villagemutual/core/pkg/ballot"
	"github.com/villagemutual/core/pkg/catalog"
	"github.com/villagemutual/core/pkg/membership"
	"github.com/villagemutual/core/pkg/platform"
	"github.com/villagemutual/core/pkg/treasury"
	"github.com/villagemutual/core/pkg/weight"
)

type fakeOracle struct {
	approved map[membership.Identity]bool
	council  map[membership.Identity]bool
	rep      map[membership.Identity]uint32
}

func (f *fakeOracle) IsApproved(id membership.Identity) bool      { return f.approved[id] }
func (f *fakeOracle) IsCouncilMember(id membership.Identity) bool { return f.council[id] }
func (f *fakeOracle) Reputation(id membership.Identity) uint32    { return f.rep[id] }
func (f *fakeOracle) ContributionTotal(membership.Identity) int64 { return 0 }
func (f *fakeOracle) ApplyReputationDelta(id membership.Identity, delta int32) error {
	rep := int64(f.rep[id]) + int64(delta)
	if rep < 0 {
		rep = 0
	}
	f.rep[id] = uint32(rep)
	return nil
}

type fixture struct {
	oracle *fakeOracle
	cat    *catalog.Memory
	pool   *treasury.Pool
	engine *Engine
	trail  *audit.Logger
	planID uint64
}

// newFixture wires an engine over a plan with max coverage 1000 and a pool
// funded so a mid-size payout clears the reserve floors.
func newFixture(t *testing.T, poolPremiums int64) *fixture {
	t.Helper()

	oracle := &fakeOracle{
		approved: map[membership.Identity]bool{
			"founder": true, "amara": true, "bekele": true,
			"chidi": true, "dalia": true, "edgar": true, "fatima": true,
		},
		council: map[membership.Identity]bool{"founder": true},
		rep:     map[membership.Identity]uint32{},
	}

	cfg := platform.DefaultConfig()
	cfg.MinimumReserve = 0
	cfg.MaxClaimRatioBps = 2000

	trail := audit.NewLoggerWithWriter(io.Discard)
	pool := treasury.NewPool(oracle, cfg, trail)
	cat := catalog.NewMemory(oracle, pool)

	planID, err := cat.CreatePlan("founder", "crop-basic", "", 100, 1000)
	require.NoError(t, err)
	_, err = cat.Subscribe("amara", planID)
	require.NoError(t, err)

	if poolPremiums > 0 {
		require.NoError(t, pool.ReceivePremium("amara", poolPremiums))
	}

	calc := weight.NewCalculator(oracle, weight.NewDelegations())
	engine := NewEngine(oracle, cat, calc, ballot.NewLedger(), pool, trail)
	return &fixture{oracle: oracle, cat: cat, pool: pool, engine: engine, trail: trail, planID: planID}
}

// weightOf sets reputation so the identity's weight is exactly w
// (1 base + rep/2 for a non-council member).
func (f *fixture) weightOf(id membership.Identity, w int64) {
	f.oracle.rep[id] = uint32((w - 1) * 2)
}

func TestSubmitClaim(t *testing.T) {
	f := newFixture(t, 10000)

	id, err := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{1}, "flooded field")
	require.NoError(t, err)

	c, err := f.engine.GetClaim(id)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, c.Status)
	require.Equal(t, int64(500), c.Amount)
	require.Equal(t, f.planID, c.PlanID)
}

func TestSubmitEmergencyClaimStartsUnderReview(t *testing.T) {
	f := newFixture(t, 10000)

	id, err := f.engine.SubmitClaim("amara", 200, CategoryEmergency, EvidenceHash{}, "house fire")
	require.NoError(t, err)

	c, _ := f.engine.GetClaim(id)
	require.Equal(t, StatusUnderReview, c.Status)
}

// Claim amount above the plan's max coverage fails before any state is
// created.
func TestSubmitClaimExceedsCoverage(t *testing.T) {
	f := newFixture(t, 10000)

	_, err := f.engine.SubmitClaim("amara", 1500, CategoryStandard, EvidenceHash{}, "ask too much")
	require.ErrorIs(t, err, platform.ErrInvalidInput)
	require.Empty(t, f.engine.ClaimsByClaimant("amara"))
}

func TestSubmitClaimValidation(t *testing.T) {
	f := newFixture(t, 10000)

	_, err := f.engine.SubmitClaim("amara", 0, CategoryStandard, EvidenceHash{}, "")
	require.ErrorIs(t, err, platform.ErrInvalidInput)

	_, err = f.engine.SubmitClaim("stranger", 100, CategoryStandard, EvidenceHash{}, "")
	require.ErrorIs(t, err, platform.ErrUnauthorized)

	// Approved but without coverage.
	_, err = f.engine.SubmitClaim("bekele", 100, CategoryStandard, EvidenceHash{}, "")
	require.ErrorIs(t, err, platform.ErrUnauthorized)
}

// Three assessments, weighted 5+5 for and 3 against, approve the claim and
// pay it out in the same step.
func TestAssessmentMajorityApprovesAndPays(t *testing.T) {
	f := newFixture(t, 10000)
	f.weightOf("bekele", 5)
	f.weightOf("chidi", 5)
	f.weightOf("dalia", 3)

	id, err := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "flooded field")
	require.NoError(t, err)

	require.NoError(t, f.engine.AssessClaim("bekele", id, true, "evidence checks out"))
	require.NoError(t, f.engine.AssessClaim("chidi", id, true, "seen the damage"))

	c, _ := f.engine.GetClaim(id)
	require.Equal(t, StatusSubmitted, c.Status, "two assessments are not enough")

	require.NoError(t, f.engine.AssessClaim("dalia", id, false, "photos unclear"))

	c, _ = f.engine.GetClaim(id)
	require.Equal(t, StatusPaid, c.Status)
	require.NotNil(t, c.PaidAt)
	require.Equal(t, int64(9500), f.pool.Snapshot().TotalBalance)
	require.Equal(t, int64(500), f.pool.Snapshot().ClaimPayouts)
}

func TestAssessmentMajorityRejectsAndPenalizes(t *testing.T) {
	f := newFixture(t, 10000)
	f.oracle.rep["amara"] = 40

	id, _ := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "")
	require.NoError(t, f.engine.AssessClaim("bekele", id, false, "no evidence"))
	require.NoError(t, f.engine.AssessClaim("chidi", id, false, "no evidence"))
	require.NoError(t, f.engine.AssessClaim("dalia", id, true, "benefit of the doubt"))

	c, _ := f.engine.GetClaim(id)
	require.Equal(t, StatusRejected, c.Status)
	require.Equal(t, uint32(30), f.oracle.rep["amara"], "rejection costs 10 reputation")
	require.Equal(t, int64(10000), f.pool.Snapshot().TotalBalance)
}

func TestAssessmentTieWaits(t *testing.T) {
	f := newFixture(t, 10000)
	f.weightOf("bekele", 5)
	f.weightOf("chidi", 5)
	f.weightOf("dalia", 10)

	id, _ := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "")
	require.NoError(t, f.engine.AssessClaim("bekele", id, true, ""))
	require.NoError(t, f.engine.AssessClaim("chidi", id, true, ""))
	require.NoError(t, f.engine.AssessClaim("dalia", id, false, ""))

	// 10 for, 10 against with three assessments in: a tie does not
	// finalize.
	c, _ := f.engine.GetClaim(id)
	require.Equal(t, StatusSubmitted, c.Status)

	require.NoError(t, f.engine.AssessClaim("edgar", id, true, "tie breaker"))
	c, _ = f.engine.GetClaim(id)
	require.Equal(t, StatusPaid, c.Status)
}

func TestDuplicateAssessmentRejected(t *testing.T) {
	f := newFixture(t, 10000)

	id, _ := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "")
	require.NoError(t, f.engine.AssessClaim("bekele", id, true, ""))
	require.ErrorIs(t, f.engine.AssessClaim("bekele", id, false, "switching"), platform.ErrAlreadyProcessed)
}

func TestVotePathFinalizesAtThreshold(t *testing.T) {
	f := newFixture(t, 10000)

	id, _ := f.engine.SubmitClaim("amara", 500, CategoryEmergency, EvidenceHash{}, "house fire")

	voters := []membership.Identity{"bekele", "chidi", "dalia", "edgar"}
	for _, v := range voters {
		require.NoError(t, f.engine.VoteOnClaim(v, id, true))
	}
	c, _ := f.engine.GetClaim(id)
	require.Equal(t, StatusUnderReview, c.Status, "four votes are not enough")

	require.NoError(t, f.engine.VoteOnClaim("fatima", id, false))
	c, _ = f.engine.GetClaim(id)
	require.Equal(t, StatusPaid, c.Status)
}

func TestVoteRequiresUnderReview(t *testing.T) {
	f := newFixture(t, 10000)

	id, _ := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "")
	require.ErrorIs(t, f.engine.VoteOnClaim("bekele", id, true), platform.ErrAlreadyProcessed)
}

func TestCouncilApproveFastPath(t *testing.T) {
	f := newFixture(t, 10000)

	id, _ := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "")
	require.NoError(t, f.engine.ApproveClaim("founder", id))

	c, _ := f.engine.GetClaim(id)
	require.Equal(t, StatusPaid, c.Status)
}

func TestCouncilApproveChecksReserves(t *testing.T) {
	// 600 in premiums leaves a ratio floor of 120; a 500 payout would
	// land at 100, under the floor.
	f := newFixture(t, 600)

	id, _ := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "")
	require.ErrorIs(t, f.engine.ApproveClaim("founder", id), platform.ErrInsufficientReserves)

	c, _ := f.engine.GetClaim(id)
	require.Equal(t, StatusSubmitted, c.Status, "failed approval leaves the claim untouched")
}

func TestCouncilRejectAndDispute(t *testing.T) {
	f := newFixture(t, 10000)
	f.oracle.rep["amara"] = 40

	id, _ := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "")
	require.ErrorIs(t, f.engine.RejectClaim("bekele", id, "nope"), platform.ErrUnauthorized)
	require.NoError(t, f.engine.RejectClaim("founder", id, "insufficient evidence"))

	c, _ := f.engine.GetClaim(id)
	require.Equal(t, StatusRejected, c.Status)
	require.Equal(t, "insufficient evidence", c.AdjudicatorNotes)
	require.Equal(t, uint32(30), f.oracle.rep["amara"])

	require.ErrorIs(t, f.engine.DisputeClaim("bekele", id, "not mine"), platform.ErrUnauthorized)
	require.NoError(t, f.engine.DisputeClaim("amara", id, "I have new photos"))

	c, _ = f.engine.GetClaim(id)
	require.Equal(t, StatusDisputed, c.Status)

	// Council routes the dispute back into review.
	require.NoError(t, f.engine.ReopenDisputed("founder", id))
	c, _ = f.engine.GetClaim(id)
	require.Equal(t, StatusUnderReview, c.Status)
}

// A reopened dispute is adjudicated on fresh ballots: the assessments that
// rejected the claim do not count toward the new tally, and the same
// assessors may weigh the new evidence.
func TestReopenedClaimCollectsFreshAssessments(t *testing.T) {
	f := newFixture(t, 10000)

	id, _ := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "")
	require.NoError(t, f.engine.AssessClaim("bekele", id, false, "photos unclear"))
	require.NoError(t, f.engine.AssessClaim("chidi", id, false, "photos unclear"))
	require.NoError(t, f.engine.AssessClaim("dalia", id, false, "photos unclear"))

	c, _ := f.engine.GetClaim(id)
	require.Equal(t, StatusRejected, c.Status)

	require.NoError(t, f.engine.DisputeClaim("amara", id, "new photos attached"))
	require.NoError(t, f.engine.ReopenDisputed("founder", id))

	require.NoError(t, f.engine.AssessClaim("bekele", id, true, "new photos conclusive"))
	require.NoError(t, f.engine.AssessClaim("chidi", id, true, "agreed"))
	c, _ = f.engine.GetClaim(id)
	require.Equal(t, StatusUnderReview, c.Status, "two fresh assessments are not enough")

	require.NoError(t, f.engine.AssessClaim("dalia", id, true, "agreed"))
	c, _ = f.engine.GetClaim(id)
	require.Equal(t, StatusPaid, c.Status)
}

func TestDisputeOnlyFromRejected(t *testing.T) {
	f := newFixture(t, 10000)
	id, _ := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "")
	require.ErrorIs(t, f.engine.DisputeClaim("amara", id, "premature"), platform.ErrAlreadyProcessed)
}

// A finalized approval whose debit fails stays Approved; the payout is
// retried once the pool can cover it. The claim is never marked Paid
// without the debit.
func TestPayoutDeferredThenRetried(t *testing.T) {
	f := newFixture(t, 600)

	id, _ := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "")
	require.NoError(t, f.engine.AssessClaim("bekele", id, true, ""))
	require.NoError(t, f.engine.AssessClaim("chidi", id, true, ""))
	err := f.engine.AssessClaim("dalia", id, true, "")
	require.ErrorIs(t, err, platform.ErrInsufficientReserves)

	c, _ := f.engine.GetClaim(id)
	require.Equal(t, StatusApproved, c.Status)
	require.Equal(t, int64(600), f.pool.Snapshot().TotalBalance)

	require.NoError(t, f.pool.ReceivePremium("amara", 2000))
	require.ErrorIs(t, f.engine.ProcessPayout("bekele", id), platform.ErrUnauthorized)
	require.NoError(t, f.engine.ProcessPayout("founder", id))

	c, _ = f.engine.GetClaim(id)
	require.Equal(t, StatusPaid, c.Status)
	require.Equal(t, int64(2100), f.pool.Snapshot().TotalBalance)
}

func TestPaidClaimIsTerminal(t *testing.T) {
	f := newFixture(t, 10000)

	id, _ := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "")
	require.NoError(t, f.engine.ApproveClaim("founder", id))

	require.ErrorIs(t, f.engine.ApproveClaim("founder", id), platform.ErrAlreadyProcessed)
	require.ErrorIs(t, f.engine.AssessClaim("bekele", id, false, ""), platform.ErrAlreadyProcessed)
	require.ErrorIs(t, f.engine.RejectClaim("founder", id, ""), platform.ErrAlreadyProcessed)

	c, _ := f.engine.GetClaim(id)
	require.Equal(t, int64(500), c.Amount)
	require.Equal(t, StatusPaid, c.Status)
}

func TestRiskScoreBands(t *testing.T) {
	require.Equal(t, 30, RiskScore(900, 1000, 0))
	require.Equal(t, 20, RiskScore(600, 1000, 0))
	require.Equal(t, 10, RiskScore(300, 1000, 0))
	require.Equal(t, 0, RiskScore(100, 1000, 0))
	require.Equal(t, 45, RiskScore(900, 1000, 3))
	require.Equal(t, 55, RiskScore(900, 1000, 6))
	require.Equal(t, 0, RiskScore(100, 0, 9))
}

func TestStats(t *testing.T) {
	f := newFixture(t, 10000)

	a, _ := f.engine.SubmitClaim("amara", 500, CategoryStandard, EvidenceHash{}, "")
	require.NoError(t, f.engine.ApproveClaim("founder", a))
	_, err := f.engine.SubmitClaim("amara", 200, CategoryStandard, EvidenceHash{}, "")
	require.NoError(t, err)

	s := f.engine.Stats()
	require.Equal(t, 2, s.Total)
	require.Equal(t, 1, s.Paid)
	require.Equal(t, int64(700), s.TotalRequested)
	require.Equal(t, int64(500), s.TotalPaidOut)
}
