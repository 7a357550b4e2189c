package treasury

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/villagemutual/core/pkg/audit"
	"github.com/villagemutual/core/pkg/membership"
	"github.com/villagemutual/core/pkg/platform"
)

type fakeOracle struct {
	council map[membership.Identity]bool
}

func (f *fakeOracle) IsApproved(membership.Identity) bool { return true }
func (f *fakeOracle) IsCouncilMember(id membership.Identity) bool {
	return f.council[id]
}
func (f *fakeOracle) Reputation(membership.Identity) uint32       { return 0 }
func (f *fakeOracle) ContributionTotal(membership.Identity) int64 { return 0 }
func (f *fakeOracle) ApplyReputationDelta(membership.Identity, int32) error {
	return nil
}

func newTestPool(t *testing.T, cfg platform.Config) (*Pool, *audit.Logger) {
	t.Helper()
	oracle := &fakeOracle{council: map[membership.Identity]bool{"council": true}}
	trail := audit.NewLoggerWithWriter(io.Discard)
	return NewPool(oracle, cfg, trail), trail
}

func baseConfig() platform.Config {
	cfg := platform.DefaultConfig()
	cfg.MinimumReserve = 1000
	cfg.MaxClaimRatioBps = 2000
	return cfg
}

func TestPremiumReceiptCredits(t *testing.T) {
	pool, _ := newTestPool(t, baseConfig())

	require.NoError(t, pool.ReceivePremium("amara", 500))
	require.NoError(t, pool.ReceivePremium("bekele", 300))

	s := pool.Snapshot()
	require.Equal(t, int64(800), s.TotalBalance)
	require.Equal(t, int64(800), s.PremiumContributions)
}

func TestPremiumRejectsNonPositive(t *testing.T) {
	pool, _ := newTestPool(t, baseConfig())
	err := pool.ReceivePremium("amara", 0)
	require.ErrorIs(t, err, platform.ErrInvalidInput)
	err = pool.ReceivePremium("amara", -5)
	require.ErrorIs(t, err, platform.ErrInvalidInput)
}

// Scenario: a withdrawal that would drop the balance below the minimum
// reserve fails and leaves the balance unchanged.
func TestWithdrawBelowMinimumReserveFails(t *testing.T) {
	pool, _ := newTestPool(t, baseConfig())
	require.NoError(t, pool.ReceivePremium("amara", 2000))

	err := pool.WithdrawReserveFunds("council", 1500, "roof repair")
	require.ErrorIs(t, err, platform.ErrInsufficientReserves)
	require.Equal(t, int64(2000), pool.Snapshot().TotalBalance)

	// Ratio floor: 2000 premiums * 20% = 400, min reserve 1000 binds.
	require.NoError(t, pool.WithdrawReserveFunds("council", 1000, "roof repair"))
	require.Equal(t, int64(1000), pool.Snapshot().TotalBalance)
}

func TestWithdrawRatioFloor(t *testing.T) {
	cfg := baseConfig()
	cfg.MinimumReserve = 0
	cfg.MaxClaimRatioBps = 8000
	pool, _ := newTestPool(t, cfg)
	require.NoError(t, pool.ReceivePremium("amara", 10000))

	// Floor is 8000; only 2000 is withdrawable.
	err := pool.WithdrawReserveFunds("council", 2500, "overreach")
	require.ErrorIs(t, err, platform.ErrInsufficientReserves)
	require.NoError(t, pool.WithdrawReserveFunds("council", 2000, "allowed"))
}

func TestWithdrawRequiresCouncil(t *testing.T) {
	pool, _ := newTestPool(t, baseConfig())
	require.NoError(t, pool.ReceivePremium("amara", 5000))

	err := pool.WithdrawReserveFunds("amara", 100, "not council")
	require.ErrorIs(t, err, platform.ErrUnauthorized)
}

func TestPayClaimMovesCounters(t *testing.T) {
	cfg := baseConfig()
	cfg.MinimumReserve = 0
	cfg.MaxClaimRatioBps = 2000
	pool, _ := newTestPool(t, cfg)
	require.NoError(t, pool.ReceivePremium("amara", 10000))

	require.True(t, pool.CanCover(500))
	require.NoError(t, pool.PayClaim(7, "amara", 500))

	s := pool.Snapshot()
	require.Equal(t, int64(9500), s.TotalBalance)
	require.Equal(t, int64(500), s.ClaimPayouts)
}

func TestFreezeBlocksMovements(t *testing.T) {
	pool, _ := newTestPool(t, baseConfig())
	require.NoError(t, pool.ReceivePremium("amara", 5000))

	require.NoError(t, pool.Freeze("council", "suspicious activity"))
	require.True(t, pool.Frozen())

	require.ErrorIs(t, pool.ReceivePremium("amara", 100), platform.ErrFundsFrozen)
	require.ErrorIs(t, pool.PayClaim(1, "amara", 100), platform.ErrFundsFrozen)
	require.ErrorIs(t, pool.WithdrawReserveFunds("council", 100, "x"), platform.ErrFundsFrozen)
	require.False(t, pool.CanCover(100))

	// Read-only queries keep working while frozen.
	require.Equal(t, int64(5000), pool.Snapshot().TotalBalance)

	require.NoError(t, pool.Unfreeze("council"))
	require.NoError(t, pool.ReceivePremium("amara", 100))
}

func TestFreezeRequiresCouncil(t *testing.T) {
	pool, _ := newTestPool(t, baseConfig())
	require.ErrorIs(t, pool.Freeze("amara", "nope"), platform.ErrUnauthorized)
}

func TestAuditCleanAndDiscrepancy(t *testing.T) {
	pool, trail := newTestPool(t, baseConfig())
	require.NoError(t, pool.ReceivePremium("amara", 5000))
	require.NoError(t, pool.AddExternalFunding("council", 2000))

	report, err := pool.ConductAudit("council")
	require.NoError(t, err)
	require.True(t, report.Clean)
	require.Equal(t, int64(7000), report.ExpectedBalance)
	require.Empty(t, trail.ByKind("treasury.audit_discrepancy"))

	// Tamper with the restored snapshot to simulate drift beyond tolerance.
	s := pool.Snapshot()
	s.TotalBalance += 500
	pool.Restore(s)

	report, err = pool.ConductAudit("council")
	require.NoError(t, err)
	require.False(t, report.Clean)
	require.Equal(t, int64(500), report.Discrepancy)
	require.Len(t, trail.ByKind("treasury.audit_discrepancy"), 1)

	// The audit reports; it never corrects.
	require.Equal(t, s.TotalBalance, pool.Snapshot().TotalBalance)
}

func TestConfigSetters(t *testing.T) {
	pool, _ := newTestPool(t, baseConfig())

	require.ErrorIs(t, pool.UpdateReserveRatio("council", 10001), platform.ErrInvalidInput)
	require.ErrorIs(t, pool.SetMinimumReserve("council", -1), platform.ErrInvalidInput)
	require.ErrorIs(t, pool.UpdateReserveRatio("amara", 5000), platform.ErrUnauthorized)

	require.NoError(t, pool.UpdateReserveRatio("council", 5000))
	require.NoError(t, pool.SetMinimumReserve("council", 250))

	s := pool.Snapshot()
	require.Equal(t, int64(5000), s.ReserveRatioBps)
	require.Equal(t, int64(250), s.MinimumReserve)
}

func TestFinancialSummaryAndHealth(t *testing.T) {
	cfg := baseConfig()
	cfg.MinimumReserve = 100
	pool, _ := newTestPool(t, cfg)
	require.NoError(t, pool.ReceivePremium("amara", 10000))
	require.NoError(t, pool.PayClaim(1, "amara", 1000))

	sum := pool.FinancialSummary()
	require.Equal(t, int64(10000), sum.TotalPremiums)
	require.Equal(t, int64(1000), sum.TotalPayouts)
	require.Equal(t, int64(9000), sum.NetBalance)
	require.Equal(t, int64(9000), sum.ReservePercentBps) // 9000/10000 in bps

	healthy, balance, floor := pool.CheckReserveHealth()
	require.True(t, healthy)
	require.Equal(t, int64(9000), balance)
	require.Equal(t, int64(2000), floor)

	require.Equal(t, int64(8900), pool.ClaimCapacity())
}

type recordingSink struct {
	movements []Movement
	fail      error
}

func (r *recordingSink) RecordMovement(m Movement) error {
	if r.fail != nil {
		return r.fail
	}
	r.movements = append(r.movements, m)
	return nil
}

func TestHistorySinkReceivesAppliedMovements(t *testing.T) {
	cfg := baseConfig()
	cfg.MinimumReserve = 0
	pool, _ := newTestPool(t, cfg)
	sink := &recordingSink{}
	pool.WithHistory(sink)

	require.NoError(t, pool.ReceivePremium("amara", 5000))
	require.NoError(t, pool.PayClaim(3, "amara", 500))
	require.NoError(t, pool.WithdrawReserveFunds("council", 200, "roof repair"))
	require.NoError(t, pool.AddExternalFunding("council", 100))
	require.NoError(t, pool.UpdateInvestmentReturns("council", 50))

	require.Len(t, sink.movements, 5)
	kinds := make([]MovementKind, 0, len(sink.movements))
	for _, m := range sink.movements {
		kinds = append(kinds, m.Kind)
	}
	require.Equal(t, []MovementKind{
		MovementPremium, MovementClaimPayout, MovementWithdrawal,
		MovementFunding, MovementReturns,
	}, kinds)
	require.Equal(t, "claim/3", sink.movements[1].Reference)
	require.Equal(t, int64(500), sink.movements[1].Amount)
	require.Equal(t, "roof repair", sink.movements[2].Reference)

	// Rejected operations never reach the sink.
	require.Error(t, pool.ReceivePremium("amara", -1))
	require.ErrorIs(t, pool.WithdrawReserveFunds("amara", 10, "not council"), platform.ErrUnauthorized)
	require.Len(t, sink.movements, 5)
}

// The pool is the source of truth; a failing history sink loses history
// but never rolls back the ledger.
func TestHistorySinkFailureDoesNotRollBack(t *testing.T) {
	pool, _ := newTestPool(t, baseConfig())
	pool.WithHistory(&recordingSink{fail: errors.New("history database down")})

	require.NoError(t, pool.ReceivePremium("amara", 500))
	require.Equal(t, int64(500), pool.Snapshot().TotalBalance)
}

func TestIdempotentReads(t *testing.T) {
	pool, _ := newTestPool(t, baseConfig())
	require.NoError(t, pool.ReceivePremium("amara", 1234))

	first := pool.FinancialSummary()
	second := pool.FinancialSummary()
	require.Equal(t, first, second)

	if !errors.Is(pool.WithdrawReserveFunds("council", 99999, "too much"), platform.ErrInsufficientReserves) {
		t.Fatal("expected insufficient reserves")
	}
	require.Equal(t, first, pool.FinancialSummary())
}
