package treasury

import (
	"io"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/villagemutual/core/pkg/audit"
	"github.com/villagemutual/core/pkg/membership"
	"github.com/villagemutual/core/pkg/platform"
)

// TestSolvencyUnderRandomSequences drives the pool with random credit and
// debit sequences. Property: after every successful debit the balance
// stays at or above both the minimum reserve and the ratio-based floor,
// and failed operations never move the balance.
func TestSolvencyUnderRandomSequences(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	cfg := platform.DefaultConfig()
	cfg.MinimumReserve = 500
	cfg.MaxClaimRatioBps = 3000

	properties.Property("reserve floors hold under any operation sequence", prop.ForAll(
		func(ops []int64) bool {
			oracle := &fakeOracle{council: map[membership.Identity]bool{"council": true}}
			pool := NewPool(oracle, cfg, audit.NewLoggerWithWriter(io.Discard))

			for i, raw := range ops {
				before := pool.Snapshot()

				var err error
				switch {
				case raw == 0:
					continue
				case raw > 0 && i%3 == 0:
					err = pool.AddExternalFunding("council", raw)
				case raw > 0:
					err = pool.ReceivePremium("member", raw)
				case i%2 == 0:
					err = pool.PayClaim(uint64(i), "member", -raw)
				default:
					err = pool.WithdrawReserveFunds("council", -raw, "sequence")
				}

				after := pool.Snapshot()
				if err != nil {
					// Failed operations must leave the ledger untouched.
					if after != before {
						return false
					}
					continue
				}

				if raw < 0 {
					floor := after.PremiumContributions * cfg.MaxClaimRatioBps / 10000
					if after.TotalBalance < cfg.MinimumReserve || after.TotalBalance < floor {
						return false
					}
				}
			}

			// Accounting identity: the audit equation stays closed when
			// every movement goes through the guarded operations.
			s := pool.Snapshot()
			return s.TotalBalance == s.PremiumContributions+s.InvestmentReturns-s.ClaimPayouts
		},
		gen.SliceOf(gen.Int64Range(-2000, 2000)),
	))

	properties.TestingRun(t)
}
