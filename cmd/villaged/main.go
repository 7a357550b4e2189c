// villaged is the mutual-aid platform daemon toolbox: a demo flow that
// exercises the adjudication and treasury engines end to end, and
// read-only reports against a persisted snapshot store.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/villagemutual/core/pkg/audit"
	"github.com/villagemutual/core/pkg/ballot"
	"github.com/villagemutual/core/pkg/catalog"
	"github.com/villagemutual/core/pkg/claims"
	"github.com/villagemutual/core/pkg/dao"
	"github.com/villagemutual/core/pkg/membership"
	"github.com/villagemutual/core/pkg/platform"
	"github.com/villagemutual/core/pkg/store"
	"github.com/villagemutual/core/pkg/treasury"
	"github.com/villagemutual/core/pkg/weight"

	_ "github.com/lib/pq" // postgres driver for the treasury history sink
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "demo":
		return runDemo(args[2:], stdout, stderr)
	case "summary":
		return runSummary(args[2:], stdout, stderr)
	case "audit":
		return runAudit(args[2:], stdout, stderr)
	case "claims":
		return runClaims(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: villaged <command> [flags]")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  demo     run an end-to-end adjudication flow and persist snapshots")
	fmt.Fprintln(w, "  summary  print the persisted safety-pool summary")
	fmt.Fprintln(w, "  audit    check the persisted safety-pool accounting")
	fmt.Fprintln(w, "  claims   list persisted claims")
}

// runDemo walks one claim through submission, assessment and payout, and a
// proposal through vote and execution, persisting the result.
func runDemo(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	dbPath := fs.String("db", "villaged.db", "snapshot store path")
	profile := fs.String("profile", "", "optional YAML config profile")
	historyDSN := fs.String("history-dsn", "", "optional postgres DSN for durable treasury movement history")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))

	cfg := platform.Load()
	cfg.MinimumReserve = 100 // keep the demo pool small
	if *profile != "" {
		var err error
		if cfg, err = platform.LoadProfile(*profile, cfg); err != nil {
			logger.Error("load profile", "error", err)
			return 1
		}
	}

	dir := membership.NewDirectory()
	trail := audit.NewLoggerWithWriter(stdout)
	pool := treasury.NewPool(dir, cfg, trail)
	if *historyDSN != "" {
		db, err := sql.Open("postgres", *historyDSN)
		if err != nil {
			logger.Error("open history database", "error", err)
			return 1
		}
		defer func() { _ = db.Close() }()
		history, err := treasury.NewPostgresHistory(db)
		if err != nil {
			logger.Error("init history sink", "error", err)
			return 1
		}
		pool.WithHistory(history)
	}
	cat := catalog.NewMemory(dir, pool)
	delegations := weight.NewDelegations()
	calc := weight.NewCalculator(dir, delegations)
	ballots := ballot.NewLedger()
	claimEngine := claims.NewEngine(dir, cat, calc, ballots, pool, trail)
	daoEngine := dao.NewEngine(dir, calc, ballots, cfg, trail)
	daoEngine.SetHandler(dao.CategoryUserApproval, func(in dao.Intent) error {
		return dir.Approve(in.Member, in.Member)
	})

	if err := seedAndAdjudicate(dir, cat, claimEngine, daoEngine, logger); err != nil {
		logger.Error("demo flow", "error", err)
		return 1
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	for _, c := range claimEngine.ClaimsByStatus(claims.StatusPaid) {
		if err := st.SaveClaim(c); err != nil {
			logger.Error("save claim", "error", err)
			return 1
		}
	}
	if err := st.SavePool(pool.Snapshot()); err != nil {
		logger.Error("save pool", "error", err)
		return 1
	}

	summary := pool.FinancialSummary()
	logger.Info("demo complete",
		"balance", summary.CurrentBalance,
		"premiums", summary.TotalPremiums,
		"payouts", summary.TotalPayouts,
	)
	return 0
}

func seedAndAdjudicate(dir *membership.Directory, cat *catalog.Memory, ce *claims.Engine, de *dao.Engine, logger *slog.Logger) error {
	council := membership.Identity("founder")
	if err := dir.Register(council, "Founder"); err != nil {
		return err
	}
	if err := dir.AppointCouncil(council, council); err != nil {
		return err
	}
	// The founder self-approves at bootstrap; council standing comes from
	// the appointment, not approval status.
	if err := dir.Approve(council, council); err != nil {
		return err
	}

	members := []membership.Identity{"amara", "bekele", "chidi", "dalia"}
	for _, m := range members {
		if err := dir.Register(m, string(m)); err != nil {
			return err
		}
		if err := dir.Approve(council, m); err != nil {
			return err
		}
	}

	planID, err := cat.CreatePlan(council, "crop-basic", "basic crop coverage", 100, 5000)
	if err != nil {
		return err
	}
	for _, m := range members {
		if _, err := cat.Subscribe(m, planID); err != nil {
			return err
		}
		for week := 0; week < 10; week++ {
			if err := cat.PayPremium(m); err != nil {
				return err
			}
		}
	}

	claimID, err := ce.SubmitClaim("amara", 400, claims.CategoryCropLoss, claims.EvidenceHash{}, "flooded field")
	if err != nil {
		return err
	}
	logger.Info("claim submitted", "id", claimID)

	for _, assessor := range []membership.Identity{"bekele", "chidi", "dalia"} {
		if err := ce.AssessClaim(assessor, claimID, true, "evidence checks out"); err != nil {
			return err
		}
	}

	propID, err := de.CreateProposal("bekele", dao.CategoryUserApproval, "approve new member",
		"neighbour vouched", dao.Intent{Member: "amara"})
	if err != nil {
		return err
	}
	logger.Info("proposal created", "id", propID)
	return nil
}

// runSummary prints the persisted safety-pool snapshot.
func runSummary(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	dbPath := fs.String("db", "villaged.db", "snapshot store path")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	sp, ok, err := st.LoadPool()
	if err != nil {
		fmt.Fprintf(stderr, "load pool: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(stderr, "no safety-pool snapshot; run villaged demo first")
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(sp)
	return 0
}

// runAudit restores the persisted pool snapshot and runs a financial audit
// against it.
func runAudit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	dbPath := fs.String("db", "villaged.db", "snapshot store path")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	sp, ok, err := st.LoadPool()
	if err != nil {
		fmt.Fprintf(stderr, "load pool: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(stderr, "no safety-pool snapshot; run villaged demo first")
		return 1
	}

	dir := membership.NewDirectory()
	auditor := membership.Identity("auditor")
	if err := dir.Register(auditor, "Auditor"); err != nil {
		fmt.Fprintf(stderr, "register auditor: %v\n", err)
		return 1
	}
	if err := dir.AppointCouncil(auditor, auditor); err != nil {
		fmt.Fprintf(stderr, "appoint auditor: %v\n", err)
		return 1
	}

	pool := treasury.NewPool(dir, platform.Load(), audit.Discard{})
	pool.Restore(sp)
	report, err := pool.ConductAudit(auditor)
	if err != nil {
		fmt.Fprintf(stderr, "audit: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
	if !report.Clean {
		return 1
	}
	return 0
}

// runClaims lists persisted claims.
func runClaims(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("claims", flag.ContinueOnError)
	dbPath := fs.String("db", "villaged.db", "snapshot store path")
	status := fs.String("status", "", "filter by status")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	var list []claims.Claim
	if *status != "" {
		list, err = st.ClaimsByStatus(claims.Status(*status))
	} else {
		list, err = st.Claims()
	}
	if err != nil {
		fmt.Fprintf(stderr, "load claims: %v\n", err)
		return 1
	}

	for _, c := range list {
		fmt.Fprintf(stdout, "#%d\t%s\t%s\t%d\n", c.ID, c.Claimant, c.Status, c.Amount)
	}
	return 0
}
