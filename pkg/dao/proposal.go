package dao

import (
	"fmt"
	"time"

	"github.com/villagemutual/core/pkg/membership"
	"github.com/villagemutual/core/pkg/platform"
)

// Category enumerates what a proposal may decide.
type Category string

const (
	CategoryUserApproval     Category = "USER_APPROVAL"
	CategoryPolicyCreation   Category = "POLICY_CREATION"
	CategoryPolicyArchival   Category = "POLICY_ARCHIVAL"
	CategoryPolicyDeletion   Category = "POLICY_DELETION"
	CategoryUserBan          Category = "USER_BAN"
	CategoryGovernanceUpdate Category = "GOVERNANCE_UPDATE"
	CategoryFinancial        Category = "FINANCIAL"
	CategoryClaimResolution  Category = "CLAIM_RESOLUTION"
	CategoryEmergencyAction  Category = "EMERGENCY_ACTION"
	CategoryMembershipChange Category = "MEMBERSHIP_CHANGE"
)

// Status is a proposal's lifecycle state. Failed means quorum was not met
// by the deadline; Rejected means quorum was met but the against-weight
// prevailed.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusPassed   Status = "PASSED"
	StatusRejected Status = "REJECTED"
	StatusFailed   Status = "FAILED"
	StatusExecuted Status = "EXECUTED"
)

// Intent describes what executing the proposal changes. The category is
// the tag: Validate checks the fields that category needs, once, at
// creation time. Execution handlers receive the already-validated intent.
type Intent struct {
	Member  membership.Identity `json:"member,omitempty"`
	PlanID  uint64              `json:"plan_id,omitempty"`
	ClaimID uint64              `json:"claim_id,omitempty"`
	Amount  int64               `json:"amount,omitempty"`
	Param   string              `json:"param,omitempty"`
	Value   int64               `json:"value,omitempty"`
	Approve bool                `json:"approve,omitempty"`
	Note    string              `json:"note,omitempty"`
}

// Validate checks the intent carries what the category's handler needs.
func (in Intent) Validate(c Category) error {
	switch c {
	case CategoryUserApproval, CategoryUserBan, CategoryMembershipChange:
		if in.Member == "" {
			return fmt.Errorf("%s intent requires a member: %w", c, platform.ErrInvalidInput)
		}
	case CategoryPolicyArchival, CategoryPolicyDeletion:
		if in.PlanID == 0 {
			return fmt.Errorf("%s intent requires a plan id: %w", c, platform.ErrInvalidInput)
		}
	case CategoryPolicyCreation:
		if in.Note == "" {
			return fmt.Errorf("%s intent requires plan terms: %w", c, platform.ErrInvalidInput)
		}
	case CategoryFinancial:
		if in.Amount <= 0 {
			return fmt.Errorf("%s intent requires a positive amount: %w", c, platform.ErrInvalidInput)
		}
	case CategoryGovernanceUpdate:
		if in.Param == "" {
			return fmt.Errorf("%s intent requires a parameter name: %w", c, platform.ErrInvalidInput)
		}
	case CategoryClaimResolution:
		if in.ClaimID == 0 {
			return fmt.Errorf("%s intent requires a claim id: %w", c, platform.ErrInvalidInput)
		}
	case CategoryEmergencyAction:
		// Free-form; the note carries the action description.
	default:
		return fmt.Errorf("unknown category %s: %w", c, platform.ErrInvalidInput)
	}
	return nil
}

// Proposal is one governance proposal.
type Proposal struct {
	ID             uint64              `json:"id"`
	Proposer       membership.Identity `json:"proposer"`
	Category       Category            `json:"category"`
	Title          string              `json:"title"`
	Description    string              `json:"description,omitempty"`
	Intent         Intent              `json:"intent"`
	Status         Status              `json:"status"`
	VotingStart    time.Time           `json:"voting_start"`
	VotingEnd      time.Time           `json:"voting_end"`
	ForWeight      int64               `json:"for_weight"`
	AgainstWeight  int64               `json:"against_weight"`
	VotesCast      int                 `json:"votes_cast"`
	RequiredQuorum int64               `json:"required_quorum"`
	CreatedAt      time.Time           `json:"created_at"`
}

// quorumFor scales the base quorum by category. User approvals clear a
// lower bar; financial and governance changes a higher one.
func quorumFor(c Category, base int64) int64 {
	switch c {
	case CategoryUserApproval:
		return base / 2
	case CategoryFinancial:
		return base * 2
	case CategoryGovernanceUpdate:
		return base * 3
	default:
		return base
	}
}

// openToAllMembers reports whether any approved member may propose in the
// category. Everything else is council-only.
func openToAllMembers(c Category) bool {
	return c == CategoryUserApproval
}
