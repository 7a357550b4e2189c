package claims

import (
	"time"

	"github.com/villagemutual/core/pkg/membership"
)

// Status is a claim's adjudication state.
type Status string

const (
	StatusSubmitted   Status = "SUBMITTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusPaid        Status = "PAID"
	StatusDisputed    Status = "DISPUTED"
)

// Category classifies the covered event.
type Category string

const (
	CategoryStandard        Category = "STANDARD"
	CategoryEmergency       Category = "EMERGENCY"
	CategoryNaturalDisaster Category = "NATURAL_DISASTER"
	CategoryCropLoss        Category = "CROP_LOSS"
)

// EvidenceHash is the fixed-size content hash of the claim's evidence.
// Evidence bytes themselves are stored off-platform.
type EvidenceHash [32]byte

// Claim is one filed claim. Once Paid, the claim and its amount are
// immutable; claims are never deleted.
type Claim struct {
	ID               uint64              `json:"id"`
	SubscriptionID   uint64              `json:"subscription_id"`
	PlanID           uint64              `json:"plan_id"`
	Claimant         membership.Identity `json:"claimant"`
	Amount           int64               `json:"amount"`
	Evidence         EvidenceHash        `json:"evidence"`
	Description      string              `json:"description"`
	Category         Category            `json:"category"`
	Status           Status              `json:"status"`
	ReviewRound      uint32              `json:"review_round,omitempty"`
	AdjudicatorNotes string              `json:"adjudicator_notes,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
}

// transitions is the claim state graph. Every status change in the engine
// goes through one guarded check against this table, so the three
// finalization paths can never double-fire.
var transitions = map[Status][]Status{
	StatusSubmitted:   {StatusUnderReview, StatusApproved, StatusRejected},
	StatusUnderReview: {StatusApproved, StatusRejected},
	StatusApproved:    {StatusPaid},
	StatusRejected:    {StatusDisputed},
	StatusDisputed:    {StatusUnderReview},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// adjudicable reports whether the claim is still open to a finalization
// path (council decision, assessment majority or general vote).
func adjudicable(s Status) bool {
	return s == StatusSubmitted || s == StatusUnderReview
}

// RiskScore derives an informational 0-100 risk score from the requested
// amount relative to plan coverage and the claimant's filing history.
// It never gates the state machine.
func RiskScore(amount, maxClaim int64, history int) int {
	if maxClaim <= 0 {
		return 0
	}

	score := 0
	ratio := amount * 100 / maxClaim
	switch {
	case ratio > 80:
		score += 30
	case ratio > 50:
		score += 20
	case ratio > 20:
		score += 10
	}

	switch {
	case history > 5:
		score += 25
	case history > 2:
		score += 15
	}

	if score > 100 {
		score = 100
	}
	return score
}
