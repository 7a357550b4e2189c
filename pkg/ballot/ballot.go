// Package ballot is the append-only vote/assessment ledger shared by the
// claims and governance engines. One ballot per identity per subject;
// duplicates are rejected, never overwritten. Weights are frozen at cast
// time, so later reputation changes do not alter past tallies.
package ballot

import (
	"fmt"
	"sync"
	"time"

	"github.com/villagemutual/core/pkg/membership"
	"github.com/villagemutual/core/pkg/platform"
)

// SubjectKind distinguishes the ballot boxes a subject id lives in.
type SubjectKind string

const (
	SubjectClaimAssessment SubjectKind = "CLAIM_ASSESSMENT"
	SubjectClaimVote       SubjectKind = "CLAIM_VOTE"
	SubjectProposal        SubjectKind = "PROPOSAL"
)

// Subject identifies one ballot box. Round separates re-adjudication
// rounds of the same entity: a reopened claim collects fresh ballots
// instead of re-counting the tally that got it rejected.
type Subject struct {
	Kind  SubjectKind
	ID    uint64
	Round uint32
}

// Ballot is one recorded vote or assessment.
type Ballot struct {
	Voter     membership.Identity `json:"voter"`
	Approve   bool                `json:"approve"`
	Weight    int64               `json:"weight"`
	Rationale string              `json:"rationale,omitempty"`
	CastAt    time.Time           `json:"cast_at"`
}

// Tally is the weighted outcome of a ballot box.
type Tally struct {
	For     int64
	Against int64
	Count   int
}

// Total returns the cumulative weight cast.
func (t Tally) Total() int64 { return t.For + t.Against }

// Ledger stores ballots per subject, append-only.
type Ledger struct {
	mu      sync.RWMutex
	ballots map[Subject][]Ballot
	voted   map[Subject]map[membership.Identity]bool
	clock   func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		ballots: make(map[Subject][]Ballot),
		voted:   make(map[Subject]map[membership.Identity]bool),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Cast appends a ballot. A second ballot by the same identity for the same
// subject fails with ErrAlreadyProcessed and leaves the box unchanged.
func (l *Ledger) Cast(s Subject, voter membership.Identity, approve bool, w int64, rationale string) (Ballot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.voted[s][voter] {
		return Ballot{}, fmt.Errorf("%s %d: identity %s: %w", s.Kind, s.ID, voter, platform.ErrAlreadyProcessed)
	}

	b := Ballot{
		Voter:     voter,
		Approve:   approve,
		Weight:    w,
		Rationale: rationale,
		CastAt:    l.clock(),
	}
	l.ballots[s] = append(l.ballots[s], b)
	if l.voted[s] == nil {
		l.voted[s] = make(map[membership.Identity]bool)
	}
	l.voted[s][voter] = true
	return b, nil
}

// HasVoted reports whether the identity already acted on the subject.
func (l *Ledger) HasVoted(s Subject, voter membership.Identity) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.voted[s][voter]
}

// Tally sums the frozen weights by decision.
func (l *Ledger) Tally(s Subject) Tally {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var t Tally
	for _, b := range l.ballots[s] {
		if b.Approve {
			t.For += b.Weight
		} else {
			t.Against += b.Weight
		}
		t.Count++
	}
	return t
}

// Ballots returns a copy of the subject's ballots in cast order.
func (l *Ledger) Ballots(s Subject) []Ballot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Ballot, len(l.ballots[s]))
	copy(out, l.ballots[s])
	return out
}
