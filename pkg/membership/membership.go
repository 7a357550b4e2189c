// Package membership tracks platform members: approval status, council
// membership, reputation and contribution totals. The adjudication engines
// consume only the read-mostly Oracle interface; the Directory is the
// in-process implementation behind it.
package membership

import (
	"fmt"
	"sync"
	"time"

	"github.com/villagemutual/core/pkg/platform"
)

// Identity is an authenticated actor identity. Callers resolve it at the
// request boundary; nothing in this module verifies signatures.
type Identity string

// Status is a member's lifecycle status.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusBanned  Status = "BANNED"
)

const (
	initialReputation = 50
	maxReputation     = 500
)

// Oracle answers membership questions for the engines. Approval and council
// checks gate every mutating operation; reputation feeds vote weight.
type Oracle interface {
	IsApproved(id Identity) bool
	IsCouncilMember(id Identity) bool
	Reputation(id Identity) uint32
	ContributionTotal(id Identity) int64
	ApplyReputationDelta(id Identity, delta int32) error
}

// Member is one directory record.
type Member struct {
	ID            Identity  `json:"id"`
	Name          string    `json:"name,omitempty"`
	Status        Status    `json:"status"`
	Council       bool      `json:"council"`
	Reputation    uint32    `json:"reputation"`
	Contributions int64     `json:"contributions"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Directory is a thread-safe in-memory member registry implementing Oracle.
type Directory struct {
	mu      sync.RWMutex
	members map[Identity]*Member
	clock   func() time.Time
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		members: make(map[Identity]*Member),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (d *Directory) WithClock(clock func() time.Time) *Directory {
	d.clock = clock
	return d
}

// Register adds a new member in Pending status.
func (d *Directory) Register(id Identity, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.members[id]; ok {
		return fmt.Errorf("member %s: %w", id, platform.ErrAlreadyProcessed)
	}
	d.members[id] = &Member{
		ID:         id,
		Name:       name,
		Status:     StatusPending,
		Reputation: initialReputation,
		JoinedAt:   d.clock(),
	}
	return nil
}

// Approve activates a pending member. Council-gated.
func (d *Directory) Approve(approver, id Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isCouncilLocked(approver) {
		return fmt.Errorf("approver %s: %w", approver, platform.ErrUnauthorized)
	}
	m, ok := d.members[id]
	if !ok {
		return fmt.Errorf("member %s: %w", id, platform.ErrNotFound)
	}
	m.Status = StatusActive
	return nil
}

// Suspend moves a member back to Pending. Council-gated.
func (d *Directory) Suspend(admin, id Identity) error {
	return d.setStatus(admin, id, StatusPending)
}

// Ban permanently excludes a member. Council-gated.
func (d *Directory) Ban(admin, id Identity) error {
	return d.setStatus(admin, id, StatusBanned)
}

func (d *Directory) setStatus(admin, id Identity, s Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isCouncilLocked(admin) {
		return fmt.Errorf("admin %s: %w", admin, platform.ErrUnauthorized)
	}
	m, ok := d.members[id]
	if !ok {
		return fmt.Errorf("member %s: %w", id, platform.ErrNotFound)
	}
	m.Status = s
	return nil
}

// AppointCouncil marks a member as a council member. Council-gated, except
// when the directory has no council yet (bootstrap).
func (d *Directory) AppointCouncil(appointer, id Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hasCouncilLocked() && !d.isCouncilLocked(appointer) {
		return fmt.Errorf("appointer %s: %w", appointer, platform.ErrUnauthorized)
	}
	m, ok := d.members[id]
	if !ok {
		return fmt.Errorf("member %s: %w", id, platform.ErrNotFound)
	}
	m.Council = true
	return nil
}

// AddContribution records an amount a member has contributed to the pool.
func (d *Directory) AddContribution(id Identity, amount int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.members[id]; ok {
		m.Contributions += amount
	}
}

// Get returns a copy of a member record.
func (d *Directory) Get(id Identity) (Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[id]
	if !ok {
		return Member{}, fmt.Errorf("member %s: %w", id, platform.ErrNotFound)
	}
	return *m, nil
}

// IsApproved implements Oracle.
func (d *Directory) IsApproved(id Identity) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[id]
	return ok && m.Status == StatusActive
}

// IsCouncilMember implements Oracle.
func (d *Directory) IsCouncilMember(id Identity) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isCouncilLocked(id)
}

// Reputation implements Oracle.
func (d *Directory) Reputation(id Identity) uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if m, ok := d.members[id]; ok {
		return m.Reputation
	}
	return 0
}

// ContributionTotal implements Oracle.
func (d *Directory) ContributionTotal(id Identity) int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if m, ok := d.members[id]; ok {
		return m.Contributions
	}
	return 0
}

// ApplyReputationDelta adjusts reputation with saturating arithmetic,
// clamped to [0, 500].
func (d *Directory) ApplyReputationDelta(id Identity, delta int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.members[id]
	if !ok {
		return fmt.Errorf("member %s: %w", id, platform.ErrNotFound)
	}

	rep := int64(m.Reputation) + int64(delta)
	if rep < 0 {
		rep = 0
	}
	if rep > maxReputation {
		rep = maxReputation
	}
	m.Reputation = uint32(rep)
	return nil
}

// Council standing follows the appointment flag, not approval status, so
// a freshly appointed founder can bootstrap approvals. Banned members
// lose council standing.
func (d *Directory) isCouncilLocked(id Identity) bool {
	m, ok := d.members[id]
	return ok && m.Council && m.Status != StatusBanned
}

func (d *Directory) hasCouncilLocked() bool {
	for _, m := range d.members {
		if m.Council {
			return true
		}
	}
	return false
}
