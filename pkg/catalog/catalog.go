// Package catalog holds the coverage plan and subscription records the
// adjudication engines read. Plan pricing and vetting policy live outside
// this module; the engines only need max coverage and subscription status.
package catalog

import (
	"fmt"
	"sync"
	"time"

	"github.com/villagemutual/core/pkg/membership"
	"github.com/villagemutual/core/pkg/platform"
)

// PlanStatus is a plan's lifecycle status.
type PlanStatus string

const (
	PlanActive   PlanStatus = "ACTIVE"
	PlanArchived PlanStatus = "ARCHIVED"
	PlanDeleted  PlanStatus = "DELETED"
)

// SubscriptionStatus is a subscription's lifecycle status.
type SubscriptionStatus string

const (
	SubActive      SubscriptionStatus = "ACTIVE"
	SubGracePeriod SubscriptionStatus = "GRACE_PERIOD"
	SubSuspended   SubscriptionStatus = "SUSPENDED"
	SubCancelled   SubscriptionStatus = "CANCELLED"
)

// Plan is one coverage plan. Amounts are minor units.
type Plan struct {
	ID            uint64              `json:"id"`
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	WeeklyPremium int64               `json:"weekly_premium"`
	MaxCoverage   int64               `json:"max_coverage"`
	Status        PlanStatus          `json:"status"`
	Creator       membership.Identity `json:"creator"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Subscription binds a member to a plan.
type Subscription struct {
	ID                uint64              `json:"id"`
	PlanID            uint64              `json:"plan_id"`
	Subscriber        membership.Identity `json:"subscriber"`
	Status            SubscriptionStatus  `json:"status"`
	StartedAt         time.Time           `json:"started_at"`
	LastPaymentAt     time.Time           `json:"last_payment_at"`
	NextPaymentDue    time.Time           `json:"next_payment_due"`
	WeeksPaid         uint64              `json:"weeks_paid"`
	TotalPremiumsPaid int64               `json:"total_premiums_paid"`
}

// Covered reports whether the subscription entitles its holder to file
// claims. Grace-period members keep coverage until the grace window lapses.
func (s Subscription) Covered() bool {
	return s.Status == SubActive || s.Status == SubGracePeriod
}

// Catalog is the read surface the adjudication engines depend on.
type Catalog interface {
	GetPlan(planID uint64) (Plan, error)
	ActiveSubscription(id membership.Identity) (Subscription, error)
}

// PremiumSink receives premium payments. The treasury implements this.
type PremiumSink interface {
	ReceivePremium(payer string, amount int64) error
}

// Memory is a thread-safe in-memory Catalog with plan and subscription
// management on top of the read surface.
type Memory struct {
	mu       sync.RWMutex
	oracle   membership.Oracle
	sink     PremiumSink
	plans    map[uint64]*Plan
	subs     map[uint64]*Subscription
	byOwner  map[membership.Identity]uint64
	nextPlan uint64
	nextSub  uint64
	clock    func() time.Time
}

// NewMemory creates an empty catalog. sink may be nil when premium receipt
// is handled elsewhere.
func NewMemory(oracle membership.Oracle, sink PremiumSink) *Memory {
	return &Memory{
		oracle:  oracle,
		sink:    sink,
		plans:   make(map[uint64]*Plan),
		subs:    make(map[uint64]*Subscription),
		byOwner: make(map[membership.Identity]uint64),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

// CreatePlan registers a new active plan. Council-gated.
func (m *Memory) CreatePlan(creator membership.Identity, name, description string, weeklyPremium, maxCoverage int64) (uint64, error) {
	if !m.oracle.IsCouncilMember(creator) {
		return 0, fmt.Errorf("creator %s: %w", creator, platform.ErrUnauthorized)
	}
	if weeklyPremium <= 0 || maxCoverage <= 0 {
		return 0, fmt.Errorf("plan amounts must be positive: %w", platform.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextPlan++
	p := &Plan{
		ID:            m.nextPlan,
		Name:          name,
		Description:   description,
		WeeklyPremium: weeklyPremium,
		MaxCoverage:   maxCoverage,
		Status:        PlanActive,
		Creator:       creator,
		CreatedAt:     m.clock(),
	}
	m.plans[p.ID] = p
	return p.ID, nil
}

// ArchivePlan stops new subscriptions to a plan. Council-gated.
func (m *Memory) ArchivePlan(archiver membership.Identity, planID uint64) error {
	if !m.oracle.IsCouncilMember(archiver) {
		return fmt.Errorf("archiver %s: %w", archiver, platform.ErrUnauthorized)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[planID]
	if !ok {
		return fmt.Errorf("plan %d: %w", planID, platform.ErrNotFound)
	}
	p.Status = PlanArchived
	return nil
}

// Subscribe creates an active subscription for an approved member.
func (m *Memory) Subscribe(subscriber membership.Identity, planID uint64) (uint64, error) {
	if !m.oracle.IsApproved(subscriber) {
		return 0, fmt.Errorf("subscriber %s: %w", subscriber, platform.ErrUnauthorized)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[planID]
	if !ok {
		return 0, fmt.Errorf("plan %d: %w", planID, platform.ErrNotFound)
	}
	if p.Status != PlanActive {
		return 0, fmt.Errorf("plan %d not active: %w", planID, platform.ErrInvalidInput)
	}
	if existing, ok := m.byOwner[subscriber]; ok {
		if s := m.subs[existing]; s != nil && s.Covered() {
			return 0, fmt.Errorf("subscriber %s already covered: %w", subscriber, platform.ErrAlreadyProcessed)
		}
	}

	now := m.clock()
	m.nextSub++
	s := &Subscription{
		ID:             m.nextSub,
		PlanID:         planID,
		Subscriber:     subscriber,
		Status:         SubActive,
		StartedAt:      now,
		NextPaymentDue: now.Add(7 * 24 * time.Hour),
	}
	m.subs[s.ID] = s
	m.byOwner[subscriber] = s.ID
	return s.ID, nil
}

// PayPremium records one weekly premium payment and forwards the amount
// to the premium sink. The credit and the bookkeeping happen together;
// if the sink rejects the payment nothing is recorded.
func (m *Memory) PayPremium(subscriber membership.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subID, ok := m.byOwner[subscriber]
	if !ok {
		return fmt.Errorf("subscription for %s: %w", subscriber, platform.ErrNotFound)
	}
	s := m.subs[subID]
	if !s.Covered() {
		return fmt.Errorf("subscription %d not active: %w", subID, platform.ErrInvalidInput)
	}
	p, ok := m.plans[s.PlanID]
	if !ok {
		return fmt.Errorf("plan %d: %w", s.PlanID, platform.ErrNotFound)
	}

	if m.sink != nil {
		if err := m.sink.ReceivePremium(string(subscriber), p.WeeklyPremium); err != nil {
			return err
		}
	}

	now := m.clock()
	s.Status = SubActive
	s.LastPaymentAt = now
	s.NextPaymentDue = s.NextPaymentDue.Add(7 * 24 * time.Hour)
	s.WeeksPaid++
	s.TotalPremiumsPaid += p.WeeklyPremium
	return nil
}

// Cancel ends a subscription at the holder's request.
func (m *Memory) Cancel(subscriber membership.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subID, ok := m.byOwner[subscriber]
	if !ok {
		return fmt.Errorf("subscription for %s: %w", subscriber, platform.ErrNotFound)
	}
	m.subs[subID].Status = SubCancelled
	return nil
}

// MarkGracePeriod flags a subscription whose payment is overdue. The billing
// scheduler that decides when calls this; the catalog only records it.
func (m *Memory) MarkGracePeriod(subID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[subID]
	if !ok {
		return fmt.Errorf("subscription %d: %w", subID, platform.ErrNotFound)
	}
	if s.Status == SubActive {
		s.Status = SubGracePeriod
	}
	return nil
}

// GetPlan implements Catalog.
func (m *Memory) GetPlan(planID uint64) (Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[planID]
	if !ok {
		return Plan{}, fmt.Errorf("plan %d: %w", planID, platform.ErrNotFound)
	}
	return *p, nil
}

// ActiveSubscription implements Catalog. It returns the caller's covered
// subscription (active or in grace period).
func (m *Memory) ActiveSubscription(id membership.Identity) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subID, ok := m.byOwner[id]
	if !ok {
		return Subscription{}, fmt.Errorf("subscription for %s: %w", id, platform.ErrNotFound)
	}
	s := m.subs[subID]
	if !s.Covered() {
		return Subscription{}, fmt.Errorf("subscription for %s lapsed: %w", id, platform.ErrNotFound)
	}
	return *s, nil
}

// Plans returns all plans, for catalog listings.
func (m *Memory) Plans() []Plan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Plan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, *p)
	}
	return out
}
