package platform

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for a freshly bootstrapped platform.
const (
	DefaultGracePeriodWeeks  = 2
	DefaultMinimumQuorum     = 3
	DefaultProposalDuration  = 7 * 24 * time.Hour
	DefaultMaxClaimRatioBps  = 8000 // 80% of premium contributions
	DefaultPenaltyRateBps    = 500
	DefaultCouncilSize       = 5
	DefaultReserveRatioBps   = 7000
	DefaultMinimumReserve    = 10000
	DefaultAuditToleranceMin = 100 // minor units
)

// Config holds the governance and treasury parameters shared by the engines.
// Amounts are in minor units; ratios are basis points.
type Config struct {
	GracePeriodWeeks int           `yaml:"grace_period_weeks"`
	MinimumQuorum    int64         `yaml:"minimum_quorum"`
	ProposalDuration time.Duration `yaml:"proposal_duration"`
	MaxClaimRatioBps int64         `yaml:"max_claim_ratio_bps"`
	PenaltyRateBps   int64         `yaml:"penalty_rate_bps"`
	CouncilSize      int           `yaml:"council_size"`
	ReserveRatioBps  int64         `yaml:"reserve_ratio_bps"`
	MinimumReserve   int64         `yaml:"minimum_reserve"`
	AuditTolerance   int64         `yaml:"audit_tolerance"`
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriodWeeks: DefaultGracePeriodWeeks,
		MinimumQuorum:    DefaultMinimumQuorum,
		ProposalDuration: DefaultProposalDuration,
		MaxClaimRatioBps: DefaultMaxClaimRatioBps,
		PenaltyRateBps:   DefaultPenaltyRateBps,
		CouncilSize:      DefaultCouncilSize,
		ReserveRatioBps:  DefaultReserveRatioBps,
		MinimumReserve:   DefaultMinimumReserve,
		AuditTolerance:   DefaultAuditToleranceMin,
	}
}

// Validate checks ranges. Ratios must fit in [0, 10000] basis points and
// the minimum reserve must be non-negative.
func (c Config) Validate() error {
	if c.MaxClaimRatioBps < 0 || c.MaxClaimRatioBps > 10000 {
		return fmt.Errorf("max_claim_ratio_bps %d out of range: %w", c.MaxClaimRatioBps, ErrInvalidInput)
	}
	if c.ReserveRatioBps < 0 || c.ReserveRatioBps > 10000 {
		return fmt.Errorf("reserve_ratio_bps %d out of range: %w", c.ReserveRatioBps, ErrInvalidInput)
	}
	if c.PenaltyRateBps < 0 || c.PenaltyRateBps > 10000 {
		return fmt.Errorf("penalty_rate_bps %d out of range: %w", c.PenaltyRateBps, ErrInvalidInput)
	}
	if c.MinimumReserve < 0 {
		return fmt.Errorf("minimum_reserve %d negative: %w", c.MinimumReserve, ErrInvalidInput)
	}
	if c.MinimumQuorum <= 0 {
		return fmt.Errorf("minimum_quorum %d non-positive: %w", c.MinimumQuorum, ErrInvalidInput)
	}
	if c.ProposalDuration <= 0 {
		return fmt.Errorf("proposal_duration %s non-positive: %w", c.ProposalDuration, ErrInvalidInput)
	}
	return nil
}

// Load builds a Config from environment variables, falling back to defaults.
func Load() Config {
	c := DefaultConfig()

	if v := os.Getenv("VM_MINIMUM_QUORUM"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MinimumQuorum = n
		}
	}
	if v := os.Getenv("VM_PROPOSAL_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ProposalDuration = d
		}
	}
	if v := os.Getenv("VM_MINIMUM_RESERVE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MinimumReserve = n
		}
	}
	if v := os.Getenv("VM_RESERVE_RATIO_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.ReserveRatioBps = n
		}
	}
	if v := os.Getenv("VM_MAX_CLAIM_RATIO_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxClaimRatioBps = n
		}
	}

	return c
}

// LoadProfile overlays a YAML profile file on top of the given config.
// Unset fields in the profile keep their current values.
func LoadProfile(path string, base Config) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read profile: %w", err)
	}

	c := base
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return base, fmt.Errorf("parse profile: %w", err)
	}
	if err := c.Validate(); err != nil {
		return base, err
	}
	return c, nil
}
