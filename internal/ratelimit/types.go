package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Scope indicates which request dimension a rule applies to.
type Scope string

const (
	ScopeIP       Scope = "ip"
	ScopeUser     Scope = "user"
	ScopeEndpoint Scope = "endpoint"
	ScopeTier     Scope = "tier"
)

// Algorithm selects the counting strategy for a rule.
type Algorithm string

const (
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmFixedWindow   Algorithm = "fixed_window"
)

// Rule describes a single rate limit rule.
type Rule struct {
	RuleID    string        `yaml:"rule-id" json:"rule_id"`
	Scope     Scope         `yaml:"scope" json:"scope"`
	Algorithm Algorithm     `yaml:"algorithm" json:"algorithm"`
	Limit     int           `yaml:"limit" json:"limit"`
	Window    time.Duration `yaml:"window" json:"window"`
	Endpoints []string      `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	Exempt    []string      `yaml:"exempt,omitempty" json:"exempt,omitempty"`
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Priority  int           `yaml:"priority" json:"priority"`
	Blocking  bool          `yaml:"blocking" json:"blocking"`
}

// BurstConfig guards sudden spikes independently of the steady-state rules.
type BurstConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Limit     int           `yaml:"limit" json:"limit"`
	Window    time.Duration `yaml:"window" json:"window"`
	Cooldown  time.Duration `yaml:"cooldown" json:"cooldown"`
	Threshold int           `yaml:"threshold" json:"threshold"`
}

// QuotaConfig describes a longer-horizon usage ceiling.
type QuotaConfig struct {
	QuotaID  string        `yaml:"quota-id" json:"quota_id"`
	Scope    Scope         `yaml:"scope" json:"scope"`
	Limit    int           `yaml:"limit" json:"limit"`
	Tiers    []string      `yaml:"tiers,omitempty" json:"tiers,omitempty"`
	Period   time.Duration `yaml:"period" json:"period"`
	Blocking bool          `yaml:"blocking" json:"blocking"`
}

// AdaptiveConfig enables load-based tightening of effective limits.
type AdaptiveConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Ceiling     float64 `yaml:"ceiling" json:"ceiling"`
	Sensitivity float64 `yaml:"sensitivity" json:"sensitivity"`
}

// Config is one immutable rate limit configuration snapshot.
type Config struct {
	ID       string          `yaml:"id" json:"id"`
	Version  int64           `yaml:"version" json:"version"`
	Active   bool            `yaml:"active" json:"active"`
	Rules    []Rule          `yaml:"rules" json:"rules"`
	Burst    *BurstConfig    `yaml:"burst,omitempty" json:"burst,omitempty"`
	Quotas   []QuotaConfig   `yaml:"quotas,omitempty" json:"quotas,omitempty"`
	Adaptive *AdaptiveConfig `yaml:"adaptive,omitempty" json:"adaptive,omitempty"`
}

// Result describes the outcome of evaluating one rule for one key.
type Result struct {
	Allowed    bool
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// ConfigurationError reports an invalid config rejected at load time.
type ConfigurationError struct {
	ConfigID string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rate limit config %q: %s", e.ConfigID, e.Reason)
}

func configErrorf(id, format string, args ...any) error {
	return &ConfigurationError{ConfigID: id, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the config eagerly so bad rules never reach request time.
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigurationError{Reason: "config is nil"}
	}
	if strings.TrimSpace(c.ID) == "" {
		return &ConfigurationError{Reason: "missing config id"}
	}
	seen := make(map[string]struct{}, len(c.Rules))
	for i := range c.Rules {
		rule := &c.Rules[i]
		if strings.TrimSpace(rule.RuleID) == "" {
			return configErrorf(c.ID, "rule %d: missing rule id", i)
		}
		if _, dup := seen[rule.RuleID]; dup {
			return configErrorf(c.ID, "duplicate rule id %q", rule.RuleID)
		}
		seen[rule.RuleID] = struct{}{}
		switch rule.Scope {
		case ScopeIP, ScopeUser, ScopeEndpoint, ScopeTier:
		default:
			return configErrorf(c.ID, "rule %q: unknown scope %q", rule.RuleID, rule.Scope)
		}
		switch rule.Algorithm {
		case AlgorithmTokenBucket, AlgorithmSlidingWindow, AlgorithmFixedWindow:
		default:
			return configErrorf(c.ID, "rule %q: unknown algorithm %q", rule.RuleID, rule.Algorithm)
		}
		if rule.Limit < 0 {
			return configErrorf(c.ID, "rule %q: negative limit %d", rule.RuleID, rule.Limit)
		}
		if rule.Window <= 0 {
			return configErrorf(c.ID, "rule %q: non-positive window %s", rule.RuleID, rule.Window)
		}
	}
	if c.Burst != nil && c.Burst.Enabled {
		if c.Burst.Limit <= 0 {
			return configErrorf(c.ID, "burst: non-positive limit %d", c.Burst.Limit)
		}
		if c.Burst.Window <= 0 {
			return configErrorf(c.ID, "burst: non-positive window %s", c.Burst.Window)
		}
		if c.Burst.Cooldown <= 0 {
			return configErrorf(c.ID, "burst: non-positive cooldown %s", c.Burst.Cooldown)
		}
	}
	for i := range c.Quotas {
		q := &c.Quotas[i]
		if strings.TrimSpace(q.QuotaID) == "" {
			return configErrorf(c.ID, "quota %d: missing quota id", i)
		}
		if q.Limit < 0 {
			return configErrorf(c.ID, "quota %q: negative limit %d", q.QuotaID, q.Limit)
		}
		if q.Period <= 0 {
			return configErrorf(c.ID, "quota %q: non-positive period %s", q.QuotaID, q.Period)
		}
	}
	if c.Adaptive != nil && c.Adaptive.Enabled {
		if c.Adaptive.Ceiling <= 0 || c.Adaptive.Ceiling > 1 {
			return configErrorf(c.ID, "adaptive: ceiling %v outside (0,1]", c.Adaptive.Ceiling)
		}
		if c.Adaptive.Sensitivity <= 0 {
			return configErrorf(c.ID, "adaptive: non-positive sensitivity %v", c.Adaptive.Sensitivity)
		}
	}
	return nil
}

// AppliesTo reports whether the rule covers the endpoint and identifier.
func (r *Rule) AppliesTo(endpoint, identifier string) bool {
	if r == nil || !r.Enabled {
		return false
	}
	for _, exempt := range r.Exempt {
		if exempt == identifier {
			return false
		}
	}
	if len(r.Endpoints) == 0 {
		return true
	}
	for _, e := range r.Endpoints {
		if e == endpoint {
			return true
		}
	}
	return false
}
