package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/agentgate/internal/denylist"
	"github.com/ppiankov/agentgate/internal/identity"
	"github.com/ppiankov/agentgate/internal/model"
)

// Thresholds defines risk score boundaries for tier classification.
//
//	risk <= allow_max              -> safe
//	allow_max < risk < approval_min -> elevated
//	approval_min <= risk < deny_min -> guarded
//	risk >= deny_min               -> critical
type Thresholds struct {
	AllowMax    int `yaml:"allow_max"`
	ApprovalMin int `yaml:"approval_min"`
	DenyMin     int `yaml:"deny_min"`
}

// Validate checks that thresholds are ordered and within [0,100].
func (t Thresholds) Validate() error {
	if t.AllowMax < 0 || t.DenyMin > 100 {
		return fmt.Errorf("thresholds must be within [0,100]")
	}
	if !(t.AllowMax < t.ApprovalMin && t.ApprovalMin <= t.DenyMin) {
		return fmt.Errorf("thresholds must satisfy allow_max < approval_min <= deny_min, got %d/%d/%d",
			t.AllowMax, t.ApprovalMin, t.DenyMin)
	}
	return nil
}

// RiskWeight assigns a base risk to event types matching Pattern.
type RiskWeight struct {
	Pattern string `yaml:"pattern"`
	Weight  int    `yaml:"weight"`
}

// Rule is an explicit override evaluated in order (first match wins).
type Rule struct {
	EventPattern  string `yaml:"event_pattern"`
	ActionPattern string `yaml:"action_pattern"`
	Decision      string `yaml:"decision"`
	Reason        string `yaml:"reason"`
}

// PolicyConfig holds all configurable policy parameters.
type PolicyConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	// EnforcementMode is advisory, guarded or locked.
	EnforcementMode string `yaml:"enforcement_mode"`
	// MonitorMode marks every envelope advisory-only.
	MonitorMode         bool                             `yaml:"monitor_mode"`
	RequiredChecks      []string                         `yaml:"required_checks"`
	ValidFor            time.Duration                    `yaml:"valid_for"`
	Thresholds          Thresholds                       `yaml:"thresholds"`
	DefaultWeight       int                              `yaml:"default_weight"`
	RiskWeights         []RiskWeight                     `yaml:"risk_weights"`
	Rules               []Rule                           `yaml:"rules"`
	Denylist            denylist.Patterns                `yaml:"denylist"`
	RequireRegistration bool                             `yaml:"require_registration"`
	Agents              map[string]*identity.AgentConfig `yaml:"agents"`
}

// DefaultConfig returns the built-in policy.
func DefaultConfig() *PolicyConfig {
	return &PolicyConfig{
		Name:            "default",
		Version:         "v1",
		EnforcementMode: "guarded",
		RequiredChecks:  []string{"policy_evaluated"},
		ValidFor:        5 * time.Minute,
		Thresholds: Thresholds{
			AllowMax:    30,
			ApprovalMin: 50,
			DenyMin:     80,
		},
		DefaultWeight: 20,
		RiskWeights: []RiskWeight{
			{Pattern: "file:read", Weight: 10},
			{Pattern: "file:list", Weight: 5},
			{Pattern: "file:write", Weight: 30},
			{Pattern: "file:delete", Weight: 45},
			{Pattern: "db:query", Weight: 15},
			{Pattern: "db:delete", Weight: 50},
			{Pattern: "db:*", Weight: 30},
			{Pattern: "http:*", Weight: 25},
			{Pattern: "shell:*", Weight: 40},
			{Pattern: "auth:*", Weight: 35},
			{Pattern: "admin:*", Weight: 55},
			{Pattern: "log:*", Weight: 5},
		},
		Rules: []Rule{
			{
				EventPattern:  "payment:*",
				ActionPattern: "*",
				Decision:      "require_approval",
				Reason:        "payments always require human approval",
			},
		},
	}
}

// Validate reports configuration errors that would make evaluation ambiguous.
func (c *PolicyConfig) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	switch c.EnforcementMode {
	case "", "advisory", "guarded", "locked":
	default:
		return fmt.Errorf("policy: unknown enforcement_mode %q", c.EnforcementMode)
	}
	for i, r := range c.Rules {
		if _, ok := parseDecision(r.Decision); !ok {
			return fmt.Errorf("policy: rule %d: unknown decision %q", i, r.Decision)
		}
	}
	return nil
}

// Registry builds the agent registry from the agents section.
func (c *PolicyConfig) Registry() *identity.Registry {
	return identity.NewRegistry(c.Agents)
}

// matchRule checks if a rule applies to the event type and action.
// Both patterns use identity.MatchPattern; empty matches everything.
func matchRule(rule Rule, eventType, action string) bool {
	return identity.MatchPattern(rule.EventPattern, eventType) &&
		identity.MatchPattern(rule.ActionPattern, action)
}

// parseDecision maps a string to a verdict. Unknown strings report false
// and callers fail closed.
func parseDecision(s string) (model.Verdict, bool) {
	switch strings.ToLower(s) {
	case "allow":
		return model.Allow, true
	case "deny":
		return model.Deny, true
	case "require_approval":
		return model.RequireApproval, true
	default:
		return model.Deny, false
	}
}

// rulePolicyID generates a policy ID from a rule.
func rulePolicyID(rule Rule) string {
	pattern := strings.Trim(rule.ActionPattern, "*")
	pattern = strings.Trim(pattern, ".")
	if pattern == "" {
		pattern = "all"
	}
	ev := strings.Trim(rule.EventPattern, "*")
	ev = strings.TrimSuffix(ev, ":")
	if ev == "" {
		ev = "any"
	}
	return fmt.Sprintf("rule.%s.%s", ev, pattern)
}
