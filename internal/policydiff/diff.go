// Package policydiff compares two policy configurations and reports what
// a reload would change.
package policydiff

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ppiankov/agentgate/internal/policy"
)

// Change represents a scalar field change or a keyed entry added or removed.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// RuleChange represents a rule addition, removal, or modification.
type RuleChange struct {
	Type string `json:"type"` // "added", "removed", "changed"
	Rule string `json:"rule"`
}

// DiffResult holds the comparison of two PolicyConfigs.
type DiffResult struct {
	OldPath     string       `json:"old_path"`
	NewPath     string       `json:"new_path"`
	Changes     []Change     `json:"changes"`
	RuleChanges []RuleChange `json:"rule_changes"`
	HasChanges  bool         `json:"has_changes"`
}

// Summary is a one-line count of the changes, for reload logs.
func (r *DiffResult) Summary() string {
	if !r.HasChanges {
		return "no policy changes"
	}
	return fmt.Sprintf("%d field changes, %d rule changes", len(r.Changes), len(r.RuleChanges))
}

// Diff compares two PolicyConfigs and returns the differences.
func Diff(old, new *policy.PolicyConfig) *DiffResult {
	r := &DiffResult{}

	if old.EnforcementMode != new.EnforcementMode {
		r.Changes = append(r.Changes, Change{
			Field:   "enforcement_mode",
			Old:     old.EnforcementMode,
			New:     new.EnforcementMode,
			Comment: modeComment(old.EnforcementMode, new.EnforcementMode),
		})
	}
	diffBool(r, "monitor_mode", old.MonitorMode, new.MonitorMode)
	diffBool(r, "require_registration", old.RequireRegistration, new.RequireRegistration)
	if old.ValidFor != new.ValidFor {
		comment := "looser"
		if new.ValidFor < old.ValidFor {
			comment = "stricter"
		}
		r.Changes = append(r.Changes, Change{
			Field:   "valid_for",
			Old:     old.ValidFor.String(),
			New:     new.ValidFor.String(),
			Comment: comment,
		})
	}

	// Lower thresholds send more actions to approval or deny.
	diffInt(r, "thresholds.allow_max",
		old.Thresholds.AllowMax, new.Thresholds.AllowMax, false)
	diffInt(r, "thresholds.approval_min",
		old.Thresholds.ApprovalMin, new.Thresholds.ApprovalMin, false)
	diffInt(r, "thresholds.deny_min",
		old.Thresholds.DenyMin, new.Thresholds.DenyMin, false)

	diffInt(r, "default_weight", old.DefaultWeight, new.DefaultWeight, true)
	diffWeights(r, old.RiskWeights, new.RiskWeights)

	diffRules(r, old.Rules, new.Rules)

	diffMapKeys(r, "agents", agentKeys(old), agentKeys(new))
	diffMapKeys(r, "required_checks", old.RequiredChecks, new.RequiredChecks)
	diffMapKeys(r, "denylist.urls", old.Denylist.URLs, new.Denylist.URLs)
	diffMapKeys(r, "denylist.files", old.Denylist.Files, new.Denylist.Files)
	diffMapKeys(r, "denylist.commands", old.Denylist.Commands, new.Denylist.Commands)
	diffMapKeys(r, "denylist.sql", old.Denylist.SQL, new.Denylist.SQL)

	r.HasChanges = len(r.Changes) > 0 || len(r.RuleChanges) > 0
	return r
}

var modeRank = map[string]int{"advisory": 0, "": 1, "guarded": 1, "locked": 2}

func modeComment(old, new string) string {
	if modeRank[new] > modeRank[old] {
		return "stricter"
	}
	return "looser"
}

func diffBool(r *DiffResult, field string, old, new bool) {
	if old != new {
		r.Changes = append(r.Changes, Change{
			Field: field,
			Old:   strconv.FormatBool(old),
			New:   strconv.FormatBool(new),
		})
	}
}

func diffInt(r *DiffResult, field string, old, new int, higherIsStricter bool) {
	if old != new {
		r.Changes = append(r.Changes, Change{
			Field:   field,
			Old:     strconv.Itoa(old),
			New:     strconv.Itoa(new),
			Comment: intComment(old, new, higherIsStricter),
		})
	}
}

func intComment(old, new int, higherIsStricter bool) string {
	if higherIsStricter {
		if new > old {
			return "stricter"
		}
		return "looser"
	}
	// Lower is stricter (e.g., allow_max: lower threshold = fewer auto-allows)
	if new < old {
		return "stricter"
	}
	return "looser"
}

func diffWeights(r *DiffResult, oldW, newW []policy.RiskWeight) {
	oldMap := make(map[string]int, len(oldW))
	for _, w := range oldW {
		oldMap[w.Pattern] = w.Weight
	}
	newMap := make(map[string]int, len(newW))
	for _, w := range newW {
		newMap[w.Pattern] = w.Weight
	}

	for _, w := range newW {
		field := "risk_weights." + w.Pattern
		if old, ok := oldMap[w.Pattern]; ok {
			diffInt(r, field, old, w.Weight, true)
			continue
		}
		r.Changes = append(r.Changes, Change{Field: field, New: strconv.Itoa(w.Weight), Comment: "added"})
	}
	for _, w := range oldW {
		if _, ok := newMap[w.Pattern]; !ok {
			r.Changes = append(r.Changes, Change{Field: "risk_weights." + w.Pattern, Old: strconv.Itoa(w.Weight), Comment: "removed"})
		}
	}
}

func ruleKey(r policy.Rule) string {
	return r.EventPattern + "|" + r.ActionPattern
}

func ruleLabel(r policy.Rule) string {
	return fmt.Sprintf("event=%s action=%s", r.EventPattern, r.ActionPattern)
}

func diffRules(r *DiffResult, oldRules, newRules []policy.Rule) {
	oldMap := make(map[string]policy.Rule)
	for _, rule := range oldRules {
		oldMap[ruleKey(rule)] = rule
	}

	newMap := make(map[string]policy.Rule)
	for _, rule := range newRules {
		newMap[ruleKey(rule)] = rule
	}

	// Check for added and changed
	for _, rule := range newRules {
		k := ruleKey(rule)
		if oldRule, exists := oldMap[k]; exists {
			if oldRule.Decision != rule.Decision {
				r.RuleChanges = append(r.RuleChanges, RuleChange{
					Type: "changed",
					Rule: fmt.Sprintf("%s → %s (was: %s)", ruleLabel(rule), rule.Decision, oldRule.Decision),
				})
			}
		} else {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "added",
				Rule: fmt.Sprintf("%s → %s", ruleLabel(rule), rule.Decision),
			})
		}
	}

	// Check for removed
	for _, rule := range oldRules {
		k := ruleKey(rule)
		if _, exists := newMap[k]; !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "removed",
				Rule: fmt.Sprintf("%s → %s", ruleLabel(rule), rule.Decision),
			})
		}
	}
}

func diffMapKeys(r *DiffResult, section string, oldKeys, newKeys []string) {
	oldSet := make(map[string]bool)
	for _, k := range oldKeys {
		oldSet[k] = true
	}
	newSet := make(map[string]bool)
	for _, k := range newKeys {
		newSet[k] = true
	}

	for _, k := range newKeys {
		if !oldSet[k] {
			r.Changes = append(r.Changes, Change{
				Field:   section,
				New:     k,
				Comment: "added",
			})
		}
	}
	for _, k := range oldKeys {
		if !newSet[k] {
			r.Changes = append(r.Changes, Change{
				Field:   section,
				Old:     k,
				Comment: "removed",
			})
		}
	}
}

func agentKeys(cfg *policy.PolicyConfig) []string {
	keys := make([]string, 0, len(cfg.Agents))
	for k := range cfg.Agents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
