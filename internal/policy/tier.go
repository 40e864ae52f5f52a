package policy

import (
	"fmt"

	"github.com/ppiankov/agentgate/internal/model"
)

// Risk tiers, from least to most restricted.
const (
	TierSafe     = 0
	TierElevated = 1
	TierGuarded  = 2
	TierCritical = 3
)

var tierLabels = [...]string{"safe", "elevated", "guarded", "critical"}

// TierLabel returns the lowercase name of a tier.
func TierLabel(tier int) string {
	if tier < 0 || tier >= len(tierLabels) {
		return fmt.Sprintf("unknown(%d)", tier)
	}
	return tierLabels[tier]
}

// ClassifyTier maps a final risk score onto a tier. Bounds are inclusive
// except AllowMax, which is the last safe score.
func ClassifyTier(risk int, t Thresholds) int {
	switch {
	case risk >= t.DenyMin:
		return TierCritical
	case risk >= t.ApprovalMin:
		return TierGuarded
	case risk > t.AllowMax:
		return TierElevated
	}
	return TierSafe
}

// modeTable gives the verdict for each tier under one enforcement mode.
type modeTable [len(tierLabels)]model.Verdict

var (
	guardedTable = modeTable{model.Allow, model.Allow, model.RequireApproval, model.Deny}
	lockedTable  = modeTable{model.Allow, model.RequireApproval, model.Deny, model.Deny}
)

// EnforceByTier maps a tier and enforcement mode to a verdict and policy
// ID. Advisory mode allows everything; an empty or unknown mode is guarded.
func EnforceByTier(mode string, tier int) (model.Verdict, string) {
	if mode == "advisory" {
		return model.Allow, "tier.advisory"
	}
	table := guardedTable
	if mode == "locked" {
		table = lockedTable
	} else {
		mode = "guarded"
	}

	tier = min(max(tier, TierSafe), TierCritical)
	v := table[tier]
	return v, fmt.Sprintf("tier.%s.%s", mode, verdictSuffix(v))
}

func verdictSuffix(v model.Verdict) string {
	switch v {
	case model.Allow:
		return "allow"
	case model.RequireApproval:
		return "approval"
	}
	return "deny"
}
