package sim

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/agentgate/internal/model"
)

// DiffEntry represents one decision whose verdict changed.
type DiffEntry struct {
	Timestamp  string `json:"ts"`
	TraceID    string `json:"trace_id"`
	DecisionID string `json:"decision_id"`
	EventType  string `json:"event_type"`
	Action     string `json:"action"`
	OldVerdict string `json:"old_verdict"`
	NewVerdict string `json:"new_verdict"`
	OldReason  string `json:"old_reason"`
	NewReason  string `json:"new_reason"`
	OldTier    int    `json:"old_tier"`
	NewTier    int    `json:"new_tier"`
}

// SimResult holds the complete simulation output.
type SimResult struct {
	PolicyPath     string      `json:"policy_path"`
	TotalActions   int         `json:"total_actions"`
	Skipped        int         `json:"skipped"`
	ChangedActions int         `json:"changed_actions"`
	NewlyBlocked   int         `json:"newly_blocked"`
	NewlyAllowed   int         `json:"newly_allowed"`
	Changes        []DiffEntry `json:"changes"`
}

func isPermissive(verdict string) bool {
	return verdict == string(model.Allow)
}

func isRestrictive(verdict string) bool {
	return verdict == string(model.Deny) || verdict == string(model.RequireApproval)
}

// FormatText renders the simulation result as human-readable text.
func FormatText(r *SimResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Simulating %s against %d recorded decisions...\n", r.PolicyPath, r.TotalActions)

	if len(r.Changes) == 0 {
		b.WriteString("\nNo changes detected.\n")
		return b.String()
	}

	b.WriteString("\n")
	for _, d := range r.Changes {
		ts := d.Timestamp
		if len(ts) > 19 {
			// HH:MM:SS from an RFC3339 timestamp
			ts = ts[11:19]
		}
		action := d.Action
		if len(action) > 40 {
			action = action[:37] + "..."
		}
		fmt.Fprintf(&b, "  CHANGED  %s  %-14s %-40s %s → %s\n",
			ts, d.EventType, action, d.OldVerdict, d.NewVerdict)
	}

	fmt.Fprintf(&b, "\n%d of %d decisions changed.", r.ChangedActions, r.TotalActions)
	if r.NewlyBlocked > 0 || r.NewlyAllowed > 0 {
		fmt.Fprintf(&b, " %d newly blocked, %d newly allowed.", r.NewlyBlocked, r.NewlyAllowed)
	}
	b.WriteString("\n")

	return b.String()
}

// FormatJSON renders the simulation result as JSON.
func FormatJSON(r *SimResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sim result: %w", err)
	}
	return string(data), nil
}
