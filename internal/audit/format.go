package audit

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/agentgate/internal/policy"
)

var rule = strings.Repeat("─", 66)

// FormatTimeline renders a replay as one line per entry. A receipt or
// approval whose decision is also in the result is marked as following it.
func FormatTimeline(result *ReplayResult) string {
	label := cmp.Or(result.TraceID, "*")
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Trace: %s | No entries found.\n", label)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Trace: %s | %s–%s UTC\n%s\n", label,
		reformat(result.Summary.FirstTimestamp, time.DateTime),
		reformat(result.Summary.LastTimestamp, time.TimeOnly), rule)

	decided := make(map[string]bool)
	for _, e := range result.Entries {
		clock := reformat(e.Timestamp, time.TimeOnly)
		event := truncate(e.EventType, 14)

		if e.Type == TypeDecision {
			decided[e.DecisionID] = true
			fmt.Fprintf(&b, "%-10s %-9s %-17s %-15s %-34s%s\n", clock,
				fmt.Sprintf("T%d r%d", e.Tier, e.RiskScore), e.Verdict, event,
				truncate(e.Action, 34), patternTag(e.Patterns))
			continue
		}

		kind := e.Type
		if decided[e.DecisionID] {
			kind = "↳ " + kind
		}
		detail := e.ReceiptID
		if e.Type == TypeApproval {
			detail = "by " + e.Reason
		}
		fmt.Fprintf(&b, "%-10s %-9s %-17s %-15s %s\n", clock, kind,
			strings.ToUpper(e.Outcome), event, truncate(detail, 34))
	}

	b.WriteString(rule + "\n")
	b.WriteString(summaryLine(result.Summary))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("audit: marshal replay result: %w", err)
	}
	return string(data), nil
}

// reformat converts an entry timestamp to layout, leaving it as is when
// it does not parse.
func reformat(ts, layout string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(layout)
}

func patternTag(patterns []string) string {
	if len(patterns) == 0 {
		return ""
	}
	return "  [" + strings.Join(patterns, ",") + "]"
}

func summaryLine(s ReplaySummary) string {
	var parts []string
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	add(s.AllowCount, "allow")
	add(s.DenyCount, "deny")
	add(s.ApprovalCount, "approval")
	add(s.SanitizedCount, "sanitized")
	add(s.ExecutedCount, "executed")
	add(s.BlockedCount, "blocked")
	add(s.PatternCount, "pattern")

	return fmt.Sprintf("Summary: %s | Max risk: %d | Max tier: %d (%s)\n",
		strings.Join(parts, ", "), s.MaxRisk, s.MaxTier, policy.TierLabel(s.MaxTier))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
