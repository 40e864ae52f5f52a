// Package sim replays recorded decisions against a candidate policy to
// show which verdicts a policy change would flip.
package sim

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/agentgate/internal/audit"
	"github.com/ppiankov/agentgate/internal/model"
	"github.com/ppiankov/agentgate/internal/policy"
)

// Simulate replays the decision entries of an audit log against cfg and
// returns the entries whose verdict would change. The recorded final
// risk and sequence patterns are held fixed; only policy is re-applied.
// Entries minted by human approval or rejected as invalid are skipped.
func Simulate(logPath string, cfg *policy.PolicyConfig, agentOverride string) (*SimResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	entries, err := readDecisions(logPath)
	if err != nil {
		return nil, err
	}

	ev := policy.NewEvaluator(cfg)
	result := &SimResult{}

	for _, entry := range entries {
		if skip(entry) {
			result.Skipped++
			continue
		}
		result.TotalActions++

		agentID := agentOverride
		if agentID == "" {
			agentID = entry.AgentID
		}
		in := policy.Input{
			Event: model.Event{
				EventID:   entry.DecisionID,
				TenantID:  entry.TenantID,
				AgentID:   agentID,
				EventType: entry.EventType,
				Payload:   map[string]any{"action": entry.Action},
			},
			Action:           entry.Action,
			Risk:             entry.RiskScore,
			SequencePatterns: entry.Patterns,
		}
		newResult := ev.Evaluate(in)
		newVerdict := string(newResult.Verdict)

		// Sanitizer and provider adjustments only tighten an ALLOW, and
		// they would apply again to the same action.
		if tightened(entry) && newResult.Verdict == model.Allow {
			newVerdict = string(model.RequireApproval)
		}

		if newVerdict == entry.Verdict {
			continue
		}
		result.Changes = append(result.Changes, DiffEntry{
			Timestamp:  entry.Timestamp,
			TraceID:    entry.TraceID,
			DecisionID: entry.DecisionID,
			EventType:  entry.EventType,
			Action:     entry.Action,
			OldVerdict: entry.Verdict,
			NewVerdict: newVerdict,
			OldReason:  entry.Reason,
			NewReason:  newResult.Reason,
			OldTier:    entry.Tier,
			NewTier:    newResult.Tier,
		})
		result.ChangedActions++

		if isPermissive(entry.Verdict) && isRestrictive(newVerdict) {
			result.NewlyBlocked++
		}
		if isRestrictive(entry.Verdict) && isPermissive(newVerdict) {
			result.NewlyAllowed++
		}
	}

	return result, nil
}

func skip(e audit.Entry) bool {
	return e.ReasonCode == string(model.ReasonInvalidEvent) ||
		strings.HasPrefix(e.Reason, model.ApprovedPrefix)
}

func tightened(e audit.Entry) bool {
	if e.Verdict != string(model.RequireApproval) {
		return false
	}
	return e.ReasonCode == string(model.ReasonSanitized) ||
		e.ReasonCode == string(model.ReasonProviderUnavailable)
}

// readDecisions reads the decision entries of the audit log in order.
// Receipt and approval entries and unparseable lines are ignored.
func readDecisions(logPath string) ([]audit.Entry, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var out []audit.Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry audit.Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.Type == audit.TypeDecision {
			out = append(out, entry)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return out, nil
}
