package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ReplayFilter selects entries for replay. Empty fields match everything.
type ReplayFilter struct {
	TraceID    string
	DecisionID string
	AgentID    string
	From       time.Time // zero value = no lower bound
	To         time.Time // zero value = no upper bound
}

func (f ReplayFilter) match(e Entry) bool {
	if f.TraceID != "" && e.TraceID != f.TraceID {
		return false
	}
	if f.DecisionID != "" && e.DecisionID != f.DecisionID {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// ReplaySummary holds decision counts and metadata for replayed entries.
type ReplaySummary struct {
	Total          int    `json:"total"`
	AllowCount     int    `json:"allow_count"`
	DenyCount      int    `json:"deny_count"`
	ApprovalCount  int    `json:"approval_count"`
	SanitizedCount int    `json:"sanitized_count"`
	ExecutedCount  int    `json:"executed_count"`
	BlockedCount   int    `json:"blocked_count"`
	PatternCount   int    `json:"pattern_count"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
	MaxRisk        int    `json:"max_risk"`
	MaxTier        int    `json:"max_tier"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	TraceID string        `json:"trace_id,omitempty"`
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
// Malformed lines are skipped; use Verify to detect them.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	result := &ReplayResult{TraceID: filter.TraceID}
	err := scanLines(path, func(_ int, line []byte) error {
		var entry Entry
		if json.Unmarshal(line, &entry) != nil || !filter.match(entry) {
			return nil
		}
		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	return result, nil
}

func updateSummary(s *ReplaySummary, entry Entry) {
	s.Total++

	switch entry.Type {
	case TypeDecision:
		switch entry.Verdict {
		case "ALLOW":
			s.AllowCount++
		case "DENY":
			s.DenyCount++
		case "REQUIRE_APPROVAL":
			s.ApprovalCount++
		}
		if entry.ReasonCode == "SANITIZED" {
			s.SanitizedCount++
		}
		s.PatternCount += len(entry.Patterns)
		if entry.Tier > s.MaxTier {
			s.MaxTier = entry.Tier
		}
		if entry.RiskScore > s.MaxRisk {
			s.MaxRisk = entry.RiskScore
		}
	case TypeReceipt:
		switch entry.Outcome {
		case "EXECUTED":
			s.ExecutedCount++
		case "BLOCKED":
			s.BlockedCount++
		}
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
