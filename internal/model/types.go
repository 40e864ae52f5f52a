package model

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is the governance outcome for one proposed action.
type Verdict string

const (
	Allow           Verdict = "ALLOW"
	Deny            Verdict = "DENY"
	RequireApproval Verdict = "REQUIRE_APPROVAL"
)

// ParseVerdict maps a string to a Verdict. Fail-closed: unknown → Deny.
func ParseVerdict(s string) Verdict {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALLOW":
		return Allow
	case "REQUIRE_APPROVAL":
		return RequireApproval
	default:
		return Deny
	}
}

// Valid reports whether v is one of the three known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case Allow, Deny, RequireApproval:
		return true
	}
	return false
}

// ReasonCode is the machine-readable reason attached to a decision.
type ReasonCode string

const (
	ReasonPolicyAllow         ReasonCode = "POLICY_ALLOW"
	ReasonPolicyDeny          ReasonCode = "POLICY_DENY"
	ReasonRiskThreshold       ReasonCode = "RISK_THRESHOLD"
	ReasonSequencePattern     ReasonCode = "SEQUENCE_PATTERN"
	ReasonRequiresApproval    ReasonCode = "REQUIRES_APPROVAL"
	ReasonSanitized           ReasonCode = "SANITIZED"
	ReasonMonitorMode         ReasonCode = "MONITOR_MODE"
	ReasonInvalidEvent        ReasonCode = "INVALID_EVENT"
	ReasonProviderUnavailable ReasonCode = "PROVIDER_UNAVAILABLE"
	ReasonSelfTargeting       ReasonCode = "SELF_TARGETING"
)

// ApprovedPrefix starts the human reason of envelopes minted by a human
// approval.
const ApprovedPrefix = "approved by "

var knownReasons = map[ReasonCode]bool{
	ReasonPolicyAllow:         true,
	ReasonPolicyDeny:          true,
	ReasonRiskThreshold:       true,
	ReasonSequencePattern:     true,
	ReasonRequiresApproval:    true,
	ReasonSanitized:           true,
	ReasonMonitorMode:         true,
	ReasonInvalidEvent:        true,
	ReasonProviderUnavailable: true,
	ReasonSelfTargeting:       true,
}

// Known reports whether the reason code is part of the taxonomy.
func (r ReasonCode) Known() bool {
	return knownReasons[r]
}

// Outcome is the per-action result recorded in an agent's history.
type Outcome string

const (
	OutcomeAllowed   Outcome = "allowed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeEscalated Outcome = "escalated"
	OutcomeSanitized Outcome = "sanitized"
)

// OutcomeForVerdict maps a verdict to the outcome counted in agent stats.
func OutcomeForVerdict(v Verdict) Outcome {
	switch v {
	case Allow:
		return OutcomeAllowed
	case RequireApproval:
		return OutcomeEscalated
	default:
		return OutcomeBlocked
	}
}

// Event is a structurally-valid proposed action handed over by ingress.
// AgentID is optional; when empty the event source identifies the agent.
type Event struct {
	EventID       string         `json:"event_id"`
	TenantID      string         `json:"tenant_id"`
	AgentID       string         `json:"agent_id,omitempty"`
	EventType     string         `json:"event_type"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload"`
}

// Agent returns the agent identifier for the event.
func (e Event) Agent() string {
	if e.AgentID != "" {
		return e.AgentID
	}
	return e.Source
}

// Validate performs the minimal structural check the core relies on.
func (e Event) Validate() error {
	var missing []string
	if e.EventID == "" {
		missing = append(missing, "event_id")
	}
	if e.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if e.EventType == "" {
		missing = append(missing, "event_type")
	}
	if e.Source == "" && e.AgentID == "" {
		missing = append(missing, "source")
	}
	if len(missing) > 0 {
		return fmt.Errorf("event missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PayloadString returns payload[key] if it is a string.
func (e Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[key].(string)
	return s
}

// Proposal is the opaque recommendation from a decision provider.
type Proposal struct {
	RecommendedAction string  `json:"recommended_action"`
	Confidence        float64 `json:"confidence"`
	Explanation       string  `json:"explanation"`
}

// ActionSummary renders the requested action for an envelope context.
// Known payload keys are tried in order; otherwise the event type is used.
func ActionSummary(eventType string, payload map[string]any) string {
	for _, k := range []string{"action", "command", "query", "sql", "url", "path", "content"} {
		if s, ok := payload[k].(string); ok && s != "" {
			return s
		}
	}
	return eventType
}

// CopyPayload returns a deep copy of a payload map. Nested maps and
// slices are copied so rewrites never reach the caller's values.
func CopyPayload(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyPayload(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
