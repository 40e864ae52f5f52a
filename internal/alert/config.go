package alert

// Alert types carried in AlertEvent.Type.
const (
	TypeSequencePattern = "sequence_pattern"
	TypeSanitized       = "sanitized"
	TypeExecutionBlock  = "execution_blocked"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["deny", "require_approval", "sequence_pattern"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp  string   `json:"timestamp"`
	TraceID    string   `json:"trace_id"`
	DecisionID string   `json:"decision_id"`
	AgentID    string   `json:"agent_id"`
	EventType  string   `json:"event_type"`
	Action     string   `json:"action"`
	Verdict    string   `json:"verdict"`
	ReasonCode string   `json:"reason_code"`
	Reason     string   `json:"reason"`
	RiskScore  int      `json:"risk_score"`
	Tier       int      `json:"tier"`
	Patterns   []string `json:"patterns,omitempty"`
	PolicyHash string   `json:"policy_hash"`
	Type       string   `json:"type,omitempty"`
}
