// Package contract defines the decision envelope and execution receipt
// records, their builders, structural validators and the hard-fail guards
// that every execution attempt passes through.
package contract

import (
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/agentgate/internal/model"
)

// Outcome is the result of an execution attempt.
type Outcome string

const (
	OutcomeExecuted Outcome = "EXECUTED"
	OutcomeBlocked  Outcome = "BLOCKED"
	OutcomeSkipped  Outcome = "SKIPPED"
)

// GateStatus is the result of one required check.
type GateStatus string

const (
	GatePass    GateStatus = "PASS"
	GateFail    GateStatus = "FAIL"
	GateSkipped GateStatus = "SKIPPED"
)

// DefaultGateSource is recorded on gates auto-marked by the executor.
const DefaultGateSource = "policy-gate-verified"

// Authority names the policy that produced a decision.
type Authority struct {
	PolicyName    string    `json:"policy_name"`
	PolicyVersion string    `json:"policy_version"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// Applicability lists the checks an execution must clear.
// MonitorMode marks the decision advisory: execution never proceeds.
type Applicability struct {
	RequiredChecks []string `json:"required_checks"`
	MonitorMode    bool     `json:"monitor_mode"`
}

// DecisionContext identifies what was decided about.
type DecisionContext struct {
	TenantID        string `json:"tenant_id"`
	AgentID         string `json:"agent_id"`
	EventType       string `json:"event_type"`
	RequestedAction string `json:"requested_action"`
}

// DecisionEnvelope is the immutable, signed record of one governance decision.
// Field names and order are a compatibility contract: envelopes are persisted
// and replayed byte-for-byte.
type DecisionEnvelope struct {
	DecisionID    string           `json:"decision_id"`
	TraceID       string           `json:"trace_id"`
	Timestamp     time.Time        `json:"timestamp"`
	ValidUntil    *time.Time       `json:"valid_until,omitempty"`
	Verdict       model.Verdict    `json:"verdict"`
	ReasonCode    model.ReasonCode `json:"reason_code"`
	ReasonHuman   string           `json:"reason_human"`
	RiskScore     int              `json:"risk_score"`
	Authority     Authority        `json:"authority"`
	Applicability Applicability    `json:"applicability"`
	Context       DecisionContext  `json:"context"`
	Signature     string           `json:"signature"`
}

// Expired reports whether the envelope is past valid_until at now.
func (e *DecisionEnvelope) Expired(now time.Time) bool {
	return e.ValidUntil != nil && now.After(*e.ValidUntil)
}

// GateResult is the recorded result of one named gate.
// A SKIPPED gate counts as passed only when SkipPolicyVersion is set.
type GateResult struct {
	Result            GateStatus `json:"result"`
	CheckedAt         time.Time  `json:"checked_at"`
	Source            string     `json:"source"`
	SkipReason        string     `json:"skip_reason,omitempty"`
	SkipPolicyVersion string     `json:"skip_policy_version,omitempty"`
}

// Passed reports whether the gate clears enforcement.
func (g GateResult) Passed() bool {
	switch g.Result {
	case GatePass:
		return true
	case GateSkipped:
		return g.SkipPolicyVersion != ""
	}
	return false
}

// ExecutionContext describes where an execution ran.
type ExecutionContext struct {
	Environment string `json:"environment"`
	TenantID    string `json:"tenant_id"`
}

// Evidence is free-form execution metadata plus an optional output hash.
type Evidence struct {
	Metadata   map[string]any `json:"metadata,omitempty"`
	OutputHash string         `json:"output_hash,omitempty"`
}

// ExecutionReceipt is the signed record of one execution attempt,
// linked to exactly one DecisionEnvelope by DecisionID.
type ExecutionReceipt struct {
	ReceiptID        string                `json:"receipt_id"`
	ExecutionID      string                `json:"execution_id"`
	DecisionID       string                `json:"decision_id"`
	Timestamp        time.Time             `json:"timestamp"`
	ExecutorID       string                `json:"executor_id"`
	ExecutionContext ExecutionContext      `json:"execution_context"`
	Gates            map[string]GateResult `json:"gates"`
	Outcome          Outcome               `json:"outcome"`
	Details          string                `json:"details"`
	Evidence         Evidence              `json:"evidence"`
	Signature        string                `json:"signature"`
}

// NewDecisionID returns a fresh decision identifier.
func NewDecisionID() string {
	return "dec-" + uuid.NewString()
}

// NewReceiptID returns a fresh receipt identifier.
func NewReceiptID() string {
	return "rcpt-" + uuid.NewString()
}

// NewExecutionID returns a fresh execution identifier.
func NewExecutionID() string {
	return "exec-" + uuid.NewString()
}
