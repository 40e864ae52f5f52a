package audit

import (
	"github.com/ppiankov/agentgate/internal/approval"
	"github.com/ppiankov/agentgate/internal/contract"
)

// Entry types.
const (
	TypeDecision = "decision"
	TypeReceipt  = "receipt"
	TypeApproval = "approval"
)

// Entry is one line in the hash-chained JSONL audit log.
// All fields are structs or scalars (no map[string]any) to guarantee
// deterministic json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp  string   `json:"ts"`
	Type       string   `json:"type"`
	TraceID    string   `json:"trace_id"`
	DecisionID string   `json:"decision_id"`
	ReceiptID  string   `json:"receipt_id,omitempty"`
	TenantID   string   `json:"tenant_id,omitempty"`
	AgentID    string   `json:"agent_id,omitempty"`
	EventType  string   `json:"event_type,omitempty"`
	Action     string   `json:"action,omitempty"`
	Verdict    string   `json:"verdict,omitempty"`
	ReasonCode string   `json:"reason_code,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Outcome    string   `json:"outcome,omitempty"`
	RiskScore  int      `json:"risk_score"`
	Tier       int      `json:"tier"`
	Patterns   []string `json:"patterns,omitempty"`
	Signature  string   `json:"signature,omitempty"`
	PolicyHash string   `json:"policy_hash"`
	PrevHash   string   `json:"prev_hash"`
}

// DecisionEntry flattens a decision envelope into an audit entry.
func DecisionEntry(env *contract.DecisionEnvelope, tier int, patterns []string, policyHash string) Entry {
	return Entry{
		Timestamp:  env.Timestamp.UTC().Format(TimestampFormat),
		Type:       TypeDecision,
		TraceID:    env.TraceID,
		DecisionID: env.DecisionID,
		TenantID:   env.Context.TenantID,
		AgentID:    env.Context.AgentID,
		EventType:  env.Context.EventType,
		Action:     env.Context.RequestedAction,
		Verdict:    string(env.Verdict),
		ReasonCode: string(env.ReasonCode),
		Reason:     env.ReasonHuman,
		RiskScore:  env.RiskScore,
		Tier:       tier,
		Patterns:   patterns,
		Signature:  env.Signature,
		PolicyHash: policyHash,
	}
}

// ReceiptEntry flattens an execution receipt. The envelope supplies the
// trace and agent; it may be nil when only the receipt is known.
func ReceiptEntry(r *contract.ExecutionReceipt, env *contract.DecisionEnvelope, policyHash string) Entry {
	e := Entry{
		Timestamp:  r.Timestamp.UTC().Format(TimestampFormat),
		Type:       TypeReceipt,
		DecisionID: r.DecisionID,
		ReceiptID:  r.ReceiptID,
		TenantID:   r.ExecutionContext.TenantID,
		Outcome:    string(r.Outcome),
		Reason:     r.Details,
		Signature:  r.Signature,
		PolicyHash: policyHash,
	}
	if env != nil {
		e.TraceID = env.TraceID
		e.AgentID = env.Context.AgentID
		e.EventType = env.Context.EventType
		e.Action = env.Context.RequestedAction
		e.Verdict = string(env.Verdict)
		e.RiskScore = env.RiskScore
	}
	return e
}

// ApprovalEntry records a human resolution of a pending decision.
func ApprovalEntry(a *approval.Approval, policyHash string) Entry {
	e := Entry{
		Type:       TypeApproval,
		TraceID:    a.TraceID,
		DecisionID: a.DecisionID,
		TenantID:   a.TenantID,
		AgentID:    a.AgentID,
		EventType:  a.EventType,
		Action:     a.Action,
		Outcome:    string(a.Status),
		Reason:     a.ResolvedBy,
		RiskScore:  a.RiskScore,
		PolicyHash: policyHash,
	}
	if a.ResolvedAt != nil {
		e.Timestamp = a.ResolvedAt.UTC().Format(TimestampFormat)
	}
	return e
}
