package contract

import (
	"fmt"

	"github.com/ppiankov/agentgate/internal/model"
	"github.com/ppiankov/agentgate/internal/signing"
)

// Chain break reasons reported by ValidateChain.
const (
	ReasonMissingEnvelope      = "Missing envelope"
	ReasonMissingReceipt       = "Missing receipt"
	ReasonDecisionIDMismatch   = "Decision ID mismatch"
	ReasonMissingRequiredGates = "Missing required gates"
)

// ValidationResult is the non-throwing structural check result.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ChainResult reports the first break found walking envelope → receipts.
type ChainResult struct {
	Valid        bool     `json:"valid"`
	Reason       string   `json:"reason,omitempty"`
	EnvelopeID   string   `json:"envelope_id,omitempty"`
	ReceiptID    string   `json:"receipt_id,omitempty"`
	MissingGates []string `json:"missing_gates,omitempty"`
}

// ValidateEnvelope checks an envelope without failing hard.
func ValidateEnvelope(env *DecisionEnvelope) ValidationResult {
	if env == nil {
		return ValidationResult{Errors: []string{"envelope is nil"}, Warnings: []string{}}
	}
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}
	for _, is := range envelopeIssues(env) {
		res.Errors = append(res.Errors, is.String())
	}

	if env.ReasonCode != "" && !env.ReasonCode.Known() {
		res.Warnings = append(res.Warnings, fmt.Sprintf("reason_code: %q is not in the taxonomy", env.ReasonCode))
	}
	if env.Signature == signing.Unsigned {
		res.Warnings = append(res.Warnings, "signature: envelope is unsigned")
	}
	if env.ValidUntil != nil && !env.Timestamp.IsZero() && env.ValidUntil.Before(env.Timestamp) {
		res.Warnings = append(res.Warnings, "valid_until: precedes timestamp, envelope is born expired")
	}
	if env.Applicability.MonitorMode && env.Verdict == model.Allow {
		res.Warnings = append(res.Warnings, "applicability.monitor_mode: ALLOW verdict is advisory, execution will be blocked")
	}
	seen := make(map[string]bool)
	for _, c := range env.Applicability.RequiredChecks {
		if seen[c] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("applicability.required_checks: duplicate %q", c))
		}
		seen[c] = true
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// ValidateReceipt checks a receipt without failing hard.
func ValidateReceipt(r *ExecutionReceipt) ValidationResult {
	if r == nil {
		return ValidationResult{Errors: []string{"receipt is nil"}, Warnings: []string{}}
	}
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}
	for _, is := range receiptIssues(r) {
		res.Errors = append(res.Errors, is.String())
	}

	for _, name := range sortedGateNames(r.Gates) {
		g := r.Gates[name]
		if g.Result == GateSkipped && g.SkipPolicyVersion == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("gates.%s: skipped without skip_policy_version, treated as FAIL", name))
		}
	}
	if r.Signature == signing.Unsigned {
		res.Warnings = append(res.Warnings, "signature: receipt is unsigned")
	}
	if r.Outcome == OutcomeBlocked && r.Details == "" {
		res.Warnings = append(res.Warnings, "details: blocked receipt has no details")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// ValidateChain walks from the envelope to every receipt and returns the
// first break point: a decision id mismatch or missing required gates.
func ValidateChain(env *DecisionEnvelope, receipts []*ExecutionReceipt) ChainResult {
	if env == nil {
		return ChainResult{Reason: ReasonMissingEnvelope}
	}
	for _, r := range receipts {
		if r == nil {
			return ChainResult{Reason: ReasonMissingReceipt, EnvelopeID: env.DecisionID}
		}
		if r.DecisionID != env.DecisionID {
			return ChainResult{
				Reason:     ReasonDecisionIDMismatch,
				EnvelopeID: env.DecisionID,
				ReceiptID:  r.ReceiptID,
			}
		}
		if missing := missingGates(env, r); len(missing) > 0 {
			return ChainResult{
				Reason:       ReasonMissingRequiredGates,
				EnvelopeID:   env.DecisionID,
				ReceiptID:    r.ReceiptID,
				MissingGates: missing,
			}
		}
	}
	return ChainResult{Valid: true, EnvelopeID: env.DecisionID}
}

func envelopeIssues(env *DecisionEnvelope) []FieldIssue {
	var issues []FieldIssue
	req := func(path, v string) {
		if v == "" {
			issues = append(issues, FieldIssue{Path: path, Message: "required"})
		}
	}

	req("decision_id", env.DecisionID)
	req("trace_id", env.TraceID)
	if env.Timestamp.IsZero() {
		issues = append(issues, FieldIssue{Path: "timestamp", Message: "required"})
	}
	if !env.Verdict.Valid() {
		issues = append(issues, FieldIssue{Path: "verdict", Message: fmt.Sprintf("must be ALLOW, DENY or REQUIRE_APPROVAL, got %q", env.Verdict)})
	}
	req("reason_code", string(env.ReasonCode))
	req("reason_human", env.ReasonHuman)
	if env.RiskScore < 0 || env.RiskScore > 100 {
		issues = append(issues, FieldIssue{Path: "risk_score", Message: fmt.Sprintf("must be in [0,100], got %d", env.RiskScore)})
	}
	req("authority.policy_name", env.Authority.PolicyName)
	req("authority.policy_version", env.Authority.PolicyVersion)
	if env.Authority.EvaluatedAt.IsZero() {
		issues = append(issues, FieldIssue{Path: "authority.evaluated_at", Message: "required"})
	}
	for i, c := range env.Applicability.RequiredChecks {
		if c == "" {
			issues = append(issues, FieldIssue{Path: fmt.Sprintf("applicability.required_checks[%d]", i), Message: "must not be empty"})
		}
	}
	req("context.tenant_id", env.Context.TenantID)
	req("context.agent_id", env.Context.AgentID)
	req("context.event_type", env.Context.EventType)
	req("context.requested_action", env.Context.RequestedAction)
	req("signature", env.Signature)
	return issues
}

func receiptIssues(r *ExecutionReceipt) []FieldIssue {
	var issues []FieldIssue
	req := func(path, v string) {
		if v == "" {
			issues = append(issues, FieldIssue{Path: path, Message: "required"})
		}
	}

	req("receipt_id", r.ReceiptID)
	req("execution_id", r.ExecutionID)
	req("decision_id", r.DecisionID)
	if r.Timestamp.IsZero() {
		issues = append(issues, FieldIssue{Path: "timestamp", Message: "required"})
	}
	req("executor_id", r.ExecutorID)
	req("execution_context.environment", r.ExecutionContext.Environment)
	req("execution_context.tenant_id", r.ExecutionContext.TenantID)

	switch r.Outcome {
	case OutcomeExecuted, OutcomeBlocked, OutcomeSkipped:
	default:
		issues = append(issues, FieldIssue{Path: "outcome", Message: fmt.Sprintf("must be EXECUTED, BLOCKED or SKIPPED, got %q", r.Outcome)})
	}

	for _, name := range sortedGateNames(r.Gates) {
		g := r.Gates[name]
		path := "gates." + name
		switch g.Result {
		case GatePass, GateFail, GateSkipped:
		default:
			issues = append(issues, FieldIssue{Path: path + ".result", Message: fmt.Sprintf("must be PASS, FAIL or SKIPPED, got %q", g.Result)})
		}
		if g.Source == "" {
			issues = append(issues, FieldIssue{Path: path + ".source", Message: "required"})
		}
		if g.CheckedAt.IsZero() {
			issues = append(issues, FieldIssue{Path: path + ".checked_at", Message: "required"})
		}
		if r.Outcome == OutcomeExecuted && !g.Passed() {
			issues = append(issues, FieldIssue{Path: path, Message: "EXECUTED receipt carries a gate that did not pass"})
		}
	}
	req("signature", r.Signature)
	return issues
}
