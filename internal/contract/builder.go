package contract

import (
	"sort"
	"time"

	"github.com/ppiankov/agentgate/internal/model"
	"github.com/ppiankov/agentgate/internal/signing"
)

// EnvelopeBuilder assembles a DecisionEnvelope step by step.
// Build fills the timestamp and signature, then validates.
type EnvelopeBuilder struct {
	env      DecisionEnvelope
	validFor time.Duration
	signer   *signing.Signer
	now      func() time.Time
}

// NewEnvelopeBuilder starts an envelope with a fresh decision id.
func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{
		env: DecisionEnvelope{DecisionID: NewDecisionID()},
		now: time.Now,
	}
}

// WithClock overrides the clock used for defaults.
func (b *EnvelopeBuilder) WithClock(now func() time.Time) *EnvelopeBuilder {
	b.now = now
	return b
}

// SignWith attaches the signer used by Build.
func (b *EnvelopeBuilder) SignWith(s *signing.Signer) *EnvelopeBuilder {
	b.signer = s
	return b
}

func (b *EnvelopeBuilder) DecisionID(id string) *EnvelopeBuilder {
	b.env.DecisionID = id
	return b
}

func (b *EnvelopeBuilder) TraceID(id string) *EnvelopeBuilder {
	b.env.TraceID = id
	return b
}

func (b *EnvelopeBuilder) Timestamp(t time.Time) *EnvelopeBuilder {
	b.env.Timestamp = t
	return b
}

// ValidUntil sets an absolute expiry.
func (b *EnvelopeBuilder) ValidUntil(t time.Time) *EnvelopeBuilder {
	u := t.UTC()
	b.env.ValidUntil = &u
	b.validFor = 0
	return b
}

// ValidFor sets expiry relative to the envelope timestamp. Zero clears it.
func (b *EnvelopeBuilder) ValidFor(d time.Duration) *EnvelopeBuilder {
	b.validFor = d
	b.env.ValidUntil = nil
	return b
}

func (b *EnvelopeBuilder) Verdict(v model.Verdict) *EnvelopeBuilder {
	b.env.Verdict = v
	return b
}

func (b *EnvelopeBuilder) Reason(code model.ReasonCode, human string) *EnvelopeBuilder {
	b.env.ReasonCode = code
	b.env.ReasonHuman = human
	return b
}

func (b *EnvelopeBuilder) RiskScore(score int) *EnvelopeBuilder {
	b.env.RiskScore = score
	return b
}

func (b *EnvelopeBuilder) Authority(policyName, policyVersion string, evaluatedAt time.Time) *EnvelopeBuilder {
	b.env.Authority = Authority{
		PolicyName:    policyName,
		PolicyVersion: policyVersion,
		EvaluatedAt:   evaluatedAt.UTC(),
	}
	return b
}

// RequiredChecks replaces the required check list.
func (b *EnvelopeBuilder) RequiredChecks(checks ...string) *EnvelopeBuilder {
	b.env.Applicability.RequiredChecks = append([]string(nil), checks...)
	return b
}

func (b *EnvelopeBuilder) MonitorMode(on bool) *EnvelopeBuilder {
	b.env.Applicability.MonitorMode = on
	return b
}

func (b *EnvelopeBuilder) Context(tenantID, agentID, eventType, requestedAction string) *EnvelopeBuilder {
	b.env.Context = DecisionContext{
		TenantID:        tenantID,
		AgentID:         agentID,
		EventType:       eventType,
		RequestedAction: requestedAction,
	}
	return b
}

// Build fills defaults, signs, and validates the envelope.
// Returns *ValidationError if any required field is missing or out of range.
func (b *EnvelopeBuilder) Build() (*DecisionEnvelope, error) {
	env := b.finish()
	if issues := envelopeIssues(env); len(issues) > 0 {
		return nil, &ValidationError{Object: "decision envelope", Issues: issues}
	}
	return env, nil
}

// BuildUnsafe fills defaults and signs without validating.
// Only for test fixtures and replay reconstruction.
func (b *EnvelopeBuilder) BuildUnsafe() *DecisionEnvelope {
	return b.finish()
}

func (b *EnvelopeBuilder) finish() *DecisionEnvelope {
	env := b.env
	if env.Timestamp.IsZero() {
		env.Timestamp = b.now()
	}
	env.Timestamp = env.Timestamp.UTC()
	if b.validFor > 0 {
		u := env.Timestamp.Add(b.validFor)
		env.ValidUntil = &u
	}
	if env.Applicability.RequiredChecks == nil {
		env.Applicability.RequiredChecks = []string{}
	} else {
		env.Applicability.RequiredChecks = append([]string(nil), env.Applicability.RequiredChecks...)
	}
	env.Signature = signing.Unsigned
	if b.signer != nil {
		if sig, err := b.signer.Sign(&env, "signature"); err == nil {
			env.Signature = sig
		} else {
			env.Signature = ""
		}
	}
	return &env
}

// ReceiptBuilder assembles an ExecutionReceipt step by step.
type ReceiptBuilder struct {
	r      ExecutionReceipt
	signer *signing.Signer
	now    func() time.Time
}

// NewReceiptBuilder starts a receipt with fresh receipt and execution ids.
func NewReceiptBuilder() *ReceiptBuilder {
	return &ReceiptBuilder{
		r: ExecutionReceipt{
			ReceiptID:   NewReceiptID(),
			ExecutionID: NewExecutionID(),
			Gates:       make(map[string]GateResult),
		},
		now: time.Now,
	}
}

// WithClock overrides the clock used for defaults and gate timestamps.
func (b *ReceiptBuilder) WithClock(now func() time.Time) *ReceiptBuilder {
	b.now = now
	return b
}

// SignWith attaches the signer used by Build.
func (b *ReceiptBuilder) SignWith(s *signing.Signer) *ReceiptBuilder {
	b.signer = s
	return b
}

func (b *ReceiptBuilder) ReceiptID(id string) *ReceiptBuilder {
	b.r.ReceiptID = id
	return b
}

func (b *ReceiptBuilder) ExecutionID(id string) *ReceiptBuilder {
	b.r.ExecutionID = id
	return b
}

func (b *ReceiptBuilder) DecisionID(id string) *ReceiptBuilder {
	b.r.DecisionID = id
	return b
}

func (b *ReceiptBuilder) Timestamp(t time.Time) *ReceiptBuilder {
	b.r.Timestamp = t
	return b
}

func (b *ReceiptBuilder) ExecutorID(id string) *ReceiptBuilder {
	b.r.ExecutorID = id
	return b
}

func (b *ReceiptBuilder) Context(environment, tenantID string) *ReceiptBuilder {
	b.r.ExecutionContext = ExecutionContext{Environment: environment, TenantID: tenantID}
	return b
}

// Gate records an arbitrary gate result.
func (b *ReceiptBuilder) Gate(name string, g GateResult) *ReceiptBuilder {
	if g.CheckedAt.IsZero() {
		g.CheckedAt = b.now()
	}
	g.CheckedAt = g.CheckedAt.UTC()
	b.r.Gates[name] = g
	return b
}

func (b *ReceiptBuilder) PassGate(name, source string) *ReceiptBuilder {
	return b.Gate(name, GateResult{Result: GatePass, Source: source})
}

func (b *ReceiptBuilder) FailGate(name, source string) *ReceiptBuilder {
	return b.Gate(name, GateResult{Result: GateFail, Source: source})
}

// SkipGate records a skipped gate. An empty policyVersion leaves the skip
// unauthorized, which enforcement treats as FAIL.
func (b *ReceiptBuilder) SkipGate(name, source, reason, policyVersion string) *ReceiptBuilder {
	return b.Gate(name, GateResult{
		Result:            GateSkipped,
		Source:            source,
		SkipReason:        reason,
		SkipPolicyVersion: policyVersion,
	})
}

// Gates returns a copy of the gates recorded so far.
func (b *ReceiptBuilder) Gates() map[string]GateResult {
	out := make(map[string]GateResult, len(b.r.Gates))
	for k, v := range b.r.Gates {
		out[k] = v
	}
	return out
}

func (b *ReceiptBuilder) Outcome(o Outcome) *ReceiptBuilder {
	b.r.Outcome = o
	return b
}

func (b *ReceiptBuilder) Details(d string) *ReceiptBuilder {
	b.r.Details = d
	return b
}

// Evidence merges metadata into the receipt evidence.
func (b *ReceiptBuilder) Evidence(meta map[string]any) *ReceiptBuilder {
	if len(meta) == 0 {
		return b
	}
	if b.r.Evidence.Metadata == nil {
		b.r.Evidence.Metadata = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		b.r.Evidence.Metadata[k] = v
	}
	return b
}

func (b *ReceiptBuilder) OutputHash(h string) *ReceiptBuilder {
	b.r.Evidence.OutputHash = h
	return b
}

// Build fills defaults, signs, and validates the receipt.
func (b *ReceiptBuilder) Build() (*ExecutionReceipt, error) {
	r := b.finish()
	if issues := receiptIssues(r); len(issues) > 0 {
		return nil, &ValidationError{Object: "execution receipt", Issues: issues}
	}
	return r, nil
}

// BuildUnsafe fills defaults and signs without validating.
// Only for test fixtures and replay reconstruction.
func (b *ReceiptBuilder) BuildUnsafe() *ExecutionReceipt {
	return b.finish()
}

func (b *ReceiptBuilder) finish() *ExecutionReceipt {
	r := b.r
	if r.Timestamp.IsZero() {
		r.Timestamp = b.now()
	}
	r.Timestamp = r.Timestamp.UTC()
	r.Gates = b.Gates()
	if r.Evidence.Metadata != nil {
		meta := make(map[string]any, len(r.Evidence.Metadata))
		for k, v := range r.Evidence.Metadata {
			meta[k] = v
		}
		r.Evidence.Metadata = meta
	}
	r.Signature = signing.Unsigned
	if b.signer != nil {
		if sig, err := b.signer.Sign(&r, "signature"); err == nil {
			r.Signature = sig
		} else {
			r.Signature = ""
		}
	}
	return &r
}

// sortedGateNames returns gate names in stable order for messages.
func sortedGateNames(gates map[string]GateResult) []string {
	names := make([]string, 0, len(gates))
	for n := range gates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
