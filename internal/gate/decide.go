package gate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ppiankov/agentgate/internal/alert"
	"github.com/ppiankov/agentgate/internal/approval"
	"github.com/ppiankov/agentgate/internal/audit"
	"github.com/ppiankov/agentgate/internal/captoken"
	"github.com/ppiankov/agentgate/internal/config"
	"github.com/ppiankov/agentgate/internal/contract"
	"github.com/ppiankov/agentgate/internal/memory"
	"github.com/ppiankov/agentgate/internal/model"
	"github.com/ppiankov/agentgate/internal/policy"
	"github.com/ppiankov/agentgate/internal/sanitize"
	"github.com/ppiankov/agentgate/internal/sequence"
)

// TokenKey is the payload key carrying an encoded capability token.
// When present, the token must grant the event type.
const TokenKey = "capability_token"

// Decision is everything produced for one event. Envelope is the signed
// record handed back to callers; the rest explains how it was reached.
type Decision struct {
	Envelope  *contract.DecisionEnvelope `json:"envelope"`
	Sanitized *sanitize.Result           `json:"sanitized,omitempty"`
	Proposal  *model.Proposal            `json:"proposal,omitempty"`
	BaseRisk  int                        `json:"base_risk"`
	Factors   []policy.RiskFactor        `json:"factors,omitempty"`
	Sequence  sequence.AnalysisResult    `json:"sequence"`
	Risk      memory.AdaptiveScore       `json:"risk"`
	Tier      int                        `json:"tier"`
	PolicyID  string                     `json:"policy_id"`
	SessionID string                     `json:"session_id,omitempty"`
}

// Decide produces a signed envelope for one proposed action.
//
// Order (must not be changed):
//  1. Event validation: INVALID_EVENT deny
//  2. Capability token, when the payload carries one
//  3. Session touch
//  4. Sanitizer rewrite
//  5. Provider proposal and base risk
//  6. Sequence analysis and adaptive risk
//  7. Policy evaluation, then sanitizer and provider adjustments
//  8. Sign, record outcome, persist
//
// A returned error means no envelope could be built; every verdict,
// including DENY, comes back as a Decision.
func (g *Gate) Decide(ctx context.Context, e model.Event) (*Decision, error) {
	start := time.Now()
	cfg, ev, hash := g.snapshot()

	if err := e.Validate(); err != nil {
		return g.reject(ctx, cfg, hash, e, model.ReasonInvalidEvent, err.Error(), start)
	}

	e.Payload = model.CopyPayload(e.Payload)
	if raw, ok := e.Payload[TokenKey]; ok {
		delete(e.Payload, TokenKey)
		if err := g.checkToken(raw, e); err != nil {
			d, derr := g.reject(ctx, cfg, hash, e, model.ReasonPolicyDeny, err.Error(), start)
			if derr == nil {
				g.memory.RecordAction(e.Agent(), model.OutcomeBlocked)
			}
			return d, derr
		}
	}

	agent := e.Agent()
	d := &Decision{}
	if s, ok := g.sessions.Active(agent); ok {
		d.SessionID = s.SessionID
	} else if s, err := g.sessions.Start(agent, map[string]string{"tenant_id": e.TenantID}); err == nil {
		d.SessionID = s.SessionID
	}

	original := model.ActionSummary(e.EventType, e.Payload)
	action := original
	payload := e.Payload
	if res, ok := g.sanitizer.TrySanitize(e.EventType, e.Payload); ok {
		d.Sanitized = res
		action = res.SanitizedAction
		payload = res.Payload
	}

	profile := g.memory.RiskProfile(agent)
	prop, perr := g.provider.Propose(ctx, e, string(profile.TrustLevel))
	if perr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("gate: decide: %w", ctxErr)
		}
		fmt.Fprintf(g.log, "gate: provider unavailable for %s: %v\n", e.EventID, perr)
	} else {
		d.Proposal = &prop
	}

	d.BaseRisk, d.Factors = policy.BaseRisk(e, d.Proposal, &cfg.Policy)
	d.Sequence = g.sequences.Analyze(agent, sequence.ActionRecord{
		EventType: e.EventType,
		Timestamp: g.now(),
		RiskScore: d.BaseRisk,
		Payload:   payload,
	})
	d.Risk = g.memory.AdaptiveRisk(agent, d.BaseRisk, int(math.Round(d.Sequence.CumulativeRisk)))

	res := ev.Evaluate(policy.Input{
		Event:            e,
		Action:           action,
		OriginalAction:   original,
		Risk:             d.Risk.Score,
		SequencePatterns: d.Sequence.MatchedPatterns,
	})
	res = adjust(res, d, perr)
	d.Tier = res.Tier
	d.PolicyID = res.PolicyID

	env, err := g.envelope(cfg, traceIDFor(e), res.Verdict, res.ReasonCode, res.Reason, d.Risk.Score,
		res.MonitorMode, e.TenantID, agent, e.EventType, action)
	if err != nil {
		return nil, err
	}
	d.Envelope = env

	outcome := model.OutcomeForVerdict(env.Verdict)
	if d.Sanitized != nil && env.Verdict != model.Deny {
		outcome = model.OutcomeSanitized
	}
	if err := g.memory.RecordAction(agent, outcome); err != nil {
		fmt.Fprintf(g.log, "gate: record outcome: %v\n", err)
	}

	g.persistDecision(ctx, d, hash, e)
	g.observe(d, hash, time.Since(start))
	return d, nil
}

// adjust applies sanitizer and provider outcomes on top of the policy
// result. Denials are never relaxed.
func adjust(res policy.Result, d *Decision, providerErr error) policy.Result {
	if res.Verdict == model.Deny {
		return res
	}
	if s := d.Sanitized; s != nil {
		res.ReasonCode = model.ReasonSanitized
		res.Reason = fmt.Sprintf("%s; sanitized by %s: %s", res.Reason, s.Rule, strings.Join(s.Changes, ", "))
		if s.RequiresConfirmation && res.Verdict == model.Allow {
			res.Verdict = model.RequireApproval
			res.Reason += "; rewrite requires confirmation"
		}
		return res
	}
	if providerErr != nil {
		res.ReasonCode = model.ReasonProviderUnavailable
		res.Reason += "; decision provider unavailable"
		if res.Verdict == model.Allow && res.Tier > policy.TierSafe {
			res.Verdict = model.RequireApproval
		}
	}
	return res
}

// reject builds a DENY envelope without consulting the engines. Missing
// identity fields are filled with "unknown" so the envelope stays
// structurally valid.
func (g *Gate) reject(ctx context.Context, cfg *config.Config, hash string, e model.Event,
	code model.ReasonCode, reason string, start time.Time) (*Decision, error) {
	env, err := g.envelope(cfg, traceIDFor(e), model.Deny, code, reason, 100, false,
		orUnknown(e.TenantID), orUnknown(e.Agent()), orUnknown(e.EventType),
		orUnknown(model.ActionSummary(e.EventType, e.Payload)))
	if err != nil {
		return nil, err
	}
	d := &Decision{
		Envelope: env,
		Risk:     memory.AdaptiveScore{Score: 100, Explanation: reason},
		Tier:     policy.TierCritical,
		PolicyID: "gate.reject",
	}
	g.persistDecision(ctx, d, hash, e)
	g.observe(d, hash, time.Since(start))
	return d, nil
}

func (g *Gate) envelope(cfg *config.Config, traceID string, v model.Verdict, code model.ReasonCode,
	reason string, risk int, monitor bool, tenant, agent, eventType, action string) (*contract.DecisionEnvelope, error) {
	now := g.now()
	b := contract.NewEnvelopeBuilder().
		WithClock(func() time.Time { return now }).
		SignWith(g.signer).
		TraceID(traceID).
		Verdict(v).
		Reason(code, reason).
		RiskScore(risk).
		Authority(cfg.Policy.Name, cfg.Policy.Version, now).
		RequiredChecks(cfg.Policy.RequiredChecks...).
		MonitorMode(monitor || cfg.Policy.MonitorMode).
		Context(tenant, agent, eventType, action)
	if cfg.Policy.ValidFor > 0 {
		b.ValidFor(cfg.Policy.ValidFor)
	}
	env, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("gate: build envelope: %w", err)
	}
	return env, nil
}

func (g *Gate) checkToken(raw any, e model.Event) error {
	s, ok := raw.(string)
	if !ok {
		return fmt.Errorf("capability token must be a string")
	}
	tok, err := captoken.Decode(s)
	if err != nil {
		return err
	}
	if tok.Subject != e.Agent() {
		return fmt.Errorf("capability token %s was issued to %q, not %q", tok.TokenID, tok.Subject, e.Agent())
	}
	granted, err := g.tokens.HasCapability(tok, e.EventType)
	if err != nil {
		return err
	}
	if !granted {
		return fmt.Errorf("capability token %s does not grant %s", tok.TokenID, e.EventType)
	}
	return nil
}

func (g *Gate) persistDecision(ctx context.Context, d *Decision, hash string, e model.Event) {
	env := d.Envelope
	if g.audit != nil {
		if err := g.audit.Record(audit.DecisionEntry(env, d.Tier, d.Sequence.MatchedPatterns, hash)); err != nil {
			fmt.Fprintf(g.log, "gate: audit: %v\n", err)
		}
	}
	if g.store != nil {
		if err := g.store.SaveEnvelope(ctx, env); err != nil {
			fmt.Fprintf(g.log, "gate: store: %v\n", err)
		}
	}
	if g.approvals != nil && env.Verdict == model.RequireApproval {
		payload := e.Payload
		if d.Sanitized != nil {
			payload = d.Sanitized.Payload
		}
		err := g.approvals.Request(approval.Approval{
			DecisionID: env.DecisionID,
			TraceID:    env.TraceID,
			TenantID:   env.Context.TenantID,
			AgentID:    env.Context.AgentID,
			EventType:  env.Context.EventType,
			Action:     env.Context.RequestedAction,
			Payload:    payload,
			RiskScore:  env.RiskScore,
			Reason:     env.ReasonHuman,
			PolicyID:   d.PolicyID,
		})
		if err != nil {
			fmt.Fprintf(g.log, "gate: approval request: %v\n", err)
		}
	}
}

func (g *Gate) observe(d *Decision, hash string, took time.Duration) {
	env := d.Envelope
	g.metrics.Decision(string(env.Verdict), string(env.ReasonCode), env.RiskScore, d.Sequence.MatchedPatterns, took)
	if d.Sanitized != nil {
		g.metrics.Sanitized(d.Sanitized.Rule)
	}
	g.metrics.ActiveSessions(len(g.sessions.ActiveSessions()))

	ae := alert.AlertEvent{
		Timestamp:  env.Timestamp.UTC().Format(audit.TimestampFormat),
		TraceID:    env.TraceID,
		DecisionID: env.DecisionID,
		AgentID:    env.Context.AgentID,
		EventType:  env.Context.EventType,
		Action:     env.Context.RequestedAction,
		Verdict:    string(env.Verdict),
		ReasonCode: string(env.ReasonCode),
		Reason:     env.ReasonHuman,
		RiskScore:  env.RiskScore,
		Tier:       d.Tier,
		Patterns:   d.Sequence.MatchedPatterns,
		PolicyHash: hash,
	}
	switch {
	case len(d.Sequence.MatchedPatterns) > 0:
		ae.Type = alert.TypeSequencePattern
	case d.Sanitized != nil:
		ae.Type = alert.TypeSanitized
	}
	g.alerts.Dispatch(ae)
}
