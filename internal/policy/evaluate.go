package policy

import (
	"fmt"
	"strings"

	"github.com/ppiankov/agentgate/internal/denylist"
	"github.com/ppiankov/agentgate/internal/identity"
	"github.com/ppiankov/agentgate/internal/model"
)

// Input is everything the evaluator needs for one decision.
type Input struct {
	Event model.Event
	// Action is the requested action after any sanitization.
	Action string
	// OriginalAction is the action as proposed. Denylist checks both.
	OriginalAction string
	// Risk is the final adaptive risk in [0,100].
	Risk             int
	SequencePatterns []string
}

// Result is the policy verdict for one event.
type Result struct {
	Verdict     model.Verdict    `json:"verdict"`
	ReasonCode  model.ReasonCode `json:"reason_code"`
	Reason      string           `json:"reason"`
	Tier        int              `json:"tier"`
	PolicyID    string           `json:"policy_id"`
	MonitorMode bool             `json:"monitor_mode"`
}

// Evaluator is a compiled policy: config plus its denylist and registry.
// It is immutable; reloads build a new Evaluator.
type Evaluator struct {
	cfg *PolicyConfig
	dl  *denylist.Denylist
	reg *identity.Registry
}

// NewEvaluator compiles cfg. A nil cfg uses DefaultConfig.
func NewEvaluator(cfg *PolicyConfig) *Evaluator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Evaluator{
		cfg: cfg,
		dl:  denylist.New(denylist.DefaultPatterns.Merge(cfg.Denylist)),
		reg: cfg.Registry(),
	}
}

// Config returns the policy this evaluator was built from.
func (ev *Evaluator) Config() *PolicyConfig { return ev.cfg }

// Registry returns the agent registry.
func (ev *Evaluator) Registry() *identity.Registry { return ev.reg }

// Evaluate decides one event.
//
// Evaluation order (must not be changed):
//  1. Self-targeting: hard deny
//  2. Denylist on original and effective action: hard deny
//  3. Agent registry scope: deny out-of-scope agents
//  4. Explicit rules: first match wins
//  5. Tier enforcement: risk + thresholds + mode
func (ev *Evaluator) Evaluate(in Input) Result {
	cfg := ev.cfg
	monitor := cfg.MonitorMode || cfg.EnforcementMode == "advisory"
	deny := func(code model.ReasonCode, policyID, reason string) Result {
		return Result{Verdict: model.Deny, ReasonCode: code, Reason: reason,
			Tier: TierCritical, PolicyID: policyID, MonitorMode: monitor}
	}

	// Step 1: the gate never authorizes actions against itself.
	if model.IsSelfTargeting(in.Event) {
		return deny(model.ReasonSelfTargeting, "self.protect", "action targets the gate itself")
	}

	// Step 2: denylist.
	for _, action := range []string{in.OriginalAction, in.Action} {
		if action == "" {
			continue
		}
		if blocked, reason := ev.dl.IsBlocked(in.Event.EventType, action); blocked {
			return deny(model.ReasonPolicyDeny, "denylist.block", "denylisted: "+reason)
		}
	}

	// Step 3: registry scope.
	agent := in.Event.Agent()
	registered := ev.reg.IsRegistered(agent)
	if cfg.RequireRegistration && !registered {
		return deny(model.ReasonPolicyDeny, "agent.unregistered", fmt.Sprintf("agent %q is not registered", agent))
	}
	if registered {
		if !ev.reg.AllowsTenant(agent, in.Event.TenantID) {
			return deny(model.ReasonPolicyDeny, "agent.tenant",
				fmt.Sprintf("agent %q is not scoped to tenant %q", agent, in.Event.TenantID))
		}
		if !ev.reg.AllowsEvent(agent, in.Event.EventType) {
			return deny(model.ReasonPolicyDeny, "agent.scope",
				fmt.Sprintf("agent %q may not perform %s", agent, in.Event.EventType))
		}
	}

	tier := ClassifyTier(in.Risk, cfg.Thresholds)

	// Step 4: explicit rules.
	for _, rule := range cfg.Rules {
		if !matchRule(rule, in.Event.EventType, in.Action) {
			continue
		}
		verdict, ok := parseDecision(rule.Decision)
		reason := rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s on %s requires %s", rule.EventPattern, rule.ActionPattern, rule.Decision)
		}
		if !ok {
			reason = fmt.Sprintf("unknown rule decision %q, failing closed", rule.Decision)
		}
		return Result{
			Verdict:     verdict,
			ReasonCode:  codeForRule(verdict),
			Reason:      reason,
			Tier:        tier,
			PolicyID:    rulePolicyID(rule),
			MonitorMode: monitor,
		}
	}

	// Step 5: tier enforcement.
	var capped string
	if registered {
		if ac := ev.reg.Lookup(agent); ac.MaxRisk > 0 && in.Risk > ac.MaxRisk && tier < TierGuarded {
			tier = TierGuarded
			capped = fmt.Sprintf(", above agent max_risk %d", ac.MaxRisk)
		}
	}

	mode := cfg.EnforcementMode
	if mode == "" {
		mode = "guarded"
	}
	verdict, policyID := EnforceByTier(mode, tier)

	res := Result{
		Verdict:     verdict,
		Tier:        tier,
		PolicyID:    policyID,
		MonitorMode: monitor,
		Reason: fmt.Sprintf("risk %d is tier %d (%s) in %s mode%s",
			in.Risk, tier, TierLabel(tier), mode, capped),
	}
	switch {
	case mode == "advisory":
		res.ReasonCode = model.ReasonMonitorMode
	case verdict == model.Allow:
		res.ReasonCode = model.ReasonPolicyAllow
	case len(in.SequencePatterns) > 0:
		res.ReasonCode = model.ReasonSequencePattern
		res.Reason += "; sequence: " + strings.Join(in.SequencePatterns, ", ")
	default:
		res.ReasonCode = model.ReasonRiskThreshold
	}
	return res
}

func codeForRule(v model.Verdict) model.ReasonCode {
	switch v {
	case model.Allow:
		return model.ReasonPolicyAllow
	case model.RequireApproval:
		return model.ReasonRequiresApproval
	default:
		return model.ReasonPolicyDeny
	}
}
