package contract

import (
	"fmt"
	"time"

	"github.com/ppiankov/agentgate/internal/model"
)

// DefaultMaxSkew is the tolerated distance between a record timestamp and local time.
const DefaultMaxSkew = 30 * time.Second

// GuardNotMonitorMode fails when the decision is advisory only.
// Monitor mode blocks execution even when the verdict is ALLOW.
func GuardNotMonitorMode(env *DecisionEnvelope) error {
	if env.Applicability.MonitorMode {
		return &MonitorModeError{DecisionID: env.DecisionID}
	}
	return nil
}

// GuardNotExpired fails when valid_until is set and now is past it.
func GuardNotExpired(env *DecisionEnvelope, now time.Time) error {
	if env.Expired(now) {
		return &ExpiredError{DecisionID: env.DecisionID, ValidUntil: *env.ValidUntil, Now: now}
	}
	return nil
}

// GuardAllowed fails unless the verdict is ALLOW.
func GuardAllowed(env *DecisionEnvelope) error {
	if env.Verdict != model.Allow {
		return &VerdictError{DecisionID: env.DecisionID, Verdict: env.Verdict}
	}
	return nil
}

// GuardGatesPassed fails if any gate is FAIL, or SKIPPED without an
// authorizing policy version.
func GuardGatesPassed(gates map[string]GateResult) error {
	var failed []string
	for _, name := range sortedGateNames(gates) {
		g := gates[name]
		if g.Passed() {
			continue
		}
		switch g.Result {
		case GateSkipped:
			failed = append(failed, name+" (unauthorized skip)")
		default:
			failed = append(failed, fmt.Sprintf("%s (%s)", name, g.Result))
		}
	}
	if len(failed) > 0 {
		return &GateError{Failed: failed}
	}
	return nil
}

// GuardTimeSync fails when |now - timestamp| exceeds maxSkew.
// A non-positive maxSkew uses DefaultMaxSkew.
func GuardTimeSync(timestamp, now time.Time, maxSkew time.Duration) error {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	skew := now.Sub(timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return &ClockSkewError{Skew: skew, MaxSkew: maxSkew}
	}
	return nil
}

// GuardReceiptLinksToEnvelope fails unless the receipt references the envelope.
func GuardReceiptLinksToEnvelope(env *DecisionEnvelope, r *ExecutionReceipt) error {
	if r.DecisionID != env.DecisionID {
		return &InvariantError{
			Invariant: "receipt_links_to_envelope",
			Detail:    fmt.Sprintf("receipt %s references %q, envelope is %q", r.ReceiptID, r.DecisionID, env.DecisionID),
		}
	}
	return nil
}

// GuardRequiredGatesChecked fails if any required check is absent from the receipt.
func GuardRequiredGatesChecked(env *DecisionEnvelope, r *ExecutionReceipt) error {
	if missing := missingGates(env, r); len(missing) > 0 {
		return &InvariantError{
			Invariant: "required_gates_checked",
			Detail:    fmt.Sprintf("receipt %s missing gates %v", r.ReceiptID, missing),
		}
	}
	return nil
}

// GuardExecutable is GuardNotMonitorMode, GuardNotExpired and GuardAllowed
// in that order; the first failure is returned.
func GuardExecutable(env *DecisionEnvelope, now time.Time) error {
	if err := GuardNotMonitorMode(env); err != nil {
		return err
	}
	if err := GuardNotExpired(env, now); err != nil {
		return err
	}
	return GuardAllowed(env)
}

func missingGates(env *DecisionEnvelope, r *ExecutionReceipt) []string {
	var missing []string
	for _, name := range env.Applicability.RequiredChecks {
		if _, ok := r.Gates[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
