package contract

import (
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/agentgate/internal/model"
)

func receiptFor(env *DecisionEnvelope, gates ...string) *ExecutionReceipt {
	b := NewReceiptBuilder().WithClock(fixedClock).
		DecisionID(env.DecisionID).
		ExecutorID("host-1").
		Context("prod", env.Context.TenantID).
		Outcome(OutcomeExecuted).
		Details("ok")
	for _, g := range gates {
		b.PassGate(g, DefaultGateSource)
	}
	return b.BuildUnsafe()
}

func TestValidateChainValid(t *testing.T) {
	env := envelopeBuilder().BuildUnsafe()
	res := ValidateChain(env, []*ExecutionReceipt{
		receiptFor(env, "tenant_active", "budget"),
		receiptFor(env, "tenant_active", "budget", "extra"),
	})
	if !res.Valid {
		t.Fatalf("expected valid chain, got %+v", res)
	}
	if res.EnvelopeID != env.DecisionID {
		t.Errorf("expected envelope id in result, got %q", res.EnvelopeID)
	}
}

func TestValidateChainDecisionIDMismatch(t *testing.T) {
	env := envelopeBuilder().BuildUnsafe()
	good := receiptFor(env, "tenant_active", "budget")
	bad := receiptFor(env, "tenant_active", "budget")
	bad.DecisionID = "dec-someone-else"

	res := ValidateChain(env, []*ExecutionReceipt{good, bad})
	if res.Valid {
		t.Fatal("expected broken chain")
	}
	if res.Reason != ReasonDecisionIDMismatch {
		t.Errorf("expected %q, got %q", ReasonDecisionIDMismatch, res.Reason)
	}
	if res.ReceiptID != bad.ReceiptID {
		t.Errorf("expected break at %s, got %s", bad.ReceiptID, res.ReceiptID)
	}
}

func TestValidateChainMissingRequiredGates(t *testing.T) {
	env := envelopeBuilder().BuildUnsafe()
	res := ValidateChain(env, []*ExecutionReceipt{receiptFor(env, "tenant_active")})
	if res.Valid {
		t.Fatal("expected broken chain")
	}
	if res.Reason != ReasonMissingRequiredGates {
		t.Errorf("expected %q, got %q", ReasonMissingRequiredGates, res.Reason)
	}
	if len(res.MissingGates) != 1 || res.MissingGates[0] != "budget" {
		t.Errorf("expected missing [budget], got %v", res.MissingGates)
	}
}

func TestValidateChainNilInputs(t *testing.T) {
	if res := ValidateChain(nil, nil); res.Valid || res.Reason != ReasonMissingEnvelope {
		t.Errorf("expected missing envelope, got %+v", res)
	}
	env := envelopeBuilder().BuildUnsafe()
	if res := ValidateChain(env, []*ExecutionReceipt{nil}); res.Valid || res.Reason != ReasonMissingReceipt {
		t.Errorf("expected missing receipt, got %+v", res)
	}
	if res := ValidateChain(env, nil); !res.Valid {
		t.Errorf("envelope without receipts is a valid chain, got %+v", res)
	}
}

func TestValidateEnvelopeWarnings(t *testing.T) {
	past := testNow.Add(-time.Hour)
	env := envelopeBuilder().
		MonitorMode(true).
		RequiredChecks("a", "a").
		Reason("CUSTOM_CODE", "custom").
		ValidUntil(past).
		BuildUnsafe()

	res := ValidateEnvelope(env)
	if !res.Valid {
		t.Fatalf("expected structurally valid envelope, got %v", res.Errors)
	}
	joined := strings.Join(res.Warnings, "\n")
	for _, want := range []string{"monitor_mode", "duplicate", "taxonomy", "born expired", "unsigned"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected warning containing %q, got %v", want, res.Warnings)
		}
	}
}

func TestValidateEnvelopeNeverPanicsOnNil(t *testing.T) {
	res := ValidateEnvelope(nil)
	if res.Valid || len(res.Errors) != 1 {
		t.Errorf("expected single error for nil, got %+v", res)
	}
	if ValidateReceipt(nil).Valid {
		t.Error("expected nil receipt to be invalid")
	}
}

func TestValidateEnvelopeErrorsOnBadVerdict(t *testing.T) {
	env := envelopeBuilder().Verdict(model.Verdict("MAYBE")).BuildUnsafe()
	res := ValidateEnvelope(env)
	if res.Valid {
		t.Fatal("expected invalid verdict to fail validation")
	}
	if !strings.Contains(strings.Join(res.Errors, ";"), "verdict") {
		t.Errorf("expected verdict error, got %v", res.Errors)
	}
}

func TestValidateReceiptUnauthorizedSkipWarning(t *testing.T) {
	r := NewReceiptBuilder().WithClock(fixedClock).
		DecisionID("dec-1").ExecutorID("x").Context("prod", "t").
		SkipGate("budget", "ops", "maintenance", "").
		Outcome(OutcomeBlocked).Details("blocked").
		BuildUnsafe()
	res := ValidateReceipt(r)
	if !res.Valid {
		t.Fatalf("expected valid receipt, got %v", res.Errors)
	}
	if !strings.Contains(strings.Join(res.Warnings, ";"), "treated as FAIL") {
		t.Errorf("expected unauthorized skip warning, got %v", res.Warnings)
	}
}
