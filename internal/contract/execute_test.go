package contract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/agentgate/internal/model"
)

func testExecutor() *Executor {
	x := NewExecutor("host-1", "test", testSigner())
	x.Now = fixedClock
	return x
}

func signedEnvelope(t *testing.T, mutate func(b *EnvelopeBuilder)) *DecisionEnvelope {
	t.Helper()
	b := envelopeBuilder().SignWith(testSigner())
	if mutate != nil {
		mutate(b)
	}
	env, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return env
}

func TestExecuteRunsAllowedAction(t *testing.T) {
	env := signedEnvelope(t, nil)
	calls := 0
	res := testExecutor().Execute(context.Background(), env, func(ctx context.Context) (any, error) {
		calls++
		return map[string]any{"rows": 3}, nil
	})

	if res.Status != StatusExecuted {
		t.Fatalf("expected executed, got %s (%v)", res.Status, res.Err)
	}
	if calls != 1 {
		t.Errorf("expected one call, got %d", calls)
	}
	r := res.Receipt
	if r.Outcome != OutcomeExecuted {
		t.Errorf("expected EXECUTED, got %s", r.Outcome)
	}
	if r.DecisionID != env.DecisionID {
		t.Errorf("receipt not linked: %s vs %s", r.DecisionID, env.DecisionID)
	}
	for _, g := range env.Applicability.RequiredChecks {
		gr, ok := r.Gates[g]
		if !ok || gr.Result != GatePass || gr.Source != DefaultGateSource {
			t.Errorf("expected %s auto-marked PASS, got %+v", g, gr)
		}
	}
	if !strings.HasPrefix(r.Evidence.OutputHash, "sha256:") {
		t.Errorf("expected output hash, got %q", r.Evidence.OutputHash)
	}
	if err := VerifyReceipt(testSigner(), r); err != nil {
		t.Errorf("receipt signature: %v", err)
	}
	if !ValidateChain(env, []*ExecutionReceipt{r}).Valid {
		t.Error("expected valid chain")
	}
}

func TestExecuteBlocksOnGuards(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(b *EnvelopeBuilder)
		wantKind string
	}{
		{"monitor mode", func(b *EnvelopeBuilder) { b.MonitorMode(true) }, KindMonitorMode},
		{"expired", func(b *EnvelopeBuilder) { b.ValidUntil(testNow.Add(-time.Second)) }, KindExpired},
		{"denied", func(b *EnvelopeBuilder) { b.Verdict(model.Deny) }, KindVerdict},
		{"pending approval", func(b *EnvelopeBuilder) { b.Verdict(model.RequireApproval) }, KindVerdict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := signedEnvelope(t, tt.mutate)
			called := false
			res := testExecutor().Execute(context.Background(), env, func(ctx context.Context) (any, error) {
				called = true
				return nil, nil
			})
			if called {
				t.Error("executor must not run when a guard fails")
			}
			if res.Status != StatusBlocked {
				t.Fatalf("expected blocked, got %s", res.Status)
			}
			if Kind(res.Err) != tt.wantKind {
				t.Errorf("expected %s, got %v", tt.wantKind, res.Err)
			}
			if res.Receipt == nil || res.Receipt.Outcome != OutcomeBlocked {
				t.Fatalf("expected BLOCKED receipt, got %+v", res.Receipt)
			}
			if res.Receipt.Details != res.Err.Error() {
				t.Errorf("expected details %q, got %q", res.Err.Error(), res.Receipt.Details)
			}
			if !ValidateChain(env, []*ExecutionReceipt{res.Receipt}).Valid {
				t.Error("blocked receipts must still close the chain")
			}
		})
	}
}

func TestExecuteConvertsExecutorFailure(t *testing.T) {
	env := signedEnvelope(t, nil)
	boom := errors.New("webhook 500")
	res := testExecutor().Execute(context.Background(), env, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	if res.Status != StatusBlocked {
		t.Fatalf("expected blocked, got %s", res.Status)
	}
	if !errors.Is(res.Err, boom) {
		t.Errorf("expected wrapped executor error, got %v", res.Err)
	}
	if Kind(res.Err) != KindExecutor {
		t.Errorf("expected ExecutorError kind, got %s", Kind(res.Err))
	}
	if res.Receipt.Evidence.Metadata["error_kind"] != KindExecutor {
		t.Errorf("expected error_kind evidence, got %v", res.Receipt.Evidence.Metadata)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	env := signedEnvelope(t, nil)
	res := testExecutor().Execute(context.Background(), env, func(ctx context.Context) (any, error) {
		panic("nil map")
	})
	if res.Status != StatusBlocked || res.Receipt == nil {
		t.Fatalf("expected blocked receipt after panic, got %+v", res)
	}
	if !strings.Contains(res.Err.Error(), "panic") {
		t.Errorf("expected panic in error, got %v", res.Err)
	}
}

func TestExecuteMaxSkew(t *testing.T) {
	tests := []struct {
		name     string
		stamp    time.Time
		maxSkew  time.Duration
		wantKind string
	}{
		{"ahead beyond skew", testNow.Add(2 * time.Minute), 30 * time.Second, KindClockSkew},
		{"ahead within skew", testNow.Add(10 * time.Second), 30 * time.Second, ""},
		{"old envelope", testNow.Add(-2 * time.Minute), 30 * time.Second, ""},
		{"check disabled", testNow.Add(2 * time.Minute), 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := signedEnvelope(t, func(b *EnvelopeBuilder) { b.Timestamp(tt.stamp) })
			x := testExecutor()
			x.MaxSkew = tt.maxSkew
			res := x.Execute(context.Background(), env, func(ctx context.Context) (any, error) {
				return "ok", nil
			})
			if got := Kind(res.Err); got != tt.wantKind {
				t.Fatalf("expected kind %q, got %q (%v)", tt.wantKind, got, res.Err)
			}
			if tt.wantKind == "" && res.Status != StatusExecuted {
				t.Errorf("expected executed, got %s", res.Status)
			}
		})
	}
}

func TestExecuteClaim(t *testing.T) {
	env := signedEnvelope(t, nil)

	t.Run("claim error blocks before the call", func(t *testing.T) {
		x := testExecutor()
		x.Claim = func(context.Context, *DecisionEnvelope) (func(), error) {
			return nil, &InvariantError{Invariant: "single_execution", Detail: "used"}
		}
		called := false
		res := x.Execute(context.Background(), env, func(ctx context.Context) (any, error) {
			called = true
			return nil, nil
		})
		if called || Kind(res.Err) != KindInvariant || res.Receipt.Outcome != OutcomeBlocked {
			t.Errorf("called=%v kind=%s outcome=%s", called, Kind(res.Err), res.Receipt.Outcome)
		}
	})

	t.Run("failure releases the claim", func(t *testing.T) {
		x := testExecutor()
		released := 0
		x.Claim = func(context.Context, *DecisionEnvelope) (func(), error) {
			return func() { released++ }, nil
		}
		x.Execute(context.Background(), env, func(ctx context.Context) (any, error) {
			return nil, errors.New("boom")
		})
		x.Execute(context.Background(), env, func(ctx context.Context) (any, error) {
			return "ok", nil
		})
		if released != 1 {
			t.Errorf("expected one release, got %d", released)
		}
	})

	t.Run("guard failure never claims", func(t *testing.T) {
		x := testExecutor()
		claimed := false
		x.Claim = func(context.Context, *DecisionEnvelope) (func(), error) {
			claimed = true
			return nil, nil
		}
		denied := signedEnvelope(t, func(b *EnvelopeBuilder) { b.Verdict(model.Deny) })
		x.Execute(context.Background(), denied, func(ctx context.Context) (any, error) { return nil, nil })
		if claimed {
			t.Error("denied envelope was claimed")
		}
	})
}

func TestExecuteDoesNotRetry(t *testing.T) {
	env := signedEnvelope(t, nil)
	calls := 0
	testExecutor().Execute(context.Background(), env, func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("transient")
	})
	if calls != 1 {
		t.Errorf("expected single attempt, got %d", calls)
	}
}

func TestExecuteRejectsTamperedEnvelope(t *testing.T) {
	env := signedEnvelope(t, func(b *EnvelopeBuilder) { b.Verdict(model.Deny) })
	env.Verdict = model.Allow
	res := testExecutor().Execute(context.Background(), env, func(ctx context.Context) (any, error) {
		t.Fatal("tampered envelope must not execute")
		return nil, nil
	})
	if Kind(res.Err) != KindSignature {
		t.Errorf("expected SignatureError, got %v", res.Err)
	}
}

func TestExecuteRejectsStructurallyInvalidEnvelope(t *testing.T) {
	env := envelopeBuilder().RiskScore(300).SignWith(testSigner()).BuildUnsafe()
	res := testExecutor().Execute(context.Background(), env, func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if Kind(res.Err) != KindValidation {
		t.Errorf("expected ValidationError, got %v", res.Err)
	}
}

func TestExecuteNilEnvelope(t *testing.T) {
	res := testExecutor().Execute(context.Background(), nil, func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if res.Status != StatusBlocked || res.Receipt == nil {
		t.Fatalf("expected blocked receipt, got %+v", res)
	}
	if Kind(res.Err) != KindInvariant {
		t.Errorf("expected InvariantError, got %v", res.Err)
	}
}
