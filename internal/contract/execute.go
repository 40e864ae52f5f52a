package contract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/agentgate/internal/signing"
)

// ExecFunc performs the side effect. It is opaque to the executor: only
// success or failure is observed, and it is called at most once.
type ExecFunc func(ctx context.Context) (any, error)

// ExecStatus discriminates an ExecutionResult.
type ExecStatus string

const (
	StatusExecuted ExecStatus = "executed"
	StatusBlocked  ExecStatus = "blocked"
)

// ExecutionResult is returned by Execute. Receipt is always set.
type ExecutionResult struct {
	Status  ExecStatus        `json:"status"`
	Receipt *ExecutionReceipt `json:"receipt"`
	Result  any               `json:"result,omitempty"`
	Err     error             `json:"-"`
}

// Executor runs caller-supplied functions behind the execution guards and
// records a receipt for every attempt.
type Executor struct {
	ExecutorID  string
	Environment string
	// GateSource is recorded on auto-marked required checks.
	GateSource string
	// Signer signs receipts and, when set, verifies envelopes before execution.
	Signer *signing.Signer
	// MaxSkew rejects envelopes stamped further than this ahead of Now.
	// Zero disables the check.
	MaxSkew time.Duration
	// Claim, when set, runs after the guards pass and before fn. An error
	// blocks the attempt; release is called when fn fails so the envelope
	// can be retried.
	Claim func(ctx context.Context, env *DecisionEnvelope) (release func(), err error)
	Now   func() time.Time
}

// NewExecutor creates an Executor with the default gate source.
func NewExecutor(executorID, environment string, signer *signing.Signer) *Executor {
	return &Executor{
		ExecutorID:  executorID,
		Environment: environment,
		GateSource:  DefaultGateSource,
		Signer:      signer,
		Now:         time.Now,
	}
}

func (x *Executor) now() time.Time {
	if x.Now != nil {
		return x.Now()
	}
	return time.Now()
}

// Execute checks env, runs fn once if every guard passes, and returns a
// result carrying an EXECUTED or BLOCKED receipt. Guard failures and
// executor errors (including panics) never propagate raw; they become a
// BLOCKED receipt with Err set to the typed error.
func (x *Executor) Execute(ctx context.Context, env *DecisionEnvelope, fn ExecFunc) ExecutionResult {
	source := x.GateSource
	if source == "" {
		source = DefaultGateSource
	}

	rb := NewReceiptBuilder().WithClock(x.now).SignWith(x.Signer).ExecutorID(x.ExecutorID)
	if env == nil {
		err := &InvariantError{Invariant: "envelope_present", Detail: "execute called without an envelope"}
		rb.DecisionID("unknown").Context(x.Environment, "unknown")
		return x.blocked(rb, err)
	}

	rb.DecisionID(env.DecisionID).Context(x.Environment, env.Context.TenantID)
	for _, name := range env.Applicability.RequiredChecks {
		rb.PassGate(name, source)
	}

	if err := x.precheck(env, rb); err != nil {
		return x.blocked(rb, err)
	}
	release := func() {}
	if x.Claim != nil {
		rel, err := x.Claim(ctx, env)
		if err != nil {
			return x.blocked(rb, err)
		}
		if rel != nil {
			release = rel
		}
	}

	result, err := runGuarded(ctx, fn)
	if err != nil {
		release()
		return x.blocked(rb, err)
	}

	rb.Outcome(OutcomeExecuted).Details("executed")
	if h := outputHash(result); h != "" {
		rb.OutputHash(h)
	}
	return ExecutionResult{
		Status:  StatusExecuted,
		Receipt: x.finish(rb),
		Result:  result,
	}
}

func (x *Executor) precheck(env *DecisionEnvelope, rb *ReceiptBuilder) error {
	if issues := envelopeIssues(env); len(issues) > 0 {
		return &ValidationError{Object: "decision envelope", Issues: issues}
	}
	if x.Signer != nil {
		if err := VerifyEnvelope(x.Signer, env); err != nil {
			return err
		}
	}
	now := x.now()
	if err := GuardExecutable(env, now); err != nil {
		return err
	}
	// Old envelopes are bounded by valid_until; only future stamps are skew.
	if x.MaxSkew > 0 && env.Timestamp.After(now) {
		if err := GuardTimeSync(env.Timestamp, now, x.MaxSkew); err != nil {
			return err
		}
	}
	return GuardGatesPassed(rb.Gates())
}

func (x *Executor) blocked(rb *ReceiptBuilder, err error) ExecutionResult {
	rb.Outcome(OutcomeBlocked).
		Details(err.Error()).
		Evidence(map[string]any{"error_kind": Kind(err)})
	return ExecutionResult{
		Status:  StatusBlocked,
		Receipt: x.finish(rb),
		Err:     err,
	}
}

// finish builds the receipt. If the envelope could not supply every
// required field the receipt is still produced, unvalidated.
func (x *Executor) finish(rb *ReceiptBuilder) *ExecutionReceipt {
	r, err := rb.Build()
	if err != nil {
		return rb.BuildUnsafe()
	}
	return r
}

func runGuarded(ctx context.Context, fn ExecFunc) (result any, err error) {
	if fn == nil {
		return nil, &ExecutorError{Err: fmt.Errorf("no executor function supplied")}
	}
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = &ExecutorError{Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	result, err = fn(ctx)
	if err != nil {
		return nil, &ExecutorError{Err: err}
	}
	return result, nil
}

func outputHash(result any) string {
	if result == nil {
		return ""
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
