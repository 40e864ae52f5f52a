package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/agentgate/internal/alert"
	"github.com/ppiankov/agentgate/internal/audit"
	"github.com/ppiankov/agentgate/internal/contract"
)

// Execute runs fn behind the execution guards for env. The result always
// carries a signed receipt, which is audited and persisted before return.
func (g *Gate) Execute(ctx context.Context, env *contract.DecisionEnvelope, fn contract.ExecFunc) contract.ExecutionResult {
	_, _, hash := g.snapshot()
	res := g.executor.Execute(ctx, env, fn)
	r := res.Receipt

	if g.audit != nil {
		if err := g.audit.Record(audit.ReceiptEntry(r, env, hash)); err != nil {
			fmt.Fprintf(g.log, "gate: audit: %v\n", err)
		}
	}
	if g.store != nil {
		if err := g.store.SaveReceipt(ctx, r); err != nil {
			fmt.Fprintf(g.log, "gate: store: %v\n", err)
		}
	}
	g.metrics.Execution(string(r.Outcome))

	if res.Status == contract.StatusBlocked {
		ae := alert.AlertEvent{
			Timestamp:  r.Timestamp.UTC().Format(audit.TimestampFormat),
			DecisionID: r.DecisionID,
			Reason:     r.Details,
			PolicyHash: hash,
			Type:       alert.TypeExecutionBlock,
		}
		if env != nil {
			ae.TraceID = env.TraceID
			ae.AgentID = env.Context.AgentID
			ae.EventType = env.Context.EventType
			ae.Action = env.Context.RequestedAction
			ae.Verdict = string(env.Verdict)
			ae.ReasonCode = string(env.ReasonCode)
			ae.RiskScore = env.RiskScore
		}
		g.alerts.Dispatch(ae)
	}
	return res
}

// consumedRetention bounds how long an envelope without valid_until is
// remembered in memory. The decision store keeps the durable record.
const consumedRetention = 24 * time.Hour

// executionChecker is implemented by persisters that can tell whether a
// decision already has an EXECUTED receipt.
type executionChecker interface {
	Executed(ctx context.Context, decisionID string) (bool, error)
}

// claim consumes env: a decision clears at most one execution. The
// returned release undoes the claim when the action fails.
func (g *Gate) claim(ctx context.Context, env *contract.DecisionEnvelope) (func(), error) {
	id := env.DecisionID
	consumed := &contract.InvariantError{
		Invariant: "single_execution",
		Detail:    fmt.Sprintf("decision %s was already executed", id),
	}

	g.execMu.Lock()
	defer g.execMu.Unlock()
	if _, ok := g.consumed[id]; ok {
		return nil, consumed
	}
	if c, ok := g.store.(executionChecker); ok {
		done, err := c.Executed(ctx, id)
		if err != nil {
			fmt.Fprintf(g.log, "gate: store: %v\n", err)
		} else if done {
			return nil, consumed
		}
	}

	forget := g.now().Add(consumedRetention)
	if env.ValidUntil != nil {
		forget = *env.ValidUntil
	}
	g.consumed[id] = forget
	return func() {
		g.execMu.Lock()
		delete(g.consumed, id)
		g.execMu.Unlock()
	}, nil
}

// forgetConsumed drops claims that can no longer be replayed: past
// valid_until the expiry guard blocks the envelope anyway.
func (g *Gate) forgetConsumed() {
	now := g.now()
	g.execMu.Lock()
	defer g.execMu.Unlock()
	for id, at := range g.consumed {
		if now.After(at) {
			delete(g.consumed, id)
		}
	}
}
