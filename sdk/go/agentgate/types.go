package agentgate

import (
	"fmt"

	"github.com/ppiankov/agentgate/internal/gate"
	"github.com/ppiankov/agentgate/internal/model"
)

// Decision is the verdict on an action.
type Decision string

const (
	Allow           Decision = Decision(model.Allow)
	Deny            Decision = Decision(model.Deny)
	RequireApproval Decision = Decision(model.RequireApproval)
)

// Action describes what a tool intends to do.
type Action struct {
	EventType string         // namespaced type: "file:read", "db:query", "shell:exec"
	Payload   map[string]any // action details: path, query, command, url
	EventID   string         // optional; generated when empty
}

// Result is a decision outcome.
type Result struct {
	Decision   Decision
	ReasonCode string
	Reason     string
	DecisionID string
	TraceID    string
	RiskScore  int
	// Payload is the payload the action will run with, after any rewrite.
	Payload   map[string]any
	Sanitized bool
}

// Allowed returns true if the decision permits the action.
func (r Result) Allowed() bool {
	return r.Decision == Allow
}

// BlockedError is returned when an action is denied, needs approval, or
// fails an execution guard.
type BlockedError struct {
	Action     Action
	Decision   Decision
	ReasonCode string
	Reason     string
	DecisionID string
	// ReceiptID is set when the block came from the executor.
	ReceiptID string
	// Kind is the guard failure kind, empty for policy blocks.
	Kind string
}

func (e *BlockedError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("agentgate blocked (%s): %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("agentgate blocked (%s): %s", e.Decision, e.Reason)
}

// toResult maps a gate decision to an SDK Result.
func toResult(d *gate.Decision, payload map[string]any) Result {
	env := d.Envelope
	return Result{
		Decision:   Decision(env.Verdict),
		ReasonCode: string(env.ReasonCode),
		Reason:     env.ReasonHuman,
		DecisionID: env.DecisionID,
		TraceID:    env.TraceID,
		RiskScore:  env.RiskScore,
		Payload:    payload,
		Sanitized:  d.Sanitized != nil,
	}
}
