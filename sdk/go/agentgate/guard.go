package agentgate

import (
	"context"
	"errors"

	"github.com/ppiankov/agentgate/internal/contract"
)

// ToolFunc is the function signature that Wrap guards.
// The caller provides an Action describing the intended operation.
type ToolFunc func(ctx context.Context, action Action) (any, error)

// Wrap returns a new ToolFunc that decides the action before calling fn.
// Only ALLOW runs fn, and fn sees the sanitized payload when a rewrite
// applied. Every run leaves a signed receipt.
func (c *Client) Wrap(fn ToolFunc) ToolFunc {
	return func(ctx context.Context, action Action) (any, error) {
		d, payload, err := c.decide(ctx, action)
		if err != nil {
			return nil, err
		}
		env := d.Envelope
		if Decision(env.Verdict) != Allow {
			return nil, &BlockedError{
				Action:     action,
				Decision:   Decision(env.Verdict),
				ReasonCode: string(env.ReasonCode),
				Reason:     env.ReasonHuman,
				DecisionID: env.DecisionID,
			}
		}

		effective := Action{EventType: action.EventType, Payload: payload, EventID: action.EventID}
		res := c.gate.Execute(ctx, env, func(ctx context.Context) (any, error) {
			return fn(ctx, effective)
		})
		if res.Status == contract.StatusExecuted {
			return res.Result, nil
		}

		// The tool's own error is returned as-is.
		var xe *contract.ExecutorError
		if errors.As(res.Err, &xe) {
			return nil, xe.Err
		}
		return nil, &BlockedError{
			Action:     action,
			Decision:   Decision(env.Verdict),
			ReasonCode: string(env.ReasonCode),
			Reason:     res.Err.Error(),
			DecisionID: env.DecisionID,
			ReceiptID:  res.Receipt.ReceiptID,
			Kind:       contract.Kind(res.Err),
		}
	}
}
