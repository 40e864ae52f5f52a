// Package agentgate provides in-process decision gating for Go agent
// frameworks. It wraps tool functions so that every call is decided,
// signed, executed behind the envelope guards, and receipted.
//
// Usage:
//
//	ag, err := agentgate.New(agentgate.WithAgent("planner"), agentgate.WithSecret(key))
//	wrapped := ag.Wrap(myTool)
//	result, err := wrapped(ctx, agentgate.Action{
//	    EventType: "file:read",
//	    Payload:   map[string]any{"path": "/etc/hosts"},
//	})
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/ppiankov/agentgate/sdk/go/agentgate.
package agentgate
