package agentgate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/agentgate/internal/audit"
	"github.com/ppiankov/agentgate/internal/config"
	"github.com/ppiankov/agentgate/internal/gate"
	"github.com/ppiankov/agentgate/internal/model"
	"github.com/ppiankov/agentgate/internal/signing"
)

// Client holds the decision pipeline for in-process gating.
// Safe for concurrent tool calls.
type Client struct {
	cfg   clientConfig
	gate  *gate.Gate
	audit *audit.Log
}

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{agentID: "sdk-agent", tenantID: "default"}
	for _, o := range opts {
		o(&cfg)
	}

	gcfg, hash, err := config.LoadWithHash(cfg.configPath)
	if err != nil {
		return nil, fmt.Errorf("agentgate: failed to load config: %w", err)
	}

	var signer *signing.Signer
	if cfg.secret != "" {
		signer, err = signing.NewSigner([]byte(cfg.secret))
	} else {
		signer, err = gcfg.Signer()
	}
	if err != nil {
		return nil, fmt.Errorf("agentgate: %w", err)
	}

	c := &Client{cfg: cfg}
	gopts := gate.Options{
		Config:     gcfg,
		PolicyHash: hash,
		Signer:     signer,
		Log:        cfg.log,
	}
	if cfg.auditPath != "" {
		c.audit, err = audit.Open(cfg.auditPath)
		if err != nil {
			return nil, fmt.Errorf("agentgate: failed to open audit log: %w", err)
		}
		gopts.Audit = c.audit
	}

	c.gate, err = gate.New(gopts)
	if err != nil {
		if c.audit != nil {
			c.audit.Close()
		}
		return nil, fmt.Errorf("agentgate: %w", err)
	}
	return c, nil
}

// Close flushes alerts and closes the audit log.
func (c *Client) Close() error {
	c.gate.Close()
	if c.audit != nil {
		return c.audit.Close()
	}
	return nil
}

// Check decides an action without executing anything.
func (c *Client) Check(ctx context.Context, action Action) (Result, error) {
	d, payload, err := c.decide(ctx, action)
	if err != nil {
		return Result{}, err
	}
	return toResult(d, payload), nil
}

// TrustLevel returns the trust level the gate currently assigns to this
// client's agent.
func (c *Client) TrustLevel() string {
	return string(c.gate.Agent(c.cfg.agentID).Profile.TrustLevel)
}

func (c *Client) decide(ctx context.Context, action Action) (*gate.Decision, map[string]any, error) {
	id := action.EventID
	if id == "" {
		id = "sdk-" + uuid.NewString()
	}
	e := model.Event{
		EventID:    id,
		TenantID:   c.cfg.tenantID,
		AgentID:    c.cfg.agentID,
		EventType:  action.EventType,
		Source:     "sdk",
		OccurredAt: time.Now().UTC(),
		Payload:    action.Payload,
	}
	d, err := c.gate.Decide(ctx, e)
	if err != nil {
		return nil, nil, err
	}
	payload := action.Payload
	if d.Sanitized != nil && d.Sanitized.Payload != nil {
		payload = d.Sanitized.Payload
	}
	return d, payload, nil
}
