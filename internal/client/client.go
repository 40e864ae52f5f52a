// Package client is a typed gRPC client for a running agentgate server.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ppiankov/agentgate/internal/approval"
	"github.com/ppiankov/agentgate/internal/captoken"
	"github.com/ppiankov/agentgate/internal/contract"
	"github.com/ppiankov/agentgate/internal/gate"
	"github.com/ppiankov/agentgate/internal/model"
	"github.com/ppiankov/agentgate/internal/server"
)

// DefaultTimeout bounds every RPC that has no earlier context deadline.
const DefaultTimeout = 5 * time.Second

// ErrNotCleared is returned by Execute when the server did not clear the
// envelope. The side effect must not run.
var ErrNotCleared = errors.New("execution not cleared")

// Client connects to an agentgate gRPC server.
type Client struct {
	conn    *grpc.ClientConn
	rpc     *server.Client
	timeout time.Duration
}

// New creates a client for addr. The connection is established lazily, so
// an unreachable server surfaces as an error on the first call.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to gate server: %w", err)
	}
	return &Client{conn: conn, rpc: server.NewClient(conn), timeout: DefaultTimeout}, nil
}

// SetTimeout changes the per-call timeout. Zero keeps the default.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.rpc.Call(ctx, method, req, resp); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Decide asks the server for a signed envelope. Any error means there is
// no decision, and callers must treat the action as not allowed.
func (c *Client) Decide(ctx context.Context, e model.Event) (*gate.Decision, error) {
	var d gate.Decision
	if err := c.call(ctx, server.MethodDecide, server.DecideRequest{Event: e}, &d); err != nil {
		return nil, err
	}
	if d.Envelope == nil {
		return nil, fmt.Errorf("%s: empty envelope in response", server.MethodDecide)
	}
	return &d, nil
}

// Allowed is Decide reduced to a yes or no. It fails closed: RPC errors
// return false with the error.
func (c *Client) Allowed(ctx context.Context, e model.Event) (bool, error) {
	d, err := c.Decide(ctx, e)
	if err != nil {
		return false, err
	}
	return d.Envelope.Verdict == model.Allow, nil
}

// Execute submits an envelope for clearance. The receipt is returned even
// when the server blocks execution, together with ErrNotCleared.
func (c *Client) Execute(ctx context.Context, env *contract.DecisionEnvelope) (*server.ExecuteResponse, error) {
	var resp server.ExecuteResponse
	if err := c.call(ctx, server.MethodExecute, server.ExecuteRequest{Envelope: env}, &resp); err != nil {
		return nil, err
	}
	if resp.Status != contract.StatusExecuted {
		return &resp, fmt.Errorf("%w: %s (%s)", ErrNotCleared, resp.Error, resp.Kind)
	}
	return &resp, nil
}

// IssueToken asks the server to mint a capability token.
func (c *Client) IssueToken(ctx context.Context, subject string, capabilities []string, ttl time.Duration) (string, *captoken.Token, error) {
	req := server.TokenRequest{Subject: subject, Capabilities: capabilities}
	if ttl > 0 {
		req.TTL = ttl.String()
	}
	var resp server.TokenResponse
	if err := c.call(ctx, server.MethodIssueToken, req, &resp); err != nil {
		return "", nil, err
	}
	return resp.Token, resp.Details, nil
}

// VerifyToken checks a token against the server's key and returns its
// effective capabilities.
func (c *Client) VerifyToken(ctx context.Context, token string) (*captoken.Token, []string, error) {
	var resp server.TokenResponse
	if err := c.call(ctx, server.MethodVerifyToken, map[string]string{"token": token}, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Details, resp.Capabilities, nil
}

// Approve resolves a pending decision and returns the new ALLOW envelope.
func (c *Client) Approve(ctx context.Context, decisionID, by string) (*approval.Approval, *contract.DecisionEnvelope, error) {
	var resp server.ResolveResponse
	if err := c.call(ctx, server.MethodApprove, server.ResolveRequest{DecisionID: decisionID, By: by}, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Approval, resp.Envelope, nil
}

// Deny rejects a pending decision.
func (c *Client) Deny(ctx context.Context, decisionID, by string) (*approval.Approval, error) {
	var resp server.ResolveResponse
	if err := c.call(ctx, server.MethodDeny, server.ResolveRequest{DecisionID: decisionID, By: by}, &resp); err != nil {
		return nil, err
	}
	return resp.Approval, nil
}

// Pending lists approvals still waiting for a human.
func (c *Client) Pending(ctx context.Context) ([]approval.Approval, error) {
	var resp struct {
		Approvals []approval.Approval `json:"approvals"`
	}
	if err := c.call(ctx, server.MethodListPending, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Approvals, nil
}
