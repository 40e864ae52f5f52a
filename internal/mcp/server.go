package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/agentgate/internal/gate"
)

// Config holds MCP server configuration.
type Config struct {
	// AgentID and TenantID identify the calling agent when a tool call
	// does not name one.
	AgentID  string
	TenantID string
	Version  string
}

// Server exposes a Gate to agents as MCP tools.
type Server struct {
	mcpServer *mcpsdk.Server
	gate      *gate.Gate
	agentID   string
	tenantID  string
}

// New creates an MCP server backed by g.
func New(g *gate.Gate, cfg Config) *Server {
	agentID := cfg.AgentID
	if agentID == "" {
		agentID = "mcp-agent"
	}
	tenantID := cfg.TenantID
	if tenantID == "" {
		tenantID = "default"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		gate:     g,
		agentID:  agentID,
		tenantID: tenantID,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "agentgate",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect serves one session over t. For in-process clients and tests.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

// registerTools adds all gate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gate_decide",
		Description: "Submit a proposed action for a signed decision. DENY and REQUIRE_APPROVAL results are returned as errors with the reason.",
	}, s.handleDecide)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gate_sanitize",
		Description: "Preview how an action would be rewritten into a safer form, without deciding or recording anything.",
	}, s.handleSanitize)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gate_profile",
		Description: "Show the trust level, adaptive risk modifier and recent action history for an agent.",
	}, s.handleProfile)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gate_token",
		Description: "Issue a capability token granting event types to this agent. Pass it as payload.capability_token on later decisions.",
	}, s.handleToken)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gate_pending",
		Description: "List decisions waiting for human approval.",
	}, s.handlePending)
}
