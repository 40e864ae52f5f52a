package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	gatemcp "github.com/ppiankov/agentgate/internal/mcp"
)

var (
	mcpAgent  string
	mcpTenant string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpAgent, "agent", "mcp-agent", "Agent identifier for decisions made through this server")
	mcpCmd.Flags().StringVar(&mcpTenant, "tenant", "default", "Tenant identifier for decisions made through this server")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs agentgate as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes gate tools: decide, sanitize, profile, token, pending.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol; everything human goes to stderr.
	logw := cmd.ErrOrStderr()
	rt, err := openRuntime(runtimeOptions{persist: true, log: logw})
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := gatemcp.New(rt.gate, gatemcp.Config{
		AgentID:  mcpAgent,
		TenantID: mcpTenant,
		Version:  version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(logw, "agentgate MCP server running on stdio (agent %s, tenant %s)\n", mcpAgent, mcpTenant)
	err = srv.Run(ctx)

	v := rt.gate.Agent(mcpAgent)
	fmt.Fprintf(logw, "Session summary: trust %s, %d actions recorded\n", v.Profile.TrustLevel, len(v.History))
	return err
}
