package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/approval"
	"github.com/ppiankov/agentgate/internal/config"
)

var pendingAll bool

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.Flags().BoolVar(&pendingAll, "all", false, "Include resolved and expired requests")
	addRemoteFlag(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending approval requests",
	Long:  "Shows approval requests with their agent, action, risk and age.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	list, err := listApprovals(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No pending approvals.")
		return nil
	}

	fmt.Fprintf(out, "%-42s %-10s %-16s %-14s %4s %-40s %s\n", "DECISION", "STATUS", "AGENT", "EVENT", "RISK", "ACTION", "CREATED")
	for _, a := range list {
		fmt.Fprintf(out, "%-42s %-10s %-16s %-14s %4d %-40s %s\n",
			a.DecisionID,
			a.Status,
			truncate(a.AgentID, 16),
			truncate(a.EventType, 14),
			a.RiskScore,
			truncate(a.Action, 40),
			a.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func listApprovals(cmd *cobra.Command) ([]approval.Approval, error) {
	if remoteAddr != "" {
		if pendingAll {
			return nil, fmt.Errorf("--all is not available with --remote")
		}
		c, err := dialRemote()
		if err != nil {
			return nil, err
		}
		defer c.Close()
		return c.Pending(cmd.Context())
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	store, err := approval.NewStore(cfg.Storage.ApprovalsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open approval store: %w", err)
	}
	var list []approval.Approval
	if pendingAll {
		list, err = store.List()
	} else {
		list, err = store.Pending()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	return list, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
