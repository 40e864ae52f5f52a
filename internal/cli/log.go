package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/store"
)

var (
	logAgent   string
	logVerdict string
	logSince   time.Duration
	logLimit   int
)

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.AddCommand(logListCmd, logShowCmd)
	logListCmd.Flags().StringVar(&logAgent, "agent", "", "Only decisions for this agent")
	logListCmd.Flags().StringVar(&logVerdict, "verdict", "", "Only this verdict (ALLOW|DENY|REQUIRE_APPROVAL)")
	logListCmd.Flags().DurationVar(&logSince, "since", 0, "Only decisions newer than this (e.g. 1h)")
	logListCmd.Flags().IntVarP(&logLimit, "limit", "n", 50, "Maximum rows")
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Query the decision store",
}

var logListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent decisions, newest first",
	RunE:  runLogList,
}

var logShowCmd = &cobra.Command{
	Use:   "show <decision-id>",
	Short: "Show one envelope with its receipts",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogShow,
}

func openStore() (*store.DecisionStore, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Storage.Database)
}

func runLogList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	f := store.Filter{AgentID: logAgent, Verdict: strings.ToUpper(logVerdict), Limit: logLimit}
	if logSince > 0 {
		f.Since = time.Now().Add(-logSince)
	}
	list, err := st.List(cmd.Context(), f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No decisions.")
		return nil
	}
	fmt.Fprintf(out, "%-20s %-42s %-16s %-16s %4s %-20s %s\n", "TIME", "DECISION", "VERDICT", "AGENT", "RISK", "REASON", "ACTION")
	for _, env := range list {
		fmt.Fprintf(out, "%-20s %-42s %-16s %-16s %4d %-20s %s\n",
			env.Timestamp.Local().Format("2006-01-02 15:04:05"),
			env.DecisionID,
			env.Verdict,
			truncate(env.Context.AgentID, 16),
			env.RiskScore,
			env.ReasonCode,
			truncate(env.Context.RequestedAction, 50),
		)
	}
	return nil
}

func runLogShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	env, err := st.Envelope(ctx, args[0])
	if err != nil {
		return err
	}
	receipts, err := st.Receipts(ctx, args[0])
	if err != nil {
		return err
	}
	chain, err := st.Chain(ctx, args[0])
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(map[string]any{
		"envelope": env,
		"receipts": receipts,
		"chain":    chain,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
