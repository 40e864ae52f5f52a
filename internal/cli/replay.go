package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/audit"
)

var (
	replayLog      string
	replayDecision string
	replayAgent    string
	replayFrom     string
	replayTo       string
	replayFormat   string
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayLog, "log", "l", "", "Path to audit log (default from config)")
	replayCmd.Flags().StringVar(&replayDecision, "decision", "", "Only entries for this decision id")
	replayCmd.Flags().StringVar(&replayAgent, "agent", "", "Only entries for this agent")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var replayCmd = &cobra.Command{
	Use:   "replay [trace-id]",
	Short: "Replay a trace from the audit log",
	Long: "Reads the audit log, filters by trace, decision, agent and time range,\n" +
		"and renders a decision and receipt timeline with summary.",
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	filter := audit.ReplayFilter{DecisionID: replayDecision, AgentID: replayAgent}
	if len(args) == 1 {
		filter.TraceID = args[0]
	}

	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
		filter.From = from
	}

	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
		filter.To = to
	}

	path := replayLog
	if path == "" {
		var err error
		if path, err = auditPath(nil); err != nil {
			return err
		}
	}

	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch replayFormat {
	case "json":
		data, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, data)
	default:
		fmt.Fprint(out, audit.FormatTimeline(result))
	}
	return nil
}
