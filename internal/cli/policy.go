package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/config"
	"github.com/ppiankov/agentgate/internal/policydiff"
	"github.com/ppiankov/agentgate/internal/sim"
)

var (
	policyFormat string
	simLog       string
	simAgent     string
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyDiffCmd, policySimulateCmd)
	policyCmd.PersistentFlags().StringVarP(&policyFormat, "format", "f", "text", "Output format (text|json)")
	policySimulateCmd.Flags().StringVarP(&simLog, "log", "l", "", "Audit log to replay (default from config)")
	policySimulateCmd.Flags().StringVar(&simAgent, "agent", "", "Replay every decision as this agent")
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Compare and test policy changes before reloading them",
}

var policyDiffCmd = &cobra.Command{
	Use:   "diff <old.yaml> <new.yaml>",
	Short: "Show what changes between two gate configs' policy sections",
	Args:  cobra.ExactArgs(2),
	RunE:  runPolicyDiff,
}

var policySimulateCmd = &cobra.Command{
	Use:   "simulate <candidate.yaml>",
	Short: "Replay recorded decisions against a candidate policy",
	Long: "Reads decision entries from the audit log and re-evaluates each against\n" +
		"the candidate's policy, holding the recorded risk fixed. Prints the\n" +
		"decisions whose verdict would change.",
	Args: cobra.ExactArgs(1),
	RunE: runPolicySimulate,
}

func runPolicyDiff(cmd *cobra.Command, args []string) error {
	oldCfg, err := config.Load(args[0])
	if err != nil {
		return fmt.Errorf("load %s: %w", args[0], err)
	}
	newCfg, err := config.Load(args[1])
	if err != nil {
		return fmt.Errorf("load %s: %w", args[1], err)
	}

	result := policydiff.Diff(&oldCfg.Policy, &newCfg.Policy)
	result.OldPath = args[0]
	result.NewPath = args[1]

	out := cmd.OutOrStdout()
	if policyFormat == "json" {
		data, err := policydiff.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, data)
		return nil
	}
	fmt.Fprint(out, policydiff.FormatText(result))
	return nil
}

func runPolicySimulate(cmd *cobra.Command, args []string) error {
	candidate, err := config.Load(args[0])
	if err != nil {
		return fmt.Errorf("load %s: %w", args[0], err)
	}

	path := simLog
	if path == "" {
		if path, err = auditPath(nil); err != nil {
			return err
		}
	}

	result, err := sim.Simulate(path, &candidate.Policy, simAgent)
	if err != nil {
		return err
	}
	result.PolicyPath = args[0]

	out := cmd.OutOrStdout()
	if policyFormat == "json" {
		data, err := sim.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, data)
		return nil
	}
	fmt.Fprint(out, sim.FormatText(result))
	return nil
}
