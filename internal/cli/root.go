package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agentgate",
	Short: "Governance gate for autonomous agent actions",
	Long: "Decides whether proposed agent actions may run, signs every decision,\n" +
		"and records a linked receipt for every execution attempt.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to gate.yaml (default ~/.agentgate/gate.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
