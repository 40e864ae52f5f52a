package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/model"
	"github.com/ppiankov/agentgate/internal/sanitize"
)

var sanitizeEvent eventFlags

func init() {
	rootCmd.AddCommand(sanitizeCmd)
	addEventFlags(sanitizeCmd, &sanitizeEvent)
}

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize",
	Short: "Preview the safer rewrite of an action",
	Long:  "Applies the sanitizer rules to an event payload and prints the result.\nNo decision is made and nothing is recorded.",
	RunE:  runSanitize,
}

func runSanitize(cmd *cobra.Command, args []string) error {
	e, err := sanitizeEvent.build(cmd.InOrStdin())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	res, ok := sanitize.New().TrySanitize(e.EventType, model.CopyPayload(e.Payload))
	if !ok {
		fmt.Fprintf(out, "No rule applies to %s: %s\n", e.EventType, model.ActionSummary(e.EventType, e.Payload))
		return nil
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}
