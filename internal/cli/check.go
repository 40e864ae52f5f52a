package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/gate"
	"github.com/ppiankov/agentgate/internal/model"
	"github.com/ppiankov/agentgate/internal/policy"
)

var (
	checkEvent  eventFlags
	checkFormat string
)

// errNotAllowed makes check exit non-zero for DENY and REQUIRE_APPROVAL.
var errNotAllowed = errors.New("action not allowed")

func init() {
	rootCmd.AddCommand(checkCmd)
	addEventFlags(checkCmd, &checkEvent)
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
}

func addEventFlags(cmd *cobra.Command, f *eventFlags) {
	cmd.Flags().StringVar(&f.file, "file", "", "Event JSON file, - for stdin")
	cmd.Flags().StringVar(&f.eventType, "event-type", "", "Event type (e.g. shell:exec)")
	cmd.Flags().StringVar(&f.payload, "payload", "", "Event payload as a JSON object")
	cmd.Flags().StringVar(&f.agent, "agent", "cli", "Agent identifier")
	cmd.Flags().StringVar(&f.tenant, "tenant", "default", "Tenant identifier")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Decide one event without recording it",
	Long: "Runs an event through sanitization, risk scoring and policy, and prints\n" +
		"the signed decision. Nothing is written to the audit log or stores.\n\n" +
		"Exit code 0 for ALLOW, 1 otherwise. Use in CI to gate policy changes.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	e, err := checkEvent.build(cmd.InOrStdin())
	if err != nil {
		return err
	}
	rt, err := openRuntime(runtimeOptions{ephemeral: true, log: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer rt.Close()

	d, err := rt.gate.Decide(cmd.Context(), e)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch checkFormat {
	case "json":
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	default:
		fmt.Fprint(out, formatDecision(d))
	}

	if d.Envelope.Verdict != model.Allow {
		return errNotAllowed
	}
	return nil
}

func formatDecision(d *gate.Decision) string {
	env := d.Envelope
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", env.Verdict, env.ReasonCode)
	fmt.Fprintf(&b, "  decision:  %s\n", env.DecisionID)
	fmt.Fprintf(&b, "  action:    %s\n", env.Context.RequestedAction)
	fmt.Fprintf(&b, "  risk:      %d (base %d, tier %d %s)\n", env.RiskScore, d.BaseRisk, d.Tier, policy.TierLabel(d.Tier))
	for _, f := range d.Factors {
		fmt.Fprintf(&b, "             %+d %s\n", f.Points, f.Name)
	}
	if len(d.Sequence.MatchedPatterns) > 0 {
		fmt.Fprintf(&b, "  patterns:  %s\n", strings.Join(d.Sequence.MatchedPatterns, ", "))
	}
	if d.Sanitized != nil {
		fmt.Fprintf(&b, "  sanitized: %s (%s)\n", d.Sanitized.Rule, strings.Join(d.Sanitized.Changes, ", "))
	}
	if env.Applicability.MonitorMode {
		b.WriteString("  monitor mode: execution will be refused\n")
	}
	fmt.Fprintf(&b, "  reason:    %s\n", env.ReasonHuman)
	return b.String()
}
