package cli

import (
	"encoding/json"
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/approval"
	"github.com/ppiankov/agentgate/internal/contract"
)

var resolveBy string

func init() {
	rootCmd.AddCommand(approveCmd, denyCmd)
	for _, c := range []*cobra.Command{approveCmd, denyCmd} {
		c.Flags().StringVar(&resolveBy, "by", "", "Who resolved the request (default: current user)")
		addRemoteFlag(c)
	}
}

var approveCmd = &cobra.Command{
	Use:   "approve <decision-id>",
	Short: "Approve a REQUIRE_APPROVAL decision",
	Long:  "Resolves a pending request and prints a newly signed ALLOW envelope\nfor the same trace and action. Each request can be approved once.",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var denyCmd = &cobra.Command{
	Use:   "deny <decision-id>",
	Short: "Deny a REQUIRE_APPROVAL decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

func runApprove(cmd *cobra.Command, args []string) error {
	if remoteAddr != "" {
		c, err := dialRemote()
		if err != nil {
			return err
		}
		defer c.Close()
		a, env, err := c.Approve(cmd.Context(), args[0], resolver())
		if err != nil {
			return err
		}
		return printApproved(cmd, a, env)
	}

	rt, err := openRuntime(runtimeOptions{persist: true, log: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer rt.Close()

	a, env, err := rt.gate.Approve(cmd.Context(), args[0], resolver())
	if err != nil {
		return err
	}
	return printApproved(cmd, a, env)
}

func printApproved(cmd *cobra.Command, a *approval.Approval, env *contract.DecisionEnvelope) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Approved %s (%s %s)\n", a.DecisionID, a.EventType, truncate(a.Action, 40))
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runDeny(cmd *cobra.Command, args []string) error {
	if remoteAddr != "" {
		c, err := dialRemote()
		if err != nil {
			return err
		}
		defer c.Close()
		a, err := c.Deny(cmd.Context(), args[0], resolver())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Denied %s (%s %s)\n", a.DecisionID, a.EventType, truncate(a.Action, 40))
		return nil
	}

	rt, err := openRuntime(runtimeOptions{persist: true, log: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer rt.Close()

	a, err := rt.gate.Deny(args[0], resolver())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Denied %s (%s %s)\n", a.DecisionID, a.EventType, truncate(a.Action, 40))
	return nil
}

func resolver() string {
	if resolveBy != "" {
		return resolveBy
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}
