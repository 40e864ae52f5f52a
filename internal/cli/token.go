package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/captoken"
)

var (
	tokenSubject string
	tokenCaps    []string
	tokenTTL     time.Duration
	tokenSave    bool
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd, tokenVerifyCmd, tokenListCmd)
	tokenIssueCmd.Flags().StringVar(&tokenSubject, "subject", "", "Agent the token is issued to (required)")
	tokenIssueCmd.Flags().StringSliceVar(&tokenCaps, "cap", nil, "Granted event type, repeatable; * grants all")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	tokenIssueCmd.Flags().BoolVar(&tokenSave, "save", true, "Keep a copy in the token directory")
	tokenIssueCmd.MarkFlagRequired("subject")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Capability token operations",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a signed capability token",
	Long:  "Prints the encoded token. Agents pass it as payload.capability_token;\nthe gate denies event types the token does not grant.",
	RunE:  runTokenIssue,
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Verify a token and print its capabilities",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenVerify,
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved tokens",
	RunE:  runTokenList,
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(runtimeOptions{log: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer rt.Close()

	tok, enc, err := rt.gate.IssueToken(tokenSubject, tokenCaps, tokenTTL)
	if err != nil {
		return err
	}
	if tokenSave {
		st, err := captoken.NewStore(rt.cfg.Storage.TokensDir)
		if err != nil {
			return err
		}
		if err := st.Save(tok); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Issued", tok.TokenID, "to", tok.Subject, "until", tok.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintln(cmd.OutOrStdout(), enc)
	return nil
}

func runTokenVerify(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(runtimeOptions{log: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer rt.Close()

	tok, caps, err := rt.gate.VerifyToken(args[0])
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(map[string]any{
		"token_id":     tok.TokenID,
		"subject":      tok.Subject,
		"issuer":       tok.Issuer,
		"capabilities": caps,
		"expires_at":   tok.ExpiresAt,
	}, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runTokenList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := captoken.NewStore(cfg.Storage.TokensDir)
	if err != nil {
		return err
	}
	list, err := st.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No saved tokens.")
		return nil
	}
	now := time.Now()
	fmt.Fprintf(out, "%-22s %-20s %-10s %s\n", "TOKEN", "SUBJECT", "STATE", "CAPABILITIES")
	for _, t := range list {
		state := "valid"
		if now.After(t.ExpiresAt) {
			state = "expired"
		}
		fmt.Fprintf(out, "%-22s %-20s %-10s %v\n", t.TokenID, truncate(t.Subject, 20), state, t.Capabilities)
	}
	return nil
}
