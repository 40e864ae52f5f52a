package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/audit"
	"github.com/ppiankov/agentgate/internal/contract"
	"github.com/ppiankov/agentgate/internal/signing"
	"github.com/ppiankov/agentgate/internal/store"
)

var (
	tailLines      int
	verifyDecision string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditVerifyCmd.Flags().StringVar(&verifyDecision, "decision", "", "Also verify one decision's envelope, receipts and signatures from the decision store")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long: "Walks the JSONL audit log and validates that every entry's prev_hash\n" +
		"matches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Long:  "Reads the last N entries from the JSONL audit log and pretty-prints them.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var errVerifyFailed = errors.New("verification failed")

func auditPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Storage.AuditLog, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	result := audit.Verify(path)
	if !result.Valid {
		fmt.Fprintf(cmd.ErrOrStderr(), "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
		return errVerifyFailed
	}
	fmt.Fprintf(out, "OK: %d entries verified (%d decisions, %d receipts, %d approvals)\n",
		result.Lines, result.Decisions, result.Receipts, result.Approvals)
	fmt.Fprintf(out, "head: %s\n", result.Head)
	if result.Orphans > 0 {
		fmt.Fprintf(out, "note: %d entries reference decisions not in this log\n", result.Orphans)
	}

	if verifyDecision == "" {
		return nil
	}
	return verifyChain(cmd, verifyDecision)
}

func verifyChain(cmd *cobra.Command, decisionID string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	chain, err := st.Chain(ctx, decisionID)
	if err != nil {
		return err
	}
	if !chain.Valid {
		fmt.Fprintf(cmd.ErrOrStderr(), "FAILED chain %s: %s\n", decisionID, chain.Reason)
		return errVerifyFailed
	}

	signer, err := cfg.Signer()
	if errors.Is(err, signing.ErrNoSecret) {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: chain %s linked (signatures not checked: no secret)\n", decisionID)
		return nil
	}
	if err != nil {
		return err
	}
	env, err := st.Envelope(ctx, decisionID)
	if err != nil {
		return err
	}
	if err := contract.VerifyEnvelope(signer, env); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "FAILED envelope %s: %v\n", decisionID, err)
		return errVerifyFailed
	}
	receipts, err := st.Receipts(ctx, decisionID)
	if err != nil {
		return err
	}
	for _, r := range receipts {
		if err := contract.VerifyReceipt(signer, r); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "FAILED receipt %s: %v\n", r.ReceiptID, err)
			return errVerifyFailed
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK: chain %s with %d receipts, signatures valid\n", decisionID, len(receipts))
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	// Read all lines, keep last N
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	start := len(lines) - tailLines
	if start < 0 {
		start = 0
	}

	out := cmd.OutOrStdout()
	for _, line := range lines[start:] {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			fmt.Fprintln(out, line)
			continue
		}
		pretty, _ := json.MarshalIndent(entry, "", "  ")
		fmt.Fprintln(out, string(pretty))
	}
	return nil
}
