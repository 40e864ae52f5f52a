package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/audit"
	"github.com/ppiankov/agentgate/internal/config"
	"github.com/ppiankov/agentgate/internal/sanitize"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check system readiness and diagnose configuration issues",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	checks := doctorChecks()

	hasFailures := false
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(out, line)
	}

	if hasFailures {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

func doctorChecks() []checkResult {
	var checks []checkResult

	execPath, _ := os.Executable()
	if execPath != "" {
		checks = append(checks, checkResult{label: "agentgate binary", ok: true, detail: fmt.Sprintf("%s (v%s)", execPath, version)})
	} else {
		checks = append(checks, checkResult{label: "agentgate binary", ok: false, detail: "cannot determine executable path"})
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	switch {
	case err != nil:
		// Nothing else can be checked without a config.
		return append(checks, checkResult{label: "gate.yaml", ok: false, detail: err.Error(), fix: "fix the YAML or run agentgate init --force"})
	case fileExists(path):
		checks = append(checks, checkResult{label: "gate.yaml", ok: true, detail: path})
	default:
		checks = append(checks, checkResult{label: "gate.yaml", ok: true, detail: "not found, using built-in defaults"})
	}

	if _, err := cfg.Signer(); err != nil {
		checks = append(checks, checkResult{label: "signing secret", ok: false, detail: cfg.Signing.SecretEnv + " is not set", fix: "export " + cfg.Signing.SecretEnv + "=<secret>"})
	} else {
		checks = append(checks, checkResult{label: "signing secret", ok: true, detail: "from " + cfg.Signing.SecretEnv})
	}

	for _, dir := range storageDirs(cfg) {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			checks = append(checks, checkResult{label: "storage", ok: true, detail: dir})
		} else {
			checks = append(checks, checkResult{label: "storage", ok: false, detail: dir + " missing", fix: "agentgate init"})
		}
	}

	if fileExists(cfg.Storage.AuditLog) {
		if r := audit.Verify(cfg.Storage.AuditLog); r.Valid {
			checks = append(checks, checkResult{label: "audit chain", ok: true, detail: fmt.Sprintf("%d entries", r.Lines)})
		} else {
			checks = append(checks, checkResult{label: "audit chain", ok: false, detail: fmt.Sprintf("broken at line %d: %s", r.ErrorLine, r.Error), fix: "agentgate audit verify"})
		}
	}

	checks = append(checks, checkResult{
		label:  "sanitizer rules",
		ok:     true,
		detail: fmt.Sprintf("%d built-in", len(sanitize.DefaultRules())),
	})
	return checks
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist) && err == nil
}
