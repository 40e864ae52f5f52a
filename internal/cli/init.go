package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/config"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default gate.yaml and create storage directories",
	Long: `Creates the config directory and writes the built-in gate.yaml.

Without --config the file goes to ~/.agentgate/gate.yaml. Storage
directories named by the written config are created alongside it.
An existing file is kept unless --force is given.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var created []string
	if _, err := os.Stat(path); err == nil && !initForce {
		created = append(created, fmt.Sprintf("%s (exists, skipped)", path))
	} else {
		if err := os.WriteFile(path, []byte(config.DefaultYAML()), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		created = append(created, path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	for _, dir := range storageDirs(cfg) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		created = append(created, dir+"/")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "agentgate initialized:")
	for _, c := range created {
		fmt.Fprintf(out, "  %s\n", c)
	}
	fmt.Fprintf(out, "\nSet %s before running serve or mcp.\n", cfg.Signing.SecretEnv)
	return nil
}

// storageDirs lists directories that must exist for the configured storage.
func storageDirs(cfg *config.Config) []string {
	var dirs []string
	seen := map[string]bool{}
	add := func(dir string) {
		if dir == "" || dir == "." || seen[dir] {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	if cfg.Storage.AuditLog != "" {
		add(filepath.Dir(cfg.Storage.AuditLog))
	}
	if cfg.Storage.Database != "" {
		add(filepath.Dir(cfg.Storage.Database))
	}
	add(cfg.Storage.ApprovalsDir)
	add(cfg.Storage.TokensDir)
	return dirs
}
