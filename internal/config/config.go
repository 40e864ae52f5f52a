// Package config loads the gate configuration file.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/agentgate/internal/alert"
	"github.com/ppiankov/agentgate/internal/contract"
	"github.com/ppiankov/agentgate/internal/identity"
	"github.com/ppiankov/agentgate/internal/policy"
	"github.com/ppiankov/agentgate/internal/sequence"
	"github.com/ppiankov/agentgate/internal/signing"
)

// DefaultSecretEnv names the environment variable holding the shared secret.
const DefaultSecretEnv = "AGENTGATE_SECRET"

// SequenceConfig tunes the sequence analyzer and adds custom patterns.
type SequenceConfig struct {
	TTL        time.Duration      `yaml:"ttl"`
	MaxHistory int                `yaml:"max_history"`
	HalfLife   time.Duration      `yaml:"half_life"`
	Patterns   []sequence.Pattern `yaml:"patterns"`
}

// Analyzer returns the analyzer settings.
func (s SequenceConfig) Analyzer() sequence.Config {
	return sequence.Config{TTL: s.TTL, MaxHistory: s.MaxHistory, HalfLife: s.HalfLife}
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ExecutionConfig configures receipts written by the executor.
type ExecutionConfig struct {
	ExecutorID  string        `yaml:"executor_id"`
	Environment string        `yaml:"environment"`
	GateSource  string        `yaml:"gate_source"`
	MaxSkew     time.Duration `yaml:"max_skew"`
}

// SigningConfig names where the shared secret comes from.
type SigningConfig struct {
	SecretEnv string `yaml:"secret_env"`
	Issuer    string `yaml:"issuer"`
}

// StorageConfig holds on-disk locations. Empty paths disable the store.
type StorageConfig struct {
	AuditLog     string `yaml:"audit_log"`
	Database     string `yaml:"database"`
	ApprovalsDir string `yaml:"approvals_dir"`
	TokensDir    string `yaml:"tokens_dir"`
}

// ServerConfig holds listen addresses.
type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProviderRule maps an event type pattern to a canned proposal.
type ProviderRule struct {
	EventPattern      string  `yaml:"event_pattern"`
	RecommendedAction string  `yaml:"recommended_action"`
	Confidence        float64 `yaml:"confidence"`
	Explanation       string  `yaml:"explanation"`
}

// ProviderConfig configures the rule-based decision provider.
type ProviderConfig struct {
	Rules []ProviderRule `yaml:"rules"`
	// Cooldown is how long a rate-limited provider is skipped.
	Cooldown time.Duration `yaml:"cooldown"`
}

// Config is the whole gate.yaml.
type Config struct {
	Policy    policy.PolicyConfig `yaml:"policy"`
	Sequence  SequenceConfig      `yaml:"sequence"`
	Sessions  SessionConfig       `yaml:"sessions"`
	Execution ExecutionConfig     `yaml:"execution"`
	Signing   SigningConfig       `yaml:"signing"`
	Storage   StorageConfig       `yaml:"storage"`
	Server    ServerConfig        `yaml:"server"`
	Provider  ProviderConfig      `yaml:"provider"`
	Alerts    []alert.AlertConfig `yaml:"alerts"`
}

// Dir returns the default configuration directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "agentgate")
	}
	return filepath.Join(home, ".agentgate")
}

// DefaultPath returns ~/.agentgate/gate.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "gate.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := Dir()
	return &Config{
		Policy: *policy.DefaultConfig(),
		Sequence: SequenceConfig{
			TTL:        sequence.DefaultTTL,
			MaxHistory: sequence.DefaultMaxHistory,
			HalfLife:   sequence.DefaultHalfLife,
		},
		Sessions: SessionConfig{Timeout: identity.DefaultSessionTimeout},
		Execution: ExecutionConfig{
			ExecutorID:  hostname(),
			Environment: "default",
			GateSource:  contract.DefaultGateSource,
			MaxSkew:     contract.DefaultMaxSkew,
		},
		Signing: SigningConfig{SecretEnv: DefaultSecretEnv, Issuer: "agentgate"},
		Storage: StorageConfig{
			AuditLog:     filepath.Join(dir, "audit.jsonl"),
			Database:     filepath.Join(dir, "decisions.db"),
			ApprovalsDir: filepath.Join(dir, "pending"),
			TokensDir:    filepath.Join(dir, "tokens"),
		},
		Server:   ServerConfig{GRPCAddr: "127.0.0.1:7443"},
		Provider: ProviderConfig{Cooldown: 30 * time.Second},
	}
}

// Load reads the config file. Empty path falls back to DefaultPath.
// Missing file returns defaults. Invalid YAML returns an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads the configuration and returns the SHA-256 of the raw
// bytes on disk. When no file exists the hash is of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), hashOf(nil), nil
		}
		return nil, "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	return cfg, hashOf(data), nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	// Start with defaults, YAML overwrites only specified fields
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for _, p := range c.Sequence.Patterns {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("config: sequence: %w", err)
		}
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("config: alerts[%d]: url is required", i)
		}
		if _, err := alert.FormatPayload(a.Format, alert.AlertEvent{}); err != nil {
			return fmt.Errorf("config: alerts[%d]: %w", i, err)
		}
	}
	if c.Execution.MaxSkew < 0 {
		return fmt.Errorf("config: execution.max_skew must not be negative")
	}
	return nil
}

// Signer builds the shared-secret signer from the configured environment
// variable. A missing secret is an error; the gate never signs with a
// default key.
func (c *Config) Signer() (*signing.Signer, error) {
	env := c.Signing.SecretEnv
	if env == "" {
		env = DefaultSecretEnv
	}
	secret := os.Getenv(env)
	if secret == "" {
		return nil, fmt.Errorf("config: %s is not set: %w", env, signing.ErrNoSecret)
	}
	return signing.NewSigner([]byte(secret))
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "agentgate"
	}
	return h
}
