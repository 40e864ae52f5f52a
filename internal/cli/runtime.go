package cli

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ppiankov/agentgate/internal/approval"
	"github.com/ppiankov/agentgate/internal/audit"
	"github.com/ppiankov/agentgate/internal/config"
	"github.com/ppiankov/agentgate/internal/gate"
	"github.com/ppiankov/agentgate/internal/metrics"
	"github.com/ppiankov/agentgate/internal/provider"
	"github.com/ppiankov/agentgate/internal/signing"
	"github.com/ppiankov/agentgate/internal/store"
)

// runtimeOptions selects which collaborators a command needs.
type runtimeOptions struct {
	// persist opens the audit log, decision store and approval store.
	persist bool
	metrics bool
	// ephemeral signs with a throwaway key when no secret is configured.
	ephemeral bool
	log       io.Writer
}

// gateRuntime is a wired gate plus the resources it owns.
type gateRuntime struct {
	cfg       *config.Config
	hash      string
	gate      *gate.Gate
	audit     *audit.Log
	store     *store.DecisionStore
	approvals *approval.Store
	metrics   *metrics.Metrics
}

func loadConfig() (*config.Config, string, error) {
	cfg, hash, err := config.LoadWithHash(configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

func openRuntime(opts runtimeOptions) (*gateRuntime, error) {
	log := opts.log
	if log == nil {
		log = os.Stderr
	}
	cfg, hash, err := loadConfig()
	if err != nil {
		return nil, err
	}
	signer, err := cfg.Signer()
	if err != nil {
		if !opts.ephemeral || !errors.Is(err, signing.ErrNoSecret) {
			return nil, err
		}
		if signer, err = ephemeralSigner(); err != nil {
			return nil, err
		}
		fmt.Fprintln(log, "warning: signing secret not set, using a throwaway key")
	}

	rt := &gateRuntime{cfg: cfg, hash: hash}
	gopts := gate.Options{
		Config:     cfg,
		PolicyHash: hash,
		Signer:     signer,
		Provider:   provider.NewFallback(cfg.Provider.Cooldown, provider.NewStatic(cfg.Provider.Rules)).WithLog(log),
		Log:        log,
	}

	if opts.persist {
		if rt.audit, err = audit.Open(cfg.Storage.AuditLog); err != nil {
			return nil, err
		}
		if rt.store, err = store.Open(cfg.Storage.Database); err != nil {
			rt.Close()
			return nil, err
		}
		if rt.approvals, err = approval.NewStore(cfg.Storage.ApprovalsDir); err != nil {
			rt.Close()
			return nil, err
		}
		gopts.Audit = rt.audit
		gopts.Store = rt.store
		gopts.Approvals = rt.approvals
	}
	if opts.metrics {
		rt.metrics = metrics.New()
		gopts.Metrics = rt.metrics
	}

	if rt.gate, err = gate.New(gopts); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create gate: %w", err)
	}
	return rt, nil
}

// Close waits for alerts and releases the stores.
func (rt *gateRuntime) Close() {
	if rt.gate != nil {
		rt.gate.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
	if rt.audit != nil {
		rt.audit.Close()
	}
}

func ephemeralSigner() (*signing.Signer, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return signing.NewSigner(key)
}
