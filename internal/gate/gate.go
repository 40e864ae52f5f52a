// Package gate sequences the engines for each proposed action: it
// sanitizes, scores, evaluates policy, signs a decision envelope and,
// on execution, records a linked receipt.
package gate

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ppiankov/agentgate/internal/alert"
	"github.com/ppiankov/agentgate/internal/approval"
	"github.com/ppiankov/agentgate/internal/audit"
	"github.com/ppiankov/agentgate/internal/captoken"
	"github.com/ppiankov/agentgate/internal/config"
	"github.com/ppiankov/agentgate/internal/contract"
	"github.com/ppiankov/agentgate/internal/identity"
	"github.com/ppiankov/agentgate/internal/memory"
	"github.com/ppiankov/agentgate/internal/metrics"
	"github.com/ppiankov/agentgate/internal/policy"
	"github.com/ppiankov/agentgate/internal/policydiff"
	"github.com/ppiankov/agentgate/internal/provider"
	"github.com/ppiankov/agentgate/internal/sanitize"
	"github.com/ppiankov/agentgate/internal/sequence"
	"github.com/ppiankov/agentgate/internal/signing"
)

// Persister receives finished envelopes and receipts for durable storage.
type Persister interface {
	SaveEnvelope(ctx context.Context, env *contract.DecisionEnvelope) error
	SaveReceipt(ctx context.Context, r *contract.ExecutionReceipt) error
}

// Options wires a Gate. Config and Signer are required; every other
// collaborator is optional.
type Options struct {
	Config     *config.Config
	PolicyHash string
	Signer     *signing.Signer
	Provider   provider.Provider
	Audit      *audit.Log
	Store      Persister
	Approvals  *approval.Store
	Metrics    *metrics.Metrics
	Alerts     *alert.Dispatcher
	Sanitizer  *sanitize.Sanitizer
	Log        io.Writer
	Now        func() time.Time
}

// Gate owns the per-agent engines. It is safe for concurrent use.
type Gate struct {
	mu         sync.RWMutex
	cfg        *config.Config
	evaluator  *policy.Evaluator
	policyHash string

	signer    *signing.Signer
	sanitizer *sanitize.Sanitizer
	sequences *sequence.Analyzer
	memory    *memory.Store
	sessions  *identity.SessionManager
	executor  *contract.Executor
	tokens    *captoken.Issuer
	provider  provider.Provider

	audit     *audit.Log
	store     Persister
	approvals *approval.Store
	metrics   *metrics.Metrics
	alerts    *alert.Dispatcher
	log       io.Writer
	now       func() time.Time

	execMu   sync.Mutex
	consumed map[string]time.Time // decision id -> when it may be forgotten
}

// New builds a Gate from opts.
func New(opts Options) (*Gate, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("gate: config is required")
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("gate: signer is required: %w", signing.ErrNoSecret)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = os.Stderr
	}
	cfg := opts.Config

	sequences := sequence.NewAnalyzer(cfg.Sequence.Analyzer()).WithClock(now)
	for _, p := range cfg.Sequence.Patterns {
		if err := sequences.RegisterPattern(p); err != nil {
			return nil, fmt.Errorf("gate: register pattern %q: %w", p.Name, err)
		}
	}

	executor := contract.NewExecutor(cfg.Execution.ExecutorID, cfg.Execution.Environment, opts.Signer)
	if cfg.Execution.GateSource != "" {
		executor.GateSource = cfg.Execution.GateSource
	}
	executor.MaxSkew = cfg.Execution.MaxSkew
	executor.Now = now

	issuerName := cfg.Signing.Issuer
	if issuerName == "" {
		issuerName = captoken.DefaultIssuer
	}

	prov := opts.Provider
	if prov == nil {
		prov = provider.NewStatic(cfg.Provider.Rules)
	}
	san := opts.Sanitizer
	if san == nil {
		san = sanitize.New()
	}
	alerts := opts.Alerts
	if alerts == nil {
		alerts = alert.NewDispatcher(cfg.Alerts).WithLog(log)
	}

	g := &Gate{
		cfg:        cfg,
		evaluator:  policy.NewEvaluator(&cfg.Policy),
		policyHash: opts.PolicyHash,
		signer:     opts.Signer,
		sanitizer:  san,
		sequences:  sequences,
		memory:     memory.NewStore().WithClock(now),
		sessions:   identity.NewSessionManager(cfg.Sessions.Timeout).WithClock(now),
		executor:   executor,
		tokens:     captoken.NewIssuer(issuerName, opts.Signer).WithClock(now),
		provider:   prov,
		audit:      opts.Audit,
		store:      opts.Store,
		approvals:  opts.Approvals,
		metrics:    opts.Metrics,
		alerts:     alerts,
		log:        log,
		now:        now,
		consumed:   make(map[string]time.Time),
	}
	executor.Claim = g.claim
	return g, nil
}

// Reload swaps the policy section and registers any new sequence
// patterns. Agent history, sessions and stats survive a reload.
func (g *Gate) Reload(cfg *config.Config, hash string) error {
	if err := cfg.Validate(); err != nil {
		g.metrics.Reload(false)
		return err
	}
	for _, p := range cfg.Sequence.Patterns {
		if err := g.sequences.RegisterPattern(p); err != nil {
			g.metrics.Reload(false)
			return fmt.Errorf("gate: register pattern %q: %w", p.Name, err)
		}
	}
	ev := policy.NewEvaluator(&cfg.Policy)

	g.mu.Lock()
	old := g.policyHash
	diff := policydiff.Diff(&g.cfg.Policy, &cfg.Policy)
	g.cfg = cfg
	g.evaluator = ev
	g.policyHash = hash
	g.mu.Unlock()

	g.metrics.Reload(true)
	fmt.Fprintf(g.log, "gate: policy reloaded (%s -> %s): %s\n", short(old), short(hash), diff.Summary())
	return nil
}

func (g *Gate) snapshot() (*config.Config, *policy.Evaluator, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg, g.evaluator, g.policyHash
}

// Config returns the active configuration.
func (g *Gate) Config() *config.Config {
	cfg, _, _ := g.snapshot()
	return cfg
}

// PolicyHash returns the hash of the active configuration file.
func (g *Gate) PolicyHash() string {
	_, _, h := g.snapshot()
	return h
}

// Sanitizer returns the action sanitizer.
func (g *Gate) Sanitizer() *sanitize.Sanitizer { return g.sanitizer }

// Sequences returns the sequence analyzer.
func (g *Gate) Sequences() *sequence.Analyzer { return g.sequences }

// Memory returns the agent risk profile store.
func (g *Gate) Memory() *memory.Store { return g.memory }

// Sessions returns the session manager.
func (g *Gate) Sessions() *identity.SessionManager { return g.sessions }

// Tokens returns the capability token issuer.
func (g *Gate) Tokens() *captoken.Issuer { return g.tokens }

// Signer returns the shared-secret signer.
func (g *Gate) Signer() *signing.Signer { return g.signer }

// Maintain drops idle agent state: expired sequences, timed out sessions
// and stale approval requests. Meant to run on a ticker.
func (g *Gate) Maintain(approvalMaxAge time.Duration) {
	seqs := g.sequences.Sweep()
	sess := g.sessions.Sweep()
	g.forgetConsumed()
	expired := 0
	if g.approvals != nil && approvalMaxAge > 0 {
		n, err := g.approvals.Expire(approvalMaxAge)
		if err != nil {
			fmt.Fprintf(g.log, "gate: expire approvals: %v\n", err)
		}
		expired = n
	}
	g.metrics.ActiveSessions(len(g.sessions.ActiveSessions()))
	if seqs+sess+expired > 0 {
		fmt.Fprintf(g.log, "gate: maintenance dropped %d sequences, %d sessions, %d approvals\n", seqs, sess, expired)
	}
}

// Close waits for in-flight alerts.
func (g *Gate) Close() {
	g.alerts.Wait()
}

func short(hash string) string {
	if len(hash) > 19 {
		return hash[:19]
	}
	if hash == "" {
		return "none"
	}
	return hash
}
