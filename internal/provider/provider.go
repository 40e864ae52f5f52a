// Package provider supplies decision proposals for events. Proposals are
// opaque inputs to risk scoring; the gate never trusts them for a verdict.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ppiankov/neurorouter"

	"github.com/ppiankov/agentgate/internal/config"
	"github.com/ppiankov/agentgate/internal/identity"
	"github.com/ppiankov/agentgate/internal/model"
)

// ErrUnavailable is returned when no provider produced a proposal.
var ErrUnavailable = errors.New("provider: unavailable")

// DefaultCooldown is how long a rate-limited provider is skipped.
const DefaultCooldown = 30 * time.Second

// Provider proposes an action for an event. State is a label describing
// the agent (its trust level).
type Provider interface {
	Name() string
	Propose(ctx context.Context, e model.Event, state string) (model.Proposal, error)
}

// Func adapts a function to the Provider interface.
type Func struct {
	ID string
	Fn func(ctx context.Context, e model.Event, state string) (model.Proposal, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Propose(ctx context.Context, e model.Event, state string) (model.Proposal, error) {
	return f.Fn(ctx, e, state)
}

// Static answers from configured rules. First match wins.
type Static struct {
	rules []config.ProviderRule
}

// NewStatic creates a rule-based provider.
func NewStatic(rules []config.ProviderRule) *Static {
	return &Static{rules: append([]config.ProviderRule(nil), rules...)}
}

func (s *Static) Name() string { return "static" }

// Propose returns the first matching rule's proposal, or an allow with
// full confidence when nothing matches.
func (s *Static) Propose(ctx context.Context, e model.Event, state string) (model.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return model.Proposal{}, err
	}
	for _, r := range s.rules {
		if identity.MatchPattern(r.EventPattern, e.EventType) {
			return model.Proposal{
				RecommendedAction: r.RecommendedAction,
				Confidence:        r.Confidence,
				Explanation:       r.Explanation,
			}, nil
		}
	}
	return model.Proposal{
		RecommendedAction: "allow",
		Confidence:        1,
		Explanation:       "no provider rule matched",
	}, nil
}

// Fallback asks providers in order and returns the first answer.
// A provider that reports neurorouter.ErrRateLimited is skipped until its
// cooldown passes.
type Fallback struct {
	providers []Provider
	cooldown  time.Duration
	log       io.Writer
	now       func() time.Time

	mu    sync.Mutex
	until map[string]time.Time
}

// NewFallback chains providers. cooldown <= 0 uses DefaultCooldown.
func NewFallback(cooldown time.Duration, providers ...Provider) *Fallback {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Fallback{
		providers: providers,
		cooldown:  cooldown,
		log:       os.Stderr,
		now:       time.Now,
		until:     make(map[string]time.Time),
	}
}

// WithClock replaces the clock used for cooldowns.
func (f *Fallback) WithClock(now func() time.Time) *Fallback {
	f.now = now
	return f
}

// WithLog redirects diagnostics.
func (f *Fallback) WithLog(w io.Writer) *Fallback {
	f.log = w
	return f
}

func (f *Fallback) Name() string { return "fallback" }

// Propose returns the first successful proposal. When every provider
// fails or is cooling down, the error wraps ErrUnavailable.
func (f *Fallback) Propose(ctx context.Context, e model.Event, state string) (model.Proposal, error) {
	var errs []error
	for _, p := range f.providers {
		if f.coolingDown(p.Name()) {
			errs = append(errs, fmt.Errorf("%s: cooling down", p.Name()))
			continue
		}
		prop, err := p.Propose(ctx, e, state)
		if err == nil {
			return prop, nil
		}
		if errors.Is(err, neurorouter.ErrRateLimited) {
			f.markLimited(p.Name())
			fmt.Fprintf(f.log, "provider: %s rate limited, skipping for %s\n", p.Name(), f.cooldown)
		} else {
			fmt.Fprintf(f.log, "provider: %s failed: %v\n", p.Name(), err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return model.Proposal{}, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

func (f *Fallback) coolingDown(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.until[name]
	if !ok {
		return false
	}
	if f.now().Before(until) {
		return true
	}
	delete(f.until, name)
	return false
}

func (f *Fallback) markLimited(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.until[name] = f.now().Add(f.cooldown)
}
