// Package sequence tracks recent actions per agent and scores dangerous
// multi-step chains that no single action reveals.
package sequence

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxHistory = 20
	DefaultHalfLife   = 300000 * time.Millisecond
)

// ActionRecord is one observed action in an agent's history.
type ActionRecord struct {
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	RiskScore int            `json:"risk_score"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// AgentSequence is the accumulated state for one agent.
type AgentSequence struct {
	AgentID        string         `json:"agent_id"`
	Actions        []ActionRecord `json:"actions"`
	CumulativeRisk float64        `json:"cumulative_risk"`
	LastUpdated    time.Time      `json:"last_updated"`
}

// AnalysisResult is the outcome of analyzing one new action.
type AnalysisResult struct {
	SequenceRisk    int      `json:"sequence_risk"`
	MatchedPatterns []string `json:"matched_patterns"`
	CumulativeRisk  float64  `json:"cumulative_risk"`
}

// Config tunes history retention and decay. Zero fields take defaults.
type Config struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxHistory int           `yaml:"max_history"`
	HalfLife   time.Duration `yaml:"half_life"`
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.HalfLife <= 0 {
		c.HalfLife = DefaultHalfLife
	}
	return c
}

// Analyzer keeps per-agent history behind a single mutex. Each call to
// Analyze observes every prior call's effects.
type Analyzer struct {
	mu       sync.Mutex
	cfg      Config
	patterns []Pattern
	agents   map[string]*AgentSequence
	now      func() time.Time
}

// NewAnalyzer creates an analyzer loaded with DefaultPatterns.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{
		cfg:      cfg.withDefaults(),
		patterns: DefaultPatterns(),
		agents:   make(map[string]*AgentSequence),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
	return a
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// RegisterPattern adds a pattern, replacing any existing pattern of the same name.
func (a *Analyzer) RegisterPattern(p Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.Sequence = append([]string(nil), p.Sequence...)

	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.patterns {
		if a.patterns[i].Name == p.Name {
			a.patterns[i] = p
			return nil
		}
	}
	a.patterns = append(a.patterns, p)
	return nil
}

// Patterns returns a copy of the registered patterns.
func (a *Analyzer) Patterns() []Pattern {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Pattern, len(a.patterns))
	copy(out, a.patterns)
	return out
}

// Analyze records the action for the agent and returns the sequence risk
// contributed by matched patterns along with the decayed cumulative risk.
// The action's own RiskScore is kept in history but does not feed the
// cumulative value; only pattern bonuses do.
func (a *Analyzer) Analyze(agentID string, rec ActionRecord) AnalysisResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}

	seq, ok := a.agents[agentID]
	if !ok {
		seq = &AgentSequence{AgentID: agentID, LastUpdated: now}
		a.agents[agentID] = seq
	}

	seq.Actions = append(seq.Actions, rec)
	seq.Actions = prune(seq.Actions, now, a.cfg.TTL, a.cfg.MaxHistory)

	matched := []string{}
	bonus := 0
	for _, p := range a.patterns {
		window := withinWindow(seq.Actions, now, p.MaxWindow)
		if len(window) < len(p.Sequence) {
			continue
		}
		if matchInOrder(p, window) {
			matched = append(matched, p.Name)
			bonus += p.RiskBonus
		}
	}

	seq.CumulativeRisk = clamp(decay(seq.CumulativeRisk, now.Sub(seq.LastUpdated), a.cfg.HalfLife)+float64(bonus), 0, 100)
	seq.LastUpdated = now

	return AnalysisResult{
		SequenceRisk:    bonus,
		MatchedPatterns: matched,
		CumulativeRisk:  seq.CumulativeRisk,
	}
}

// History returns a copy of the agent's retained actions.
func (a *Analyzer) History(agentID string) []ActionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	seq, ok := a.agents[agentID]
	if !ok {
		return nil
	}
	out := make([]ActionRecord, len(seq.Actions))
	copy(out, seq.Actions)
	return out
}

// Sequence returns a snapshot of the agent's state.
func (a *Analyzer) Sequence(agentID string) (AgentSequence, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	seq, ok := a.agents[agentID]
	if !ok {
		return AgentSequence{}, false
	}
	cp := *seq
	cp.Actions = append([]ActionRecord(nil), seq.Actions...)
	return cp, true
}

// ClearAgent forgets all history for the agent.
func (a *Analyzer) ClearAgent(agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.agents, agentID)
}

// Agents returns the number of agents with retained state.
func (a *Analyzer) Agents() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.agents)
}

// Sweep drops agents whose every action has aged past the TTL.
// Returns the number of agents removed.
func (a *Analyzer) Sweep() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	removed := 0
	for id, seq := range a.agents {
		if now.Sub(seq.LastUpdated) > a.cfg.TTL {
			delete(a.agents, id)
			removed++
		}
	}
	return removed
}

// prune drops actions older than ttl and keeps only the newest max entries.
func prune(actions []ActionRecord, now time.Time, ttl time.Duration, max int) []ActionRecord {
	kept := actions[:0]
	for _, act := range actions {
		if now.Sub(act.Timestamp) <= ttl {
			kept = append(kept, act)
		}
	}
	if len(kept) > max {
		kept = append([]ActionRecord(nil), kept[len(kept)-max:]...)
	}
	return kept
}

func withinWindow(actions []ActionRecord, now time.Time, window time.Duration) []ActionRecord {
	var out []ActionRecord
	for _, act := range actions {
		if now.Sub(act.Timestamp) <= window {
			out = append(out, act)
		}
	}
	return out
}

// decay applies exponential half-life decay over elapsed time.
func decay(risk float64, elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 || risk == 0 {
		return risk
	}
	return risk * math.Pow(0.5, float64(elapsed)/float64(halfLife))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
