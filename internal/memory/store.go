// Package memory keeps per-agent outcome counters and derives a
// trust-decayed risk modifier from them.
package memory

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ppiankov/agentgate/internal/model"
)

// TrustHalfLife is the half-life of the trust decay applied after an incident.
const TrustHalfLife = 7 * 24 * time.Hour

// TrustLevel buckets an agent's behavior.
type TrustLevel string

const (
	TrustUntrusted TrustLevel = "untrusted"
	TrustLow       TrustLevel = "low"
	TrustMedium    TrustLevel = "medium"
	TrustHigh      TrustLevel = "high"
)

// Stats are the cumulative outcome counters for one agent.
type Stats struct {
	AgentID        string     `json:"agent_id"`
	Total          int        `json:"total"`
	Allowed        int        `json:"allowed"`
	Blocked        int        `json:"blocked"`
	Escalated      int        `json:"escalated"`
	Sanitized      int        `json:"sanitized"`
	LastActionAt   time.Time  `json:"last_action_at"`
	LastIncidentAt *time.Time `json:"last_incident_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Incidents counts blocked and escalated outcomes.
func (s Stats) Incidents() int {
	return s.Blocked + s.Escalated
}

// IncidentRate is incidents over total, 0 when there is no history.
func (s Stats) IncidentRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Incidents()) / float64(s.Total)
}

// RiskProfile is derived on read from Stats and the current time.
type RiskProfile struct {
	AgentID          string     `json:"agent_id"`
	BaseRiskModifier float64    `json:"base_risk_modifier"`
	TrustLevel       TrustLevel `json:"trust_level"`
	IncidentCount    int        `json:"incident_count"`
	IncidentRate     float64    `json:"incident_rate"`
	Known            bool       `json:"known"`
}

// AdaptiveScore is a base risk adjusted by the agent's profile.
type AdaptiveScore struct {
	Score       int         `json:"score"`
	Modifier    float64     `json:"modifier"`
	Profile     RiskProfile `json:"profile"`
	Explanation string      `json:"explanation"`
}

// Store owns the stats map for every agent.
type Store struct {
	mu    sync.Mutex
	stats map[string]*Stats
	now   func() time.Time
}

// NewStore creates an empty store using the wall clock.
func NewStore() *Store {
	return &Store{
		stats: make(map[string]*Stats),
		now:   time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// RecordAction increments the counter for outcome. Blocked and escalated
// outcomes also mark the incident time.
func (s *Store) RecordAction(agentID string, outcome model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st, ok := s.stats[agentID]
	if !ok {
		st = &Stats{AgentID: agentID, CreatedAt: now}
	}

	switch outcome {
	case model.OutcomeAllowed:
		st.Allowed++
	case model.OutcomeBlocked:
		st.Blocked++
	case model.OutcomeEscalated:
		st.Escalated++
	case model.OutcomeSanitized:
		st.Sanitized++
	default:
		return fmt.Errorf("memory: unknown outcome %q", outcome)
	}
	st.Total++
	st.LastActionAt = now
	if outcome == model.OutcomeBlocked || outcome == model.OutcomeEscalated {
		t := now
		st.LastIncidentAt = &t
	}
	s.stats[agentID] = st
	return nil
}

// Stats returns a copy of the agent's counters.
func (s *Store) Stats(agentID string) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[agentID]
	if !ok {
		return Stats{}, false
	}
	return *st, true
}

// Agents returns the ids of every agent with recorded history.
func (s *Store) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.stats))
	for id := range s.stats {
		ids = append(ids, id)
	}
	return ids
}

// Reset forgets the agent's history.
func (s *Store) Reset(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stats, agentID)
}

// RiskProfile computes the agent's current profile. Unknown agents start
// mildly distrusted.
func (s *Store) RiskProfile(agentID string) RiskProfile {
	s.mu.Lock()
	st, ok := s.stats[agentID]
	var snap Stats
	if ok {
		snap = *st
	}
	now := s.now()
	s.mu.Unlock()

	if !ok {
		return RiskProfile{AgentID: agentID, BaseRiskModifier: 5, TrustLevel: TrustUntrusted}
	}
	return profileFor(snap, now)
}

func profileFor(st Stats, now time.Time) RiskProfile {
	since := st.CreatedAt
	if st.LastIncidentAt != nil {
		since = *st.LastIncidentAt
	}
	decay := TrustDecay(now.Sub(since))
	rate := st.IncidentRate()

	p := RiskProfile{
		AgentID:       st.AgentID,
		IncidentCount: st.Incidents(),
		IncidentRate:  rate,
		Known:         true,
	}
	switch {
	case rate > 0.30:
		p.BaseRiskModifier = 50 * decay
		p.TrustLevel = TrustUntrusted
	case rate > 0.10:
		p.BaseRiskModifier = 20 * decay
		p.TrustLevel = TrustLow
	case st.Total > 100 && rate < 0.05:
		p.BaseRiskModifier = -10 * (1 - decay)
		p.TrustLevel = TrustHigh
	case st.Total > 20 && rate < 0.10:
		p.BaseRiskModifier = 0
		p.TrustLevel = TrustMedium
	default:
		p.BaseRiskModifier = 5
		p.TrustLevel = TrustLow
	}
	return p
}

// TrustDecay is 0.5^(elapsed/TrustHalfLife), 1 for non-positive elapsed.
func TrustDecay(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(elapsed)/float64(TrustHalfLife))
}

// AdaptiveRisk scales base by the agent's modifier, adds the sequence
// bonus, and clamps to [0,100].
func (s *Store) AdaptiveRisk(agentID string, base, sequenceBonus int) AdaptiveScore {
	p := s.RiskProfile(agentID)
	raw := float64(base)*(1+p.BaseRiskModifier/100) + float64(sequenceBonus)
	score := int(math.Round(math.Max(0, math.Min(100, raw))))
	return AdaptiveScore{
		Score:    score,
		Modifier: p.BaseRiskModifier,
		Profile:  p,
		Explanation: fmt.Sprintf("base %d, trust %s modifier %+.1f%%, sequence bonus %d, final %d",
			base, p.TrustLevel, p.BaseRiskModifier, sequenceBonus, score),
	}
}
