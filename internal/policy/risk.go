package policy

import (
	"strings"

	"github.com/ppiankov/agentgate/internal/identity"
	"github.com/ppiankov/agentgate/internal/model"
)

// RiskFactor is one named contribution to a base risk score.
type RiskFactor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// BaseRisk computes a deterministic, explainable risk score for one event
// before agent history is applied. It is cumulative scoring based on the
// event type, payload hints, and the provider's proposal; not anomaly
// detection.
func BaseRisk(e model.Event, p *model.Proposal, cfg *PolicyConfig) (int, []RiskFactor) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var factors []RiskFactor
	add := func(name string, pts int) {
		if pts != 0 {
			factors = append(factors, RiskFactor{Name: name, Points: pts})
		}
	}

	add("event_type", weightFor(e.EventType, cfg))

	if e.PayloadString("environment") == "production" || e.PayloadString("env") == "prod" {
		add("production", 10)
	}
	if rows, ok := e.Payload["rows"].(float64); ok {
		if rows > 1_000 {
			add("volume", 10)
		}
		if rows > 10_000 {
			add("volume_high", 15)
		}
	}
	if strings.EqualFold(e.PayloadString("egress"), "external") {
		add("external_egress", 15)
	}

	if p != nil {
		switch strings.ToLower(p.RecommendedAction) {
		case "deny", "block", "reject":
			add("provider_recommends_deny", 30)
		case "escalate", "review", "require_approval":
			add("provider_recommends_review", 15)
		}
		if p.Confidence > 0 && p.Confidence < 0.5 {
			add("low_confidence", 10)
		}
	}

	risk := 0
	for _, f := range factors {
		risk += f.Points
	}
	if risk > 100 {
		risk = 100
	}
	if risk < 0 {
		risk = 0
	}
	return risk, factors
}

// weightFor returns the first matching weight, else the default.
func weightFor(eventType string, cfg *PolicyConfig) int {
	for _, w := range cfg.RiskWeights {
		if identity.MatchPattern(w.Pattern, eventType) {
			return w.Weight
		}
	}
	return cfg.DefaultWeight
}
