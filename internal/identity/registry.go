package identity

import (
	"sort"
	"strings"
)

// AgentConfig scopes what a registered agent may ask the gate for.
type AgentConfig struct {
	Tenants     []string `yaml:"tenants,omitempty" json:"tenants,omitempty"`
	AllowEvents []string `yaml:"allow_events,omitempty" json:"allow_events,omitempty"`
	DenyEvents  []string `yaml:"deny_events,omitempty" json:"deny_events,omitempty"`
	// MaxRisk caps the final risk at which the agent may act without
	// approval. Zero means no per-agent cap.
	MaxRisk int `yaml:"max_risk,omitempty" json:"max_risk,omitempty"`
}

// Registry maps agent IDs to their configurations.
type Registry struct {
	agents map[string]*AgentConfig
}

// NewRegistry creates a Registry from an agents config map.
func NewRegistry(agents map[string]*AgentConfig) *Registry {
	if agents == nil {
		agents = make(map[string]*AgentConfig)
	}
	return &Registry{agents: agents}
}

// Lookup returns the AgentConfig for the given ID, or nil if not found.
func (r *Registry) Lookup(agentID string) *AgentConfig {
	return r.agents[agentID]
}

// IsRegistered returns true if the agent ID exists in the registry.
func (r *Registry) IsRegistered(agentID string) bool {
	_, ok := r.agents[agentID]
	return ok
}

// Empty reports whether no agents are registered.
func (r *Registry) Empty() bool {
	return len(r.agents) == 0
}

// IDs returns the registered agent IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllowsTenant checks the agent's tenant scope.
// An empty Tenants list allows every tenant.
func (r *Registry) AllowsTenant(agentID, tenantID string) bool {
	cfg := r.agents[agentID]
	if cfg == nil {
		return false
	}
	if len(cfg.Tenants) == 0 {
		return true
	}
	for _, t := range cfg.Tenants {
		if t == "*" || t == tenantID {
			return true
		}
	}
	return false
}

// AllowsEvent checks an event type against the agent's deny list, then its
// allow list. An empty AllowEvents list allows all event types.
func (r *Registry) AllowsEvent(agentID, eventType string) bool {
	cfg := r.agents[agentID]
	if cfg == nil {
		return false
	}
	for _, p := range cfg.DenyEvents {
		if MatchPattern(p, eventType) {
			return false
		}
	}
	if len(cfg.AllowEvents) == 0 {
		return true
	}
	for _, p := range cfg.AllowEvents {
		if MatchPattern(p, eventType) {
			return true
		}
	}
	return false
}

// MatchPattern checks if a value matches a glob-like pattern.
// Supports: *x* (contains), *:op (suffix), db:* (prefix), exact match.
// Matching is case-insensitive.
func MatchPattern(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	lowerValue := strings.ToLower(value)
	lowerPattern := strings.ToLower(pattern)

	if strings.HasPrefix(lowerPattern, "*") && strings.HasSuffix(lowerPattern, "*") {
		return strings.Contains(lowerValue, lowerPattern[1:len(lowerPattern)-1])
	}
	if strings.HasPrefix(lowerPattern, "*") {
		return strings.HasSuffix(lowerValue, lowerPattern[1:])
	}
	if strings.HasSuffix(lowerPattern, "*") {
		return strings.HasPrefix(lowerValue, lowerPattern[:len(lowerPattern)-1])
	}
	return lowerValue == lowerPattern
}
