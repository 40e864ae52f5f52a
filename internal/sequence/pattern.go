package sequence

import (
	"fmt"
	"strings"
	"time"
)

// Pattern is an ordered list of event-type matchers that, seen in order
// within MaxWindow, marks a dangerous chain. Matchers are exact or end in
// "*" for a prefix match ("auth:*").
type Pattern struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description" yaml:"description"`
	Sequence    []string      `json:"sequence" yaml:"sequence"`
	RiskBonus   int           `json:"risk_bonus" yaml:"risk_bonus"`
	MaxWindow   time.Duration `json:"max_window" yaml:"max_window"`
}

// Validate rejects patterns that could never match or never expire.
func (p Pattern) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("pattern name must not be empty")
	}
	if len(p.Sequence) == 0 {
		return fmt.Errorf("pattern %q: sequence must not be empty", p.Name)
	}
	for i, m := range p.Sequence {
		if m == "" || m == "*" {
			return fmt.Errorf("pattern %q: matcher %d must name an event type", p.Name, i)
		}
	}
	if p.MaxWindow <= 0 {
		return fmt.Errorf("pattern %q: max_window must be positive", p.Name)
	}
	if p.RiskBonus < 0 || p.RiskBonus > 100 {
		return fmt.Errorf("pattern %q: risk_bonus must be in [0,100]", p.Name)
	}
	return nil
}

// DefaultPatterns returns the built-in dangerous sequences.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "data-exfiltration",
			Description: "file read followed by outbound HTTP request",
			Sequence:    []string{"file:read", "http:request"},
			RiskBonus:   40,
			MaxWindow:   60 * time.Second,
		},
		{
			Name:        "privilege-escalation",
			Description: "authentication change followed by admin action",
			Sequence:    []string{"auth:*", "admin:*"},
			RiskBonus:   50,
			MaxWindow:   30 * time.Second,
		},
		{
			Name:        "config-manipulation",
			Description: "file read followed by file write",
			Sequence:    []string{"file:read", "file:write"},
			RiskBonus:   20,
			MaxWindow:   30 * time.Second,
		},
		{
			Name:        "destructive-sequence",
			Description: "database delete followed by file delete",
			Sequence:    []string{"db:delete", "file:delete"},
			RiskBonus:   60,
			MaxWindow:   60 * time.Second,
		},
		{
			Name:        "reconnaissance",
			Description: "repeated listing followed by a read",
			Sequence:    []string{"file:list", "file:list", "file:read"},
			RiskBonus:   15,
			MaxWindow:   120 * time.Second,
		},
	}
}

// MatchEventType checks an event type against one matcher.
// A trailing "*" matches any suffix; otherwise the match is exact.
func MatchEventType(matcher, eventType string) bool {
	if strings.HasSuffix(matcher, "*") {
		return strings.HasPrefix(eventType, matcher[:len(matcher)-1])
	}
	return matcher == eventType
}

// matchInOrder advances through the pattern whenever the current action
// matches the next matcher. Actions in between are ignored and never reset
// a partial match.
func matchInOrder(p Pattern, actions []ActionRecord) bool {
	idx := 0
	for _, a := range actions {
		if MatchEventType(p.Sequence[idx], a.EventType) {
			idx++
			if idx == len(p.Sequence) {
				return true
			}
		}
	}
	return false
}
