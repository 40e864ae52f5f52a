// Package sanitize rewrites risky actions into safer equivalents instead of
// only blocking them. Rules are plain data evaluated in order; the first
// applicable rule wins.
package sanitize

import (
	"regexp"
	"sync"

	"github.com/ppiankov/agentgate/internal/model"
)

// Result describes one rewrite.
type Result struct {
	Rule                 string         `json:"rule"`
	CanSanitize          bool           `json:"can_sanitize"`
	OriginalAction       string         `json:"original_action"`
	SanitizedAction      string         `json:"sanitized_action"`
	Changes              []string       `json:"changes"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Reason               string         `json:"reason,omitempty"`
	Payload              map[string]any `json:"payload,omitempty"`
}

// Matcher selects event types. Exact takes precedence when set.
type Matcher struct {
	Exact   string
	Pattern *regexp.Regexp
}

// Exact matches a single event type.
func Exact(eventType string) Matcher { return Matcher{Exact: eventType} }

// Pattern matches event types against a regular expression.
func Pattern(expr string) Matcher { return Matcher{Pattern: regexp.MustCompile(expr)} }

// Match reports whether the event type is selected.
func (m Matcher) Match(eventType string) bool {
	if m.Exact != "" {
		return m.Exact == eventType
	}
	if m.Pattern != nil {
		return m.Pattern.MatchString(eventType)
	}
	return false
}

// Rule is a matcher plus two pure functions over the payload.
type Rule struct {
	Name      string
	EventType Matcher
	Check     func(payload map[string]any) bool
	Sanitize  func(payload map[string]any) Result
}

// Sanitizer holds an ordered rule list.
type Sanitizer struct {
	mu    sync.RWMutex
	rules []Rule
}

// New creates a sanitizer with the built-in rules.
func New() *Sanitizer {
	return &Sanitizer{rules: DefaultRules()}
}

// NewWithRules creates a sanitizer with exactly the given rules.
func NewWithRules(rules ...Rule) *Sanitizer {
	return &Sanitizer{rules: append([]Rule(nil), rules...)}
}

// DefaultRules returns the built-in rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{sqlLimitRule(), shellRmRule(), secretRedactRule()}
}

// Append adds a rule after the existing ones.
func (s *Sanitizer) Append(r Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, r)
}

// Rules returns the rule names in evaluation order.
func (s *Sanitizer) Rules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.rules))
	for i, r := range s.rules {
		names[i] = r.Name
	}
	return names
}

// TrySanitize returns the first rule result whose matcher selects the event
// type, whose Check passes, and whose Sanitize reports CanSanitize.
// The input payload is never modified.
func (s *Sanitizer) TrySanitize(eventType string, payload map[string]any) (*Result, bool) {
	s.mu.RLock()
	rules := s.rules
	s.mu.RUnlock()

	for _, r := range rules {
		if !r.EventType.Match(eventType) || r.Check == nil || r.Sanitize == nil {
			continue
		}
		if !r.Check(payload) {
			continue
		}
		res := r.Sanitize(model.CopyPayload(payload))
		if !res.CanSanitize {
			continue
		}
		if res.Rule == "" {
			res.Rule = r.Name
		}
		// Actions summarized from no payload key fall back to the event type.
		if res.OriginalAction == "" {
			res.OriginalAction = eventType
		}
		if res.SanitizedAction == "" {
			res.SanitizedAction = eventType
		}
		return &res, true
	}
	return nil, false
}

// firstString returns the first non-empty string value among keys.
func firstString(payload map[string]any, keys ...string) (string, string) {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			return k, s
		}
	}
	return "", ""
}
