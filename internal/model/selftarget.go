package model

import "strings"

// selfTargetPatterns are payload substrings that indicate an action
// targets the gate itself. Self-targeting actions are always denied.
var selfTargetPatterns = []string{
	"agentgate",
	".agentgate/",
	"gate.yaml",
	"agentgate_secret",
}

// IsSelfTargeting returns true if the event targets the gate itself.
// Matching is broad: a false positive denies.
func IsSelfTargeting(e Event) bool {
	for _, v := range e.Payload {
		s, ok := v.(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		for _, p := range selfTargetPatterns {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}
	return strings.Contains(strings.ToLower(e.EventType), "agentgate")
}
