package alert

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/agentgate/internal/policy"
)

// Payload formats accepted in AlertConfig.Format.
const (
	FormatGeneric   = "generic"
	FormatSlack     = "slack"
	FormatPagerDuty = "pagerduty"
)

// FormatPayload builds the webhook body for the given format. An empty
// format is generic.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "", FormatGeneric:
		return json.Marshal(event)
	case FormatSlack:
		return json.Marshal(slackMessage(event))
	case FormatPagerDuty:
		return json.Marshal(pagerDutyEvent(event))
	default:
		return nil, fmt.Errorf("unknown alert format %q", format)
	}
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

func slackMessage(e AlertEvent) map[string][]slackBlock {
	field := func(label, value string) slackText {
		return slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s:* %s", label, value)}
	}
	return map[string][]slackBlock{"blocks": {
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "agentgate: " + headline(e)}},
		{Type: "section", Fields: []slackText{
			field("Agent", e.AgentID),
			field("Event", e.EventType),
			field("Action", e.Action),
			field("Risk", fmt.Sprintf("%d, tier %d (%s)", e.RiskScore, e.Tier, policy.TierLabel(e.Tier))),
			field("Reason", e.Reason),
		}},
		{Type: "context", Elements: []slackText{
			field("Decision", e.DecisionID),
			field("Trace", e.TraceID),
		}},
	}}
}

type pagerDutyPayload struct {
	Summary       string     `json:"summary"`
	Severity      string     `json:"severity"`
	Source        string     `json:"source"`
	Component     string     `json:"component,omitempty"`
	CustomDetails AlertEvent `json:"custom_details"`
}

type pagerDutyMessage struct {
	EventAction string           `json:"event_action"`
	DedupKey    string           `json:"dedup_key,omitempty"`
	Payload     pagerDutyPayload `json:"payload"`
}

// pagerDutySeverity maps risk tiers onto the Events API severities.
var pagerDutySeverity = [...]string{
	policy.TierSafe:     "info",
	policy.TierElevated: "warning",
	policy.TierGuarded:  "error",
	policy.TierCritical: "critical",
}

func pagerDutyEvent(e AlertEvent) pagerDutyMessage {
	tier := min(max(e.Tier, policy.TierSafe), policy.TierCritical)
	return pagerDutyMessage{
		EventAction: "trigger",
		DedupKey:    e.DecisionID,
		Payload: pagerDutyPayload{
			Summary:       fmt.Sprintf("agentgate %s: %s %s", headline(e), e.AgentID, e.EventType),
			Severity:      pagerDutySeverity[tier],
			Source:        "agentgate",
			Component:     e.AgentID,
			CustomDetails: e,
		},
	}
}

func headline(e AlertEvent) string {
	switch {
	case e.Type == TypeSequencePattern && len(e.Patterns) > 0:
		return fmt.Sprintf("%s (%s)", e.Verdict, e.Patterns[0])
	case e.Type != "":
		return fmt.Sprintf("%s (%s)", e.Verdict, e.Type)
	}
	return e.Verdict
}
