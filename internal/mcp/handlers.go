package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/agentgate/internal/model"
)

// --- Input/Output types ---

// DecideInput defines parameters for the gate_decide tool.
type DecideInput struct {
	EventType     string         `json:"event_type" jsonschema:"event type such as file:read, db:query or shell:exec"`
	Payload       map[string]any `json:"payload,omitempty" jsonschema:"action details, e.g. path, query, command or url"`
	AgentID       string         `json:"agent_id,omitempty" jsonschema:"acting agent, defaults to the server agent"`
	TenantID      string         `json:"tenant_id,omitempty" jsonschema:"tenant, defaults to the server tenant"`
	CorrelationID string         `json:"correlation_id,omitempty" jsonschema:"trace id linking related actions"`
}

// DecideOutput summarizes the signed decision.
type DecideOutput struct {
	DecisionID      string   `json:"decision_id"`
	TraceID         string   `json:"trace_id"`
	Verdict         string   `json:"verdict"`
	ReasonCode      string   `json:"reason_code"`
	Reason          string   `json:"reason"`
	RiskScore       int      `json:"risk_score"`
	Tier            int      `json:"tier"`
	Action          string   `json:"action"`
	Sanitized       bool     `json:"sanitized,omitempty"`
	Patterns        []string `json:"patterns,omitempty"`
	MonitorMode     bool     `json:"monitor_mode,omitempty"`
	Envelope        string   `json:"envelope"`
	ApprovalPending bool     `json:"approval_pending,omitempty"`
}

// SanitizeInput defines parameters for the gate_sanitize tool.
type SanitizeInput struct {
	EventType string         `json:"event_type" jsonschema:"event type of the action"`
	Payload   map[string]any `json:"payload" jsonschema:"action details to rewrite"`
}

// SanitizeOutput describes the rewrite, if any.
type SanitizeOutput struct {
	Sanitized            bool     `json:"sanitized"`
	Rule                 string   `json:"rule,omitempty"`
	OriginalAction       string   `json:"original_action"`
	SanitizedAction      string   `json:"sanitized_action,omitempty"`
	Changes              []string `json:"changes,omitempty"`
	RequiresConfirmation bool     `json:"requires_confirmation,omitempty"`
	Reason               string   `json:"reason,omitempty"`
}

// ProfileInput defines parameters for the gate_profile tool.
type ProfileInput struct {
	AgentID string `json:"agent_id,omitempty" jsonschema:"agent to inspect, defaults to the server agent"`
}

// ProfileOutput is the agent's current standing.
type ProfileOutput struct {
	AgentID       string   `json:"agent_id"`
	TrustLevel    string   `json:"trust_level"`
	RiskModifier  float64  `json:"risk_modifier"`
	IncidentCount int      `json:"incident_count"`
	IncidentRate  float64  `json:"incident_rate"`
	TotalActions  int      `json:"total_actions"`
	SessionID     string   `json:"session_id,omitempty"`
	RecentEvents  []string `json:"recent_events,omitempty"`
}

// TokenInput defines parameters for the gate_token tool.
type TokenInput struct {
	Capabilities []string `json:"capabilities" jsonschema:"event types to grant, or * for all"`
	TTL          string   `json:"ttl,omitempty" jsonschema:"token lifetime (e.g. 15m), default 1h"`
}

// TokenOutput carries the encoded token.
type TokenOutput struct {
	Token        string   `json:"token"`
	TokenID      string   `json:"token_id"`
	Subject      string   `json:"subject"`
	Capabilities []string `json:"capabilities"`
	ExpiresAt    string   `json:"expires_at"`
}

// PendingInput is empty.
type PendingInput struct{}

// PendingOutput lists all pending approvals.
type PendingOutput struct {
	Approvals []PendingItem `json:"approvals"`
}

// PendingItem describes a single approval request.
type PendingItem struct {
	DecisionID string `json:"decision_id"`
	AgentID    string `json:"agent_id"`
	EventType  string `json:"event_type"`
	Action     string `json:"action"`
	RiskScore  int    `json:"risk_score"`
	Reason     string `json:"reason"`
	CreatedAt  string `json:"created_at"`
}

// --- Handlers ---

func (s *Server) handleDecide(ctx context.Context, req *mcpsdk.CallToolRequest, input DecideInput) (*mcpsdk.CallToolResult, DecideOutput, error) {
	e := model.Event{
		EventID:       "mcp-" + uuid.NewString(),
		TenantID:      orDefault(input.TenantID, s.tenantID),
		AgentID:       orDefault(input.AgentID, s.agentID),
		EventType:     input.EventType,
		Source:        "mcp",
		CorrelationID: input.CorrelationID,
		OccurredAt:    time.Now().UTC(),
		Payload:       input.Payload,
	}
	d, err := s.gate.Decide(ctx, e)
	if err != nil {
		return nil, DecideOutput{}, err
	}

	env := d.Envelope
	out := DecideOutput{
		DecisionID:      env.DecisionID,
		TraceID:         env.TraceID,
		Verdict:         string(env.Verdict),
		ReasonCode:      string(env.ReasonCode),
		Reason:          env.ReasonHuman,
		RiskScore:       env.RiskScore,
		Tier:            d.Tier,
		Action:          env.Context.RequestedAction,
		Sanitized:       d.Sanitized != nil,
		Patterns:        d.Sequence.MatchedPatterns,
		MonitorMode:     env.Applicability.MonitorMode,
		Envelope:        marshalJSON(env),
		ApprovalPending: env.Verdict == model.RequireApproval,
	}
	if env.Verdict != model.Allow {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleSanitize(ctx context.Context, req *mcpsdk.CallToolRequest, input SanitizeInput) (*mcpsdk.CallToolResult, SanitizeOutput, error) {
	payload := model.CopyPayload(input.Payload)
	out := SanitizeOutput{OriginalAction: model.ActionSummary(input.EventType, payload)}
	res, ok := s.gate.Sanitizer().TrySanitize(input.EventType, payload)
	if !ok {
		return nil, out, nil
	}
	out.Sanitized = true
	out.Rule = res.Rule
	out.SanitizedAction = res.SanitizedAction
	out.Changes = res.Changes
	out.RequiresConfirmation = res.RequiresConfirmation
	out.Reason = res.Reason
	return nil, out, nil
}

func (s *Server) handleProfile(ctx context.Context, req *mcpsdk.CallToolRequest, input ProfileInput) (*mcpsdk.CallToolResult, ProfileOutput, error) {
	v := s.gate.Agent(orDefault(input.AgentID, s.agentID))
	out := ProfileOutput{
		AgentID:       v.AgentID,
		TrustLevel:    string(v.Profile.TrustLevel),
		RiskModifier:  v.Profile.BaseRiskModifier,
		IncidentCount: v.Profile.IncidentCount,
		IncidentRate:  v.Profile.IncidentRate,
	}
	if v.Stats != nil {
		out.TotalActions = v.Stats.Total
	}
	if v.Session != nil {
		out.SessionID = v.Session.SessionID
	}
	for _, rec := range v.History {
		out.RecentEvents = append(out.RecentEvents, rec.EventType)
	}
	return nil, out, nil
}

func (s *Server) handleToken(ctx context.Context, req *mcpsdk.CallToolRequest, input TokenInput) (*mcpsdk.CallToolResult, TokenOutput, error) {
	ttl := time.Hour
	if input.TTL != "" {
		d, err := time.ParseDuration(input.TTL)
		if err != nil {
			return nil, TokenOutput{}, fmt.Errorf("invalid ttl %q: %w", input.TTL, err)
		}
		ttl = d
	}
	tok, enc, err := s.gate.IssueToken(s.agentID, input.Capabilities, ttl)
	if err != nil {
		return nil, TokenOutput{}, err
	}
	return nil, TokenOutput{
		Token:        enc,
		TokenID:      tok.TokenID,
		Subject:      tok.Subject,
		Capabilities: tok.Capabilities,
		ExpiresAt:    tok.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	list, err := s.gate.Pending()
	if err != nil {
		return nil, PendingOutput{}, err
	}
	out := PendingOutput{Approvals: make([]PendingItem, len(list))}
	for i, a := range list {
		out.Approvals[i] = PendingItem{
			DecisionID: a.DecisionID,
			AgentID:    a.AgentID,
			EventType:  a.EventType,
			Action:     a.Action,
			RiskScore:  a.RiskScore,
			Reason:     a.Reason,
			CreatedAt:  a.CreatedAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// marshalJSON is a helper for JSON encoding in responses.
func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
