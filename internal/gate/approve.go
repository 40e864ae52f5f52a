package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/agentgate/internal/approval"
	"github.com/ppiankov/agentgate/internal/audit"
	"github.com/ppiankov/agentgate/internal/captoken"
	"github.com/ppiankov/agentgate/internal/contract"
	"github.com/ppiankov/agentgate/internal/identity"
	"github.com/ppiankov/agentgate/internal/memory"
	"github.com/ppiankov/agentgate/internal/model"
	"github.com/ppiankov/agentgate/internal/sequence"
)

// ErrNoApprovals is returned when the gate runs without an approval store.
var ErrNoApprovals = errors.New("gate: approvals are not configured")

// Approve resolves a pending REQUIRE_APPROVAL decision and issues a fresh
// signed ALLOW envelope for the same trace and action.
func (g *Gate) Approve(ctx context.Context, decisionID, by string) (*approval.Approval, *contract.DecisionEnvelope, error) {
	if g.approvals == nil {
		return nil, nil, ErrNoApprovals
	}
	cfg, _, hash := g.snapshot()

	var minted *contract.DecisionEnvelope
	a, err := g.approvals.Approve(decisionID, by, func(a approval.Approval) (string, error) {
		env, err := g.envelope(cfg, a.TraceID, model.Allow, model.ReasonPolicyAllow,
			fmt.Sprintf("%s%s (decision %s)", model.ApprovedPrefix, by, a.DecisionID), a.RiskScore, false,
			a.TenantID, a.AgentID, a.EventType, a.Action)
		if err != nil {
			return "", err
		}
		minted = env
		return env.DecisionID, nil
	})
	if err != nil {
		return a, nil, err
	}

	if g.audit != nil {
		if err := g.audit.Record(audit.DecisionEntry(minted, 0, nil, hash)); err != nil {
			fmt.Fprintf(g.log, "gate: audit: %v\n", err)
		}
	}
	if g.store != nil {
		if err := g.store.SaveEnvelope(ctx, minted); err != nil {
			fmt.Fprintf(g.log, "gate: store: %v\n", err)
		}
	}
	g.recordResolution(a, hash)
	return a, minted, nil
}

// Deny resolves a pending decision as denied.
func (g *Gate) Deny(decisionID, by string) (*approval.Approval, error) {
	if g.approvals == nil {
		return nil, ErrNoApprovals
	}
	a, err := g.approvals.Deny(decisionID, by)
	if err != nil {
		return a, err
	}
	g.recordResolution(a, g.PolicyHash())
	return a, nil
}

// Pending lists unresolved approval requests, oldest first.
func (g *Gate) Pending() ([]approval.Approval, error) {
	if g.approvals == nil {
		return nil, ErrNoApprovals
	}
	return g.approvals.Pending()
}

func (g *Gate) recordResolution(a *approval.Approval, hash string) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Record(audit.ApprovalEntry(a, hash)); err != nil {
		fmt.Fprintf(g.log, "gate: audit: %v\n", err)
	}
}

// IssueToken mints an encoded capability token for subject.
func (g *Gate) IssueToken(subject string, caps []string, ttl time.Duration) (*captoken.Token, string, error) {
	tok, err := g.tokens.Issue(subject, caps, ttl)
	if err != nil {
		return nil, "", err
	}
	enc, err := captoken.Encode(tok)
	if err != nil {
		return nil, "", err
	}
	return tok, enc, nil
}

// VerifyToken decodes and verifies an encoded token, returning its
// capabilities.
func (g *Gate) VerifyToken(encoded string) (*captoken.Token, []string, error) {
	tok, err := captoken.Decode(encoded)
	if err != nil {
		return nil, nil, err
	}
	caps, err := g.tokens.Verify(tok)
	if err != nil {
		return tok, nil, err
	}
	return tok, caps, nil
}

// AgentView is a read-only snapshot of what the gate knows about an agent.
type AgentView struct {
	AgentID string                  `json:"agent_id"`
	Profile memory.RiskProfile      `json:"profile"`
	Stats   *memory.Stats           `json:"stats,omitempty"`
	History []sequence.ActionRecord `json:"history,omitempty"`
	Session *identity.Session       `json:"session,omitempty"`
}

// Agent returns the current view of agentID without touching its session.
func (g *Gate) Agent(agentID string) AgentView {
	v := AgentView{
		AgentID: agentID,
		Profile: g.memory.RiskProfile(agentID),
		History: g.sequences.History(agentID),
	}
	if st, ok := g.memory.Stats(agentID); ok {
		v.Stats = &st
	}
	for _, s := range g.sessions.ActiveSessions() {
		if s.AgentID == agentID {
			s := s
			v.Session = &s
			break
		}
	}
	return v
}
