package model

import (
	"strings"
	"testing"
)

func TestParseVerdictFailClosed(t *testing.T) {
	tests := []struct {
		in   string
		want Verdict
	}{
		{"ALLOW", Allow},
		{"allow", Allow},
		{" require_approval ", RequireApproval},
		{"DENY", Deny},
		{"", Deny},
		{"maybe", Deny},
	}
	for _, tt := range tests {
		if got := ParseVerdict(tt.in); got != tt.want {
			t.Errorf("ParseVerdict(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestVerdictValid(t *testing.T) {
	for _, v := range []Verdict{Allow, Deny, RequireApproval} {
		if !v.Valid() {
			t.Errorf("expected %s to be valid", v)
		}
	}
	if Verdict("allow").Valid() {
		t.Error("lowercase verdict must not be valid")
	}
}

func TestOutcomeForVerdict(t *testing.T) {
	if OutcomeForVerdict(Allow) != OutcomeAllowed {
		t.Error("allow should map to allowed")
	}
	if OutcomeForVerdict(Deny) != OutcomeBlocked {
		t.Error("deny should map to blocked")
	}
	if OutcomeForVerdict(RequireApproval) != OutcomeEscalated {
		t.Error("require_approval should map to escalated")
	}
}

func TestEventValidateMissingFields(t *testing.T) {
	err := Event{}.Validate()
	if err == nil {
		t.Fatal("expected error for empty event")
	}
	for _, f := range []string{"event_id", "tenant_id", "event_type", "source"} {
		if !strings.Contains(err.Error(), f) {
			t.Errorf("expected %s in error, got %q", f, err.Error())
		}
	}
}

func TestEventAgentFallsBackToSource(t *testing.T) {
	e := Event{Source: "agent-a"}
	if e.Agent() != "agent-a" {
		t.Errorf("expected agent-a, got %s", e.Agent())
	}
	e.AgentID = "agent-b"
	if e.Agent() != "agent-b" {
		t.Errorf("expected agent-b, got %s", e.Agent())
	}
}

func TestActionSummary(t *testing.T) {
	if got := ActionSummary("db:query", map[string]any{"sql": "SELECT 1"}); got != "SELECT 1" {
		t.Errorf("expected sql, got %q", got)
	}
	if got := ActionSummary("file:list", nil); got != "file:list" {
		t.Errorf("expected event type fallback, got %q", got)
	}
}

func TestIsSelfTargeting(t *testing.T) {
	e := Event{EventType: "file:write", Payload: map[string]any{"path": "/home/u/.agentgate/gate.yaml"}}
	if !IsSelfTargeting(e) {
		t.Error("expected self-targeting for gate config path")
	}
	e = Event{EventType: "file:write", Payload: map[string]any{"path": "/tmp/out.txt", "size": 3}}
	if IsSelfTargeting(e) {
		t.Error("unexpected self-targeting")
	}
}

func TestCopyPayloadIsDeep(t *testing.T) {
	orig := map[string]any{
		"message": map[string]any{"body": "a"},
		"lines":   []any{"x", map[string]any{"k": "v"}},
		"tags":    []string{"t1"},
	}
	cp := CopyPayload(orig)
	cp["message"].(map[string]any)["body"] = "b"
	cp["lines"].([]any)[0] = "y"
	cp["lines"].([]any)[1].(map[string]any)["k"] = "w"
	cp["tags"].([]string)[0] = "t2"

	if orig["message"].(map[string]any)["body"] != "a" {
		t.Error("nested map shared with copy")
	}
	if orig["lines"].([]any)[0] != "x" || orig["lines"].([]any)[1].(map[string]any)["k"] != "v" {
		t.Error("nested list shared with copy")
	}
	if orig["tags"].([]string)[0] != "t1" {
		t.Error("string slice shared with copy")
	}
	if CopyPayload(nil) == nil {
		t.Error("expected empty map for nil payload")
	}
}
