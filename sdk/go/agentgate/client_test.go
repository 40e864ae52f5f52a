package agentgate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/agentgate/internal/signing"
)

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	opts = append([]Option{WithSecret("sdk-test-secret"), WithAgent("sdk-test"), WithLog(discard{})}, opts...)
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func requireBlocked(t *testing.T, err error) *BlockedError {
	t.Helper()
	if err == nil {
		t.Fatal("expected action to be blocked, got nil error")
	}
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected *BlockedError, got %T: %v", err, err)
	}
	return blocked
}

func TestNewRequiresSecret(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AGENTGATE_SECRET", "")
	_, err := New()
	if !errors.Is(err, signing.ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}

func TestNewSecretFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AGENTGATE_SECRET", "from-env")
	c, err := New(WithLog(discard{}))
	if err != nil {
		t.Fatalf("New() with env secret should succeed: %v", err)
	}
	c.Close()
}

func TestNewBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	if err := os.WriteFile(path, []byte("policy: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := New(WithSecret("x"), WithConfig(path))
	if err == nil {
		t.Fatal("expected error for a config that is not YAML")
	}
}

func TestCheckAllow(t *testing.T) {
	c := newTestClient(t)
	result, err := c.Check(context.Background(), Action{
		EventType: "file:read",
		Payload:   map[string]any{"path": "/etc/hosts"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed() {
		t.Errorf("expected allow for file:read, got %s: %s", result.Decision, result.Reason)
	}
	if result.DecisionID == "" || result.TraceID == "" {
		t.Errorf("missing ids: %+v", result)
	}
}

func TestCheckDenylistedCommand(t *testing.T) {
	c := newTestClient(t)
	result, err := c.Check(context.Background(), Action{
		EventType: "shell:exec",
		Payload:   map[string]any{"command": "rm -rf /"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Decision != Deny {
		t.Errorf("expected deny for rm -rf /, got %s", result.Decision)
	}
}

func TestCheckSanitizes(t *testing.T) {
	c := newTestClient(t)
	result, err := c.Check(context.Background(), Action{
		EventType: "db:query",
		Payload:   map[string]any{"query": "SELECT * FROM users"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Sanitized {
		t.Fatal("expected sanitized result")
	}
	if got := result.Payload["query"]; got != "SELECT * FROM users LIMIT 100" {
		t.Errorf("sanitized query = %v", got)
	}
}

func TestCheckInvalidAction(t *testing.T) {
	c := newTestClient(t)
	result, err := c.Check(context.Background(), Action{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Decision != Deny || result.ReasonCode != "INVALID_EVENT" {
		t.Errorf("got %s/%s, want DENY/INVALID_EVENT", result.Decision, result.ReasonCode)
	}
}

func TestTrustLevelUnknownAgent(t *testing.T) {
	c := newTestClient(t)
	if got := c.TrustLevel(); got != "untrusted" {
		t.Errorf("trust level = %q, want untrusted", got)
	}
}
