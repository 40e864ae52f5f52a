package server

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/agentgate/internal/approval"
	"github.com/ppiankov/agentgate/internal/config"
	"github.com/ppiankov/agentgate/internal/contract"
	"github.com/ppiankov/agentgate/internal/gate"
	"github.com/ppiankov/agentgate/internal/model"
	"github.com/ppiankov/agentgate/internal/signing"
)

// testServer spins up an in-process gRPC server on a random port and returns a client.
func testServer(t *testing.T, configPath string) (*Client, *Server) {
	t.Helper()

	if configPath == "" {
		configPath = writeTempFile(t, "gate.yaml", "")
	}
	cfg, hash, err := config.LoadWithHash(configPath)
	if err != nil {
		t.Fatalf("LoadWithHash: %v", err)
	}
	approvals, err := approval.NewStore(filepath.Join(t.TempDir(), "approvals"))
	if err != nil {
		t.Fatalf("approval.NewStore: %v", err)
	}
	g, err := gate.New(gate.Options{
		Config:     cfg,
		PolicyHash: hash,
		Signer:     signing.MustSigner("server-test-secret"),
		Approvals:  approvals,
		Log:        &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}

	srv := New(g, Config{ConfigPath: configPath, Log: &bytes.Buffer{}})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		srv.GracefulStop()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
		g.Close()
	})
	return NewClient(conn), srv
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func testEvent(id, eventType string, payload map[string]any) model.Event {
	return model.Event{
		EventID:   id,
		TenantID:  "tenant-1",
		AgentID:   "agent-1",
		EventType: eventType,
		Source:    "grpc-test",
		Payload:   payload,
	}
}

func decide(t *testing.T, c *Client, e model.Event) gate.Decision {
	t.Helper()
	var d gate.Decision
	if err := c.Call(context.Background(), MethodDecide, DecideRequest{Event: e}, &d); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Envelope == nil {
		t.Fatal("expected an envelope")
	}
	return d
}

func TestDecideAllowsLowRisk(t *testing.T) {
	client, _ := testServer(t, "")

	d := decide(t, client, testEvent("e1", "file:list", map[string]any{"path": "/tmp"}))
	if d.Envelope.Verdict != model.Allow {
		t.Errorf("expected ALLOW, got %s: %s", d.Envelope.Verdict, d.Envelope.ReasonHuman)
	}
	if d.Envelope.TraceID != "e1" {
		t.Errorf("expected trace_id e1, got %q", d.Envelope.TraceID)
	}
}

func TestDecideDeniesDestructive(t *testing.T) {
	client, _ := testServer(t, "")

	d := decide(t, client, testEvent("e1", "shell:exec", map[string]any{"command": "rm -rf /"}))
	if d.Envelope.Verdict != model.Deny {
		t.Errorf("expected DENY for rm -rf /, got %s", d.Envelope.Verdict)
	}
	if d.Tier != 3 {
		t.Errorf("expected tier 3, got %d", d.Tier)
	}
}

func TestDecideInvalidEventStillAnswers(t *testing.T) {
	client, _ := testServer(t, "")

	d := decide(t, client, model.Event{})
	if d.Envelope.Verdict != model.Deny || d.Envelope.ReasonCode != model.ReasonInvalidEvent {
		t.Errorf("got %s/%s", d.Envelope.Verdict, d.Envelope.ReasonCode)
	}
}

func TestExecuteRoundTrip(t *testing.T) {
	client, _ := testServer(t, "")
	d := decide(t, client, testEvent("e1", "file:list", map[string]any{"path": "/tmp"}))

	var resp ExecuteResponse
	if err := client.Call(context.Background(), MethodExecute, ExecuteRequest{Envelope: d.Envelope}, &resp); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Status != contract.StatusExecuted {
		t.Fatalf("expected executed, got %s (%s)", resp.Status, resp.Error)
	}
	if resp.Receipt == nil || resp.Receipt.DecisionID != d.Envelope.DecisionID {
		t.Errorf("receipt must link to the envelope: %+v", resp.Receipt)
	}
}

func TestExecuteEnvelopeOnce(t *testing.T) {
	client, _ := testServer(t, "")
	d := decide(t, client, testEvent("e1", "file:list", map[string]any{"path": "/tmp"}))

	var first, second ExecuteResponse
	if err := client.Call(context.Background(), MethodExecute, ExecuteRequest{Envelope: d.Envelope}, &first); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := client.Call(context.Background(), MethodExecute, ExecuteRequest{Envelope: d.Envelope}, &second); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first.Status != contract.StatusExecuted {
		t.Fatalf("first execute: %s (%s)", first.Status, first.Error)
	}
	if second.Status != contract.StatusBlocked {
		t.Errorf("replayed envelope must be blocked, got %s", second.Status)
	}
}

func TestExecuteBlocksTamperedEnvelope(t *testing.T) {
	client, _ := testServer(t, "")
	d := decide(t, client, testEvent("e1", "shell:exec", map[string]any{"command": "rm -rf /"}))
	d.Envelope.Verdict = model.Allow

	var resp ExecuteResponse
	if err := client.Call(context.Background(), MethodExecute, ExecuteRequest{Envelope: d.Envelope}, &resp); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Status != contract.StatusBlocked {
		t.Fatalf("expected blocked, got %s", resp.Status)
	}
	if resp.Kind == "" || resp.Error == "" {
		t.Errorf("expected error kind, got %+v", resp)
	}
}

func TestApproveAndExecute(t *testing.T) {
	client, _ := testServer(t, "")

	d := decide(t, client, testEvent("pay-1", "payment:send", map[string]any{"amount": 1200.0}))
	if d.Envelope.Verdict != model.RequireApproval {
		t.Fatalf("expected REQUIRE_APPROVAL, got %s", d.Envelope.Verdict)
	}

	var pending struct {
		Approvals []approval.Approval `json:"approvals"`
	}
	if err := client.Call(context.Background(), MethodListPending, nil, &pending); err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending.Approvals) != 1 || pending.Approvals[0].DecisionID != d.Envelope.DecisionID {
		t.Fatalf("unexpected pending list: %+v", pending.Approvals)
	}

	var resolved ResolveResponse
	err := client.Call(context.Background(), MethodApprove,
		ResolveRequest{DecisionID: d.Envelope.DecisionID, By: "ops"}, &resolved)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if resolved.Envelope == nil || resolved.Envelope.Verdict != model.Allow {
		t.Fatalf("expected ALLOW envelope, got %+v", resolved.Envelope)
	}
	if resolved.Envelope.TraceID != "pay-1" {
		t.Errorf("approved envelope must keep the trace, got %q", resolved.Envelope.TraceID)
	}

	var exec ExecuteResponse
	if err := client.Call(context.Background(), MethodExecute, ExecuteRequest{Envelope: resolved.Envelope}, &exec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != contract.StatusExecuted {
		t.Errorf("expected executed, got %s (%s)", exec.Status, exec.Error)
	}

	err = client.Call(context.Background(), MethodApprove, ResolveRequest{DecisionID: d.Envelope.DecisionID}, nil)
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("expected FailedPrecondition on second approve, got %v", err)
	}
}

func TestDenyRPC(t *testing.T) {
	client, _ := testServer(t, "")
	d := decide(t, client, testEvent("pay-1", "payment:send", nil))

	var resolved ResolveResponse
	err := client.Call(context.Background(), MethodDeny, ResolveRequest{DecisionID: d.Envelope.DecisionID}, &resolved)
	if err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if resolved.Approval.Status != approval.StatusDenied || resolved.Approval.ResolvedBy != "grpc" {
		t.Errorf("unexpected approval %+v", resolved.Approval)
	}
}

func TestApproveUnknown(t *testing.T) {
	client, _ := testServer(t, "")
	err := client.Call(context.Background(), MethodApprove, ResolveRequest{DecisionID: "dec-missing"}, nil)
	if status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestTokenRPCs(t *testing.T) {
	client, _ := testServer(t, "")

	var issued TokenResponse
	err := client.Call(context.Background(), MethodIssueToken,
		TokenRequest{Subject: "agent-1", Capabilities: []string{"file:read"}, TTL: "10m"}, &issued)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if issued.Token == "" || issued.Details == nil {
		t.Fatalf("unexpected response %+v", issued)
	}

	var verified TokenResponse
	if err := client.Call(context.Background(), MethodVerifyToken, map[string]string{"token": issued.Token}, &verified); err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if len(verified.Capabilities) != 1 || verified.Capabilities[0] != "file:read" {
		t.Errorf("capabilities = %v", verified.Capabilities)
	}

	err = client.Call(context.Background(), MethodVerifyToken, map[string]string{"token": "garbage"}, nil)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("expected Unauthenticated, got %v", err)
	}

	err = client.Call(context.Background(), MethodIssueToken, TokenRequest{Subject: "a", TTL: "soon"}, nil)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for bad ttl, got %v", err)
	}
}

func TestReloadPolicy(t *testing.T) {
	configPath := writeTempFile(t, "gate.yaml", "policy:\n  enforcement_mode: guarded\n")
	client, srv := testServer(t, configPath)

	d := decide(t, client, testEvent("e1", "auth:login", nil))
	if d.Envelope.Verdict != model.Allow {
		t.Fatalf("expected ALLOW before reload, got %s", d.Envelope.Verdict)
	}

	if err := os.WriteFile(configPath, []byte("policy:\n  enforcement_mode: locked\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// Manually trigger reload (no need to wait for fsnotify in tests)
	if err := srv.ReloadPolicy(); err != nil {
		t.Fatalf("ReloadPolicy: %v", err)
	}

	d = decide(t, client, testEvent("e2", "auth:login", nil))
	if d.Envelope.Verdict != model.RequireApproval {
		t.Errorf("expected REQUIRE_APPROVAL after reload, got %s: %s", d.Envelope.Verdict, d.Envelope.ReasonHuman)
	}
}

func TestReloaderTriggersOnWrite(t *testing.T) {
	configPath := writeTempFile(t, "gate.yaml", "policy:\n  enforcement_mode: guarded\n")
	_, srv := testServer(t, configPath)

	var log bytes.Buffer
	r, err := NewReloader(configPath, srv.ReloadPolicy, &log)
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	r.WithDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	before := srv.gate.PolicyHash()
	os.WriteFile(configPath, []byte("policy:\n  enforcement_mode: locked\n"), 0644)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && srv.gate.PolicyHash() == before {
		time.Sleep(20 * time.Millisecond)
	}
	if srv.gate.Config().Policy.EnforcementMode != "locked" {
		t.Errorf("expected enforcement_mode locked after reload, got %q (log: %s)",
			srv.gate.Config().Policy.EnforcementMode, log.String())
	}
}
