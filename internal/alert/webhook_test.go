package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetries(t *testing.T) {
	t.Helper()
	old := retryDelay
	retryDelay = time.Millisecond
	t.Cleanup(func() { retryDelay = old })
}

func TestDispatchMatchesEvents(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]AlertConfig{
		{URL: srv.URL, Format: "generic", Events: []string{"deny"}},
	})

	d.Dispatch(AlertEvent{Verdict: "DENY", EventType: "shell:exec", Action: "rm -rf /"})
	d.Wait()

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]AlertConfig{
		{URL: srv.URL, Format: "generic", Events: []string{"deny"}},
	})

	d.Dispatch(AlertEvent{Verdict: "ALLOW", EventType: "file:read", Action: "/tmp/safe.txt"})
	d.Wait()

	if called.Load() != 0 {
		t.Errorf("expected 0 calls for non-matching event, got %d", called.Load())
	}
}

func TestDispatchMultipleWebhooks(t *testing.T) {
	var called atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	srv1 := httptest.NewServer(handler)
	defer srv1.Close()
	srv2 := httptest.NewServer(handler)
	defer srv2.Close()

	d := NewDispatcher([]AlertConfig{
		{URL: srv1.URL, Format: "generic", Events: []string{"deny"}},
		{URL: srv2.URL, Format: "generic", Events: []string{"deny", "require_approval"}},
	})

	d.Dispatch(AlertEvent{Verdict: "DENY", EventType: "shell:exec", Action: "rm -rf /"})
	d.Wait()

	if called.Load() != 2 {
		t.Errorf("expected 2 calls (both webhooks match), got %d", called.Load())
	}
}

func TestDispatchMatchesSequencePatternType(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]AlertConfig{
		{URL: srv.URL, Format: "generic", Events: []string{TypeSequencePattern}},
	})

	d.Dispatch(AlertEvent{Verdict: "ALLOW", Type: TypeSequencePattern, EventType: "http:request", Patterns: []string{"data-exfiltration"}})
	d.Wait()

	if called.Load() != 1 {
		t.Errorf("expected 1 call for sequence_pattern type match, got %d", called.Load())
	}
}

func TestRetryOnServerError(t *testing.T) {
	fastRetries(t)
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := Send(context.Background(), AlertConfig{URL: srv.URL, Format: "generic"}, AlertEvent{Verdict: "DENY"})
	if err != nil {
		t.Errorf("expected success after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := Send(context.Background(), AlertConfig{URL: srv.URL, Format: "generic"}, AlertEvent{Verdict: "DENY"})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected on 400, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", attempts.Load())
	}
}

func TestSendGivesUpWhenContextEnds(t *testing.T) {
	old := retryDelay
	retryDelay = time.Hour
	t.Cleanup(func() { retryDelay = old })

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := Send(ctx, AlertConfig{URL: srv.URL, Format: "generic"}, AlertEvent{Verdict: "DENY"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt before the deadline, got %d", attempts.Load())
	}
}

func TestSendSetsHeaders(t *testing.T) {
	got := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
	}))
	defer srv.Close()

	cfg := AlertConfig{URL: srv.URL, Format: "generic", Headers: map[string]string{"Authorization": "Bearer x"}}
	if err := Send(context.Background(), cfg, AlertEvent{Verdict: "DENY"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h := <-got
	if h.Get("Authorization") != "Bearer x" || h.Get("Content-Type") != "application/json" {
		t.Errorf("unexpected headers: %v", h)
	}
}

var denyEvent = AlertEvent{
	Timestamp:  "2025-01-15T14:00:00.000Z",
	TraceID:    "t-123",
	DecisionID: "dec-123",
	AgentID:    "agent-1",
	EventType:  "shell:exec",
	Action:     "rm -rf /",
	Verdict:    "DENY",
	Reason:     "denylist match",
	Tier:       3,
}

func decodePayload(t *testing.T, format string, e AlertEvent) map[string]any {
	t.Helper()
	data, err := FormatPayload(format, e)
	if err != nil {
		t.Fatal(err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("%s payload is not valid JSON: %v", format, err)
	}
	return parsed
}

func TestFormatGenericJSON(t *testing.T) {
	for _, format := range []string{"", FormatGeneric} {
		data, err := FormatPayload(format, denyEvent)
		if err != nil {
			t.Fatal(err)
		}
		var parsed AlertEvent
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatalf("generic format is not valid JSON: %v", err)
		}
		if parsed.TraceID != "t-123" || parsed.Verdict != "DENY" {
			t.Errorf("format %q: unexpected event %+v", format, parsed)
		}
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	blocks, ok := decodePayload(t, FormatSlack, denyEvent)["blocks"].([]any)
	if !ok || len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %v", blocks)
	}

	want := []struct {
		kind, list string
		n          int
	}{
		{"header", "", 0},
		{"section", "fields", 5},
		{"context", "elements", 2},
	}
	for i, w := range want {
		block, _ := blocks[i].(map[string]any)
		if block["type"] != w.kind {
			t.Errorf("block %d: expected %s, got %v", i, w.kind, block["type"])
		}
		if w.list == "" {
			continue
		}
		if items, _ := block[w.list].([]any); len(items) != w.n {
			t.Errorf("block %d: expected %d %s, got %d", i, w.n, w.list, len(items))
		}
	}
}

func TestFormatPagerDuty(t *testing.T) {
	tests := []struct {
		tier     int
		severity string
	}{
		{0, "info"}, {1, "warning"}, {2, "error"}, {3, "critical"}, {7, "critical"}, {-1, "info"},
	}
	for _, tt := range tests {
		e := denyEvent
		e.Tier = tt.tier
		parsed := decodePayload(t, FormatPagerDuty, e)

		if parsed["event_action"] != "trigger" || parsed["dedup_key"] != "dec-123" {
			t.Errorf("tier %d: unexpected envelope %v", tt.tier, parsed)
		}
		payload, ok := parsed["payload"].(map[string]any)
		if !ok {
			t.Fatal("expected payload object")
		}
		if payload["severity"] != tt.severity {
			t.Errorf("tier %d: expected severity %s, got %v", tt.tier, tt.severity, payload["severity"])
		}
		if payload["source"] != "agentgate" {
			t.Errorf("expected source agentgate, got %v", payload["source"])
		}
	}
}

func TestFormatUnknown(t *testing.T) {
	if _, err := FormatPayload("teams", denyEvent); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNewDispatcherNilOnEmpty(t *testing.T) {
	d := NewDispatcher(nil)
	if d != nil {
		t.Error("expected nil dispatcher for empty configs")
	}

	d = NewDispatcher([]AlertConfig{})
	if d != nil {
		t.Error("expected nil dispatcher for zero-length configs")
	}
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(AlertEvent{Verdict: "DENY"})
	d.Wait()
}

func TestHeadlineNamesPattern(t *testing.T) {
	got := headline(AlertEvent{Verdict: "DENY", Type: TypeSequencePattern, Patterns: []string{"destructive-sequence"}})
	if got != "DENY (destructive-sequence)" {
		t.Errorf("unexpected headline %q", got)
	}
}
