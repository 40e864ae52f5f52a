package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func testEntry(verdict string) Entry {
	return Entry{
		Timestamp:  time.Now().UTC().Format(TimestampFormat),
		Type:       TypeDecision,
		TraceID:    "t-test123",
		DecisionID: "dec-test",
		AgentID:    "agent-1",
		EventType:  "shell:exec",
		Action:     "echo hello",
		Verdict:    verdict,
		Reason:     "test reason",
		PolicyHash: "sha256:abc123",
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 5; i++ {
		if err := l.Record(testEntry("ALLOW")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 3; i++ {
		if err := l.Record(testEntry("ALLOW")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	// Tamper: change decision in line 2
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], `"ALLOW"`, `"DENY"`, 1)
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 3; i++ {
		if err := l.Record(testEntry("ALLOW")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	// Delete line 2 (middle entry)
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	remaining := []string{lines[0], lines[2]}
	os.WriteFile(path, []byte(strings.Join(remaining, "\n")+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with deleted entry to be invalid")
	}
	if result.ErrorLine != 2 {
		t.Fatalf("expected error at line 2, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsInsertedEntry(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 3; i++ {
		if err := l.Record(testEntry("ALLOW")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	// Insert a fabricated entry between lines 1 and 2
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	fake := testEntry("DENY")
	fake.PrevHash = "sha256:fake"
	fakeJSON, _ := json.Marshal(fake)
	inserted := []string{lines[0], string(fakeJSON), lines[1], lines[2]}
	os.WriteFile(path, []byte(strings.Join(inserted, "\n")+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with inserted entry to be invalid")
	}
}

func TestEmptyLogPassesVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	os.WriteFile(path, []byte{}, 0644)

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected empty log to be valid, got: %s", result.Error)
	}
	if result.Lines != 0 {
		t.Fatalf("expected 0 lines, got %d", result.Lines)
	}
}

func TestConcurrentWritesSerializeCorrectly(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(testEntry("ALLOW"))
		}()
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain after concurrent writes, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 100 {
		t.Fatalf("expected 100 lines, got %d", result.Lines)
	}
}

func TestGenesisHashIsCorrect(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEntry("ALLOW"))
	l.Close()

	data, _ := os.ReadFile(path)
	var entry Entry
	json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry)

	if entry.PrevHash != GenesisHash {
		t.Fatalf("expected genesis hash %s, got %s", GenesisHash, entry.PrevHash)
	}
}

func TestHashLineIsDeterministic(t *testing.T) {
	line := []byte(`{"ts":"2025-01-15T10:30:00.000Z","type":"decision","trace_id":"t-abc","decision_id":"dec-1","verdict":"ALLOW","risk_score":10,"tier":0,"policy_hash":"sha256:abc","prev_hash":"sha256:def"}`)
	h1 := HashLine(line)
	h2 := HashLine(line)
	if h1 != h2 {
		t.Fatalf("expected same hash, got %s and %s", h1, h2)
	}
	if !strings.HasPrefix(h1, "sha256:") {
		t.Fatalf("expected sha256: prefix, got %s", h1)
	}
	if len(h1) != 7+64 { // "sha256:" + 64 hex chars
		t.Fatalf("expected 71 char hash string, got %d", len(h1))
	}
}

func TestOpenExistingLogContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.jsonl")

	// Write 3 entries, close
	l1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		l1.Record(testEntry("ALLOW"))
	}
	l1.Close()

	// Reopen and write 2 more
	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		l2.Record(testEntry("DENY"))
	}
	l2.Close()

	// Verify entire chain
	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain after reopen, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerify10KEntriesUnder1Second(t *testing.T) {
	l, path := newTestLog(t)

	entry := testEntry("ALLOW")
	for i := 0; i < 10000; i++ {
		if err := l.Record(entry); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	start := time.Now()
	result := Verify(path)
	elapsed := time.Since(start)

	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 10000 {
		t.Fatalf("expected 10000 lines, got %d", result.Lines)
	}
	if elapsed > time.Second {
		t.Fatalf("verification took %v, expected < 1s", elapsed)
	}
}

func TestHashLineDiffersPerInput(t *testing.T) {
	if HashLine([]byte("line_v1")) == HashLine([]byte("line_v2")) {
		t.Fatal("expected different hashes for different inputs")
	}
}

func TestRecordRejectsUnknownType(t *testing.T) {
	l, path := newTestLog(t)
	e := testEntry("ALLOW")
	e.Type = "note"
	if err := l.Record(e); err == nil {
		t.Fatal("expected error for unknown entry type")
	}
	if l.Tail() != GenesisHash {
		t.Error("a rejected entry must not move the chain head")
	}
	l.Close()
	if r := Verify(path); !r.Valid || r.Lines != 0 {
		t.Errorf("expected empty valid log, got %+v", r)
	}
}

func TestVerifyCountsEntryTypes(t *testing.T) {
	l, path := newTestLog(t)
	dec := testEntry("REQUIRE_APPROVAL")
	rec := Entry{Type: TypeReceipt, DecisionID: "dec-test", ReceiptID: "rcpt-1", Outcome: "BLOCKED"}
	appr := Entry{Type: TypeApproval, DecisionID: "dec-test", Outcome: "approved"}
	orphan := Entry{Type: TypeReceipt, DecisionID: "dec-elsewhere", ReceiptID: "rcpt-2", Outcome: "EXECUTED"}
	for _, e := range []Entry{dec, rec, appr, orphan} {
		if err := l.Record(e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	head := l.Tail()
	l.Close()

	r := Verify(path)
	if !r.Valid {
		t.Fatalf("expected valid chain: %s", r.Error)
	}
	if r.Decisions != 1 || r.Receipts != 2 || r.Approvals != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/2/1", r.Decisions, r.Receipts, r.Approvals)
	}
	if r.Orphans != 1 {
		t.Errorf("expected 1 orphan, got %d", r.Orphans)
	}
	if r.Head != head {
		t.Errorf("verified head %s differs from writer head %s", r.Head, head)
	}
}

func TestVerifyRejectsUnknownTypeInChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forged.jsonl")
	first, _ := json.Marshal(Entry{Type: TypeDecision, DecisionID: "d1", PrevHash: GenesisHash})
	second, _ := json.Marshal(Entry{Type: "note", PrevHash: HashLine(first)})
	os.WriteFile(path, []byte(string(first)+"\n"+string(second)+"\n"), 0644)

	r := Verify(path)
	if r.Valid || r.ErrorLine != 2 {
		t.Fatalf("expected failure at line 2, got %+v", r)
	}
	if !strings.Contains(r.Error, "unknown entry type") {
		t.Errorf("unexpected error: %s", r.Error)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	r := Verify(filepath.Join(t.TempDir(), "absent.jsonl"))
	if r.Valid || r.Error == "" {
		t.Fatalf("expected an error for a missing log, got %+v", r)
	}
}

func TestTailTracksLastLine(t *testing.T) {
	l, _ := newTestLog(t)
	defer l.Close()
	if l.Tail() != GenesisHash {
		t.Fatalf("expected genesis tail, got %s", l.Tail())
	}
	l.Record(testEntry("ALLOW"))
	if l.Tail() == GenesisHash {
		t.Fatal("expected tail to advance after record")
	}
}

func TestRecordUsesClockForMissingTimestamp(t *testing.T) {
	l, path := newTestLog(t)
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	l.WithClock(func() time.Time { return at })
	e := testEntry("ALLOW")
	e.Timestamp = ""
	l.Record(e)
	l.Close()

	res, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Entries[0].Timestamp != "2026-03-14T12:00:00.000Z" {
		t.Errorf("expected clock timestamp, got %s", res.Entries[0].Timestamp)
	}
}

func TestOpenTerminatesUnfinishedLine(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEntry("ALLOW"))
	l.Close()

	data, _ := os.ReadFile(path)
	os.WriteFile(path, []byte(strings.TrimRight(string(data), "\n")), 0o600)

	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Record(testEntry("DENY"))
	l.Close()

	if r := Verify(path); !r.Valid || r.Lines != 2 {
		t.Fatalf("expected a valid 2-line chain, got %+v", r)
	}
}
