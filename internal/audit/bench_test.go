package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// benchEntries cycles through the three entry kinds a gate writes for a
// decided and executed action.
func benchEntries(i int) Entry {
	id := fmt.Sprintf("dec-%d", i/3)
	switch i % 3 {
	case 0:
		return Entry{Type: TypeDecision, TraceID: "t-bench", DecisionID: id, EventType: "shell:exec", Action: "echo hello", Verdict: "ALLOW", RiskScore: 20, PolicyHash: "sha256:bench"}
	case 1:
		return Entry{Type: TypeReceipt, TraceID: "t-bench", DecisionID: id, ReceiptID: "r-" + id, Outcome: "EXECUTED", PolicyHash: "sha256:bench"}
	default:
		return Entry{Type: TypeApproval, TraceID: "t-bench", DecisionID: id, Outcome: "approved", Reason: "ops", PolicyHash: "sha256:bench"}
	}
}

func writeBenchLog(b *testing.B, n int) string {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.jsonl")
	l, err := Open(path)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if err := l.Record(benchEntries(i)); err != nil {
			b.Fatal(err)
		}
	}
	l.Close()
	return path
}

func BenchmarkRecord(b *testing.B) {
	l, err := Open(filepath.Join(b.TempDir(), "bench.jsonl"))
	if err != nil {
		b.Fatal(err)
	}
	defer l.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Record(benchEntries(i))
	}
}

func BenchmarkOpenExisting(b *testing.B) {
	path := writeBenchLog(b, 5000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l, err := Open(path)
		if err != nil {
			b.Fatal(err)
		}
		l.Close()
	}
}

func BenchmarkVerify(b *testing.B) {
	for _, n := range []int{1000, 10000} {
		b.Run(fmt.Sprint(n), func(b *testing.B) {
			path := writeBenchLog(b, n)
			info, err := os.Stat(path)
			if err != nil {
				b.Fatal(err)
			}
			b.SetBytes(info.Size())
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if r := Verify(path); !r.Valid {
					b.Fatal("invalid chain:", r.Error)
				}
			}
		})
	}
}

func BenchmarkReplayByTrace(b *testing.B) {
	path := writeBenchLog(b, 10000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Replay(path, ReplayFilter{DecisionID: "dec-42"}); err != nil {
			b.Fatal(err)
		}
	}
}
