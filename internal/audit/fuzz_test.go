package audit

import (
	"os"
	"path/filepath"
	"testing"
)

// FuzzLogInput feeds arbitrary bytes to every reader of the log format.
// None may panic, and a log that verifies must replay every line and
// accept further appends without breaking.
func FuzzLogInput(f *testing.F) {
	seed := filepath.Join(f.TempDir(), "seed.jsonl")
	l, err := Open(seed)
	if err != nil {
		f.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		l.Record(benchEntries(i))
	}
	l.Close()
	valid, _ := os.ReadFile(seed)

	f.Add(valid)
	f.Add([]byte{})
	f.Add([]byte(`{"type":"decision","prev_hash":"` + GenesisHash + `"}` + "\n"))
	f.Add([]byte(`{"not":"a valid entry"}` + "\n"))
	f.Add([]byte("not json"))

	f.Fuzz(func(t *testing.T, data []byte) {
		path := filepath.Join(t.TempDir(), "fuzz.jsonl")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}

		before := Verify(path)
		replayed, err := Replay(path, ReplayFilter{})
		if before.Valid && (err != nil || len(replayed.Entries) != before.Lines) {
			t.Fatalf("verified %d lines but replay gave %v entries, err %v", before.Lines, replayed, err)
		}
		if !before.Valid {
			return
		}

		l, err := Open(path)
		if err != nil {
			t.Fatalf("reopen verified log: %v", err)
		}
		if err := l.Record(Entry{Type: TypeDecision, DecisionID: "fuzz"}); err != nil {
			t.Fatal(err)
		}
		l.Close()
		if after := Verify(path); !after.Valid || after.Lines != before.Lines+1 {
			t.Fatalf("append broke a verified chain: %+v", after)
		}
	})
}
