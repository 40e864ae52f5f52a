package policy

import (
	"testing"

	"github.com/ppiankov/agentgate/internal/model"
)

func FuzzEvaluate(f *testing.F) {
	f.Add("file:read", "/data/x.csv", 10)
	f.Add("shell:exec", "rm -rf /", 0)
	f.Add("db:query", "DROP TABLE users", 50)
	f.Add("", "", -5)
	f.Add("payment:*", "agentgate", 500)

	ev := NewEvaluator(nil)
	f.Fuzz(func(t *testing.T, eventType, action string, risk int) {
		res := ev.Evaluate(Input{
			Event:          model.Event{EventType: eventType, Payload: map[string]any{"action": action}},
			Action:         action,
			OriginalAction: action,
			Risk:           risk,
		})
		if !res.Verdict.Valid() {
			t.Fatalf("invalid verdict %q", res.Verdict)
		}
	})
}
