package sequence

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestPropertyCumulativeRiskBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	events := []string{"file:read", "file:write", "http:request", "auth:login", "admin:x", "db:delete", "file:delete", "file:list"}

	properties.Property("cumulative risk stays in [0,100]", prop.ForAll(
		func(steps []int, scores []int) bool {
			a, clk := newTestAnalyzer()
			for i, s := range steps {
				score := 0
				if i < len(scores) {
					score = scores[i]
				}
				res := a.Analyze("agent", ActionRecord{EventType: events[s%len(events)], RiskScore: score})
				if res.CumulativeRisk < 0 || res.CumulativeRisk > 100 {
					return false
				}
				clk.Advance(time.Duration(s) * time.Second)
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 400)),
		gen.SliceOf(gen.IntRange(-100, 200)),
	))

	properties.Property("history never exceeds max", prop.ForAll(
		func(n int) bool {
			a, _ := newTestAnalyzer()
			for i := 0; i < n; i++ {
				a.Analyze("agent", ActionRecord{EventType: "x"})
			}
			return len(a.History("agent")) <= DefaultMaxHistory
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
