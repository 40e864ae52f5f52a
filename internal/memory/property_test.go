package memory

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ppiankov/agentgate/internal/model"
)

func TestPropertyAdaptiveRiskBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	outcomes := []model.Outcome{model.OutcomeAllowed, model.OutcomeBlocked, model.OutcomeEscalated, model.OutcomeSanitized}

	properties.Property("adaptive score stays in [0,100] and modifier in [-10,50]", prop.ForAll(
		func(history []int, hours int, base, bonus int) bool {
			s, clk := newTestStore()
			for _, h := range history {
				_ = s.RecordAction("a", outcomes[h])
			}
			clk.Advance(time.Duration(hours) * time.Hour)
			got := s.AdaptiveRisk("a", base, bonus)
			if got.Score < 0 || got.Score > 100 {
				return false
			}
			return got.Modifier >= -10 && got.Modifier <= 50
		},
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.IntRange(0, 24*60),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
