package sandwich

import (
	"fmt"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/michaelpento.lv/sandwichbot/utils/testutils"
)

func TestKellyNeverNegative(t *testing.T) {
	capital := testutils.Ether(100)
	for _, p := range []float64{0.05, 0.2, 0.4, 0.5, 0.51, 0.65, 0.85, 0.99} {
		for _, impact := range []float64{0, 0.00001, 0.0001, 0.001, 0.01, 0.03, 0.05} {
			for _, risk := range []float64{0.1, 0.5, 1} {
				name := fmt.Sprintf("p=%v/impact=%v/risk=%v", p, impact, risk)
				sizing := Kelly(KellyParams{SuccessProbability: p, PriceImpact: impact, Capital: capital, RiskFraction: risk})

				assert.GreaterOrEqual(t, sizing.OptimalFraction, 0.0, name)
				assert.GreaterOrEqual(t, sizing.OptimalSize.Sign(), 0, name)

				if sizing.OptimalSize.Sign() > 0 {
					assert.GreaterOrEqual(t, sizing.OptimalFraction, 0.01, name)
					assert.LessOrEqual(t, sizing.OptimalFraction, 0.25, name)
					assert.Positive(t, sizing.ExpectedValue, name)
					assert.LessOrEqual(t, sizing.OptimalSize.Cmp(new(big.Int).Div(capital, big.NewInt(4))), 0, name)
				} else {
					assert.Zero(t, sizing.OptimalFraction, name)
				}
			}
		}
	}
}

func TestKellyRejectsNonPositiveEdge(t *testing.T) {
	tests := []struct {
		name   string
		p      float64
		impact float64
	}{
		{"zero impact", 0.9, 0},
		{"zero probability", 0, 0.03},
		{"coin flip", 0.5, 0.03},
		{"high competition", 0.4, 0.03},
		{"critical competition", 0.2, 0.03},
		{"odds below loss", 0.6, 0.00001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sizing := Kelly(KellyParams{
				SuccessProbability: tt.p,
				PriceImpact:        tt.impact,
				Capital:            testutils.Ether(10),
				RiskFraction:       0.5,
			})
			assert.Zero(t, sizing.OptimalFraction)
			assert.Zero(t, sizing.OptimalSize.Sign())
		})
	}
}

func TestKellyClamps(t *testing.T) {
	capital := testutils.Ether(100)

	// A strong edge is capped at a quarter of capital
	capped := Kelly(KellyParams{SuccessProbability: 0.65, PriceImpact: 0.03, Capital: capital, RiskFraction: 0.5})
	assert.InDelta(t, (0.65*300-0.35)/300, capped.KellyFraction, 1e-12)
	assert.InDelta(t, 0.25, capped.OptimalFraction, 1e-12)
	assert.Equal(t, testutils.Ether(25).String(), capped.OptimalSize.String())
	assert.InDelta(t, math.Pow(0.35/0.65, 0.25), capped.RiskOfRuin, 1e-12)

	// A thin edge is lifted to the 1% floor
	floored := Kelly(KellyParams{SuccessProbability: 0.505, PriceImpact: 0.0001, Capital: capital, RiskFraction: 0.5})
	assert.InDelta(t, 0.005, floored.AdjustedFraction, 1e-9)
	assert.InDelta(t, 0.01, floored.OptimalFraction, 1e-12)
	assert.Equal(t, testutils.Ether(1).String(), floored.OptimalSize.String())
}

func TestKellyDoesNotMutateCapital(t *testing.T) {
	capital := testutils.Ether(8)
	Kelly(KellyParams{SuccessProbability: 0.85, PriceImpact: 0.01, Capital: capital, RiskFraction: 0.5})
	assert.Equal(t, testutils.Ether(8).String(), capital.String())
}
