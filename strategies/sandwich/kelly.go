package sandwich

import (
	"math"
	"math/big"

	"github.com/michaelpento.lv/sandwichbot/types"
	bmath "github.com/michaelpento.lv/sandwichbot/utils/math"
)

const (
	minKellyFraction = 0.01
	maxKellyFraction = 0.25
)

// KellyParams are the inputs of one sizing decision.
type KellyParams struct {
	SuccessProbability float64
	// PriceImpact is the payoff of a win as a fraction; it is used in basis
	// points as the odds.
	PriceImpact  float64
	Capital      *big.Int
	RiskFraction float64
}

// Kelly sizes a position. A non-positive edge yields a zero fraction and a
// zero size; a positive edge is scaled by the risk fraction and clamped to
// [1%, 25%] of capital.
func Kelly(params KellyParams) types.KellySizing {
	p := params.SuccessProbability
	q := 1 - p
	b := params.PriceImpact * 10_000

	sizing := types.KellySizing{OptimalSize: big.NewInt(0), RiskOfRuin: 1}
	if b <= 0 || p <= 0 {
		return sizing
	}

	sizing.KellyFraction = (p*b - q) / b
	sizing.ExpectedValue = p*b - q*b
	sizing.AdjustedFraction = params.RiskFraction * sizing.KellyFraction
	if sizing.KellyFraction <= 0 || sizing.ExpectedValue <= 0 || sizing.AdjustedFraction <= 0 {
		return sizing
	}

	sizing.OptimalFraction = math.Min(math.Max(sizing.AdjustedFraction, minKellyFraction), maxKellyFraction)
	sizing.OptimalSize = bmath.MulFraction(bmath.Clone(params.Capital), sizing.OptimalFraction)
	if p < 1 {
		sizing.RiskOfRuin = math.Pow(q/p, sizing.OptimalFraction)
	} else {
		sizing.RiskOfRuin = 0
	}
	return sizing
}
