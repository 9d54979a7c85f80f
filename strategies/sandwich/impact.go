package sandwich

import (
	"math/big"

	"github.com/michaelpento.lv/sandwichbot/dex"
	"github.com/michaelpento.lv/sandwichbot/dex/uniswap"
	"github.com/michaelpento.lv/sandwichbot/types"
	bmath "github.com/michaelpento.lv/sandwichbot/utils/math"
)

// FallbackImpact is the conservative price impact assumed when reserves are
// unavailable, keyed by trade size in whole tokens and DEX family.
func FallbackImpact(family dex.Family, amountIn *big.Int) float64 {
	amount := bmath.EtherFloat(amountIn)

	switch {
	case family.V2Style():
		switch {
		case amount < 1:
			return 0.001
		case amount < 10:
			return 0.005
		case amount < 50:
			return 0.02
		default:
			return 0.05
		}
	case family == dex.FamilyUniswapV3:
		switch {
		case amount < 1:
			return 0.002
		case amount < 10:
			return 0.01
		default:
			return 0.03
		}
	default:
		return 0.01
	}
}

// EstimateImpact prices the victim trade against reserves when they are
// usable and reports whether the fallback table was used instead.
func EstimateImpact(router dex.RouterInfo, amountIn *big.Int, reserves *dex.PoolReserves) (float64, bool) {
	if reserves == nil || reserves.ReserveIn == nil || reserves.ReserveIn.Sign() <= 0 ||
		reserves.ReserveOut == nil || reserves.ReserveOut.Sign() <= 0 {
		return FallbackImpact(router.Family, amountIn), true
	}
	return uniswap.PriceImpact(amountIn, reserves, router.FeeFraction()), false
}

// FrontRunReplay is the pool state after our front-run lands.
type FrontRunReplay struct {
	// Bought is the tokenOut amount the front-run receives.
	Bought *big.Int
	// VictimHolds is false when the victim's own limit would revert it.
	VictimHolds bool
}

// ReplayFrontRun applies front to the constant-product reserves and then
// checks the victim against its min-out, or max-in for exact-output swaps.
func ReplayFrontRun(reserves *dex.PoolReserves, victim *types.DecodedSwap, front *big.Int, feeBps uint32) FrontRunReplay {
	bought := uniswap.GetAmountOut(front, reserves.ReserveIn, reserves.ReserveOut, feeBps)
	reserveIn := new(big.Int).Add(reserves.ReserveIn, front)
	reserveOut := new(big.Int).Sub(reserves.ReserveOut, bought)

	replay := FrontRunReplay{Bought: bought}
	if victim.ExactOutput {
		need := uniswap.GetAmountIn(victim.MinAmountOut, reserveIn, reserveOut, feeBps)
		replay.VictimHolds = need.Sign() > 0 && need.Cmp(victim.AmountIn) <= 0
		return replay
	}
	out := uniswap.GetAmountOut(victim.AmountIn, reserveIn, reserveOut, feeBps)
	replay.VictimHolds = out.Sign() > 0 && (victim.MinAmountOut == nil || out.Cmp(victim.MinAmountOut) >= 0)
	return replay
}
