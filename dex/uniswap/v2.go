package uniswap

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/michaelpento.lv/sandwichbot/dex"
)

// GetAmountOut calculates the constant-product output for an input amount,
// charging feeBps on the input.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(10_000-feeBps)))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, big.NewInt(10_000)), amountInWithFee)

	return new(big.Int).Div(numerator, denominator)
}

// GetAmountIn calculates the input needed for a desired output amount.
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountOut.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Cmp(amountOut) <= 0 {
		return big.NewInt(0)
	}

	numerator := new(big.Int).Mul(new(big.Int).Mul(reserveIn, amountOut), big.NewInt(10_000))
	denominator := new(big.Int).Mul(new(big.Int).Sub(reserveOut, amountOut), big.NewInt(int64(10_000-feeBps)))

	amountIn := new(big.Int).Div(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1))
}

// PriceImpact is the relative drop of the marginal price caused by swapping
// amountIn into the pool: 1 - (rIn / rIn')^2 with rIn' = rIn + amountIn*(1-fee).
// It returns 0 for an empty pool.
func PriceImpact(amountIn *big.Int, reserves *dex.PoolReserves, fee float64) float64 {
	if reserves == nil || reserves.ReserveIn == nil || reserves.ReserveIn.Sign() <= 0 || amountIn == nil || amountIn.Sign() <= 0 {
		return 0
	}

	rIn := decimal.NewFromBigInt(reserves.ReserveIn, 0)
	effective := decimal.NewFromBigInt(amountIn, 0).Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(fee)))
	after := rIn.Add(effective)

	ratio := rIn.DivRound(after, 18)
	impact := decimal.NewFromInt(1).Sub(ratio.Mul(ratio))
	return impact.InexactFloat64()
}
