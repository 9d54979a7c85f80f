package math

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// EtherDecimals is the exponent between wei and ether
	EtherDecimals = 18
	// GweiDecimals is the exponent between wei and gwei
	GweiDecimals = 9
)

// ToEther converts a wei amount to ether. A nil amount is zero.
func ToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals)
}

// ToGwei converts a wei amount to gwei.
func ToGwei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -GweiDecimals)
}

// EtherFloat is ToEther as a float64, for threshold comparisons.
func EtherFloat(wei *big.Int) float64 {
	return ToEther(wei).InexactFloat64()
}

// GweiFloat is ToGwei as a float64.
func GweiFloat(wei *big.Int) float64 {
	return ToGwei(wei).InexactFloat64()
}

// FromEther converts ether to wei, truncating sub-wei precision.
func FromEther(eth decimal.Decimal) *big.Int {
	return eth.Shift(EtherDecimals).Truncate(0).BigInt()
}

// FromGwei converts gwei to wei, truncating sub-wei precision.
func FromGwei(gwei decimal.Decimal) *big.Int {
	return gwei.Shift(GweiDecimals).Truncate(0).BigInt()
}

// ParseEther parses a decimal ether string such as "0.01" into wei.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid ether amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid ether amount %q: negative", s)
	}
	return FromEther(d), nil
}

// GweiToWei converts a float gwei value to wei.
func GweiToWei(gwei float64) *big.Int {
	return FromGwei(decimal.NewFromFloat(gwei))
}

// MulFraction returns floor(x * f). A nil x is zero.
func MulFraction(x *big.Int, f float64) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(x, 0).Mul(decimal.NewFromFloat(f)).Truncate(0).BigInt()
}

// Ratio returns x / y as a float64, or 0 when y is zero.
func Ratio(x, y *big.Int) float64 {
	if x == nil || y == nil || y.Sign() == 0 {
		return 0
	}
	return decimal.NewFromBigInt(x, 0).DivRound(decimal.NewFromBigInt(y, 0), 18).InexactFloat64()
}

// Max returns the larger of x and y.
func Max(x, y *big.Int) *big.Int {
	if x.Cmp(y) >= 0 {
		return x
	}
	return y
}

// Min returns the smaller of x and y.
func Min(x, y *big.Int) *big.Int {
	if x.Cmp(y) <= 0 {
		return x
	}
	return y
}

// Clone copies x so callers can mutate the result. A nil x clones to zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}
