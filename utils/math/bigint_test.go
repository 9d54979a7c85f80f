package math

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnits(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"TestToEther", testToEther},
		{"TestParseEther", testParseEther},
		{"TestGwei", testGwei},
		{"TestMulFraction", testMulFraction},
		{"TestRatio", testRatio},
		{"TestMinMax", testMinMax},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testToEther(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	assert.True(t, ToEther(oneEth).Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 1.0, EtherFloat(oneEth))
	assert.True(t, ToEther(nil).IsZero())

	half := new(big.Int).Div(oneEth, big.NewInt(2))
	assert.Equal(t, "0.5", ToEther(half).String())
}

func testParseEther(t *testing.T) {
	wei, err := ParseEther("0.01")
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", wei.String())

	_, err = ParseEther("abc")
	assert.Error(t, err)

	_, err = ParseEther("-1")
	assert.Error(t, err)
}

func testGwei(t *testing.T) {
	assert.Equal(t, "20000000000", GweiToWei(20).String())
	assert.Equal(t, "1500000000", GweiToWei(1.5).String())
	assert.Equal(t, 20.0, GweiFloat(big.NewInt(20_000_000_000)))
}

func testMulFraction(t *testing.T) {
	assert.Equal(t, "250", MulFraction(big.NewInt(1000), 0.25).String())
	assert.Equal(t, "3", MulFraction(big.NewInt(10), 0.3).String())
	assert.Equal(t, "0", MulFraction(nil, 0.5).String())
}

func testRatio(t *testing.T) {
	assert.InDelta(t, 0.25, Ratio(big.NewInt(1), big.NewInt(4)), 1e-12)
	assert.Equal(t, 0.0, Ratio(big.NewInt(1), big.NewInt(0)))
}

func testMinMax(t *testing.T) {
	a, b := big.NewInt(3), big.NewInt(7)
	assert.Equal(t, b, Max(a, b))
	assert.Equal(t, a, Min(a, b))

	c := Clone(a)
	c.SetInt64(99)
	assert.Equal(t, int64(3), a.Int64())
}
