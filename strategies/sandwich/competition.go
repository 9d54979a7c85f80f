package sandwich

import (
	"math/big"

	"github.com/michaelpento.lv/sandwichbot/types"
	bmath "github.com/michaelpento.lv/sandwichbot/utils/math"
)

var gwei = big.NewInt(1e9)

// CompetitionFor grades a target from the victim's gas price (in whole gwei)
// and trade size. Large trades with large impact attract more searchers even
// at modest gas prices.
func CompetitionFor(gasPrice, amountIn *big.Int, impact float64) types.CompetitionLevel {
	gasGwei := new(big.Int).Quo(bmath.Clone(gasPrice), gwei).Int64()
	amount := bmath.EtherFloat(amountIn)

	switch {
	case gasGwei > 200 || (amount > 100 && impact > 0.03):
		return types.CompetitionCritical
	case gasGwei > 100 || (amount > 50 && impact > 0.02):
		return types.CompetitionHigh
	case gasGwei > 50 || amount > 10:
		return types.CompetitionMedium
	default:
		return types.CompetitionLow
	}
}
