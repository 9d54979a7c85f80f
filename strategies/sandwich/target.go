package sandwich

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/sandwichbot/dex"
	"github.com/michaelpento.lv/sandwichbot/dex/uniswap"
	"github.com/michaelpento.lv/sandwichbot/mempool"
	"github.com/michaelpento.lv/sandwichbot/types"
)

// ErrDecode marks a pending swap whose call data matches no known layout.
var ErrDecode = errors.New("failed to decode swap")

// TargetAnalysis is everything the sizer needs to know about a victim.
type TargetAnalysis struct {
	Swap        *mempool.PendingSwap
	Decoded     *types.DecodedSwap
	Reserves    *dex.PoolReserves
	PriceImpact float64
	// Fallback is set when PriceImpact came from the heuristic table.
	Fallback    bool
	Competition types.CompetitionLevel
}

// Analyzer decodes victim swaps and estimates their market impact.
type Analyzer struct {
	codec    *uniswap.Codec
	reserves dex.ReserveReader
	logger   *zap.Logger
}

// NewAnalyzer creates an analyzer. reserves may be nil, in which case every
// estimate uses the fallback table.
func NewAnalyzer(reserves dex.ReserveReader, logger *zap.Logger) (*Analyzer, error) {
	codec, err := uniswap.NewCodec()
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		codec:    codec,
		reserves: reserves,
		logger:   logger.Named("analyzer"),
	}, nil
}

// Decode normalizes the swap's call data.
func (a *Analyzer) Decode(swap *mempool.PendingSwap) (*types.DecodedSwap, error) {
	decoded, err := a.codec.Decode(swap.Router.Family, swap.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if decoded.AmountIn == nil || decoded.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero input amount", ErrDecode)
	}
	return decoded, nil
}

// Analyze decodes swap and estimates its impact and competition.
func (a *Analyzer) Analyze(ctx context.Context, swap *mempool.PendingSwap) (*TargetAnalysis, error) {
	decoded, err := a.Decode(swap)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeDecoded(ctx, swap, decoded), nil
}

// AnalyzeDecoded completes the analysis of an already decoded swap. Reserve
// lookup failures degrade to the fallback impact table.
func (a *Analyzer) AnalyzeDecoded(ctx context.Context, swap *mempool.PendingSwap, decoded *types.DecodedSwap) *TargetAnalysis {
	var reserves *dex.PoolReserves
	if a.reserves != nil {
		r, err := a.reserves.PoolReserves(ctx, swap.Router, decoded.TokenIn, decoded.TokenOut)
		if err != nil {
			a.logger.Debug("Using fallback price impact",
				zap.Stringer("tx_hash", swap.Hash),
				zap.String("router", swap.Router.Name),
				zap.Error(err))
		} else {
			reserves = r
		}
	}

	impact, fallback := EstimateImpact(swap.Router, decoded.AmountIn, reserves)
	return &TargetAnalysis{
		Swap:        swap,
		Decoded:     decoded,
		Reserves:    reserves,
		PriceImpact: impact,
		Fallback:    fallback,
		Competition: CompetitionFor(swap.GasPrice, decoded.AmountIn, impact),
	}
}
