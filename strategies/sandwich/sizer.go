package sandwich

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/sandwichbot/config"
	"github.com/michaelpento.lv/sandwichbot/dex"
	"github.com/michaelpento.lv/sandwichbot/types"
	bmath "github.com/michaelpento.lv/sandwichbot/utils/math"
)

// Rejection names the funnel step that turned a candidate down. Rejections
// are normal outcomes, not errors.
type Rejection string

const (
	RejectNone         Rejection = ""
	RejectPriceImpact  Rejection = "price_impact"
	RejectKelly        Rejection = "kelly"
	RejectVictimLimit  Rejection = "victim_slippage"
	RejectGas          Rejection = "gas"
	RejectMinProfit    Rejection = "min_profit"
	RejectMinPercent   Rejection = "min_profit_percentage"
	RejectDecode       Rejection = "decode"
	RejectStale        Rejection = "stale"
	RejectGasPriceFail Rejection = "gas_price_unavailable"
)

const defaultSlippageTolerance = 0.01

// Sizer turns an analysis into a sized opportunity or a rejection.
type Sizer struct {
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time
}

func NewSizer(cfg *config.Config, logger *zap.Logger) *Sizer {
	return &Sizer{
		cfg:    cfg,
		logger: logger.Named("sizer"),
		now:    time.Now,
	}
}

// Size runs the funnel for one analysis at the given network gas price.
// Each step short-circuits on rejection.
func (s *Sizer) Size(a *TargetAnalysis, baseGasPrice *big.Int, block uint64) (*types.SandwichOpportunity, Rejection) {
	swap := a.Swap
	level := a.Competition

	// Price impact ceiling
	if a.PriceImpact > s.cfg.MaxPriceImpact {
		return nil, RejectPriceImpact
	}

	// Kelly sizing against twice the victim's own trade
	p := s.cfg.SuccessProbability.For(level)
	capital := new(big.Int).Mul(a.Decoded.AmountIn, big.NewInt(2))
	kelly := Kelly(KellyParams{
		SuccessProbability: p,
		PriceImpact:        a.PriceImpact,
		Capital:            capital,
		RiskFraction:       s.cfg.KellyRiskFactor,
	})
	if kelly.OptimalSize.Sign() <= 0 {
		return nil, RejectKelly
	}
	front := kelly.OptimalSize

	// With live V2 reserves, the victim must still clear its own limit after
	// our front-run, and the back-run sells exactly what the front-run bought
	back := bmath.Clone(front)
	if a.Reserves != nil && !a.Fallback && swap.Router.Family.V2Style() {
		replay := ReplayFrontRun(a.Reserves, a.Decoded, front, swap.Router.FeeBps)
		if !replay.VictimHolds {
			return nil, RejectVictimLimit
		}
		back = replay.Bought
	}

	// Gross profit net of the entry and exit swap fees
	fee := PoolFee(swap.Router, a.Decoded.Fee)
	gross := bmath.MulFraction(front, a.PriceImpact)
	gross.Sub(gross, new(big.Int).Mul(bmath.MulFraction(front, fee), big.NewInt(2)))

	// Gas for two transactions at the competition-adjusted price
	gasPrice := bmath.MulFraction(baseGasPrice, s.cfg.GasMultiplier.For(level))
	gasPrice.Add(gasPrice, bmath.GweiToWei(s.cfg.PriorityFeeGwei.For(level)))
	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(2*s.cfg.GasPerTx))

	if gross.Cmp(gasCost) <= 0 {
		return nil, RejectGas
	}
	net := new(big.Int).Sub(gross, gasCost)

	// Absolute and relative profit floors
	if net.Cmp(s.cfg.MinProfit()) < 0 {
		return nil, RejectMinProfit
	}
	pct := bmath.Ratio(net, front)
	if pct < s.cfg.MinProfitPercentage {
		return nil, RejectMinPercent
	}

	now := s.now()
	opp := &types.SandwichOpportunity{
		ID:                 uuid.NewString(),
		TargetTx:           swap.Hash,
		TargetRaw:          swap.Raw,
		TargetGasPrice:     bmath.Clone(swap.GasPrice),
		TargetGas:          swap.GasLimit,
		Router:             swap.Router.Router,
		Family:             swap.Router.Family,
		TokenIn:            a.Decoded.TokenIn,
		TokenOut:           a.Decoded.TokenOut,
		Fee:                a.Decoded.Fee,
		FrontRunAmount:     front,
		BackRunAmount:      back,
		EstimatedProfit:    gross,
		GasCost:            gasCost,
		NetProfit:          net,
		ProfitPercentage:   pct,
		SuccessProbability: p,
		ExpectedValue:      kelly.ExpectedValue,
		PriceImpact:        a.PriceImpact,
		SlippageTolerance:  defaultSlippageTolerance,
		Competition:        level,
		Kelly:              kelly,
		BaseGasPrice:       bmath.Clone(baseGasPrice),
		DetectedBlock:      block,
		DetectedAt:         swap.Timestamp,
		ExpiresAt:          now.Add(s.cfg.OpportunityTTL),
	}

	s.logger.Info("Sandwich opportunity sized",
		zap.String("id", opp.ID),
		zap.Stringer("tx_hash", opp.TargetTx),
		zap.Stringer("competition", level),
		zap.Float64("price_impact", a.PriceImpact),
		zap.String("front_run_eth", bmath.ToEther(front).String()),
		zap.String("net_profit_eth", bmath.ToEther(net).String()),
		zap.Float64("profit_pct", pct))
	return opp, RejectNone
}

// PoolFee is the swap fee charged on each leg. A decoded V3 tier is in
// hundredths of a basis point and overrides the router default.
func PoolFee(router dex.RouterInfo, tier uint32) float64 {
	if tier > 0 {
		return float64(tier) / 1_000_000
	}
	return router.FeeFraction()
}
