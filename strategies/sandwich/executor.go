package sandwich

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/sandwichbot/config"
	"github.com/michaelpento.lv/sandwichbot/flashbots"
	"github.com/michaelpento.lv/sandwichbot/types"
	bmath "github.com/michaelpento.lv/sandwichbot/utils/math"
	"github.com/michaelpento.lv/sandwichbot/utils/metrics"
)

// Failure reasons recorded on execution results.
const (
	ReasonReverted         = "transaction reverted"
	ReasonNotIncluded      = "not included"
	ReasonSimulationFailed = "simulation failed"
	ReasonBackRunReverted  = "back-run reverted"
	ReasonBackRunMissing   = "back-run not included"
)

// ChainReader is the chain access the executor needs.
type ChainReader interface {
	NonceSource
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Relay submits and simulates bundles.
type Relay interface {
	SendBundle(ctx context.Context, bundle *flashbots.Bundle) (*flashbots.BundleResponse, error)
	CallBundle(ctx context.Context, bundle *flashbots.Bundle, stateBlock uint64) (*flashbots.BundleSimulation, error)
}

// GasPricer is the scalar gas price query.
type GasPricer interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Executor signs, submits and tracks bundles. Each call to Execute records
// exactly one terminal outcome in Stats.
type Executor struct {
	cfg      *config.Config
	chain    ChainReader
	relay    Relay
	gas      GasPricer
	nonces   *NonceManager
	key      *ecdsa.PrivateKey
	signer   ethtypes.Signer
	chainID  *big.Int
	contract common.Address
	stats    *Stats
	metrics  *metrics.SandwichMetrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewExecutor(cfg *config.Config, chain ChainReader, relay Relay, gas GasPricer, key *ecdsa.PrivateKey, stats *Stats, m *metrics.SandwichMetrics, logger *zap.Logger) *Executor {
	chainID := new(big.Int).SetUint64(cfg.ChainID)
	return &Executor{
		cfg:      cfg,
		chain:    chain,
		relay:    relay,
		gas:      gas,
		nonces:   NewNonceManager(chain, crypto.PubkeyToAddress(key.PublicKey)),
		key:      key,
		signer:   ethtypes.LatestSignerForChainID(chainID),
		chainID:  chainID,
		contract: cfg.Contract(),
		stats:    stats,
		metrics:  m,
		logger:   logger.Named("executor"),
		now:      time.Now,
	}
}

// Execute runs one bundle to its terminal outcome. Once started it ignores
// cancellation of ctx; node calls are bounded by rpc_timeout, relay calls by
// relay_timeout and the inclusion poll by the wait window.
func (e *Executor) Execute(ctx context.Context, bundle *types.SandwichBundle) *types.SandwichExecutionResult {
	start := e.now()
	opp := bundle.Opportunity
	result := &types.SandwichExecutionResult{
		OpportunityID: opp.ID,
		ActualProfit:  new(big.Int),
		GasCost:       new(big.Int),
		NetProfit:     new(big.Int),
	}

	outcome := e.execute(context.WithoutCancel(ctx), bundle, result)

	result.CompletedAt = e.now()
	result.Latency = result.CompletedAt.Sub(start)
	e.settle(result, outcome)
	return result
}

func (e *Executor) execute(ctx context.Context, bundle *types.SandwichBundle, result *types.SandwichExecutionResult) string {
	opp := bundle.Opportunity
	victim := bundle.Victim()
	if victim == nil || len(victim.Raw) == 0 {
		result.Error = "victim transaction unavailable"
		return "error"
	}

	rpcCtx, cancel := context.WithTimeout(ctx, e.cfg.RPCTimeout)
	defer cancel()

	block, err := e.chain.BlockNumber(rpcCtx)
	if err != nil {
		result.Error = fmt.Sprintf("failed to get block number: %v", err)
		return "error"
	}
	result.TargetBlock = block + 1

	nonce, err := e.nonces.Reserve(rpcCtx, 2)
	if err != nil {
		result.Error = err.Error()
		return "error"
	}
	defer e.nonces.Release(2)

	front, back, err := e.signLegs(rpcCtx, bundle, nonce)
	if err != nil {
		result.Error = err.Error()
		return "error"
	}
	result.FrontRunTx = front.Hash()
	result.BackRunTx = back.Hash()

	frontRaw, err := front.MarshalBinary()
	if err != nil {
		result.Error = fmt.Sprintf("failed to encode front-run: %v", err)
		return "error"
	}
	backRaw, err := back.MarshalBinary()
	if err != nil {
		result.Error = fmt.Sprintf("failed to encode back-run: %v", err)
		return "error"
	}

	relayBundle := &flashbots.Bundle{
		Txs:         [][]byte{frontRaw, victim.Raw, backRaw},
		BlockNumber: result.TargetBlock,
	}

	if e.cfg.SimulateBundles {
		simCtx, cancel := context.WithTimeout(ctx, e.cfg.RelayTimeout)
		sim, err := e.relay.CallBundle(simCtx, relayBundle, block)
		cancel()
		if err != nil || !sim.Success {
			result.Error = ReasonSimulationFailed
			fields := []zap.Field{zap.String("id", opp.ID)}
			if err != nil {
				fields = append(fields, zap.Error(err))
			} else {
				fields = append(fields, zap.String("sim_error", sim.Error))
			}
			e.logger.Warn("Bundle simulation failed", fields...)
			return "simulation_failed"
		}
	}

	e.stats.RecordBundleSubmitted()
	sendCtx, cancelSend := context.WithTimeout(ctx, e.cfg.RelayTimeout)
	resp, err := e.relay.SendBundle(sendCtx, relayBundle)
	cancelSend()
	if err != nil {
		result.Error = err.Error()
		e.logger.Warn("Bundle submission failed", zap.String("id", opp.ID), zap.Error(err))
		return "relay_error"
	}
	result.BundleHash = resp.BundleHash.Hex()
	bundle.BundleHash = result.BundleHash

	e.logger.Info("Bundle submitted",
		zap.String("id", opp.ID),
		zap.String("bundle_hash", result.BundleHash),
		zap.Uint64("target_block", result.TargetBlock),
		zap.Stringer("front_run", result.FrontRunTx),
		zap.Stringer("victim", victim.TxHash))

	return e.awaitInclusion(ctx, opp, result)
}

// signLegs signs the front and back runs with consecutive nonces. The
// front-run always bids at least the back-run's tip.
func (e *Executor) signLegs(ctx context.Context, bundle *types.SandwichBundle, nonce uint64) (*ethtypes.Transaction, *ethtypes.Transaction, error) {
	opp := bundle.Opportunity
	level := opp.Competition

	base, err := e.gas.GasPrice(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	tierFee := bmath.GweiToWei(e.cfg.PriorityFeeGwei.For(level))
	frontTip := new(big.Int).Add(bmath.GweiToWei(e.cfg.FrontRunPriorityFeeGwei), tierFee)
	backTip := new(big.Int).Add(bmath.GweiToWei(e.cfg.BackRunPriorityFeeGwei), tierFee)
	backTip = bmath.Min(backTip, frontTip)

	scaled := bmath.MulFraction(base, e.cfg.GasMultiplier.For(level))
	frontFee := new(big.Int).Add(scaled, frontTip)
	backFee := new(big.Int).Add(scaled, backTip)

	front, err := e.sign(nonce, frontTip, frontFee, bundle.FrontRun().Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign front-run: %w", err)
	}
	back, err := e.sign(nonce+1, backTip, backFee, bundle.BackRun().Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign back-run: %w", err)
	}
	return front, back, nil
}

func (e *Executor) sign(nonce uint64, tip, feeCap *big.Int, data []byte) (*ethtypes.Transaction, error) {
	to := e.contract
	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       e.cfg.GasPerTx,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})
	return ethtypes.SignTx(tx, e.signer, e.key)
}

// awaitInclusion polls for the front-run receipt until it appears or the
// window of max_wait_blocks past the target closes.
func (e *Executor) awaitInclusion(ctx context.Context, opp *types.SandwichOpportunity, result *types.SandwichExecutionResult) string {
	window := time.Duration(e.cfg.MaxWaitBlocks+2) * e.cfg.BlockTime
	pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), window)
	defer cancel()

	lastBlock := result.TargetBlock + e.cfg.MaxWaitBlocks
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.chain.TransactionReceipt(pollCtx, result.FrontRunTx)
		switch {
		case err == nil && receipt != nil:
			return e.settleReceipt(pollCtx, opp, receipt, result)
		case err != nil && !errors.Is(err, ethereum.NotFound):
			e.logger.Debug("Receipt poll failed", zap.String("id", opp.ID), zap.Error(err))
		}

		if current, err := e.chain.BlockNumber(pollCtx); err == nil && current > lastBlock {
			result.Error = ReasonNotIncluded
			return "not_included"
		}

		select {
		case <-pollCtx.Done():
			result.Error = ReasonNotIncluded
			return "not_included"
		case <-ticker.C:
		}
	}
}

func (e *Executor) settleReceipt(ctx context.Context, opp *types.SandwichOpportunity, front *ethtypes.Receipt, result *types.SandwichExecutionResult) string {
	e.stats.RecordBundleIncluded()
	if front.BlockNumber != nil {
		result.InclusionBlock = front.BlockNumber.Uint64()
	}
	result.GasCost = receiptCost(front)

	if front.Status != ethtypes.ReceiptStatusSuccessful {
		result.Error = ReasonReverted
		return "reverted"
	}

	back, err := e.chain.TransactionReceipt(ctx, result.BackRunTx)
	switch {
	case err != nil || back == nil:
		result.Error = ReasonBackRunMissing
		result.Exposed = true
	case back.Status != ethtypes.ReceiptStatusSuccessful:
		result.GasCost.Add(result.GasCost, receiptCost(back))
		result.Error = ReasonBackRunReverted
		result.Exposed = true
	default:
		result.GasCost.Add(result.GasCost, receiptCost(back))
		result.Success = true
		result.ActualProfit = bmath.Clone(opp.EstimatedProfit)
		result.NetProfit = bmath.Max(new(big.Int).Sub(result.ActualProfit, result.GasCost), new(big.Int))
		return "included"
	}

	e.logger.Error("Front-run included without back-run, position exposed",
		zap.String("id", opp.ID),
		zap.Stringer("front_run", result.FrontRunTx),
		zap.Stringer("back_run", result.BackRunTx),
		zap.String("reason", result.Error),
		zap.Stringer("token_out", opp.TokenOut),
		zap.String("amount_eth", bmath.ToEther(opp.FrontRunAmount).String()))
	return "exposed"
}

func receiptCost(r *ethtypes.Receipt) *big.Int {
	if r.EffectiveGasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.EffectiveGasPrice)
}

// settle records the terminal outcome exactly once.
func (e *Executor) settle(result *types.SandwichExecutionResult, outcome string) {
	e.metrics.Bundles.WithLabelValues(outcome).Inc()
	e.metrics.ExecutionLatency.Observe(result.Latency.Seconds())

	if result.Success {
		e.stats.RecordSuccess(result.ActualProfit, result.GasCost)
		e.metrics.ProfitETH.Add(bmath.EtherFloat(result.ActualProfit))
		e.metrics.GasCostETH.Add(bmath.EtherFloat(result.GasCost))
		e.logger.Info("Sandwich included",
			zap.String("id", result.OpportunityID),
			zap.Uint64("block", result.InclusionBlock),
			zap.String("net_profit_eth", bmath.ToEther(result.NetProfit).String()),
			zap.Duration("latency", result.Latency))
		return
	}

	// Bundles that never reached the relay are not part of the success rate
	if outcome == "error" || outcome == "simulation_failed" {
		e.stats.RecordBundleAborted()
		e.logger.Warn("Bundle aborted before submission",
			zap.String("id", result.OpportunityID),
			zap.String("outcome", outcome),
			zap.String("reason", result.Error))
		return
	}

	e.stats.RecordFailure()
	if result.Exposed {
		e.metrics.ExposedPositions.Inc()
	}
	if outcome == "not_included" {
		e.logger.Warn("Bundle not included",
			zap.String("id", result.OpportunityID),
			zap.Uint64("target_block", result.TargetBlock))
	}
}
