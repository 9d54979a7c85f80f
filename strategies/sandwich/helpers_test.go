package sandwich

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/sandwichbot/config"
	"github.com/michaelpento.lv/sandwichbot/dex"
	"github.com/michaelpento.lv/sandwichbot/flashbots"
	"github.com/michaelpento.lv/sandwichbot/gas"
	"github.com/michaelpento.lv/sandwichbot/mempool"
	"github.com/michaelpento.lv/sandwichbot/types"
	"github.com/michaelpento.lv/sandwichbot/utils/metrics"
	"github.com/michaelpento.lv/sandwichbot/utils/testutils"
)

func testConfig(t *testing.T, mutate func(cfg *config.Config)) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ContractAddress = "0x00000000000000000000000000000000000000c0"
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func testMetrics() *metrics.SandwichMetrics {
	return metrics.NewSandwichMetrics(prometheus.NewRegistry())
}

func defaultRouter(t *testing.T, family dex.Family) dex.RouterInfo {
	t.Helper()
	for _, r := range dex.DefaultRouters() {
		if r.Family == family {
			return r
		}
	}
	t.Fatalf("no default router for %s", family)
	return dex.RouterInfo{}
}

// victimSwap signs an exact-input WETH->USDC swap of amountEth through router.
func victimSwap(t *testing.T, router dex.RouterInfo, amountEth float64, gasPrice *big.Int) *mempool.PendingSwap {
	t.Helper()
	key := testutils.NewKey(t)
	tx := testutils.VictimSwap(t, key, 0, router, testutils.WETH, testutils.USDC, testutils.Ether(amountEth), gasPrice)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return mempool.NewPendingSwap(tx, crypto.PubkeyToAddress(key.PublicKey), router, raw)
}

// analysisFor builds an analysis with a fixed impact and competition level.
func analysisFor(t *testing.T, amountEth, impact float64, level types.CompetitionLevel) *TargetAnalysis {
	t.Helper()
	swap := victimSwap(t, defaultRouter(t, dex.FamilyUniswapV2), amountEth, testutils.Gwei(30))
	analyzer, err := NewAnalyzer(nil, zap.NewNop())
	require.NoError(t, err)
	decoded, err := analyzer.Decode(swap)
	require.NoError(t, err)
	return &TargetAnalysis{
		Swap:        swap,
		Decoded:     decoded,
		PriceImpact: impact,
		Fallback:    true,
		Competition: level,
	}
}

// v3Analysis builds a fallback analysis for a V3 victim trading through tier.
func v3Analysis(t *testing.T, amountEth, impact float64, tier uint32) *TargetAnalysis {
	t.Helper()
	router := defaultRouter(t, dex.FamilyUniswapV3)
	key := testutils.NewKey(t)
	tx := testutils.VictimSwapFee(t, key, 0, router, testutils.WETH, testutils.USDC, testutils.Ether(amountEth), testutils.Gwei(30), tier)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	swap := mempool.NewPendingSwap(tx, crypto.PubkeyToAddress(key.PublicKey), router, raw)

	analyzer, err := NewAnalyzer(nil, zap.NewNop())
	require.NoError(t, err)
	decoded, err := analyzer.Decode(swap)
	require.NoError(t, err)
	return &TargetAnalysis{
		Swap:        swap,
		Decoded:     decoded,
		PriceImpact: impact,
		Fallback:    true,
		Competition: types.CompetitionMedium,
	}
}

// mockReserves serves fixed reserves or an injected error.
type mockReserves struct {
	mu       sync.RWMutex
	reserves *dex.PoolReserves
	err      error
	calls    int
}

func (m *mockReserves) PoolReserves(ctx context.Context, router dex.RouterInfo, tokenIn, tokenOut common.Address) (*dex.PoolReserves, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.reserves, nil
}

// mockOracle returns a fixed gas price.
type mockOracle struct {
	mu    sync.RWMutex
	price *big.Int
	block uint64
	err   error
}

func (m *mockOracle) GasPrice(ctx context.Context) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	return new(big.Int).Set(m.price), nil
}

func (m *mockOracle) Latest() (gas.Fees, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return gas.Fees{BaseFee: m.price, Tip: new(big.Int), Block: m.block}, m.err == nil
}

// mockChain is an in-memory chain with scripted receipts.
type mockChain struct {
	mu sync.RWMutex

	block     uint64
	advance   bool
	nonce     uint64
	receipts  map[common.Hash]*ethtypes.Receipt
	nonceErr  error
	blockErr  error
	nonceRead int
}

func newMockChain(block uint64) *mockChain {
	return &mockChain{block: block, receipts: make(map[common.Hash]*ethtypes.Receipt)}
}

func (m *mockChain) setReceipt(hash common.Hash, status uint64, block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[hash] = &ethtypes.Receipt{
		Status:            status,
		TxHash:            hash,
		GasUsed:           150000,
		EffectiveGasPrice: big.NewInt(30e9),
		BlockNumber:       new(big.Int).SetUint64(block),
	}
}

func (m *mockChain) BlockNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockErr != nil {
		return 0, m.blockErr
	}
	if m.advance {
		m.block++
	}
	return m.block, nil
}

func (m *mockChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonceRead++
	if m.nonceErr != nil {
		return 0, m.nonceErr
	}
	return m.nonce, nil
}

func (m *mockChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

// mockRelay records bundles and runs an optional hook on submission.
type mockRelay struct {
	mu      sync.Mutex
	sent    []*flashbots.Bundle
	sendErr error
	sim     *flashbots.BundleSimulation
	simErr  error
	simmed  int
	onSend  func(front, back *ethtypes.Transaction)

	// sendCtxErr and sendDeadline describe the ctx of the last SendBundle
	sendCtxErr   error
	sendDeadline bool
}

func (m *mockRelay) SendBundle(ctx context.Context, bundle *flashbots.Bundle) (*flashbots.BundleResponse, error) {
	m.mu.Lock()
	m.sent = append(m.sent, bundle)
	m.sendCtxErr = ctx.Err()
	_, m.sendDeadline = ctx.Deadline()
	err, hook := m.sendErr, m.onSend
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if hook != nil && len(bundle.Txs) == 3 {
		front, back := new(ethtypes.Transaction), new(ethtypes.Transaction)
		if front.UnmarshalBinary(bundle.Txs[0]) == nil && back.UnmarshalBinary(bundle.Txs[2]) == nil {
			hook(front, back)
		}
	}
	return &flashbots.BundleResponse{BundleHash: common.HexToHash("0xb0b")}, nil
}

func (m *mockRelay) CallBundle(ctx context.Context, bundle *flashbots.Bundle, stateBlock uint64) (*flashbots.BundleSimulation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simmed++
	if m.simErr != nil {
		return nil, m.simErr
	}
	if m.sim != nil {
		return m.sim, nil
	}
	return &flashbots.BundleSimulation{Success: true}, nil
}

func (m *mockRelay) bundles() []*flashbots.Bundle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*flashbots.Bundle(nil), m.sent...)
}

var errNodeDown = errors.New("node unavailable")
