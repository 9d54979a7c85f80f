package mempool

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/sandwichbot/config"
	"github.com/michaelpento.lv/sandwichbot/dex"
	"github.com/michaelpento.lv/sandwichbot/utils"
	bmath "github.com/michaelpento.lv/sandwichbot/utils/math"
	"github.com/michaelpento.lv/sandwichbot/utils/metrics"
)

const maxResubscribeBackoff = 30 * time.Second

// Counters is a snapshot of the monitor's running totals.
type Counters struct {
	Observed   uint64
	Matched    uint64
	Filtered   uint64
	Duplicates uint64
	Dropped    uint64
}

// Monitor turns the pending-transaction feed into PendingSwaps. Ingestion
// never waits on downstream stages: output goes to an unbounded queue and
// lookups beyond the rate limit or worker capacity are dropped.
type Monitor struct {
	cfg      *config.Config
	client   TxSource
	registry *dex.Registry
	seen     *SeenCache
	signer   types.Signer
	limiter  *rate.Limiter
	metrics  *metrics.MempoolMetrics
	logger   *zap.Logger

	minValue    *big.Int
	maxGasPrice *big.Int

	out     *utils.Queue[*PendingSwap]
	lookups chan common.Hash

	observed   atomic.Uint64
	matched    atomic.Uint64
	filtered   atomic.Uint64
	duplicates atomic.Uint64
	dropped    atomic.Uint64
}

func NewMonitor(cfg *config.Config, client TxSource, registry *dex.Registry, seen *SeenCache, m *metrics.MempoolMetrics, logger *zap.Logger) *Monitor {
	return &Monitor{
		cfg:         cfg,
		client:      client,
		registry:    registry,
		seen:        seen,
		signer:      types.LatestSignerForChainID(new(big.Int).SetUint64(cfg.ChainID)),
		limiter:     cfg.LookupRateLimit.Limiter(),
		metrics:     m,
		logger:      logger.Named("monitor"),
		minValue:    cfg.MinValue(),
		maxGasPrice: cfg.MaxGasPrice(),
		out:         utils.NewQueue[*PendingSwap](),
		lookups:     make(chan common.Hash, cfg.LookupWorkers*64),
	}
}

// Out delivers matched swaps. It is closed when Run returns.
func (m *Monitor) Out() <-chan *PendingSwap {
	return m.out.Out()
}

// Discard drops swaps nobody will analyze.
func (m *Monitor) Discard() {
	m.out.Discard()
}

// Pending is the number of swaps emitted but not yet consumed.
func (m *Monitor) Pending() int {
	return m.out.Len()
}

// Run consumes the feed until ctx is done or running is cleared.
func (m *Monitor) Run(ctx context.Context, running *atomic.Bool) error {
	defer m.out.Close()

	hashes := make(chan common.Hash, 1024)
	sub := event.ResubscribeErr(maxResubscribeBackoff, func(ctx context.Context, lastErr error) (event.Subscription, error) {
		if lastErr != nil {
			m.logger.Warn("Pending transaction subscription failed, resubscribing", zap.Error(lastErr))
		}
		return m.client.SubscribePendingTransactions(ctx, hashes)
	})
	defer sub.Unsubscribe()

	lookupCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < m.cfg.LookupWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.lookupWorker(lookupCtx)
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	ticker := time.NewTicker(m.cfg.MonitorStatsInterval)
	defer ticker.Stop()

	m.logger.Info("Mempool monitor started",
		zap.Int("lookup_workers", m.cfg.LookupWorkers),
		zap.Stringer("max_gas_price", m.maxGasPrice),
		zap.Stringer("min_value", m.minValue))

	for running.Load() {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-sub.Err():
			if ok && err != nil {
				return err
			}
			return nil
		case hash := <-hashes:
			m.ingest(hash)
		case <-ticker.C:
			m.logCounters()
		}
	}
	return nil
}

func (m *Monitor) ingest(hash common.Hash) {
	if m.seen.MarkSeen(hash) {
		m.duplicates.Add(1)
		m.metrics.Duplicates.Inc()
		return
	}
	if !m.limiter.Allow() {
		m.drop()
		return
	}
	select {
	case m.lookups <- hash:
	default:
		m.drop()
	}
}

func (m *Monitor) drop() {
	m.dropped.Add(1)
	m.metrics.Dropped.Inc()
}

func (m *Monitor) lookupWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case hash := <-m.lookups:
			m.lookup(ctx, hash)
		}
	}
}

func (m *Monitor) lookup(ctx context.Context, hash common.Hash) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
	defer cancel()

	tx, isPending, err := m.client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			m.filter("not_found")
			return
		}
		m.logger.Debug("Failed to get transaction", zap.Stringer("tx_hash", hash), zap.Error(err))
		m.drop()
		return
	}
	if !isPending {
		m.filter("mined")
		return
	}
	m.process(tx)
}

// process applies the cheap filters and emits a PendingSwap for router calls.
func (m *Monitor) process(tx *types.Transaction) *PendingSwap {
	m.observed.Add(1)
	m.metrics.Observed.Inc()

	to := tx.To()
	if to == nil {
		m.filter("contract_creation")
		return nil
	}
	if tx.GasPrice().Cmp(m.maxGasPrice) > 0 {
		m.filter("gas_price")
		return nil
	}
	if tx.Value().Cmp(m.minValue) < 0 {
		m.filter("value")
		return nil
	}

	router, ok := m.registry.Lookup(*to)
	if !ok {
		return nil
	}

	from, err := types.Sender(m.signer, tx)
	if err != nil {
		m.logger.Debug("Failed to recover sender", zap.Stringer("tx_hash", tx.Hash()), zap.Error(err))
		m.filter("sender")
		return nil
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		m.filter("encoding")
		return nil
	}

	swap := NewPendingSwap(tx, from, router, raw)
	swap.Kind, swap.Detected = m.registry.Detect(*to, tx.Data())

	m.matched.Add(1)
	m.metrics.Matched.Inc()
	m.metrics.GasPrice.Observe(bmath.GweiFloat(swap.GasPrice))

	if !m.out.Push(swap) {
		return nil
	}

	m.logger.Debug("Matched router swap",
		zap.Stringer("tx_hash", swap.Hash),
		zap.String("router", router.Name),
		zap.Stringer("kind", swap.Kind))
	return swap
}

func (m *Monitor) filter(reason string) {
	m.filtered.Add(1)
	m.metrics.Filtered.WithLabelValues(reason).Inc()
}

// Counters returns the running totals.
func (m *Monitor) Counters() Counters {
	return Counters{
		Observed:   m.observed.Load(),
		Matched:    m.matched.Load(),
		Filtered:   m.filtered.Load(),
		Duplicates: m.duplicates.Load(),
		Dropped:    m.dropped.Load(),
	}
}

func (m *Monitor) logCounters() {
	c := m.Counters()
	m.logger.Info("Mempool monitor counters",
		zap.Uint64("observed", c.Observed),
		zap.Uint64("matched", c.Matched),
		zap.Uint64("filtered", c.Filtered),
		zap.Uint64("duplicates", c.Duplicates),
		zap.Uint64("dropped", c.Dropped),
		zap.Int("pending", m.Pending()),
		zap.Int("seen", m.seen.Len()))
}
