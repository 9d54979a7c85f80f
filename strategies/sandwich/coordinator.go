package sandwich

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/sandwichbot/config"
	"github.com/michaelpento.lv/sandwichbot/gas"
	"github.com/michaelpento.lv/sandwichbot/mempool"
	"github.com/michaelpento.lv/sandwichbot/types"
	"github.com/michaelpento.lv/sandwichbot/utils"
	"github.com/michaelpento.lv/sandwichbot/utils/metrics"
)

// GasOracle is the gas price source the coordinator sizes against.
type GasOracle interface {
	GasPricer
	Latest() (gas.Fees, bool)
}

type decodedSwap struct {
	swap    *mempool.PendingSwap
	decoded *types.DecodedSwap
}

// Coordinator drives pending swaps through analysis and sizing. Swaps on
// the same pool always land on the same worker, so per-pool order holds.
type Coordinator struct {
	cfg      *config.Config
	analyzer *Analyzer
	sizer    *Sizer
	gas      GasOracle
	stats    *Stats
	metrics  *metrics.SandwichMetrics
	logger   *zap.Logger
	out      *utils.Queue[*types.SandwichOpportunity]
	now      func() time.Time
}

func NewCoordinator(cfg *config.Config, analyzer *Analyzer, sizer *Sizer, oracle GasOracle, stats *Stats, m *metrics.SandwichMetrics, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		analyzer: analyzer,
		sizer:    sizer,
		gas:      oracle,
		stats:    stats,
		metrics:  m,
		logger:   logger.Named("coordinator"),
		out:      utils.NewQueue[*types.SandwichOpportunity](),
		now:      time.Now,
	}
}

// Out delivers sized opportunities. It is closed when Run returns.
func (c *Coordinator) Out() <-chan *types.SandwichOpportunity {
	return c.out.Out()
}

// Discard drops opportunities nobody will execute. The executor calls it
// once it stops reading Out.
func (c *Coordinator) Discard() {
	c.out.Discard()
}

// Pending is the number of opportunities waiting for execution.
func (c *Coordinator) Pending() int {
	return c.out.Len()
}

// PoolKey identifies the pool a swap trades against, independent of
// direction.
func PoolKey(router common.Address, tokenA, tokenB common.Address) uint64 {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		tokenA, tokenB = tokenB, tokenA
	}
	d := xxhash.New()
	d.Write(router.Bytes())
	d.Write(tokenA.Bytes())
	d.Write(tokenB.Bytes())
	return d.Sum64()
}

// Run consumes in until it closes, ctx is done or running is cleared.
func (c *Coordinator) Run(ctx context.Context, in <-chan *mempool.PendingSwap, running *atomic.Bool) error {
	defer c.out.Close()

	shards := make([]chan decodedSwap, c.cfg.AnalysisWorkers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan decodedSwap, 256)
		wg.Add(1)
		go func(ch <-chan decodedSwap) {
			defer wg.Done()
			c.worker(ctx, ch, running)
		}(shards[i])
	}
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}()

	c.logger.Info("Strategy coordinator started", zap.Int("workers", len(shards)))

	for running.Load() {
		select {
		case <-ctx.Done():
			return nil
		case swap, ok := <-in:
			if !ok {
				return nil
			}
			item, ok := c.admit(swap)
			if !ok {
				continue
			}
			shard := shards[PoolKey(swap.Router.Router, item.decoded.TokenIn, item.decoded.TokenOut)%uint64(len(shards))]
			select {
			case shard <- item:
			case <-ctx.Done():
				return nil
			}
		}
	}
	return nil
}

// admit counts the swap and drops it when stale or undecodable.
func (c *Coordinator) admit(swap *mempool.PendingSwap) (decodedSwap, bool) {
	c.stats.RecordDetected()

	if age := swap.Age(c.now()); age > c.cfg.PendingTTL {
		c.metrics.Expired.WithLabelValues("pending").Inc()
		c.logger.Debug("Dropping stale pending swap", zap.Stringer("tx_hash", swap.Hash), zap.Duration("age", age))
		return decodedSwap{}, false
	}

	decoded, err := c.analyzer.Decode(swap)
	if err != nil {
		c.reject(swap, RejectDecode)
		c.logger.Debug("Failed to decode swap", zap.Stringer("tx_hash", swap.Hash), zap.Error(err))
		return decodedSwap{}, false
	}
	return decodedSwap{swap: swap, decoded: decoded}, true
}

func (c *Coordinator) worker(ctx context.Context, in <-chan decodedSwap, running *atomic.Bool) {
	for item := range in {
		if !running.Load() || ctx.Err() != nil {
			continue
		}
		c.process(ctx, item)
	}
}

// process analyzes and sizes one swap. The item gets its own deadline and
// completes even when ctx is cancelled mid-flight.
func (c *Coordinator) process(ctx context.Context, item decodedSwap) *types.SandwichOpportunity {
	itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.AnalysisTimeout)
	defer cancel()

	analysis := c.analyzer.AnalyzeDecoded(itemCtx, item.swap, item.decoded)
	c.stats.RecordAnalyzed()
	c.metrics.Analyzed.Inc()

	price, err := c.gas.GasPrice(itemCtx)
	if err != nil {
		c.reject(item.swap, RejectGasPriceFail)
		if !errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("Gas price unavailable", zap.Error(err))
		}
		return nil
	}
	var block uint64
	if fees, ok := c.gas.Latest(); ok {
		block = fees.Block
	}

	opp, rejection := c.sizer.Size(analysis, price, block)
	if rejection != RejectNone {
		c.reject(item.swap, rejection)
		return nil
	}

	c.metrics.Opportunities.Inc()
	c.out.Push(opp)
	c.metrics.QueueDepth.WithLabelValues("opportunities").Set(float64(c.out.Len()))
	return opp
}

func (c *Coordinator) reject(swap *mempool.PendingSwap, reason Rejection) {
	c.metrics.Rejections.WithLabelValues(string(reason)).Inc()
	c.logger.Debug("Candidate rejected",
		zap.Stringer("tx_hash", swap.Hash),
		zap.String("reason", string(reason)))
}
