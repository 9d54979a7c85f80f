package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	bmath "github.com/michaelpento.lv/sandwichbot/utils/math"
	"github.com/michaelpento.lv/sandwichbot/utils/metrics"
)

// ErrNoBaseFee is returned for pre-London headers.
var ErrNoBaseFee = errors.New("latest header has no base fee")

// FeeSource is the subset of the chain client the estimator reads.
type FeeSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Fees is one observation of the fee market.
type Fees struct {
	BaseFee *big.Int
	Tip     *big.Int
	Block   uint64
}

// GasPrice is the legacy-equivalent price, base fee plus tip.
func (f Fees) GasPrice() *big.Int {
	return new(big.Int).Add(bmath.Clone(f.BaseFee), bmath.Clone(f.Tip))
}

// Estimator caches the latest base fee and suggested tip. The cache is
// refreshed by Run; reads fall back to a live query once it goes stale.
type Estimator struct {
	client   FeeSource
	breaker  *gobreaker.CircuitBreaker[Fees]
	metrics  *metrics.GasMetrics
	logger   *zap.Logger
	maxStale time.Duration

	mu        sync.RWMutex
	latest    Fees
	updatedAt time.Time
	now       func() time.Time
}

// NewEstimator creates an estimator whose cache is considered stale after
// maxStale.
func NewEstimator(client FeeSource, settings gobreaker.Settings, maxStale time.Duration, m *metrics.GasMetrics, logger *zap.Logger) *Estimator {
	return &Estimator{
		client:   client,
		breaker:  gobreaker.NewCircuitBreaker[Fees](settings),
		metrics:  m,
		logger:   logger.Named("gas"),
		maxStale: maxStale,
		now:      time.Now,
	}
}

// Run refreshes the cache every interval until ctx is done.
func (e *Estimator) Run(ctx context.Context, interval time.Duration) error {
	if err := e.Refresh(ctx); err != nil {
		e.logger.Warn("Initial gas refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("Failed to update gas prices", zap.Error(err))
			}
		}
	}
}

// Refresh fetches the latest base fee and tip.
func (e *Estimator) Refresh(ctx context.Context) error {
	fees, err := e.breaker.Execute(func() (Fees, error) {
		header, err := e.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return Fees{}, fmt.Errorf("failed to get latest header: %w", err)
		}
		if header.BaseFee == nil {
			return Fees{}, ErrNoBaseFee
		}
		tip, err := e.client.SuggestGasTipCap(ctx)
		if err != nil {
			return Fees{}, fmt.Errorf("failed to get priority fee: %w", err)
		}
		return Fees{BaseFee: header.BaseFee, Tip: tip, Block: header.Number.Uint64()}, nil
	})
	if err != nil {
		e.metrics.Errors.Inc()
		return err
	}

	e.mu.Lock()
	e.latest = fees
	e.updatedAt = e.now()
	e.mu.Unlock()

	e.metrics.BaseFeeGwei.Set(bmath.GweiFloat(fees.BaseFee))
	e.metrics.TipGwei.Set(bmath.GweiFloat(fees.Tip))
	return nil
}

// Latest returns the cached observation and whether it is still fresh.
func (e *Estimator) Latest() (Fees, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.latest.BaseFee == nil {
		return Fees{}, false
	}
	fresh := e.now().Sub(e.updatedAt) <= e.maxStale
	return Fees{
		BaseFee: bmath.Clone(e.latest.BaseFee),
		Tip:     bmath.Clone(e.latest.Tip),
		Block:   e.latest.Block,
	}, fresh
}

// GasPrice returns the current network gas price.
func (e *Estimator) GasPrice(ctx context.Context) (*big.Int, error) {
	if fees, fresh := e.Latest(); fresh {
		return fees.GasPrice(), nil
	}

	fees, err := e.breaker.Execute(func() (Fees, error) {
		price, err := e.client.SuggestGasPrice(ctx)
		if err != nil {
			return Fees{}, fmt.Errorf("failed to suggest gas price: %w", err)
		}
		return Fees{BaseFee: price}, nil
	})
	if err != nil {
		e.metrics.Errors.Inc()
		return nil, err
	}
	return fees.GasPrice(), nil
}
