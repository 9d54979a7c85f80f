package bot

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/michaelpento.lv/sandwichbot/config"
	"github.com/michaelpento.lv/sandwichbot/dex"
	"github.com/michaelpento.lv/sandwichbot/dex/uniswap"
	"github.com/michaelpento.lv/sandwichbot/flashbots"
	"github.com/michaelpento.lv/sandwichbot/gas"
	"github.com/michaelpento.lv/sandwichbot/mempool"
	"github.com/michaelpento.lv/sandwichbot/storage"
	"github.com/michaelpento.lv/sandwichbot/strategies/sandwich"
	"github.com/michaelpento.lv/sandwichbot/types"
	"github.com/michaelpento.lv/sandwichbot/utils/metrics"
	sysmon "github.com/michaelpento.lv/sandwichbot/utils/monitor"
)

const (
	pairCacheSize  = 4096
	sampleInterval = 5 * time.Second
)

// Chain is every node capability the bot uses. *mempool.ChainClient
// implements it.
type Chain interface {
	mempool.TxSource
	gas.FeeSource
	sandwich.ChainReader
	bind.ContractCaller
}

// Deps are the external endpoints a Manager runs against.
type Deps struct {
	Chain Chain
	Relay sandwich.Relay
	// Journal may be nil, in which case results are not persisted.
	Journal *storage.Journal
}

// Manager owns the signer, the running flag and the lifecycle of every
// pipeline component.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger
	key    *ecdsa.PrivateKey

	metrics     *metrics.Set
	seen        *mempool.SeenCache
	monitor     *mempool.Monitor
	estimator   *gas.Estimator
	coordinator *sandwich.Coordinator
	builder     *sandwich.Builder
	executor    *sandwich.Executor
	stats       *sandwich.Stats
	system      *sysmon.SystemMonitor
	journal     *storage.Journal

	running  atomic.Bool
	inFlight atomic.Int64
	slots    *semaphore.Weighted
	report   io.Writer
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New dials the node and the relay and builds a Manager around them.
func New(ctx context.Context, cfg *config.Config, secrets *config.SecureConfig, logger *zap.Logger) (*Manager, error) {
	key, err := ParseKey(secrets.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}

	var authKey *ecdsa.PrivateKey
	if secrets.FlashbotsKey != "" {
		if authKey, err = ParseKey(secrets.FlashbotsKey); err != nil {
			return nil, fmt.Errorf("invalid relay auth key: %w", err)
		}
	} else {
		if authKey, err = crypto.GenerateKey(); err != nil {
			return nil, fmt.Errorf("failed to generate relay auth key: %w", err)
		}
		logger.Warn("No relay auth key configured, using an ephemeral one")
	}

	client, err := mempool.DialChainClient(ctx, cfg.WSEndpoint)
	if err != nil {
		return nil, err
	}

	var journal *storage.Journal
	if cfg.JournalPath != "" {
		if journal, err = storage.Open(cfg.JournalPath); err != nil {
			client.Close()
			return nil, err
		}
	}

	set := metrics.NewSet()
	relay := flashbots.NewClient(
		cfg.FlashbotsRelayURL,
		authKey,
		cfg.RelayTimeout,
		cfg.RelayRateLimit.Limiter(),
		cfg.CircuitBreaker.Settings("relay", logger),
		set.Relay,
		logger,
	)
	logger.Info("Relay configured",
		zap.String("url", cfg.FlashbotsRelayURL),
		zap.Stringer("auth_address", relay.AuthAddress()))

	return NewManager(cfg, Deps{Chain: client, Relay: relay, Journal: journal}, key, set, logger)
}

// NewManager wires the pipeline against deps.
func NewManager(cfg *config.Config, deps Deps, key *ecdsa.PrivateKey, set *metrics.Set, logger *zap.Logger) (*Manager, error) {
	extra, err := cfg.RouterInfos()
	if err != nil {
		return nil, err
	}
	registry, err := dex.NewRegistry(extra...)
	if err != nil {
		return nil, fmt.Errorf("failed to build router registry: %w", err)
	}

	seen, err := mempool.NewSeenCache(&mempool.SeenCacheConfig{
		MaxSize:       cfg.SeenCacheSize,
		EvictionTime:  cfg.SeenTTL,
		PruneInterval: cfg.SeenTTL / 2,
	}, logger.Named("seen"))
	if err != nil {
		return nil, err
	}

	pairs, err := uniswap.NewPairReader(deps.Chain, pairCacheSize, cfg.CircuitBreaker.Settings("pairs", logger), logger.Named("pairs"))
	if err != nil {
		return nil, err
	}
	analyzer, err := sandwich.NewAnalyzer(pairs, logger)
	if err != nil {
		return nil, err
	}
	builder, err := sandwich.NewBuilder(cfg)
	if err != nil {
		return nil, err
	}

	stats := sandwich.NewStats()
	estimator := gas.NewEstimator(deps.Chain, cfg.CircuitBreaker.Settings("gas", logger), 2*cfg.GasRefreshInterval, set.Gas, logger)

	m := &Manager{
		cfg:         cfg,
		logger:      logger.Named("manager"),
		key:         key,
		metrics:     set,
		seen:        seen,
		monitor:     mempool.NewMonitor(cfg, deps.Chain, registry, seen, set.Mempool, logger),
		estimator:   estimator,
		coordinator: sandwich.NewCoordinator(cfg, analyzer, sandwich.NewSizer(cfg, logger), estimator, stats, set.Sandwich, logger),
		builder:     builder,
		executor:    sandwich.NewExecutor(cfg, deps.Chain, deps.Relay, estimator, key, stats, set.Sandwich, logger),
		stats:       stats,
		system:      sysmon.NewSystemMonitor(set.Registry, set.Sandwich.QueueDepth, logger),
		journal:     deps.Journal,
		slots:       semaphore.NewWeighted(int64(cfg.MaxConcurrentBundles)),
		report:      os.Stdout,
		now:         time.Now,
	}

	m.system.Watch("pending", m.monitor.Pending)
	m.system.Watch("opportunities", m.coordinator.Pending)
	m.system.Watch("executing", func() int { return int(m.inFlight.Load()) })
	return m, nil
}

// ParseKey decodes a hex private key with or without the 0x prefix.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
}

// Start spawns every worker and returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.group != nil {
		return fmt.Errorf("manager already started")
	}

	m.logger.Info("Starting sandwich bot",
		zap.Stringer("signer", crypto.PubkeyToAddress(m.key.PublicKey)),
		zap.Stringer("contract", m.cfg.Contract()),
		zap.Int("analysis_workers", m.cfg.AnalysisWorkers),
		zap.Int("max_concurrent_bundles", m.cfg.MaxConcurrentBundles))

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	m.cancel = cancel
	m.group = g
	m.running.Store(true)

	g.Go(func() error { return m.monitor.Run(gctx, &m.running) })
	g.Go(func() error { return m.estimator.Run(gctx, m.cfg.GasRefreshInterval) })
	g.Go(func() error {
		defer m.monitor.Discard()
		return m.coordinator.Run(gctx, m.monitor.Out(), &m.running)
	})
	g.Go(func() error { return m.executionLoop(gctx) })
	g.Go(func() error { return m.reportLoop(gctx) })
	g.Go(func() error { return m.system.Run(gctx, sampleInterval, m.cfg.StatsInterval) })
	g.Go(func() error {
		m.seen.StartPruning(gctx)
		return nil
	})
	if m.cfg.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, m.cfg.MetricsAddr, m.metrics.Registry, m.logger) })
	}
	return nil
}

// Done is closed once any worker fails or the start context ends.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.group == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	done := make(chan struct{})
	g := m.group
	go func() {
		_ = g.Wait()
		close(done)
	}()
	return done
}

// Stop clears the running flag, waits for in-flight work and flushes the
// final statistics.
func (m *Manager) Stop() error {
	m.mu.Lock()
	g, cancel := m.group, m.cancel
	m.mu.Unlock()
	if g == nil {
		return nil
	}

	m.logger.Info("Stopping sandwich bot...")
	m.running.Store(false)
	cancel()
	err := g.Wait()

	m.PrintStats()
	if m.journal != nil {
		if cerr := m.journal.Close(); cerr != nil {
			m.logger.Warn("Failed to close journal", zap.Error(cerr))
		}
	}
	return err
}

// Run starts the manager and blocks until ctx ends or a worker fails.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-m.Done():
	}
	return m.Stop()
}

// GetStats returns a snapshot of the aggregated counters.
func (m *Manager) GetStats() types.SandwichStats {
	return m.stats.Snapshot()
}

// PrintStats writes the current statistics table and logs a summary.
func (m *Manager) PrintStats() {
	snap := m.stats.Snapshot()
	sandwich.RenderStats(m.report, snap)
	m.logger.Info("Statistics",
		zap.Uint64("detected", snap.OpportunitiesDetected),
		zap.Uint64("analyzed", snap.OpportunitiesAnalyzed),
		zap.Uint64("submitted", snap.BundlesSubmitted),
		zap.Uint64("included", snap.BundlesIncluded),
		zap.Uint64("aborted", snap.BundlesAborted),
		zap.Uint64("successes", snap.Successes),
		zap.Uint64("failures", snap.Failures),
		zap.Float64("success_rate", snap.SuccessRate),
		zap.Duration("uptime", snap.Uptime))
}

func (m *Manager) reportLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.PrintStats()
		}
	}
}

// executionLoop runs opportunities through the builder and executor with
// at most max_concurrent_bundles in flight. Opportunities that expire while
// waiting for a slot are dropped.
func (m *Manager) executionLoop(ctx context.Context) error {
	defer m.coordinator.Discard()
	defer func() {
		// Wait for in-flight executions; their poll loops are bounded
		_ = m.slots.Acquire(context.Background(), int64(m.cfg.MaxConcurrentBundles))
		m.slots.Release(int64(m.cfg.MaxConcurrentBundles))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case opp, ok := <-m.coordinator.Out():
			if !ok {
				return nil
			}
			if !m.running.Load() || m.expired(opp) {
				continue
			}
			if err := m.slots.Acquire(ctx, 1); err != nil {
				return nil
			}
			if m.expired(opp) {
				m.slots.Release(1)
				continue
			}

			m.inFlight.Add(1)
			go func(opp *types.SandwichOpportunity) {
				defer func() {
					m.inFlight.Add(-1)
					m.slots.Release(1)
				}()
				m.handle(ctx, opp)
			}(opp)
		}
	}
}

func (m *Manager) expired(opp *types.SandwichOpportunity) bool {
	if !opp.Expired(m.now()) {
		return false
	}
	m.metrics.Sandwich.Expired.WithLabelValues("opportunity").Inc()
	m.logger.Debug("Dropping expired opportunity", zap.String("id", opp.ID))
	return true
}

// handle builds and executes one opportunity and journals the result.
func (m *Manager) handle(ctx context.Context, opp *types.SandwichOpportunity) *types.SandwichExecutionResult {
	bundle, err := m.builder.Build(opp)
	if err != nil {
		m.metrics.Sandwich.Rejections.WithLabelValues("bundle_invalid").Inc()
		m.logger.Warn("Failed to build bundle", zap.String("id", opp.ID), zap.Error(err))
		return nil
	}

	result := m.executor.Execute(ctx, bundle)
	if m.journal != nil {
		if err := m.journal.Record(context.WithoutCancel(ctx), result); err != nil {
			m.logger.Warn("Failed to journal result", zap.String("id", opp.ID), zap.Error(err))
		}
	}
	return result
}
