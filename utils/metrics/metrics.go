package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Namespace prefixes every collector exported by the bot.
const Namespace = "sandwich"

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

type MempoolMetrics struct {
	Observed   prometheus.Counter
	Matched    prometheus.Counter
	Filtered   *prometheus.CounterVec
	Duplicates prometheus.Counter
	Dropped    prometheus.Counter
	GasPrice   prometheus.Histogram
}

func NewMempoolMetrics(reg prometheus.Registerer) *MempoolMetrics {
	factory := promauto.With(reg)
	return &MempoolMetrics{
		Observed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mempool",
			Name:      "observed_total",
			Help:      "Pending transactions fetched from the feed",
		}),
		Matched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mempool",
			Name:      "matched_total",
			Help:      "Pending transactions sent to a known router",
		}),
		Filtered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mempool",
			Name:      "filtered_total",
			Help:      "Pending transactions rejected by a cheap filter",
		}, []string{"reason"}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mempool",
			Name:      "duplicates_total",
			Help:      "Pending transaction hashes seen more than once",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mempool",
			Name:      "dropped_total",
			Help:      "Pending transactions dropped because lookups were saturated",
		}),
		GasPrice: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "mempool",
			Name:      "matched_gas_price_gwei",
			Help:      "Gas price of matched swaps",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

type SandwichMetrics struct {
	Analyzed         prometheus.Counter
	Rejections       *prometheus.CounterVec
	Opportunities    prometheus.Counter
	Expired          *prometheus.CounterVec
	Bundles          *prometheus.CounterVec
	ProfitETH        prometheus.Counter
	GasCostETH       prometheus.Counter
	ExposedPositions prometheus.Counter
	ExecutionLatency prometheus.Histogram
	QueueDepth       *prometheus.GaugeVec
}

func NewSandwichMetrics(reg prometheus.Registerer) *SandwichMetrics {
	factory := promauto.With(reg)
	return &SandwichMetrics{
		Analyzed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "analyzed_total",
			Help:      "Pending swaps decoded and analyzed",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rejections_total",
			Help:      "Candidates rejected by the analysis or sizing funnel",
		}, []string{"reason"}),
		Opportunities: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "opportunities_total",
			Help:      "Sized opportunities emitted for execution",
		}),
		Expired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "expired_total",
			Help:      "Items dropped after their deadline",
		}, []string{"stage"}),
		Bundles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bundles_total",
			Help:      "Terminal bundle outcomes",
		}, []string{"outcome"}),
		ProfitETH: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "profit_eth_total",
			Help:      "Gross profit of included bundles in ETH",
		}),
		GasCostETH: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "gas_cost_eth_total",
			Help:      "Gas spent by included bundles in ETH",
		}),
		ExposedPositions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "exposed_positions_total",
			Help:      "Front-runs included without their back-run",
		}),
		ExecutionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "execution_latency_seconds",
			Help:      "Time from submission to terminal outcome",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_depth",
			Help:      "Items waiting in a pipeline queue",
		}, []string{"queue"}),
	}
}

type RelayMetrics struct {
	Requests *prometheus.CounterVec
	Latency  prometheus.Histogram
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	factory := promauto.With(reg)
	return &RelayMetrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Relay JSON-RPC requests by method and status",
		}, []string{"method", "status"}),
		Latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "latency_seconds",
			Help:      "Relay request latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
}

type GasMetrics struct {
	BaseFeeGwei prometheus.Gauge
	TipGwei     prometheus.Gauge
	Errors      prometheus.Counter
}

func NewGasMetrics(reg prometheus.Registerer) *GasMetrics {
	factory := promauto.With(reg)
	return &GasMetrics{
		BaseFeeGwei: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "gas",
			Name:      "base_fee_gwei",
			Help:      "Latest observed base fee",
		}),
		TipGwei: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "gas",
			Name:      "tip_gwei",
			Help:      "Latest suggested priority fee",
		}),
		Errors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "gas",
			Name:      "errors_total",
			Help:      "Failed gas oracle refreshes",
		}),
	}
}

// Set bundles every collector the pipeline records into.
type Set struct {
	Registry *prometheus.Registry
	Mempool  *MempoolMetrics
	Sandwich *SandwichMetrics
	Relay    *RelayMetrics
	Gas      *GasMetrics
}

// NewSet creates a fresh registry and registers every collector on it.
func NewSet() *Set {
	reg := NewRegistry()
	return &Set{
		Registry: reg,
		Mempool:  NewMempoolMetrics(reg),
		Sandwich: NewSandwichMetrics(reg),
		Relay:    NewRelayMetrics(reg),
		Gas:      NewGasMetrics(reg),
	}
}

// Handler exposes a registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Serve runs the /metrics endpoint until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}
