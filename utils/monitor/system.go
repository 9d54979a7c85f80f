package monitor

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/sandwichbot/utils/metrics"
)

// DepthFunc reports how many items wait in a pipeline queue.
type DepthFunc func() int

// Sample is one reading of the runtime and the watched queues.
type Sample struct {
	Goroutines  int
	HeapObjects uint64
	HeapAlloc   uint64
	// MemUsage is allocated heap as a percentage of memory obtained from the OS.
	MemUsage float64
	GCPause  time.Duration
	Queues   map[string]int
}

// SystemMonitor samples runtime statistics and queue depths into gauges.
type SystemMonitor struct {
	logger  *zap.Logger
	metrics struct {
		memUsage    prometheus.Gauge
		goroutines  prometheus.Gauge
		heapObjects prometheus.Gauge
		heapAlloc   prometheus.Gauge
		gcPause     prometheus.Gauge
		queueDepth  *prometheus.GaugeVec
	}

	mu     sync.RWMutex
	queues map[string]DepthFunc
}

// NewSystemMonitor registers the runtime gauges on reg. Queue depths are
// written to queueDepth, labelled by queue name.
func NewSystemMonitor(reg prometheus.Registerer, queueDepth *prometheus.GaugeVec, logger *zap.Logger) *SystemMonitor {
	factory := promauto.With(reg)
	m := &SystemMonitor{
		logger: logger.Named("system"),
		queues: make(map[string]DepthFunc),
	}

	m.metrics.memUsage = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "system",
		Name:      "memory_usage_percent",
		Help:      "Heap in use as a percentage of memory obtained from the OS",
	})
	m.metrics.goroutines = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "system",
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	})
	m.metrics.heapObjects = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "system",
		Name:      "heap_objects",
		Help:      "Current number of heap objects",
	})
	m.metrics.heapAlloc = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "system",
		Name:      "heap_alloc_bytes",
		Help:      "Current heap allocation in bytes",
	})
	m.metrics.gcPause = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "system",
		Name:      "gc_pause_seconds",
		Help:      "Duration of the most recent GC pause",
	})
	m.metrics.queueDepth = queueDepth

	return m
}

// Watch adds a queue to every subsequent sample.
func (m *SystemMonitor) Watch(name string, depth DepthFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[name] = depth
}

// Run samples every interval until ctx is done. Each report interval it
// also logs the latest sample.
func (m *SystemMonitor) Run(ctx context.Context, interval, report time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastReport time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			sample := m.Collect()
			if report > 0 && now.Sub(lastReport) >= report {
				lastReport = now
				m.log(sample)
			}
		}
	}
}

// Collect takes one sample and updates the gauges.
func (m *SystemMonitor) Collect() Sample {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sample := Sample{
		Goroutines:  runtime.NumGoroutine(),
		HeapObjects: memStats.HeapObjects,
		HeapAlloc:   memStats.HeapAlloc,
		GCPause:     time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256]),
		Queues:      make(map[string]int),
	}
	if memStats.Sys > 0 {
		sample.MemUsage = float64(memStats.Alloc) / float64(memStats.Sys) * 100
	}

	m.metrics.memUsage.Set(sample.MemUsage)
	m.metrics.goroutines.Set(float64(sample.Goroutines))
	m.metrics.heapObjects.Set(float64(sample.HeapObjects))
	m.metrics.heapAlloc.Set(float64(sample.HeapAlloc))
	m.metrics.gcPause.Set(sample.GCPause.Seconds())

	m.mu.RLock()
	for name, depth := range m.queues {
		sample.Queues[name] = depth()
	}
	m.mu.RUnlock()

	if m.metrics.queueDepth != nil {
		for name, depth := range sample.Queues {
			m.metrics.queueDepth.WithLabelValues(name).Set(float64(depth))
		}
	}
	return sample
}

func (m *SystemMonitor) log(s Sample) {
	names := make([]string, 0, len(s.Queues))
	for name := range s.Queues {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := []zap.Field{
		zap.Int("goroutines", s.Goroutines),
		zap.Uint64("heap_alloc", s.HeapAlloc),
		zap.Float64("mem_usage_pct", s.MemUsage),
		zap.Duration("gc_pause", s.GCPause),
	}
	for _, name := range names {
		fields = append(fields, zap.Int("queue_"+name, s.Queues[name]))
	}
	m.logger.Info("System stats", fields...)
}
