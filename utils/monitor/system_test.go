package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/sandwichbot/utils/metrics"
)

func TestSystemMonitorCollect(t *testing.T) {
	reg := prometheus.NewRegistry()
	sandwich := metrics.NewSandwichMetrics(reg)
	mon := NewSystemMonitor(reg, sandwich.QueueDepth, zaptest.NewLogger(t))

	var depth atomic.Int64
	depth.Store(7)
	mon.Watch("opportunities", func() int { return int(depth.Load()) })
	mon.Watch("pending", func() int { return 3 })

	sample := mon.Collect()
	assert.Greater(t, sample.Goroutines, 0)
	assert.Greater(t, sample.HeapAlloc, uint64(0))
	assert.Greater(t, sample.MemUsage, 0.0)
	assert.GreaterOrEqual(t, sample.GCPause, time.Duration(0))
	assert.Equal(t, map[string]int{"opportunities": 7, "pending": 3}, sample.Queues)

	assert.Equal(t, 7.0, testutil.ToFloat64(sandwich.QueueDepth.WithLabelValues("opportunities")))
	assert.Equal(t, float64(sample.Goroutines), testutil.ToFloat64(mon.metrics.goroutines))

	depth.Store(0)
	mon.Collect()
	assert.Zero(t, testutil.ToFloat64(sandwich.QueueDepth.WithLabelValues("opportunities")))
}

func TestSystemMonitorWithoutQueueGauge(t *testing.T) {
	mon := NewSystemMonitor(prometheus.NewRegistry(), nil, zap.NewNop())
	mon.Watch("pending", func() int { return 1 })
	assert.Equal(t, 1, mon.Collect().Queues["pending"])
}

func TestSystemMonitorRun(t *testing.T) {
	mon := NewSystemMonitor(prometheus.NewRegistry(), nil, zaptest.NewLogger(t))

	var calls atomic.Int32
	mon.Watch("pending", func() int { return int(calls.Add(1)) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx, 5*time.Millisecond, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func BenchmarkSystemMonitorCollect(b *testing.B) {
	mon := NewSystemMonitor(prometheus.NewRegistry(), nil, zap.NewNop())
	mon.Watch("pending", func() int { return 0 })

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mon.Collect()
	}
}
