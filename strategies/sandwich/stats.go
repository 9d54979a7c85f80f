package sandwich

import (
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/michaelpento.lv/sandwichbot/types"
	bmath "github.com/michaelpento.lv/sandwichbot/utils/math"
)

// Stats aggregates pipeline counters. Every update holds the lock for the
// single update only.
type Stats struct {
	mu sync.Mutex

	detected  uint64
	analyzed  uint64
	submitted uint64
	included  uint64
	aborted   uint64
	successes uint64
	failures  uint64
	profit    *big.Int
	gasCost   *big.Int
	startedAt time.Time

	now func() time.Time
}

func NewStats() *Stats {
	s := &Stats{now: time.Now}
	s.Reset()
	return s
}

func (s *Stats) RecordDetected() {
	s.mu.Lock()
	s.detected++
	s.mu.Unlock()
}

func (s *Stats) RecordAnalyzed() {
	s.mu.Lock()
	s.analyzed++
	s.mu.Unlock()
}

func (s *Stats) RecordBundleSubmitted() {
	s.mu.Lock()
	s.submitted++
	s.mu.Unlock()
}

// RecordBundleAborted counts a bundle dropped before it reached the relay.
func (s *Stats) RecordBundleAborted() {
	s.mu.Lock()
	s.aborted++
	s.mu.Unlock()
}

func (s *Stats) RecordBundleIncluded() {
	s.mu.Lock()
	s.included++
	s.mu.Unlock()
}

// RecordSuccess adds a settled profitable bundle.
func (s *Stats) RecordSuccess(profit, gasCost *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes++
	s.profit.Add(s.profit, bmath.Clone(profit))
	s.gasCost.Add(s.gasCost, bmath.Clone(gasCost))
}

func (s *Stats) RecordFailure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

// Reset zeroes every counter and restarts the uptime clock.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detected, s.analyzed, s.submitted, s.included, s.aborted = 0, 0, 0, 0, 0
	s.successes, s.failures = 0, 0
	s.profit = new(big.Int)
	s.gasCost = new(big.Int)
	s.startedAt = s.now()
}

// Snapshot returns an immutable copy with the derived ratios filled in.
func (s *Stats) Snapshot() types.SandwichStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := types.SandwichStats{
		OpportunitiesDetected: s.detected,
		OpportunitiesAnalyzed: s.analyzed,
		BundlesSubmitted:      s.submitted,
		BundlesIncluded:       s.included,
		BundlesAborted:        s.aborted,
		Successes:             s.successes,
		Failures:              s.failures,
		TotalProfit:           new(big.Int).Set(s.profit),
		TotalGasCost:          new(big.Int).Set(s.gasCost),
		NetProfit:             new(big.Int).Sub(s.profit, s.gasCost),
		AvgProfit:             new(big.Int),
		StartedAt:             s.startedAt,
		Uptime:                s.now().Sub(s.startedAt),
	}
	if settled := s.successes + s.failures; settled > 0 {
		snap.SuccessRate = float64(s.successes) / float64(settled)
	}
	if s.successes > 0 {
		snap.AvgProfit.Quo(s.profit, new(big.Int).SetUint64(s.successes))
	}
	return snap
}

// Print renders the current snapshot as a table.
func (s *Stats) Print(w io.Writer) {
	RenderStats(w, s.Snapshot())
}
