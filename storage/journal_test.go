package storage

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/sandwichbot/types"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordAndRecent(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	profit, _ := new(big.Int).SetString("588800000000000000123", 10)
	included := &types.SandwichExecutionResult{
		OpportunityID:  "first",
		BundleHash:     "0xb0b",
		FrontRunTx:     common.HexToHash("0x0f"),
		BackRunTx:      common.HexToHash("0x0b"),
		Success:        true,
		ActualProfit:   profit,
		GasCost:        big.NewInt(9_000_000_000_000_000),
		NetProfit:      new(big.Int).Sub(profit, big.NewInt(9_000_000_000_000_000)),
		Latency:        1500 * time.Millisecond,
		TargetBlock:    101,
		InclusionBlock: 101,
		CompletedAt:    base,
	}
	exposed := &types.SandwichExecutionResult{
		OpportunityID: "second",
		Error:         "back-run reverted",
		Exposed:       true,
		TargetBlock:   102,
		CompletedAt:   base.Add(time.Minute),
	}
	require.NoError(t, j.Record(ctx, included))
	require.NoError(t, j.Record(ctx, exposed))

	results, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Newest first
	assert.Equal(t, "second", results[0].OpportunityID)
	assert.True(t, results[0].Exposed)
	assert.False(t, results[0].Success)
	assert.Equal(t, "back-run reverted", results[0].Error)
	assert.Zero(t, results[0].NetProfit.Sign())
	assert.Equal(t, common.Hash{}, results[0].FrontRunTx)

	got := results[1]
	assert.True(t, got.Success)
	assert.Equal(t, included.BundleHash, got.BundleHash)
	assert.Equal(t, included.FrontRunTx, got.FrontRunTx)
	assert.Equal(t, included.BackRunTx, got.BackRunTx)
	assert.Equal(t, profit.String(), got.ActualProfit.String())
	assert.Equal(t, included.NetProfit.String(), got.NetProfit.String())
	assert.Equal(t, included.Latency, got.Latency)
	assert.Equal(t, uint64(101), got.InclusionBlock)
	assert.True(t, base.Equal(got.CompletedAt))
}

func TestJournalRecentLimit(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Record(ctx, &types.SandwichExecutionResult{
			OpportunityID: fmt.Sprintf("opp-%d", i),
			CompletedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	results, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "opp-4", results[0].OpportunityID)
	assert.Equal(t, "opp-3", results[1].OpportunityID)
}

func TestJournalPrune(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 4; i++ {
		require.NoError(t, j.Record(ctx, &types.SandwichExecutionResult{
			OpportunityID: fmt.Sprintf("opp-%d", i),
			CompletedAt:   base.Add(time.Duration(i) * time.Hour),
		}))
	}

	pruned, err := j.Prune(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	results, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestJournalReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, &types.SandwichExecutionResult{OpportunityID: "kept", CompletedAt: time.Now()}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	results, err := j.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept", results[0].OpportunityID)
}
