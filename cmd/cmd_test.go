package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/sandwichbot/cmd/bot"
	"github.com/michaelpento.lv/sandwichbot/config"
	"github.com/michaelpento.lv/sandwichbot/storage"
	"github.com/michaelpento.lv/sandwichbot/types"
	"github.com/michaelpento.lv/sandwichbot/utils/testutils"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func writeConfig(t *testing.T, journal string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sandwich.yaml")
	body := "chain_id: 5\njournal_path: " + journal + "\nmax_concurrent_bundles: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestKeygen(t *testing.T) {
	out := execute(t, "keygen")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	prefix := config.EnvFlashbotsAuthKey + "="
	require.True(t, strings.HasPrefix(lines[0], prefix))
	key, err := bot.ParseKey(strings.TrimPrefix(lines[0], prefix))
	require.NoError(t, err)
	assert.Contains(t, lines[1], crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func TestConfigDump(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "journal.db")
	out := execute(t, "config", "dump", "--config", writeConfig(t, journal))

	var settings map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &settings))
	assert.Equal(t, 5, settings["chain_id"])
	assert.Equal(t, 3, settings["max_concurrent_bundles"])
	assert.Equal(t, journal, settings["journal_path"])
}

func TestHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	journal, err := storage.Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, journal.Record(ctx, &types.SandwichExecutionResult{
		OpportunityID:  "old",
		Success:        true,
		NetProfit:      testutils.Ether(1),
		TargetBlock:    100,
		InclusionBlock: 100,
		CompletedAt:    now.Add(-48 * time.Hour),
	}))
	require.NoError(t, journal.Record(ctx, &types.SandwichExecutionResult{
		OpportunityID: "recent",
		Error:         "not_included",
		TargetBlock:   200,
		CompletedAt:   now,
	}))
	require.NoError(t, journal.Close())

	cfg := writeConfig(t, path)
	out := execute(t, "history", "--config", cfg, "-n", "10")
	assert.Contains(t, out, "old")
	assert.Contains(t, out, "recent")
	assert.Contains(t, out, "not_included")

	out = execute(t, "history", "--config", cfg, "-n", "10", "--prune", "24h")
	assert.Contains(t, out, "Pruned 1 executions")
	assert.Contains(t, out, "recent")
	assert.NotContains(t, out, "old")
}
