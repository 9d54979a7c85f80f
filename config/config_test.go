package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/sandwichbot/dex"
	"github.com/michaelpento.lv/sandwichbot/types"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, uint64(1), cfg.ChainID)
	assert.Equal(t, "10000000000000000", cfg.MinProfit().String())
	assert.Equal(t, "0", cfg.MinValue().String())
	assert.Equal(t, "200000000000", cfg.MaxGasPrice().String())
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, uint32(5), cfg.CircuitBreaker.ErrorThreshold)
	assert.Equal(t, 0.65, cfg.SuccessProbability.For(types.CompetitionMedium))
	assert.Equal(t, 2.0, cfg.GasMultiplier.For(types.CompetitionCritical))
	assert.Equal(t, 1.0, cfg.PriorityFeeGwei.For(types.CompetitionLow))
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandwich.yaml")
	content := `
min_profit_eth: "0.05"
max_wait_blocks: 5
poll_interval: 1s
routers:
  - name: PancakeSwap
    family: pancakeswap
    router: "0x10ED43C718714eb63d5aA57B78B54704E256024E"
    factory: "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"
    fee_bps: 25
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SANDWICH_MAX_PRICE_IMPACT", "0.04")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "50000000000000000", cfg.MinProfit().String())
	assert.Equal(t, uint64(5), cfg.MaxWaitBlocks)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 0.04, cfg.MaxPriceImpact)

	routers, err := cfg.RouterInfos()
	require.NoError(t, err)
	require.Len(t, routers, 1)
	assert.Equal(t, dex.FamilyPancakeSwap, routers[0].Family)
	assert.Equal(t, uint32(25), routers[0].FeeBps)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "max_wait_blocks: 5")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.05, cfg.MaxPriceImpact)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.ChainID = 0
	cfg.MinProfitETH = "lots"
	cfg.MaxPriceImpact = 0
	cfg.FrontRunPriorityFeeGwei = 1
	cfg.BackRunPriorityFeeGwei = 2
	cfg.Routers = []RouterConfig{{Family: "uniswap_v3", Router: "0x01", Factory: "0x02"}}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "chain_id must be specified")
	assert.Contains(t, msg, "min_profit_eth")
	assert.Contains(t, msg, "max_price_impact")
	assert.Contains(t, msg, "front_run_priority_fee_gwei")
	assert.Contains(t, msg, "unsupported dex family")
	assert.Contains(t, msg, "; ")
}

func TestValidateRejectsNonPositiveDurations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"rpc_timeout", func(cfg *Config) { cfg.RPCTimeout = 0 }},
		{"relay_timeout", func(cfg *Config) { cfg.RelayTimeout = -time.Second }},
		{"analysis_timeout", func(cfg *Config) { cfg.AnalysisTimeout = 0 }},
		{"gas_refresh_interval", func(cfg *Config) { cfg.GasRefreshInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.name+" must be positive")
		})
	}
}

func TestLoadSecureConfig(t *testing.T) {
	t.Setenv(EnvPrivateKey, "")
	_, err := LoadSecureConfig()
	assert.Error(t, err)

	t.Setenv(EnvPrivateKey, "abcd")
	t.Setenv(EnvFlashbotsAuthKey, "")
	sec, err := LoadSecureConfig()
	require.NoError(t, err)
	assert.Equal(t, "abcd", sec.PrivateKey)
	assert.Empty(t, sec.FlashbotsKey)

	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env")))
}
