package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/sandwichbot/dex"
	"github.com/michaelpento.lv/sandwichbot/types"
	bmath "github.com/michaelpento.lv/sandwichbot/utils/math"
)

// EnvPrefix prefixes every environment override, e.g. SANDWICH_MIN_PROFIT_ETH.
const EnvPrefix = "SANDWICH"

type Config struct {
	// Chain and network settings
	ChainID      uint64        `mapstructure:"chain_id"`
	WSEndpoint   string        `mapstructure:"ws_endpoint"`
	HTTPEndpoint string        `mapstructure:"http_endpoint"`
	RPCTimeout   time.Duration `mapstructure:"rpc_timeout"`

	// Mempool filters
	MinValueETH     string  `mapstructure:"min_value_eth"`
	MaxGasPriceGwei float64 `mapstructure:"max_gas_price_gwei"`

	// Sizing thresholds
	MinProfitETH        string     `mapstructure:"min_profit_eth"`
	MinProfitPercentage float64    `mapstructure:"min_profit_percentage"`
	MaxPriceImpact      float64    `mapstructure:"max_price_impact"`
	KellyRiskFactor     float64    `mapstructure:"kelly_risk_factor"`
	GasPerTx            uint64     `mapstructure:"gas_per_tx"`
	MaxBundleGas        uint64     `mapstructure:"max_bundle_gas"`
	PriorityFeeGwei     TierConfig `mapstructure:"priority_fee_gwei"`
	GasMultiplier       TierConfig `mapstructure:"gas_multiplier"`
	SuccessProbability  TierConfig `mapstructure:"success_probability"`

	// Execution
	FrontRunPriorityFeeGwei float64       `mapstructure:"front_run_priority_fee_gwei"`
	BackRunPriorityFeeGwei  float64       `mapstructure:"back_run_priority_fee_gwei"`
	UniswapV3FeeTier        uint32        `mapstructure:"uniswap_v3_fee_tier"`
	DeadlineSecs            uint64        `mapstructure:"deadline_secs"`
	MaxWaitBlocks           uint64        `mapstructure:"max_wait_blocks"`
	PollInterval            time.Duration `mapstructure:"poll_interval"`
	BlockTime               time.Duration `mapstructure:"block_time"`
	ContractAddress         string        `mapstructure:"contract_address"`
	FlashbotsRelayURL       string        `mapstructure:"flashbots_relay_url"`
	RelayTimeout            time.Duration `mapstructure:"relay_timeout"`
	SimulateBundles         bool          `mapstructure:"simulate_bundles"`
	MaxConcurrentBundles    int           `mapstructure:"max_concurrent_bundles"`

	// Pipeline timing
	PendingTTL           time.Duration `mapstructure:"pending_ttl"`
	OpportunityTTL       time.Duration `mapstructure:"opportunity_ttl"`
	AnalysisTimeout      time.Duration `mapstructure:"analysis_timeout"`
	AnalysisWorkers      int           `mapstructure:"analysis_workers"`
	GasRefreshInterval   time.Duration `mapstructure:"gas_refresh_interval"`
	StatsInterval        time.Duration `mapstructure:"stats_interval"`
	MonitorStatsInterval time.Duration `mapstructure:"monitor_stats_interval"`
	SeenCacheSize        int           `mapstructure:"seen_cache_size"`
	SeenTTL              time.Duration `mapstructure:"seen_ttl"`
	LookupWorkers        int           `mapstructure:"lookup_workers"`

	// Resilience
	CircuitBreaker  CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RelayRateLimit  RateLimitConfig      `mapstructure:"relay_rate_limit"`
	LookupRateLimit RateLimitConfig      `mapstructure:"lookup_rate_limit"`

	// Outputs
	JournalPath string `mapstructure:"journal_path"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogFile     string `mapstructure:"log_file"`
	Debug       bool   `mapstructure:"debug"`

	Routers []RouterConfig `mapstructure:"routers"`

	// Derived by Validate
	minValue    *big.Int
	minProfit   *big.Int
	maxGasPrice *big.Int
	settings    map[string]interface{}
}

// TierConfig holds one value per competition level.
type TierConfig struct {
	Low      float64 `mapstructure:"low"`
	Medium   float64 `mapstructure:"medium"`
	High     float64 `mapstructure:"high"`
	Critical float64 `mapstructure:"critical"`
}

// For returns the value configured for level.
func (t TierConfig) For(level types.CompetitionLevel) float64 {
	switch level {
	case types.CompetitionMedium:
		return t.Medium
	case types.CompetitionHigh:
		return t.High
	case types.CompetitionCritical:
		return t.Critical
	default:
		return t.Low
	}
}

type CircuitBreakerConfig struct {
	ErrorThreshold uint32        `mapstructure:"error_threshold"`
	ResetInterval  time.Duration `mapstructure:"reset_interval"`
	CooldownPeriod time.Duration `mapstructure:"cooldown_period"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// RouterConfig registers an extra V2-style router.
type RouterConfig struct {
	Name    string `mapstructure:"name"`
	Family  string `mapstructure:"family"`
	Router  string `mapstructure:"router"`
	Factory string `mapstructure:"factory"`
	FeeBps  uint32 `mapstructure:"fee_bps"`
}

// Load reads the optional config file, then SANDWICH_ environment
// overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sandwich")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.settings = v.AllSettings()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults registers every key so environment overrides are visible to
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("chain_id", 1)
	v.SetDefault("ws_endpoint", "ws://localhost:8546")
	v.SetDefault("http_endpoint", "http://localhost:8545")
	v.SetDefault("rpc_timeout", 5*time.Second)

	v.SetDefault("min_value_eth", "0")
	v.SetDefault("max_gas_price_gwei", 200)

	v.SetDefault("min_profit_eth", "0.01")
	v.SetDefault("min_profit_percentage", 0.02)
	v.SetDefault("max_price_impact", 0.05)
	v.SetDefault("kelly_risk_factor", 0.5)
	v.SetDefault("gas_per_tx", 200000)
	v.SetDefault("max_bundle_gas", 2000000)
	setTier(v, "priority_fee_gwei", 1, 2, 5, 10)
	setTier(v, "gas_multiplier", 1.1, 1.3, 1.5, 2.0)
	setTier(v, "success_probability", 0.85, 0.65, 0.40, 0.20)

	v.SetDefault("front_run_priority_fee_gwei", 5)
	v.SetDefault("back_run_priority_fee_gwei", 2)
	v.SetDefault("uniswap_v3_fee_tier", 3000)
	v.SetDefault("deadline_secs", 300)
	v.SetDefault("max_wait_blocks", 3)
	v.SetDefault("poll_interval", 3*time.Second)
	v.SetDefault("block_time", 12*time.Second)
	v.SetDefault("contract_address", common.Address{}.Hex())
	v.SetDefault("flashbots_relay_url", "https://relay.flashbots.net")
	v.SetDefault("relay_timeout", 3*time.Second)
	v.SetDefault("simulate_bundles", false)
	v.SetDefault("max_concurrent_bundles", 4)

	v.SetDefault("pending_ttl", 6*time.Second)
	v.SetDefault("opportunity_ttl", 12*time.Second)
	v.SetDefault("analysis_timeout", 2*time.Second)
	v.SetDefault("analysis_workers", 1)
	v.SetDefault("gas_refresh_interval", 2*time.Second)
	v.SetDefault("stats_interval", 300*time.Second)
	v.SetDefault("monitor_stats_interval", 60*time.Second)
	v.SetDefault("seen_cache_size", 50000)
	v.SetDefault("seen_ttl", 10*time.Minute)
	v.SetDefault("lookup_workers", 8)

	v.SetDefault("circuit_breaker.error_threshold", 5)
	v.SetDefault("circuit_breaker.reset_interval", 60*time.Second)
	v.SetDefault("circuit_breaker.cooldown_period", 30*time.Second)
	v.SetDefault("relay_rate_limit.requests_per_second", 5)
	v.SetDefault("relay_rate_limit.burst_size", 10)
	v.SetDefault("lookup_rate_limit.requests_per_second", 200)
	v.SetDefault("lookup_rate_limit.burst_size", 400)

	v.SetDefault("journal_path", "sandwich.db")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_file", "")
	v.SetDefault("debug", false)
}

func setTier(v *viper.Viper, key string, low, medium, high, critical float64) {
	v.SetDefault(key+".low", low)
	v.SetDefault(key+".medium", medium)
	v.SetDefault(key+".high", high)
	v.SetDefault(key+".critical", critical)
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not unmarshal: %v", err))
	}
	cfg.settings = v.AllSettings()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config defaults are invalid: %v", err))
	}
	return &cfg
}

// Validate checks every field, collecting all problems into one error, and
// derives the wei thresholds.
func (c *Config) Validate() error {
	var errs []string

	if c.ChainID == 0 {
		errs = append(errs, "chain_id must be specified")
	}
	if c.WSEndpoint == "" {
		errs = append(errs, "ws_endpoint must be specified")
	}
	if c.HTTPEndpoint == "" {
		errs = append(errs, "http_endpoint must be specified")
	}

	var err error
	if c.minValue, err = bmath.ParseEther(c.MinValueETH); err != nil {
		errs = append(errs, fmt.Sprintf("min_value_eth: %v", err))
	}
	if c.minProfit, err = bmath.ParseEther(c.MinProfitETH); err != nil {
		errs = append(errs, fmt.Sprintf("min_profit_eth: %v", err))
	}
	if c.MaxGasPriceGwei <= 0 {
		errs = append(errs, "max_gas_price_gwei must be positive")
	} else {
		c.maxGasPrice = bmath.GweiToWei(c.MaxGasPriceGwei)
	}

	if c.MinProfitPercentage < 0 {
		errs = append(errs, "min_profit_percentage must not be negative")
	}
	if c.MaxPriceImpact <= 0 || c.MaxPriceImpact >= 1 {
		errs = append(errs, "max_price_impact must be in (0, 1)")
	}
	if c.KellyRiskFactor <= 0 || c.KellyRiskFactor > 1 {
		errs = append(errs, "kelly_risk_factor must be in (0, 1]")
	}
	if c.GasPerTx == 0 {
		errs = append(errs, "gas_per_tx must be positive")
	}
	if c.MaxBundleGas < 2*c.GasPerTx {
		errs = append(errs, "max_bundle_gas must cover two gas_per_tx")
	}
	if err := c.SuccessProbability.validateProbability(); err != nil {
		errs = append(errs, fmt.Sprintf("success_probability: %v", err))
	}
	if err := c.GasMultiplier.validateMonotonic(); err != nil {
		errs = append(errs, fmt.Sprintf("gas_multiplier: %v", err))
	}
	if err := c.PriorityFeeGwei.validateMonotonic(); err != nil {
		errs = append(errs, fmt.Sprintf("priority_fee_gwei: %v", err))
	}

	if c.FrontRunPriorityFeeGwei < c.BackRunPriorityFeeGwei {
		errs = append(errs, "front_run_priority_fee_gwei must be at least back_run_priority_fee_gwei")
	}
	if c.MaxWaitBlocks == 0 {
		errs = append(errs, "max_wait_blocks must be positive")
	}
	if c.PollInterval <= 0 || c.BlockTime <= 0 {
		errs = append(errs, "poll_interval and block_time must be positive")
	}
	if c.DeadlineSecs == 0 {
		errs = append(errs, "deadline_secs must be positive")
	}
	if c.ContractAddress != "" && !common.IsHexAddress(c.ContractAddress) {
		errs = append(errs, "contract_address is not a hex address")
	}
	if c.FlashbotsRelayURL == "" {
		errs = append(errs, "flashbots_relay_url must be specified")
	}
	if c.MaxConcurrentBundles <= 0 {
		errs = append(errs, "max_concurrent_bundles must be positive")
	}
	if c.AnalysisWorkers <= 0 {
		errs = append(errs, "analysis_workers must be positive")
	}
	if c.PendingTTL <= 0 || c.OpportunityTTL <= 0 {
		errs = append(errs, "pending_ttl and opportunity_ttl must be positive")
	}
	if c.StatsInterval <= 0 || c.MonitorStatsInterval <= 0 {
		errs = append(errs, "stats intervals must be positive")
	}
	if c.SeenCacheSize <= 0 || c.SeenTTL <= 0 {
		errs = append(errs, "seen_cache_size and seen_ttl must be positive")
	}
	if c.LookupWorkers <= 0 {
		errs = append(errs, "lookup_workers must be positive")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"rpc_timeout", c.RPCTimeout},
		{"relay_timeout", c.RelayTimeout},
		{"analysis_timeout", c.AnalysisTimeout},
		{"gas_refresh_interval", c.GasRefreshInterval},
	} {
		if d.value <= 0 {
			errs = append(errs, d.name+" must be positive")
		}
	}

	if err := c.CircuitBreaker.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("circuit breaker error: %v", err))
	}
	if err := c.RelayRateLimit.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("relay rate limit error: %v", err))
	}
	if err := c.LookupRateLimit.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("lookup rate limit error: %v", err))
	}
	if _, err := c.RouterInfos(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (t TierConfig) validateProbability() error {
	for _, p := range []float64{t.Low, t.Medium, t.High, t.Critical} {
		if p <= 0 || p >= 1 {
			return fmt.Errorf("probabilities must be in (0, 1)")
		}
	}
	return nil
}

func (t TierConfig) validateMonotonic() error {
	if t.Low <= 0 || t.Medium < t.Low || t.High < t.Medium || t.Critical < t.High {
		return fmt.Errorf("must be positive and non-decreasing from low to critical")
	}
	return nil
}

func (c *CircuitBreakerConfig) Validate() error {
	if c.ErrorThreshold == 0 {
		return fmt.Errorf("error threshold must be positive")
	}
	if c.ResetInterval <= 0 {
		return fmt.Errorf("reset interval must be positive")
	}
	if c.CooldownPeriod <= 0 {
		return fmt.Errorf("cooldown period must be positive")
	}
	return nil
}

// Settings builds breaker settings that trip after ErrorThreshold
// consecutive failures and log every state change.
func (c CircuitBreakerConfig) Settings(name string, logger *zap.Logger) gobreaker.Settings {
	threshold := c.ErrorThreshold
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    c.ResetInterval,
		Timeout:     c.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	return nil
}

// Limiter builds a token bucket from the configured rate and burst.
func (r RateLimitConfig) Limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(r.RequestsPerSecond), r.BurstSize)
}

// RouterInfos converts the extra router entries into registry entries.
func (c *Config) RouterInfos() ([]dex.RouterInfo, error) {
	out := make([]dex.RouterInfo, 0, len(c.Routers))
	for i, r := range c.Routers {
		family, err := dex.ParseFamily(r.Family)
		if err != nil {
			return nil, fmt.Errorf("routers[%d]: %w", i, err)
		}
		if !family.V2Style() {
			return nil, fmt.Errorf("routers[%d]: family %s: %w", i, family, dex.ErrUnsupportedFamily)
		}
		if !common.IsHexAddress(r.Router) || !common.IsHexAddress(r.Factory) {
			return nil, fmt.Errorf("routers[%d]: router and factory must be hex addresses", i)
		}
		name := r.Name
		if name == "" {
			name = family.String()
		}
		info := dex.NewRouterInfo(name, family, common.HexToAddress(r.Router), common.HexToAddress(r.Factory))
		if r.FeeBps > 0 {
			info.FeeBps = r.FeeBps
		}
		out = append(out, info)
	}
	return out, nil
}

// MinValue is the monitor's value floor in wei.
func (c *Config) MinValue() *big.Int { return bmath.Clone(c.minValue) }

// MinProfit is the sizer's absolute profit floor in wei.
func (c *Config) MinProfit() *big.Int { return bmath.Clone(c.minProfit) }

// MaxGasPrice is the monitor's gas price ceiling in wei.
func (c *Config) MaxGasPrice() *big.Int { return bmath.Clone(c.maxGasPrice) }

// Contract is the executing contract address.
func (c *Config) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// YAML renders the effective settings.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.settings)
}
