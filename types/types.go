package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/sandwichbot/dex"
)

// DecodedSwap is the normalized intent of a router call. Path always has at
// least two entries, TokenIn is Path[0] and TokenOut is the last entry.
type DecodedSwap struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Path         []common.Address
	Deadline     *big.Int
	// ExactOutput is set for swapTokensForExactTokens style calls, where
	// AmountIn is the victim's maximum input and MinAmountOut the exact output.
	ExactOutput bool
	// Fee is the V3 pool fee tier, zero for V2 style routers.
	Fee uint32
}

// CompetitionLevel grades how contested a target is.
type CompetitionLevel int

const (
	CompetitionLow CompetitionLevel = iota
	CompetitionMedium
	CompetitionHigh
	CompetitionCritical
)

func (c CompetitionLevel) String() string {
	switch c {
	case CompetitionLow:
		return "low"
	case CompetitionMedium:
		return "medium"
	case CompetitionHigh:
		return "high"
	case CompetitionCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// KellySizing is the output of the Kelly position sizer.
type KellySizing struct {
	KellyFraction    float64
	AdjustedFraction float64
	OptimalFraction  float64
	OptimalSize      *big.Int
	ExpectedValue    float64
	RiskOfRuin       float64
}

// SandwichOpportunity is a fully sized decision record.
type SandwichOpportunity struct {
	ID string

	TargetTx       common.Hash
	TargetRaw      []byte
	TargetGasPrice *big.Int
	TargetGas      uint64

	Router   common.Address
	Family   dex.Family
	TokenIn  common.Address
	TokenOut common.Address
	// Fee is the victim's V3 pool tier; zero means the router default.
	Fee uint32

	FrontRunAmount *big.Int
	BackRunAmount  *big.Int

	EstimatedProfit  *big.Int
	GasCost          *big.Int
	NetProfit        *big.Int
	ProfitPercentage float64

	SuccessProbability float64
	ExpectedValue      float64
	PriceImpact        float64
	SlippageTolerance  float64
	Competition        CompetitionLevel
	Kelly              KellySizing

	BaseGasPrice  *big.Int
	DetectedBlock uint64
	DetectedAt    time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the opportunity is past its deadline.
func (o *SandwichOpportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// BundleRole is the position of an entry within a sandwich bundle.
type BundleRole int

const (
	RoleFrontRun BundleRole = iota
	RoleVictim
	RoleBackRun
)

func (r BundleRole) String() string {
	switch r {
	case RoleFrontRun:
		return "front_run"
	case RoleVictim:
		return "victim"
	case RoleBackRun:
		return "back_run"
	default:
		return "unknown"
	}
}

// BundleEntry is one leg of a bundle. Front and back runs carry call data for
// the executing contract; the victim leg carries the hash and raw signed bytes.
type BundleEntry struct {
	Role   BundleRole
	Data   []byte
	TxHash common.Hash
	Raw    []byte
}

// SandwichBundle is the ordered [front-run, victim, back-run] triple.
type SandwichBundle struct {
	Opportunity *SandwichOpportunity
	Entries     []BundleEntry
	GasEstimate uint64
	BundleHash  string
	CreatedAt   time.Time
}

func (b *SandwichBundle) entry(role BundleRole) *BundleEntry {
	for i := range b.Entries {
		if b.Entries[i].Role == role {
			return &b.Entries[i]
		}
	}
	return nil
}

// FrontRun returns the front-run entry or nil.
func (b *SandwichBundle) FrontRun() *BundleEntry { return b.entry(RoleFrontRun) }

// Victim returns the victim entry or nil.
func (b *SandwichBundle) Victim() *BundleEntry { return b.entry(RoleVictim) }

// BackRun returns the back-run entry or nil.
func (b *SandwichBundle) BackRun() *BundleEntry { return b.entry(RoleBackRun) }

// SandwichExecutionResult is the terminal record of one bundle.
type SandwichExecutionResult struct {
	OpportunityID  string
	BundleHash     string
	FrontRunTx     common.Hash
	BackRunTx      common.Hash
	Success        bool
	ActualProfit   *big.Int
	GasCost        *big.Int
	NetProfit      *big.Int
	Latency        time.Duration
	TargetBlock    uint64
	InclusionBlock uint64
	Error          string
	// Exposed marks a front-run that landed without its back-run.
	Exposed     bool
	CompletedAt time.Time
}

// SandwichStats is an immutable snapshot of the aggregated counters.
type SandwichStats struct {
	OpportunitiesDetected uint64
	OpportunitiesAnalyzed uint64
	BundlesSubmitted      uint64
	BundlesIncluded       uint64
	// BundlesAborted never reached the relay and are neither successes
	// nor failures.
	BundlesAborted        uint64
	Successes             uint64
	Failures              uint64
	TotalProfit           *big.Int
	TotalGasCost          *big.Int
	NetProfit             *big.Int
	SuccessRate           float64
	AvgProfit             *big.Int
	StartedAt             time.Time
	Uptime                time.Duration
}
