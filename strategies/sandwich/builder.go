package sandwich

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/sandwichbot/config"
	"github.com/michaelpento.lv/sandwichbot/dex/uniswap"
	"github.com/michaelpento.lv/sandwichbot/types"
)

// ErrBundleInvalid is returned when a bundle breaks its shape or gas limits.
var ErrBundleInvalid = errors.New("invalid sandwich bundle")

// ExecutorABI is the interface of the on-chain contract that holds the
// capital and performs both legs.
const ExecutorABI = `[
	{"name":"executeFrontRun","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"router","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"swapData","type":"bytes"}],"outputs":[]},
	{"name":"executeBackRun","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"router","type":"address"},
		{"name":"minProfit","type":"uint256"},
		{"name":"swapData","type":"bytes"}],"outputs":[]}
]`

// Builder encodes the two legs around a victim and assembles the bundle.
type Builder struct {
	cfg      *config.Config
	codec    *uniswap.Codec
	contract abi.ABI
	now      func() time.Time
}

func NewBuilder(cfg *config.Config) (*Builder, error) {
	codec, err := uniswap.NewCodec()
	if err != nil {
		return nil, err
	}
	contract, err := abi.JSON(strings.NewReader(ExecutorABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse executor ABI: %w", err)
	}
	return &Builder{cfg: cfg, codec: codec, contract: contract, now: time.Now}, nil
}

// Build returns the [front-run, victim, back-run] bundle for opp.
func (b *Builder) Build(opp *types.SandwichOpportunity) (*types.SandwichBundle, error) {
	contract := b.cfg.Contract()
	deadline := new(big.Int).SetInt64(b.now().Unix() + int64(b.cfg.DeadlineSecs))
	// Both legs must trade in the victim's pool
	tier := opp.Fee
	if tier == 0 {
		tier = b.cfg.UniswapV3FeeTier
	}

	// Front-run: buy the victim's output token first, accepting any output
	frontSwap, err := b.codec.EncodeExactInput(opp.Family, uniswap.SwapParams{
		TokenIn:   opp.TokenIn,
		TokenOut:  opp.TokenOut,
		Amount:    opp.FrontRunAmount,
		Limit:     big.NewInt(0),
		Recipient: contract,
		Deadline:  deadline,
		Fee:       tier,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode front-run swap: %w", err)
	}
	frontData, err := b.contract.Pack("executeFrontRun", opp.TokenIn, opp.TokenOut, opp.Router, opp.FrontRunAmount, frontSwap)
	if err != nil {
		return nil, fmt.Errorf("failed to pack front-run: %w", err)
	}

	// Back-run: sell back after the victim, the contract enforces net profit
	backSwap, err := b.codec.EncodeExactInput(opp.Family, uniswap.SwapParams{
		TokenIn:   opp.TokenOut,
		TokenOut:  opp.TokenIn,
		Amount:    opp.BackRunAmount,
		Limit:     big.NewInt(0),
		Recipient: contract,
		Deadline:  deadline,
		Fee:       tier,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode back-run swap: %w", err)
	}
	backData, err := b.contract.Pack("executeBackRun", opp.TokenOut, opp.TokenIn, opp.Router, opp.NetProfit, backSwap)
	if err != nil {
		return nil, fmt.Errorf("failed to pack back-run: %w", err)
	}

	bundle := &types.SandwichBundle{
		Opportunity: opp,
		Entries: []types.BundleEntry{
			{Role: types.RoleFrontRun, Data: frontData},
			{Role: types.RoleVictim, TxHash: opp.TargetTx, Raw: opp.TargetRaw},
			{Role: types.RoleBackRun, Data: backData},
		},
		GasEstimate: 2*b.cfg.GasPerTx + opp.TargetGas,
		CreatedAt:   b.now(),
	}
	if err := ValidateBundle(bundle, b.cfg.MaxBundleGas); err != nil {
		return nil, err
	}
	return bundle, nil
}

// ValidateBundle checks the bundle shape: exactly one front-run and one
// back-run, a victim reference, and a gas estimate under maxGas.
func ValidateBundle(bundle *types.SandwichBundle, maxGas uint64) error {
	var fronts, backs, victims int
	for _, e := range bundle.Entries {
		switch e.Role {
		case types.RoleFrontRun:
			fronts++
		case types.RoleBackRun:
			backs++
		case types.RoleVictim:
			victims++
			if e.TxHash == (common.Hash{}) {
				return fmt.Errorf("%w: empty victim reference", ErrBundleInvalid)
			}
		}
	}

	switch {
	case fronts != 1:
		return fmt.Errorf("%w: %d front-run entries", ErrBundleInvalid, fronts)
	case backs != 1:
		return fmt.Errorf("%w: %d back-run entries", ErrBundleInvalid, backs)
	case victims != 1:
		return fmt.Errorf("%w: %d victim entries", ErrBundleInvalid, victims)
	case bundle.GasEstimate > maxGas:
		return fmt.Errorf("%w: gas estimate %d exceeds %d", ErrBundleInvalid, bundle.GasEstimate, maxGas)
	}
	return nil
}
