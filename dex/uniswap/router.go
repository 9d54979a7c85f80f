package uniswap

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/sandwichbot/dex"
	"github.com/michaelpento.lv/sandwichbot/types"
)

// ErrMalformedCallData is returned when call data does not match a known
// router layout.
var ErrMalformedCallData = errors.New("malformed router call data")

// V2 router ABI, restricted to the token-to-token swap entry points
const routerV2ABIJson = `[{
	"inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "amountOutMin", "type": "uint256"},
		{"name": "path", "type": "address[]"},
		{"name": "to", "type": "address"},
		{"name": "deadline", "type": "uint256"}
	],
	"name": "swapExactTokensForTokens",
	"outputs": [{"name": "amounts", "type": "uint256[]"}],
	"stateMutability": "nonpayable",
	"type": "function"
}, {
	"inputs": [
		{"name": "amountOut", "type": "uint256"},
		{"name": "amountInMax", "type": "uint256"},
		{"name": "path", "type": "address[]"},
		{"name": "to", "type": "address"},
		{"name": "deadline", "type": "uint256"}
	],
	"name": "swapTokensForExactTokens",
	"outputs": [{"name": "amounts", "type": "uint256[]"}],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

// V3 SwapRouter ABI, single-pool entry points only
const routerV3ABIJson = `[{
	"inputs": [{
		"components": [
			{"name": "tokenIn", "type": "address"},
			{"name": "tokenOut", "type": "address"},
			{"name": "fee", "type": "uint24"},
			{"name": "recipient", "type": "address"},
			{"name": "deadline", "type": "uint256"},
			{"name": "amountIn", "type": "uint256"},
			{"name": "amountOutMinimum", "type": "uint256"},
			{"name": "sqrtPriceLimitX96", "type": "uint160"}
		],
		"name": "params",
		"type": "tuple"
	}],
	"name": "exactInputSingle",
	"outputs": [{"name": "amountOut", "type": "uint256"}],
	"stateMutability": "payable",
	"type": "function"
}, {
	"inputs": [{
		"components": [
			{"name": "tokenIn", "type": "address"},
			{"name": "tokenOut", "type": "address"},
			{"name": "fee", "type": "uint24"},
			{"name": "recipient", "type": "address"},
			{"name": "deadline", "type": "uint256"},
			{"name": "amountOut", "type": "uint256"},
			{"name": "amountInMaximum", "type": "uint256"},
			{"name": "sqrtPriceLimitX96", "type": "uint160"}
		],
		"name": "params",
		"type": "tuple"
	}],
	"name": "exactOutputSingle",
	"outputs": [{"name": "amountIn", "type": "uint256"}],
	"stateMutability": "payable",
	"type": "function"
}]`

// ExactInputSingleParams mirrors the SwapRouter exactInputSingle tuple.
type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// ExactOutputSingleParams mirrors the SwapRouter exactOutputSingle tuple.
type ExactOutputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountOut         *big.Int
	AmountInMaximum   *big.Int
	SqrtPriceLimitX96 *big.Int
}

// SwapParams is the family-neutral input to the encoders. Path defaults to
// [TokenIn, TokenOut] and is ignored by V3, which only swaps a single pool.
type SwapParams struct {
	TokenIn   common.Address
	TokenOut  common.Address
	Path      []common.Address
	Amount    *big.Int
	Limit     *big.Int
	Recipient common.Address
	Deadline  *big.Int
	Fee       uint32
}

// Codec decodes and encodes router call data for the supported families.
type Codec struct {
	v2 abi.ABI
	v3 abi.ABI
}

func NewCodec() (*Codec, error) {
	v2, err := abi.JSON(strings.NewReader(routerV2ABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse v2 router ABI: %w", err)
	}
	v3, err := abi.JSON(strings.NewReader(routerV3ABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse v3 router ABI: %w", err)
	}
	return &Codec{v2: v2, v3: v3}, nil
}

// Decode turns router call data into a normalized swap.
func (c *Codec) Decode(family dex.Family, data []byte) (*types.DecodedSwap, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedCallData, len(data))
	}

	switch {
	case family.V2Style():
		return c.decodeV2(data)
	case family == dex.FamilyUniswapV3:
		return c.decodeV3(data)
	default:
		return nil, fmt.Errorf("decode %s: %w", family, dex.ErrUnsupportedFamily)
	}
}

func (c *Codec) decodeV2(data []byte) (*types.DecodedSwap, error) {
	method, err := c.v2.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallData, err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCallData, method.Name, err)
	}
	if len(args) != 5 {
		return nil, fmt.Errorf("%w: %s: %d arguments", ErrMalformedCallData, method.Name, len(args))
	}

	first, ok1 := args[0].(*big.Int)
	second, ok2 := args[1].(*big.Int)
	path, ok3 := args[2].([]common.Address)
	deadline, ok4 := args[4].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("%w: %s: unexpected argument types", ErrMalformedCallData, method.Name)
	}
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: path has %d tokens", ErrMalformedCallData, len(path))
	}

	swap := &types.DecodedSwap{
		TokenIn:  path[0],
		TokenOut: path[len(path)-1],
		Path:     path,
		Deadline: deadline,
	}
	if method.Name == "swapTokensForExactTokens" {
		swap.ExactOutput = true
		swap.AmountIn = second
		swap.MinAmountOut = first
	} else {
		swap.AmountIn = first
		swap.MinAmountOut = second
	}
	return swap, nil
}

func (c *Codec) decodeV3(data []byte) (*types.DecodedSwap, error) {
	method, err := c.v3.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallData, err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCallData, method.Name, err)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: %s: %d arguments", ErrMalformedCallData, method.Name, len(args))
	}

	if method.Name == "exactOutputSingle" {
		p, ok := abi.ConvertType(args[0], new(ExactOutputSingleParams)).(*ExactOutputSingleParams)
		if !ok {
			return nil, fmt.Errorf("%w: %s: unexpected tuple", ErrMalformedCallData, method.Name)
		}
		return &types.DecodedSwap{
			TokenIn:      p.TokenIn,
			TokenOut:     p.TokenOut,
			AmountIn:     p.AmountInMaximum,
			MinAmountOut: p.AmountOut,
			Path:         []common.Address{p.TokenIn, p.TokenOut},
			Deadline:     p.Deadline,
			ExactOutput:  true,
			Fee:          uint32(p.Fee.Uint64()),
		}, nil
	}

	p, ok := abi.ConvertType(args[0], new(ExactInputSingleParams)).(*ExactInputSingleParams)
	if !ok {
		return nil, fmt.Errorf("%w: %s: unexpected tuple", ErrMalformedCallData, method.Name)
	}
	return &types.DecodedSwap{
		TokenIn:      p.TokenIn,
		TokenOut:     p.TokenOut,
		AmountIn:     p.AmountIn,
		MinAmountOut: p.AmountOutMinimum,
		Path:         []common.Address{p.TokenIn, p.TokenOut},
		Deadline:     p.Deadline,
		Fee:          uint32(p.Fee.Uint64()),
	}, nil
}

// EncodeExactInput builds an exact-input swap: Amount in, at least Limit out.
func (c *Codec) EncodeExactInput(family dex.Family, p SwapParams) ([]byte, error) {
	switch {
	case family.V2Style():
		return c.v2.Pack("swapExactTokensForTokens", orZero(p.Amount), orZero(p.Limit), p.path(), p.Recipient, orZero(p.Deadline))
	case family == dex.FamilyUniswapV3:
		return c.v3.Pack("exactInputSingle", ExactInputSingleParams{
			TokenIn:           p.TokenIn,
			TokenOut:          p.TokenOut,
			Fee:               new(big.Int).SetUint64(uint64(p.Fee)),
			Recipient:         p.Recipient,
			Deadline:          orZero(p.Deadline),
			AmountIn:          orZero(p.Amount),
			AmountOutMinimum:  orZero(p.Limit),
			SqrtPriceLimitX96: new(big.Int),
		})
	default:
		return nil, fmt.Errorf("encode %s: %w", family, dex.ErrUnsupportedFamily)
	}
}

// EncodeExactOutput builds an exact-output swap: exactly Amount out, at most
// Limit in.
func (c *Codec) EncodeExactOutput(family dex.Family, p SwapParams) ([]byte, error) {
	switch {
	case family.V2Style():
		return c.v2.Pack("swapTokensForExactTokens", orZero(p.Amount), orZero(p.Limit), p.path(), p.Recipient, orZero(p.Deadline))
	case family == dex.FamilyUniswapV3:
		return c.v3.Pack("exactOutputSingle", ExactOutputSingleParams{
			TokenIn:           p.TokenIn,
			TokenOut:          p.TokenOut,
			Fee:               new(big.Int).SetUint64(uint64(p.Fee)),
			Recipient:         p.Recipient,
			Deadline:          orZero(p.Deadline),
			AmountOut:         orZero(p.Amount),
			AmountInMaximum:   orZero(p.Limit),
			SqrtPriceLimitX96: new(big.Int),
		})
	default:
		return nil, fmt.Errorf("encode %s: %w", family, dex.ErrUnsupportedFamily)
	}
}

func (p SwapParams) path() []common.Address {
	if len(p.Path) >= 2 {
		return p.Path
	}
	return []common.Address{p.TokenIn, p.TokenOut}
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
