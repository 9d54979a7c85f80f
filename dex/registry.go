package dex

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Selector is the 4-byte function identifier at the head of call data.
type Selector [4]byte

func (s Selector) String() string {
	return fmt.Sprintf("0x%x", s[:])
}

// NewSelector hashes a canonical function signature.
func NewSelector(signature string) Selector {
	var s Selector
	copy(s[:], crypto.Keccak256([]byte(signature))[:4])
	return s
}

var (
	SelectorSwapExactTokensForTokens = NewSelector("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)")
	SelectorSwapTokensForExactTokens = NewSelector("swapTokensForExactTokens(uint256,uint256,address[],address,uint256)")
	SelectorExactInputSingle         = NewSelector("exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))")
	SelectorExactOutputSingle        = NewSelector("exactOutputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))")
)

// Mainnet router and factory addresses
var (
	UniswapV2Router  = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	UniswapV2Factory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	SushiSwapRouter  = common.HexToAddress("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F")
	SushiSwapFactory = common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac")
	UniswapV3Router  = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	UniswapV3Factory = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
)

// SwapKind tells which router entry point a call targets.
type SwapKind int

const (
	SwapExactInput SwapKind = iota
	SwapExactOutput
)

func (k SwapKind) String() string {
	if k == SwapExactOutput {
		return "exact_output"
	}
	return "exact_input"
}

// RouterInfo describes one known router contract.
type RouterInfo struct {
	Name                string
	Family              Family
	Router              common.Address
	Factory             common.Address
	ExactInputSelector  Selector
	ExactOutputSelector Selector
	FeeBps              uint32
}

// FeeFraction is FeeBps as a fraction, e.g. 0.003 for 30 bps.
func (r RouterInfo) FeeFraction() float64 {
	return float64(r.FeeBps) / 10_000
}

// NewRouterInfo fills in the selectors and default fee for a family.
func NewRouterInfo(name string, family Family, router, factory common.Address) RouterInfo {
	info := RouterInfo{
		Name:    name,
		Family:  family,
		Router:  router,
		Factory: factory,
		FeeBps:  DefaultFeeBps,
	}
	switch {
	case family.V2Style():
		info.ExactInputSelector = SelectorSwapExactTokensForTokens
		info.ExactOutputSelector = SelectorSwapTokensForExactTokens
	case family == FamilyUniswapV3:
		info.ExactInputSelector = SelectorExactInputSingle
		info.ExactOutputSelector = SelectorExactOutputSingle
	}
	return info
}

// DefaultRouters returns the mainnet routers known out of the box.
func DefaultRouters() []RouterInfo {
	return []RouterInfo{
		NewRouterInfo("UniswapV2", FamilyUniswapV2, UniswapV2Router, UniswapV2Factory),
		NewRouterInfo("SushiSwap", FamilySushiSwap, SushiSwapRouter, SushiSwapFactory),
		NewRouterInfo("UniswapV3", FamilyUniswapV3, UniswapV3Router, UniswapV3Factory),
	}
}

// Registry is an immutable catalog of routers keyed by address. It is safe
// for concurrent use without locking.
type Registry struct {
	routers map[common.Address]RouterInfo
}

// NewRegistry builds a registry from the default routers plus extra entries.
// Later entries replace earlier ones with the same router address.
func NewRegistry(extra ...RouterInfo) (*Registry, error) {
	r := &Registry{routers: make(map[common.Address]RouterInfo)}
	for _, info := range DefaultRouters() {
		r.routers[info.Router] = info
	}
	for _, info := range extra {
		if info.Router == (common.Address{}) {
			return nil, fmt.Errorf("router %q has zero address", info.Name)
		}
		if info.Family == FamilyUnknown {
			return nil, fmt.Errorf("router %q: %w", info.Name, ErrUnsupportedFamily)
		}
		r.routers[info.Router] = info
	}
	return r, nil
}

// Lookup returns the router registered at addr.
func (r *Registry) Lookup(addr common.Address) (RouterInfo, bool) {
	info, ok := r.routers[addr]
	return info, ok
}

// Detect reports which selector of the router at addr the call data uses.
func (r *Registry) Detect(addr common.Address, data []byte) (SwapKind, bool) {
	info, ok := r.routers[addr]
	if !ok || len(data) < 4 {
		return 0, false
	}
	var zero Selector
	switch {
	case info.ExactInputSelector != zero && bytes.Equal(data[:4], info.ExactInputSelector[:]):
		return SwapExactInput, true
	case info.ExactOutputSelector != zero && bytes.Equal(data[:4], info.ExactOutputSelector[:]):
		return SwapExactOutput, true
	default:
		return 0, false
	}
}

// Routers lists every entry ordered by name.
func (r *Registry) Routers() []RouterInfo {
	out := make([]RouterInfo, 0, len(r.routers))
	for _, info := range r.routers {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
