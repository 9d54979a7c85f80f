package dex

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFamily is returned for families that cannot be decoded,
// encoded or priced.
var ErrUnsupportedFamily = errors.New("unsupported dex family")

// Family is the closed set of DEX families the registry understands.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyUniswapV2
	FamilyUniswapV3
	FamilySushiSwap
	FamilyPancakeSwap
)

var familyNames = map[Family]string{
	FamilyUniswapV2:   "uniswap_v2",
	FamilyUniswapV3:   "uniswap_v3",
	FamilySushiSwap:   "sushiswap",
	FamilyPancakeSwap: "pancakeswap",
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return "unknown"
}

// ParseFamily maps a config name such as "sushiswap" to a Family.
func ParseFamily(s string) (Family, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range familyNames {
		if name == s {
			return f, nil
		}
	}
	return FamilyUnknown, fmt.Errorf("unknown dex family %q", s)
}

// V2Style reports whether the family uses the Uniswap V2 router and pair
// layout.
func (f Family) V2Style() bool {
	switch f {
	case FamilyUniswapV2, FamilySushiSwap, FamilyPancakeSwap:
		return true
	default:
		return false
	}
}

// Supported reports whether swaps on this family can be decoded and
// re-encoded.
func (f Family) Supported() bool {
	return f.V2Style() || f == FamilyUniswapV3
}

// DefaultFeeBps is the swap fee charged per leg, in basis points.
const DefaultFeeBps uint32 = 30
