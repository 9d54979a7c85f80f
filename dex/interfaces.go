package dex

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ReserveReader fetches pool reserves for a token pair on a router's DEX.
type ReserveReader interface {
	PoolReserves(ctx context.Context, router RouterInfo, tokenIn, tokenOut common.Address) (*PoolReserves, error)
}

// Reserves are raw pair reserves in token0/token1 order.
type Reserves struct {
	Reserve0    *big.Int
	Reserve1    *big.Int
	BlockNumber uint32
}

// PoolReserves are reserves oriented to a swap direction.
type PoolReserves struct {
	ReserveIn  *big.Int
	ReserveOut *big.Int
	Liquidity  *big.Int
}

// Orient maps token0/token1 reserves onto tokenIn/tokenOut. Pairs sort their
// tokens by address, so tokenIn is token0 when it is the smaller address.
func (r *Reserves) Orient(tokenIn, tokenOut common.Address) *PoolReserves {
	in, out := r.Reserve0, r.Reserve1
	if bytes.Compare(tokenIn.Bytes(), tokenOut.Bytes()) > 0 {
		in, out = out, in
	}
	return &PoolReserves{
		ReserveIn:  in,
		ReserveOut: out,
		Liquidity:  new(big.Int).Add(in, out),
	}
}
