package mempool

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/michaelpento.lv/sandwichbot/dex"
)

// PendingSwap is a pending transaction sent to a known router. It is
// immutable once emitted.
type PendingSwap struct {
	Hash      common.Hash
	From      common.Address
	Router    dex.RouterInfo
	Kind      dex.SwapKind
	Detected  bool
	Value     *big.Int
	GasPrice  *big.Int
	GasLimit  uint64
	Nonce     uint64
	Data      []byte
	Raw       []byte
	Timestamp time.Time
	Tx        *types.Transaction
}

// NewPendingSwap captures the fields of tx that the pipeline needs.
func NewPendingSwap(tx *types.Transaction, from common.Address, router dex.RouterInfo, raw []byte) *PendingSwap {
	return &PendingSwap{
		Hash:      tx.Hash(),
		From:      from,
		Router:    router,
		Value:     tx.Value(),
		GasPrice:  tx.GasPrice(),
		GasLimit:  tx.Gas(),
		Nonce:     tx.Nonce(),
		Data:      tx.Data(),
		Raw:       raw,
		Timestamp: time.Now(),
		Tx:        tx,
	}
}

// Age is the time since the swap was first observed.
func (p *PendingSwap) Age(now time.Time) time.Duration {
	return now.Sub(p.Timestamp)
}
