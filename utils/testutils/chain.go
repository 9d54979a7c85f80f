package testutils

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// ErrNoContract is returned by FakeChain for every contract call.
var ErrNoContract = errors.New("no contract code at address")

// FakeChain is an in-memory node: a pending feed, a fee market, nonces and
// scripted receipts. Contract calls always fail, so reserve lookups fall back.
type FakeChain struct {
	mu sync.RWMutex

	pending  []common.Hash
	notify   chan struct{}
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt

	block    uint64
	nonce    uint64
	baseFee  *big.Int
	tip      *big.Int
	gasPrice *big.Int
}

// NewFakeChain starts at block with a 20 gwei base fee and a 2 gwei tip.
func NewFakeChain(block uint64) *FakeChain {
	return &FakeChain{
		notify:   make(chan struct{}),
		txs:      make(map[common.Hash]*types.Transaction),
		receipts: make(map[common.Hash]*types.Receipt),
		block:    block,
		baseFee:  Gwei(20),
		tip:      Gwei(2),
		gasPrice: Gwei(22),
	}
}

// AddPending makes tx retrievable and announces its hash on the feed.
func (c *FakeChain) AddPending(tx *types.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[tx.Hash()] = tx
	c.pending = append(c.pending, tx.Hash())
	close(c.notify)
	c.notify = make(chan struct{})
}

// SetReceipt records a receipt with 150000 gas used at 30 gwei.
func (c *FakeChain) SetReceipt(hash common.Hash, status uint64, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[hash] = &types.Receipt{
		Status:            status,
		TxHash:            hash,
		GasUsed:           150000,
		EffectiveGasPrice: Gwei(30),
		BlockNumber:       new(big.Int).SetUint64(block),
	}
}

// SetBlock moves the chain head.
func (c *FakeChain) SetBlock(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = block
}

func (c *FakeChain) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		sent := 0
		for {
			c.mu.RLock()
			hashes := append([]common.Hash(nil), c.pending[sent:]...)
			notify := c.notify
			c.mu.RUnlock()

			for _, h := range hashes {
				select {
				case ch <- h:
					sent++
				case <-quit:
					return nil
				}
			}
			select {
			case <-notify:
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (c *FakeChain) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if tx, ok := c.txs[hash]; ok {
		return tx, true, nil
	}
	return nil, false, ethereum.NotFound
}

func (c *FakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &types.Header{
		Number:  new(big.Int).SetUint64(c.block),
		BaseFee: new(big.Int).Set(c.baseFee),
	}, nil
}

func (c *FakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.tip), nil
}

func (c *FakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *FakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nonce, nil
}

func (c *FakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.block, nil
}

func (c *FakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (c *FakeChain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func (c *FakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, ErrNoContract
}
