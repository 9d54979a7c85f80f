package mempool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// TxSource is the pending-transaction feed the monitor consumes.
type TxSource interface {
	SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// ChainClient combines the standard client with the geth-specific pending
// transaction subscription. It serves every on-chain read the bot makes.
type ChainClient struct {
	*ethclient.Client
	geth *gethclient.Client
}

// DialChainClient connects to a node over websocket or IPC. Pending
// subscriptions need a streaming transport.
func DialChainClient(ctx context.Context, url string) (*ChainClient, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return NewChainClient(rpcClient), nil
}

func NewChainClient(rpcClient *rpc.Client) *ChainClient {
	return &ChainClient{
		Client: ethclient.NewClient(rpcClient),
		geth:   gethclient.New(rpcClient),
	}
}

// SubscribePendingTransactions implements TxSource
func (c *ChainClient) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	sub, err := c.geth.SubscribePendingTransactions(ctx, ch)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
