package uniswap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/sandwichbot/dex"
)

// ErrPairNotFound is returned when the factory has no pair for two tokens.
var ErrPairNotFound = errors.New("pair not found")

// Factory contract ABI
const factoryABIJson = `[{
	"constant": true,
	"inputs": [
		{"name": "tokenA", "type": "address"},
		{"name": "tokenB", "type": "address"}
	],
	"name": "getPair",
	"outputs": [{"name": "pair", "type": "address"}],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

// Pair contract ABI
const pairABIJson = `[{
	"constant": true,
	"inputs": [],
	"name": "getReserves",
	"outputs": [
		{"name": "reserve0", "type": "uint112"},
		{"name": "reserve1", "type": "uint112"},
		{"name": "blockTimestampLast", "type": "uint32"}
	],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

type pairKey struct {
	factory common.Address
	token0  common.Address
	token1  common.Address
}

// PairReader reads V2-style pair reserves. Pair addresses are cached; the
// reserves themselves are always read fresh.
type PairReader struct {
	caller     bind.ContractCaller
	factoryABI abi.ABI
	pairABI    abi.ABI
	pairs      *lru.Cache
	breaker    *gobreaker.CircuitBreaker[*dex.Reserves]
	logger     *zap.Logger
}

// NewPairReader creates a reader. The breaker counts RPC failures only; a
// missing pair is a normal answer.
func NewPairReader(caller bind.ContractCaller, cacheSize int, settings gobreaker.Settings, logger *zap.Logger) (*PairReader, error) {
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse factory ABI: %w", err)
	}
	pairABI, err := abi.JSON(strings.NewReader(pairABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair ABI: %w", err)
	}
	pairs, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pair cache: %w", err)
	}

	settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrPairNotFound)
	}

	return &PairReader{
		caller:     caller,
		factoryABI: factoryABI,
		pairABI:    pairABI,
		pairs:      pairs,
		breaker:    gobreaker.NewCircuitBreaker[*dex.Reserves](settings),
		logger:     logger,
	}, nil
}

// PoolReserves implements dex.ReserveReader for V2-style routers.
func (r *PairReader) PoolReserves(ctx context.Context, router dex.RouterInfo, tokenIn, tokenOut common.Address) (*dex.PoolReserves, error) {
	if !router.Family.V2Style() {
		return nil, fmt.Errorf("reserves for %s: %w", router.Family, dex.ErrUnsupportedFamily)
	}

	reserves, err := r.breaker.Execute(func() (*dex.Reserves, error) {
		pair, err := r.PairAddress(ctx, router.Factory, tokenIn, tokenOut)
		if err != nil {
			return nil, err
		}
		return r.Reserves(ctx, pair)
	})
	if err != nil {
		return nil, err
	}
	return reserves.Orient(tokenIn, tokenOut), nil
}

// PairAddress asks the factory for the pair of two tokens.
func (r *PairReader) PairAddress(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error) {
	token0, token1 := tokenA, tokenB
	if bytes.Compare(token0.Bytes(), token1.Bytes()) > 0 {
		token0, token1 = token1, token0
	}
	key := pairKey{factory: factory, token0: token0, token1: token1}
	if cached, ok := r.pairs.Get(key); ok {
		return cached.(common.Address), nil
	}

	contract := bind.NewBoundContract(factory, r.factoryABI, r.caller, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "getPair", token0, token1); err != nil {
		return common.Address{}, fmt.Errorf("failed to get pair: %w", err)
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("failed to parse pair address")
	}
	pair, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("failed to parse pair address")
	}
	if pair == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s/%s", ErrPairNotFound, token0.Hex(), token1.Hex())
	}

	r.pairs.Add(key, pair)
	return pair, nil
}

// Reserves returns the current reserves of a pair.
func (r *PairReader) Reserves(ctx context.Context, pair common.Address) (*dex.Reserves, error) {
	contract := bind.NewBoundContract(pair, r.pairABI, r.caller, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "getReserves"); err != nil {
		return nil, fmt.Errorf("failed to get reserves: %w", err)
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("failed to parse reserves: %d values", len(out))
	}

	reserve0, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to parse reserve0")
	}
	reserve1, ok := out[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to parse reserve1")
	}
	timestamp, _ := out[2].(uint32)

	r.logger.Debug("Read pair reserves",
		zap.Stringer("pair", pair),
		zap.Stringer("reserve0", reserve0),
		zap.Stringer("reserve1", reserve1))

	return &dex.Reserves{
		Reserve0:    reserve0,
		Reserve1:    reserve1,
		BlockNumber: timestamp,
	}, nil
}
