package testutils

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/sandwichbot/dex"
	"github.com/michaelpento.lv/sandwichbot/dex/uniswap"
)

// Well-known mainnet tokens used across tests
var (
	WETH = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	USDC = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	DAI  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

// ChainID is the chain id test transactions are signed for.
var ChainID = big.NewInt(1)

// Ether converts whole ether to wei.
func Ether(n float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(n), big.NewFloat(1e18))
	wei, _ := f.Int(nil)
	return wei
}

// Gwei converts gwei to wei.
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e9))
}

// NewKey generates a fresh signing key.
func NewKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

// SignedTx signs a dynamic-fee transaction whose fee cap is gasPrice.
func SignedTx(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, to *common.Address, value, gasPrice *big.Int, data []byte) *types.Transaction {
	t.Helper()
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   ChainID,
		Nonce:     nonce,
		GasTipCap: Gwei(1),
		GasFeeCap: gasPrice,
		Gas:       250000,
		To:        to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(ChainID), key)
	require.NoError(t, err)
	return signed
}

// VictimSwap signs an exact-input swap of amountIn tokenIn for tokenOut
// through router.
func VictimSwap(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, router dex.RouterInfo, tokenIn, tokenOut common.Address, amountIn, gasPrice *big.Int) *types.Transaction {
	t.Helper()
	return VictimSwapFee(t, key, nonce, router, tokenIn, tokenOut, amountIn, gasPrice, 3000)
}

// VictimSwapFee is VictimSwap through a specific V3 fee tier.
func VictimSwapFee(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, router dex.RouterInfo, tokenIn, tokenOut common.Address, amountIn, gasPrice *big.Int, fee uint32) *types.Transaction {
	t.Helper()
	codec, err := uniswap.NewCodec()
	require.NoError(t, err)

	data, err := codec.EncodeExactInput(router.Family, uniswap.SwapParams{
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		Amount:    amountIn,
		Limit:     big.NewInt(1),
		Recipient: crypto.PubkeyToAddress(key.PublicKey),
		Deadline:  big.NewInt(1 << 40),
		Fee:       fee,
	})
	require.NoError(t, err)

	to := router.Router
	return SignedTx(t, key, nonce, &to, big.NewInt(0), gasPrice, data)
}
