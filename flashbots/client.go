package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/sandwichbot/utils/metrics"
)

const (
	contentTypeJSON  = "application/json"
	flashbotsXHeader = "X-Flashbots-Signature"
	methodSendBundle = "eth_sendBundle"
	methodCallBundle = "eth_callBundle"
)

// ErrRelay wraps every error object returned by the relay.
var ErrRelay = errors.New("relay rejected request")

// Client signs and posts bundle requests to a Flashbots-compatible relay.
type Client struct {
	httpClient *http.Client
	relayURL   string
	authSigner *ecdsa.PrivateKey
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[json.RawMessage]
	metrics    *metrics.RelayMetrics
	logger     *zap.Logger
	nextID     atomic.Uint64
}

// NewClient creates a relay client. Relay error objects do not count
// against the breaker; transport failures do.
func NewClient(relayURL string, authKey *ecdsa.PrivateKey, timeout time.Duration, limiter *rate.Limiter, settings gobreaker.Settings, m *metrics.RelayMetrics, logger *zap.Logger) *Client {
	settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrRelay)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		relayURL:   relayURL,
		authSigner: authKey,
		limiter:    limiter,
		breaker:    gobreaker.NewCircuitBreaker[json.RawMessage](settings),
		metrics:    m,
		logger:     logger.Named("flashbots"),
	}
}

// AuthAddress is the identity the relay attributes bundles to.
func (c *Client) AuthAddress() common.Address {
	return crypto.PubkeyToAddress(c.authSigner.PublicKey)
}

// Bundle is an ordered list of signed transactions for one target block.
type Bundle struct {
	Txs               [][]byte
	BlockNumber       uint64
	MinTimestamp      uint64
	MaxTimestamp      uint64
	RevertingTxHashes []common.Hash
}

type BundleResponse struct {
	BundleHash common.Hash `json:"bundleHash"`
}

// TxSimulation is the relay's simulation of one bundle transaction.
type TxSimulation struct {
	TxHash  common.Hash `json:"txHash"`
	GasUsed uint64      `json:"gasUsed"`
	Error   string      `json:"error,omitempty"`
	Revert  string      `json:"revert,omitempty"`
}

// BundleSimulation is the result of eth_callBundle.
type BundleSimulation struct {
	BundleHash   common.Hash
	Success      bool
	Error        string
	GasUsed      uint64
	CoinbaseDiff *big.Int
	StateBlock   uint64
	Results      []TxSimulation
}

type sendBundleArgs struct {
	Txs               []hexutil.Bytes `json:"txs"`
	BlockNumber       hexutil.Uint64  `json:"blockNumber"`
	MinTimestamp      uint64          `json:"minTimestamp,omitempty"`
	MaxTimestamp      uint64          `json:"maxTimestamp,omitempty"`
	RevertingTxHashes []common.Hash   `json:"revertingTxHashes,omitempty"`
}

type callBundleArgs struct {
	Txs              []hexutil.Bytes `json:"txs"`
	BlockNumber      hexutil.Uint64  `json:"blockNumber"`
	StateBlockNumber hexutil.Uint64  `json:"stateBlockNumber"`
	Timestamp        uint64          `json:"timestamp,omitempty"`
}

type callBundleResult struct {
	BundleHash       common.Hash    `json:"bundleHash"`
	CoinbaseDiff     string         `json:"coinbaseDiff"`
	TotalGasUsed     uint64         `json:"totalGasUsed"`
	StateBlockNumber uint64         `json:"stateBlockNumber"`
	Results          []TxSimulation `json:"results"`
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func txArgs(txs [][]byte) []hexutil.Bytes {
	out := make([]hexutil.Bytes, len(txs))
	for i, tx := range txs {
		out[i] = tx
	}
	return out
}

// SendBundle submits bundle for inclusion in its target block.
func (c *Client) SendBundle(ctx context.Context, bundle *Bundle) (*BundleResponse, error) {
	args := sendBundleArgs{
		Txs:               txArgs(bundle.Txs),
		BlockNumber:       hexutil.Uint64(bundle.BlockNumber),
		MinTimestamp:      bundle.MinTimestamp,
		MaxTimestamp:      bundle.MaxTimestamp,
		RevertingTxHashes: bundle.RevertingTxHashes,
	}

	raw, err := c.call(ctx, methodSendBundle, args)
	if err != nil {
		return nil, err
	}

	var resp BundleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bundle response: %w", err)
	}
	return &resp, nil
}

// CallBundle simulates bundle on top of stateBlock.
func (c *Client) CallBundle(ctx context.Context, bundle *Bundle, stateBlock uint64) (*BundleSimulation, error) {
	args := callBundleArgs{
		Txs:              txArgs(bundle.Txs),
		BlockNumber:      hexutil.Uint64(bundle.BlockNumber),
		StateBlockNumber: hexutil.Uint64(stateBlock),
		Timestamp:        bundle.MinTimestamp,
	}

	raw, err := c.call(ctx, methodCallBundle, args)
	if err != nil {
		return nil, err
	}

	var result callBundleResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode simulation response: %w", err)
	}

	sim := &BundleSimulation{
		BundleHash: result.BundleHash,
		Success:    true,
		GasUsed:    result.TotalGasUsed,
		StateBlock: result.StateBlockNumber,
		Results:    result.Results,
	}
	if diff, ok := new(big.Int).SetString(result.CoinbaseDiff, 10); ok {
		sim.CoinbaseDiff = diff
	}
	for _, r := range result.Results {
		if r.Error != "" {
			sim.Success = false
			sim.Error = fmt.Sprintf("%s: %s", r.TxHash.Hex(), r.Error)
			if r.Revert != "" {
				sim.Error += " (" + r.Revert + ")"
			}
			break
		}
	}
	return sim, nil
}

func (c *Client) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("relay rate limit: %w", err)
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.post(ctx, method, params)
	})
	c.metrics.Latency.Observe(time.Since(start).Seconds())

	status := "ok"
	switch {
	case errors.Is(err, ErrRelay):
		status = "rejected"
	case err != nil:
		status = "error"
	}
	c.metrics.Requests.WithLabelValues(method, status).Inc()

	if err != nil {
		c.logger.Debug("Relay request failed", zap.String("method", method), zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", method, err)
	}

	signature, err := SignPayload(c.authSigner, payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Content-Type", contentTypeJSON)
	req.Header.Add("Accept", contentTypeJSON)
	req.Header.Add(flashbotsXHeader, signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("relay returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%w: %s (code %d)", ErrRelay, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
	return rpcResp.Result, nil
}

// SignPayload builds the X-Flashbots-Signature value for payload:
// the signer address and its signature over the hex keccak of the body.
func SignPayload(key *ecdsa.PrivateKey, payload []byte) (string, error) {
	signature, err := crypto.Sign(
		accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(payload)))),
		key,
	)
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return fmt.Sprintf("%s:%s",
		crypto.PubkeyToAddress(key.PublicKey).Hex(),
		hexutil.Encode(signature),
	), nil
}

// RecoverSigner checks an X-Flashbots-Signature header against payload and
// returns the signing address.
func RecoverSigner(header string, payload []byte) (common.Address, error) {
	addr, sigHex, ok := strings.Cut(header, ":")
	if !ok || !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("malformed signature header")
	}
	claimed := common.HexToAddress(addr)
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("malformed signature: %w", err)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(payload)))), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	signer := crypto.PubkeyToAddress(*pub)
	if signer != claimed {
		return common.Address{}, fmt.Errorf("signature from %s does not match %s", signer.Hex(), claimed.Hex())
	}
	return signer, nil
}
