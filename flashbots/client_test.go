package flashbots

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/sandwichbot/config"
	"github.com/michaelpento.lv/sandwichbot/utils/metrics"
)

type capturedRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	Signer common.Address
}

// mockRelay records every request and answers with a canned body.
type mockRelay struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	body     string
}

func (r *mockRelay) respond(status int, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.body = body
}

func (r *mockRelay) captured() []capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capturedRequest(nil), r.requests...)
}

func (r *mockRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	payload, _ := io.ReadAll(req.Body)

	var captured capturedRequest
	_ = json.Unmarshal(payload, &captured)
	signer, err := RecoverSigner(req.Header.Get(flashbotsXHeader), payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	captured.Signer = signer

	r.mu.Lock()
	r.requests = append(r.requests, captured)
	status, body := r.status, r.body
	r.mu.Unlock()

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func newTestClient(t *testing.T, url string, threshold uint32) (*Client, *metrics.RelayMetrics) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	cb := config.CircuitBreakerConfig{
		ErrorThreshold: threshold,
		ResetInterval:  time.Minute,
		CooldownPeriod: time.Minute,
	}
	m := metrics.NewRelayMetrics(prometheus.NewRegistry())
	limiter := rate.NewLimiter(rate.Inf, 1)
	return NewClient(url, key, time.Second, limiter, cb.Settings("relay", logger), m, logger), m
}

func TestSendBundle(t *testing.T) {
	relay := &mockRelay{}
	relay.respond(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"0x00000000000000000000000000000000000000000000000000000000000000ab"}}`)
	srv := httptest.NewServer(relay)
	defer srv.Close()

	client, m := newTestClient(t, srv.URL, 5)
	resp, err := client.SendBundle(context.Background(), &Bundle{
		Txs:         [][]byte{{0x01, 0x02}, {0x03}, {0x04}},
		BlockNumber: 0x1234,
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xab"), resp.BundleHash)

	reqs := relay.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, methodSendBundle, reqs[0].Method)
	assert.Equal(t, client.AuthAddress(), reqs[0].Signer)
	require.Len(t, reqs[0].Params, 1)

	var args map[string]interface{}
	require.NoError(t, json.Unmarshal(reqs[0].Params[0], &args))
	assert.Equal(t, "0x1234", args["blockNumber"])
	assert.Equal(t, []interface{}{"0x0102", "0x03", "0x04"}, args["txs"])
	assert.NotContains(t, args, "minTimestamp")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues(methodSendBundle, "ok")))
}

func TestSendBundleRelayError(t *testing.T) {
	relay := &mockRelay{}
	relay.respond(http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"bundle too old"}}`)
	srv := httptest.NewServer(relay)
	defer srv.Close()

	client, m := newTestClient(t, srv.URL, 1)
	for i := 0; i < 3; i++ {
		_, err := client.SendBundle(context.Background(), &Bundle{BlockNumber: 1})
		require.ErrorIs(t, err, ErrRelay)
		assert.Contains(t, err.Error(), "bundle too old")
	}

	// Relay rejections leave the breaker closed
	assert.Len(t, relay.captured(), 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Requests.WithLabelValues(methodSendBundle, "rejected")))
}

func TestSendBundleTransportErrorsOpenBreaker(t *testing.T) {
	relay := &mockRelay{}
	relay.respond(http.StatusBadGateway, "upstream unavailable")
	srv := httptest.NewServer(relay)
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, 2)
	for i := 0; i < 2; i++ {
		_, err := client.SendBundle(context.Background(), &Bundle{BlockNumber: 1})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrRelay)
		assert.Contains(t, err.Error(), "502")
	}

	_, err := client.SendBundle(context.Background(), &Bundle{BlockNumber: 1})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, relay.captured(), 2)
}

func TestCallBundle(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		success bool
		errText string
	}{
		{
			name: "all transactions succeed",
			body: `{"jsonrpc":"2.0","id":1,"result":{
				"bundleHash":"0x0000000000000000000000000000000000000000000000000000000000000001","coinbaseDiff":"1000","totalGasUsed":420000,"stateBlockNumber":99,
				"results":[{"txHash":"0x0000000000000000000000000000000000000000000000000000000000000002","gasUsed":210000},{"txHash":"0x0000000000000000000000000000000000000000000000000000000000000003","gasUsed":210000}]}}`,
			success: true,
		},
		{
			name: "back-run reverts",
			body: `{"jsonrpc":"2.0","id":1,"result":{
				"bundleHash":"0x0000000000000000000000000000000000000000000000000000000000000001","coinbaseDiff":"0","totalGasUsed":300000,"stateBlockNumber":99,
				"results":[{"txHash":"0x0000000000000000000000000000000000000000000000000000000000000002","gasUsed":210000},{"txHash":"0x0000000000000000000000000000000000000000000000000000000000000003","gasUsed":90000,"error":"execution reverted","revert":"insufficient profit"}]}}`,
			success: false,
			errText: "insufficient profit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := &mockRelay{}
			relay.respond(http.StatusOK, tt.body)
			srv := httptest.NewServer(relay)
			defer srv.Close()

			client, _ := newTestClient(t, srv.URL, 5)
			sim, err := client.CallBundle(context.Background(), &Bundle{
				Txs:         [][]byte{{0x01}, {0x02}},
				BlockNumber: 100,
			}, 99)
			require.NoError(t, err)

			assert.Equal(t, tt.success, sim.Success)
			assert.Equal(t, uint64(99), sim.StateBlock)
			assert.Len(t, sim.Results, 2)
			if tt.errText != "" {
				assert.Contains(t, sim.Error, tt.errText)
			}

			reqs := relay.captured()
			require.Len(t, reqs, 1)
			assert.Equal(t, methodCallBundle, reqs[0].Method)

			var args map[string]interface{}
			require.NoError(t, json.Unmarshal(reqs[0].Params[0], &args))
			assert.Equal(t, "0x63", args["stateBlockNumber"])
			assert.Equal(t, "0x64", args["blockNumber"])
		})
	}
}

func TestRecoverSignerRejectsTampering(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payload := []byte(`{"method":"eth_sendBundle"}`)

	header, err := SignPayload(key, payload)
	require.NoError(t, err)

	signer, err := RecoverSigner(header, payload)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer)

	_, err = RecoverSigner(header, []byte(`{"method":"eth_callBundle"}`))
	assert.Error(t, err)

	_, err = RecoverSigner("not-a-header", payload)
	assert.Error(t, err)
}

func TestSendBundleRespectsContext(t *testing.T) {
	client, _ := newTestClient(t, "http://127.0.0.1:1", 5)
	client.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	client.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.SendBundle(ctx, &Bundle{BlockNumber: 1})
	assert.ErrorContains(t, err, "relay rate limit")
}
