package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ledgerstore "swapnet/storage"

	swap "swapnet/native/swap"
)

type staticFeed struct {
	prices map[string]uint64
}

func (f *staticFeed) ReadPrice(_ context.Context, symbol string, sourceIndex int) (uint64, time.Time, error) {
	if sourceIndex != 0 {
		return 0, time.Time{}, fmt.Errorf("source unavailable")
	}
	price, ok := f.prices[symbol]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("unknown symbol")
	}
	return price, time.Now(), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *swap.VaultStore) {
	t.Helper()
	ledger := ledgerstore.NewMemLedger()
	registry := swap.NewRegistry(ledger)
	require.NoError(t, registry.Init("admin"))
	require.NoError(t, registry.RegisterAsset("admin", "SOL", 9))
	require.NoError(t, registry.RegisterAsset("admin", "USDC", 6))

	feed := &staticFeed{prices: map[string]uint64{
		"SOL":  150_000_000_000,
		"USDC": 1_000_000_000,
	}}
	cfg := swap.Config{}
	aggregator := swap.NewOracleAggregator(ledger, feed, cfg)
	vaults := swap.NewVaultStore(ledger)
	matcher := swap.NewMatcher(ledger, aggregator, cfg)
	engine := swap.NewEngine(ledger, matcher)

	srv, err := New(Config{}, engine, vaults, aggregator, nil, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, vaults
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSwapLifecycleOverHTTP(t *testing.T) {
	ts, vaults := newTestServer(t)

	for _, symbol := range []string{"SOL", "USDC"} {
		resp := postJSON(t, ts.URL+"/v1/oracle/"+symbol+"/update", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := postJSON(t, ts.URL+"/v1/vaults", map[string]any{
		"caller": "lp1",
		"asset":  "SOL",
		"params": map[string]any{"buy_fee_bps": 300, "receive_enabled": true},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = postJSON(t, ts.URL+"/v1/vaults", map[string]any{
		"caller": "lp1",
		"asset":  "USDC",
		"params": map[string]any{"sell_fee_bps": 100, "provide_enabled": true},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, vaults.CreditHolding("lp1", "USDC", 300_000_000_000))
	resp = postJSON(t, ts.URL+"/v1/vaults/lp1/USDC/deposit", map[string]any{
		"caller": "lp1",
		"amount": 300_000_000_000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, vaults.CreditHolding("alice", "SOL", 2_000_000_000))
	resp = postJSON(t, ts.URL+"/v1/swaps", map[string]any{
		"requester":      "alice",
		"asset_in":       "SOL",
		"asset_out":      "USDC",
		"amount_in":      2_000_000_000,
		"min_amount_out": 288_000_000_000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var receipt swap.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	require.Equal(t, uint64(288_118_811_880), receipt.AmountOut)
	require.NotEmpty(t, receipt.ID)

	getResp, err := http.Get(ts.URL + "/v1/vaults/lp1/SOL")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	var vault swap.Vault
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&vault))
	require.Equal(t, uint64(2_000_000_000), vault.Amount)
}

func TestErrorStatusMapping(t *testing.T) {
	ts, vaults := newTestServer(t)

	// Prices not yet refreshed: the swap is rejected as stale.
	resp := postJSON(t, ts.URL+"/v1/swaps", map[string]any{
		"requester": "alice",
		"asset_in":  "SOL",
		"asset_out": "USDC",
		"amount_in": 1,
	})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Unknown symbols map to 404.
	getResp, err := http.Get(ts.URL + "/v1/prices/DOGE")
	require.NoError(t, err)
	getResp.Body.Close()
	require.Equal(t, http.StatusNotFound, getResp.StatusCode)

	// Duplicate vault creation maps to 409.
	payload := map[string]any{"caller": "lp1", "asset": "SOL", "params": map[string]any{}}
	resp = postJSON(t, ts.URL+"/v1/vaults", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = postJSON(t, ts.URL+"/v1/vaults", payload)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Zero-amount deposit maps to 400.
	resp = postJSON(t, ts.URL+"/v1/vaults/lp1/SOL/deposit", map[string]any{"caller": "lp1", "amount": 0})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Withdrawing someone else's vault maps to 403.
	require.NoError(t, vaults.CreditHolding("lp1", "SOL", 10))
	resp = postJSON(t, ts.URL+"/v1/vaults/lp1/SOL/deposit", map[string]any{"caller": "lp1", "amount": 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = postJSON(t, ts.URL+"/v1/vaults/lp1/SOL/withdraw", map[string]any{"caller": "mallory", "amount": 1})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Receipts are unavailable without a history store.
	getResp, err = http.Get(ts.URL + "/v1/receipts/some-id")
	require.NoError(t, err)
	getResp.Body.Close()
	require.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
