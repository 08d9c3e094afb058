package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	ui "github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/clearing"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/market"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/oracle"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/vault"
)

const testSqrtPrice = "974774664819573627711176820911"

func newTestServer(t *testing.T) (*HTTPServer, *vault.Vault) {
	t.Helper()

	markets := market.NewRegistry("admin")
	engine := clearing.NewEngine(clearing.Config{
		MaxMarketsPerTrader:    5,
		TwapIntervalSec:        900,
		InitialMarginRatioPips: 100_000,
		DebtMarginRatioPips:    100_000,
	}, markets, zerolog.Nop(), nil)

	price, _ := new(big.Int).SetString("151373306858723226652", 10)
	err := engine.AddMarket("admin", "ETH-USD", "vETH", "vUSD", 10_000, ui.MustFromDecimal(testSqrtPrice), oracle.NewStaticFeed(price))
	if err != nil {
		t.Fatalf("add market: %v", err)
	}

	v := vault.New(6, engine, zerolog.Nop(), nil)
	engine.SetCollateralSource(v)

	return NewHTTPServer(":0", engine, markets, v, nil, zerolog.Nop(), nil), v
}

func getJSON(t *testing.T, h http.HandlerFunc, path string, pathValues map[string]string) (int, map[string]json.RawMessage) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v: %s", err, rec.Body.String())
	}
	return rec.Code, body
}

func stringField(t *testing.T, body map[string]json.RawMessage, field string) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(body[field], &s); err != nil {
		t.Fatalf("field %s: %v", field, err)
	}
	return s
}

func TestHandleMarkets(t *testing.T) {
	s, _ := newTestServer(t)

	code, body := getJSON(t, s.handleMarkets, "/v1/markets", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var ids []string
	if err := json.Unmarshal(body["markets"], &ids); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "ETH-USD" {
		t.Errorf("markets = %v", ids)
	}
}

func TestHandleMarketPrice(t *testing.T) {
	s, _ := newTestServer(t)

	code, body := getJSON(t, s.handleMarketPrice, "/v1/markets/ETH-USD/price",
		map[string]string{"market": "ETH-USD"})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got := stringField(t, body, "sqrt_price_x96"); got != testSqrtPrice {
		t.Errorf("sqrt price = %s, want %s", got, testSqrtPrice)
	}

	code, body = getJSON(t, s.handleMarketPrice, "/v1/markets/DOGE-USD/price",
		map[string]string{"market": "DOGE-USD"})
	if code != http.StatusNotFound {
		t.Errorf("unknown market status = %d, want 404", code)
	}
	if _, ok := body["error"]; !ok {
		t.Error("missing error body")
	}
}

func TestHandlePosition(t *testing.T) {
	s, _ := newTestServer(t)
	trader := uuid.New()

	code, body := getJSON(t, s.handlePosition, "/v1/traders/x/markets/ETH-USD/position",
		map[string]string{"trader": trader.String(), "market": "ETH-USD"})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	for _, field := range []string{"position_size", "open_notional", "owed_realized_pnl"} {
		if got := stringField(t, body, field); got != "0" {
			t.Errorf("%s = %s, want 0", field, got)
		}
	}

	code, _ = getJSON(t, s.handlePosition, "/v1/traders/x/markets/DOGE-USD/position",
		map[string]string{"trader": trader.String(), "market": "DOGE-USD"})
	if code != http.StatusNotFound {
		t.Errorf("unknown market status = %d, want 404", code)
	}
}

func TestHandlePositionBadTrader(t *testing.T) {
	s, _ := newTestServer(t)

	code, body := getJSON(t, s.handlePosition, "/v1/traders/not-a-uuid/markets/ETH-USD/position",
		map[string]string{"trader": "not-a-uuid", "market": "ETH-USD"})
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if _, ok := body["error"]; !ok {
		t.Error("missing error body")
	}
}

func TestHandleVaultBalanceAndFreeCollateral(t *testing.T) {
	s, v := newTestServer(t)
	trader := uuid.New()

	amount, _ := new(big.Int).SetString("250000000000000000000", 10)
	if err := v.Deposit(trader, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	code, body := getJSON(t, s.handleVaultBalance, "/v1/traders/x/balance",
		map[string]string{"trader": trader.String()})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got := stringField(t, body, "balance"); got != amount.String() {
		t.Errorf("balance = %s, want %s", got, amount)
	}

	// No positions: everything deposited is free.
	code, body = getJSON(t, s.handleFreeCollateral, "/v1/traders/x/free-collateral",
		map[string]string{"trader": trader.String()})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got := stringField(t, body, "free_collateral"); got != amount.String() {
		t.Errorf("free collateral = %s, want %s", got, amount)
	}
}

func TestHandleNetQuoteBalance(t *testing.T) {
	s, _ := newTestServer(t)

	code, body := getJSON(t, s.handleNetQuoteBalance, "/v1/traders/x/net-quote-balance",
		map[string]string{"trader": uuid.NewString()})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got := stringField(t, body, "net_quote_balance"); got != "0" {
		t.Errorf("net quote balance = %s, want 0", got)
	}
}
