package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"aster-hedge-bot/internal/account"
	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/engine"
	"aster-hedge-bot/internal/monitor"
	"aster-hedge-bot/internal/state"
	"aster-hedge-bot/internal/state/sqlite"
	"aster-hedge-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const testSymbol = "BTCUSDT"

type placedOrder struct {
	key      string
	side     string
	quantity decimal.Decimal
}

// fakeVenue keeps one net position per API key and fills every market
// order in full at a fixed price.
type fakeVenue struct {
	mu        sync.Mutex
	positions map[string]decimal.Decimal
	orders    []placedOrder
	leverage  int
	nextID    int64
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{positions: make(map[string]decimal.Decimal)}
}

func (v *fakeVenue) setPosition(key string, amt decimal.Decimal) {
	v.mu.Lock()
	v.positions[key] = amt
	v.mu.Unlock()
}

func (v *fakeVenue) position(key string) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positions[key]
}

func (v *fakeVenue) placed() []placedOrder {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]placedOrder(nil), v.orders...)
}

func (v *fakeVenue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.RawQuery
	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		raw = string(body)
	}
	params, _ := url.ParseQuery(raw)
	key := r.Header.Get("X-MBX-APIKEY")

	v.mu.Lock()
	defer v.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/fapi/v1/time":
		writeJSON(w, map[string]any{"serverTime": time.Now().UnixMilli()})
	case "/fapi/v1/ticker/price":
		writeJSON(w, map[string]any{"symbol": testSymbol, "price": "50000", "time": time.Now().UnixMilli()})
	case "/fapi/v1/premiumIndex":
		writeJSON(w, map[string]any{"symbol": testSymbol, "markPrice": "50000", "lastFundingRate": "0.0001"})
	case "/fapi/v2/positionRisk":
		writeJSON(w, []map[string]any{{
			"symbol":           testSymbol,
			"positionAmt":      v.positions[key].String(),
			"entryPrice":       "50000",
			"markPrice":        "50000",
			"unRealizedProfit": "0",
			"liquidationPrice": "0",
			"leverage":         "5",
			"positionSide":     "BOTH",
		}})
	case "/fapi/v2/account":
		writeJSON(w, map[string]any{"assets": []map[string]any{{
			"asset":            "USDT",
			"walletBalance":    "1000",
			"unrealizedProfit": "0",
			"marginBalance":    "1000",
		}}})
	case "/fapi/v1/leverage":
		requested := params.Get("leverage")
		if v.leverage != 0 {
			requested = fmt.Sprint(v.leverage)
		}
		_, _ = io.WriteString(w, `{"symbol":"`+testSymbol+`","leverage":`+requested+`,"maxNotionalValue":"1000000"}`)
	case "/fapi/v1/order":
		qty, err := decimal.NewFromString(params.Get("quantity"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"code":-1100,"msg":"bad quantity"}`)
			return
		}
		side := params.Get("side")
		delta := qty
		if side == "SELL" {
			delta = qty.Neg()
		}
		v.positions[key] = v.positions[key].Add(delta)
		v.orders = append(v.orders, placedOrder{key: key, side: side, quantity: qty})
		v.nextID++
		writeJSON(w, map[string]any{
			"orderId":       v.nextID,
			"clientOrderId": params.Get("newClientOrderId"),
			"symbol":        testSymbol,
			"status":        "FILLED",
			"side":          side,
			"type":          "MARKET",
			"origQty":       qty.String(),
			"executedQty":   qty.String(),
			"avgPrice":      "50000",
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	_ = json.NewEncoder(w).Encode(payload)
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		REST: config.RESTConfig{BaseURL: baseURL, Timeout: 2 * time.Second, RecvWindow: 5000},
		Accounts: []config.AccountConfig{
			{Name: "account1", APIKey: "key1", APISecret: "secret1"},
			{Name: "account2", APIKey: "key2", APISecret: "secret2"},
		},
		Trading: config.TradingConfig{
			Symbol:            testSymbol,
			PositionSide:      "BOTH",
			OrderType:         "MARKET",
			Leverage:          5,
			NotionalUSDT:      decimal.NewFromInt(100),
			QuantityPrecision: 3,
			MinQuantity:       decimal.RequireFromString("0.001"),
		},
		Monitor:  config.MonitorConfig{PollInterval: 10 * time.Millisecond, RenderInterval: 10 * time.Millisecond},
		Shutdown: config.ShutdownConfig{ReconcileTimeout: 5 * time.Second},
		State:    config.StateConfig{SQLitePath: filepath.Join(t.TempDir(), "state", "bot.db")},
	}
}

func runApp(t *testing.T, cfg *config.Config) (context.CancelFunc, <-chan error) {
	t.Helper()
	application, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()
	return cancel, done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatalf("app did not stop")
		return nil
	}
}

func TestNewRequiresTwoAccounts(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Accounts = cfg.Accounts[:1]
	if _, err := New(cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected error for a single account")
	}
}

func TestRunTradesAndFlattensOnShutdown(t *testing.T) {
	venue := newFakeVenue()
	srv := httptest.NewServer(venue)
	defer srv.Close()

	cancel, done := runApp(t, testConfig(t, srv.URL))
	deadline := time.Now().Add(5 * time.Second)
	for len(venue.placed()) < 4 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("expected at least one full cycle, got %d orders", len(venue.placed()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	orders := venue.placed()
	if orders[0].key != "key1" || orders[0].side != "BUY" {
		t.Fatalf("first order must buy on account1, got %+v", orders[0])
	}
	if orders[1].key != "key2" || orders[1].side != "SELL" {
		t.Fatalf("second order must sell on account2, got %+v", orders[1])
	}
	if !orders[0].quantity.Equal(decimal.RequireFromString("0.002")) {
		t.Fatalf("expected 100 USDT / 50000 = 0.002, got %s", orders[0].quantity)
	}
	for _, key := range []string{"key1", "key2"} {
		if pos := venue.position(key); !pos.IsZero() {
			t.Fatalf("%s left with position %s", key, pos)
		}
	}
}

func TestRunFlattensUnfinishedCycleBeforeTrading(t *testing.T) {
	venue := newFakeVenue()
	venue.setPosition("key2", decimal.RequireFromString("-3.2"))
	venue.leverage = 3
	srv := httptest.NewServer(venue)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	seed, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := state.SaveCycleSnapshot(context.Background(), seed, state.CycleSnapshot{
		Cycle:     7,
		Phase:     string(strategy.StateHold),
		Symbol:    testSymbol,
		ShortOpen: true,
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	_ = seed.Close()

	cancel, done := runApp(t, cfg)
	defer cancel()
	err = waitResult(t, done)
	var mismatch *engine.LeverageMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected leverage mismatch, got %v", err)
	}

	orders := venue.placed()
	if len(orders) != 1 {
		t.Fatalf("expected exactly one reconcile order, got %+v", orders)
	}
	if orders[0].key != "key2" || orders[0].side != "BUY" || !orders[0].quantity.Equal(decimal.RequireFromString("3.2")) {
		t.Fatalf("unexpected reconcile order %+v", orders[0])
	}

	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	last, ok, err := state.LoadCycleSnapshot(context.Background(), store)
	if err != nil || !ok {
		t.Fatalf("load snapshot: %v %v", ok, err)
	}
	if last.Phase != state.PhaseReconciled || last.Unfinished() {
		t.Fatalf("expected reconciled snapshot, got %+v", last)
	}
}

func TestRunStartupFailureFlattensOpenPositions(t *testing.T) {
	venue := newFakeVenue()
	venue.setPosition("key1", decimal.RequireFromString("0.5"))
	venue.leverage = 20
	srv := httptest.NewServer(venue)
	defer srv.Close()

	cancel, done := runApp(t, testConfig(t, srv.URL))
	defer cancel()
	err := waitResult(t, done)
	var mismatch *engine.LeverageMismatch
	if !errors.As(err, &mismatch) || mismatch.Got != 20 || mismatch.Requested != 5 {
		t.Fatalf("expected leverage mismatch 5/20, got %v", err)
	}
	orders := venue.placed()
	if len(orders) != 1 || orders[0].side != "SELL" || !orders[0].quantity.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected one SELL 0.5, got %+v", orders)
	}
	if pos := venue.position("key1"); !pos.IsZero() {
		t.Fatalf("account1 left with position %s", pos)
	}
}

func TestTimescaleSamplesFromModel(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("UTC+2", 2*3600))
	m := monitor.Build([]account.Snapshot{
		{
			Account:        "account1",
			PositionSide:   account.SideLong,
			Quantity:       decimal.RequireFromString("0.002"),
			WalletBalance:  decimal.RequireFromString("1001"),
			InitialBalance: decimal.RequireFromString("1000"),
			StatusText:     account.StatusRunning,
		},
		{
			Account:        "account2",
			PositionSide:   account.SideShort,
			Quantity:       decimal.RequireFromString("0.002"),
			WalletBalance:  decimal.RequireFromString("998"),
			InitialBalance: decimal.RequireFromString("1000"),
			StatusText:     account.StatusRunning,
		},
	}, strategy.CycleStatistics{
		Symbol:          testSymbol,
		Phase:           strategy.StateHold,
		TradeCount:      4,
		LastOrderPrice:  decimal.NewFromInt(50000),
		TotalVolumeBase: decimal.RequireFromString("0.016"),
	}, now)

	accounts, stats := timescaleSamples(m)
	if len(accounts) != 2 {
		t.Fatalf("expected 2 account samples, got %d", len(accounts))
	}
	if accounts[0].PositionSide != "LONG" || accounts[1].PositionSide != "SHORT" {
		t.Fatalf("unexpected sides %s/%s", accounts[0].PositionSide, accounts[1].PositionSide)
	}
	if accounts[0].Symbol != testSymbol || accounts[0].Time.Location() != time.UTC {
		t.Fatalf("unexpected account sample %+v", accounts[0])
	}
	if stats.Phase != "HOLD" || stats.TradeCount != 4 || stats.TotalPnl != -1 || stats.LastPrice != 50000 {
		t.Fatalf("unexpected stats sample %+v", stats)
	}
}
