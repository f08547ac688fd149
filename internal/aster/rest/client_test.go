package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	testKey        = "api-key"
	testSecret     = "api-secret"
	testServerTime = int64(1_700_000_005_000)
)

type capturedRequest struct {
	method string
	path   string
	query  url.Values
	raw    string
	header http.Header
}

type fakeExchange struct {
	mu       sync.Mutex
	requests []capturedRequest
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeExchange(t *testing.T) (*fakeExchange, *httptest.Server) {
	t.Helper()
	fx := &fakeExchange{handlers: make(map[string]func(w http.ResponseWriter, r *http.Request))}
	fx.handlers[serverTimePath] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"serverTime":1700000005000}`))
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.RawQuery
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			raw = string(body)
		}
		query, _ := url.ParseQuery(raw)
		fx.mu.Lock()
		fx.requests = append(fx.requests, capturedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  query,
			raw:    raw,
			header: r.Header.Clone(),
		})
		handler, ok := fx.handlers[r.URL.Path]
		fx.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":-1,"msg":"not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return fx, srv
}

func (f *fakeExchange) last(path string) (capturedRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].path == path {
			return f.requests[i], true
		}
	}
	return capturedRequest{}, false
}

func newTestClient(baseURL string, local time.Time) *Client {
	c := New(baseURL, testKey, testSecret, Options{Timeout: 2 * time.Second}, zap.NewNop())
	c.now = func() time.Time { return local }
	return c
}

func TestTimestampCorrectsSkew(t *testing.T) {
	_, srv := newFakeExchange(t)
	local := time.UnixMilli(testServerTime - 3_000)
	c := newTestClient(srv.URL, local)
	ts, err := c.Timestamp(context.Background())
	if err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if ts != testServerTime {
		t.Fatalf("expected %d, got %d", testServerTime, ts)
	}
}

func TestSignedGetSignsQueryAndSendsKeyHeader(t *testing.T) {
	fx, srv := newFakeExchange(t)
	fx.handlers[positionRiskPath] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","positionAmt":"-0.010","entryPrice":"50000","unRealizedProfit":"1.5","liquidationPrice":"60000","positionSide":"BOTH"}]`))
	}
	c := newTestClient(srv.URL, time.UnixMilli(testServerTime+2_000))
	pos, err := c.Position(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !pos.PositionAmt.Equal(decimal.RequireFromString("-0.01")) {
		t.Fatalf("unexpected position amount %s", pos.PositionAmt)
	}
	req, ok := fx.last(positionRiskPath)
	if !ok {
		t.Fatalf("expected positionRisk request")
	}
	if req.header.Get(apiKeyHeader) != testKey {
		t.Fatalf("expected api key header, got %q", req.header.Get(apiKeyHeader))
	}
	if req.query.Has("apiKey") || strings.Contains(req.raw, testKey) {
		t.Fatalf("api key leaked into query: %s", req.raw)
	}
	if req.query.Get("timestamp") != "1700000005000" {
		t.Fatalf("expected skew-corrected timestamp, got %s", req.query.Get("timestamp"))
	}
	if req.query.Get("recvWindow") != "5000" {
		t.Fatalf("expected recvWindow 5000, got %s", req.query.Get("recvWindow"))
	}
	payload, sig, found := strings.Cut(req.raw, "&signature=")
	if !found {
		t.Fatalf("signature missing from %s", req.raw)
	}
	if sig != Sign(testSecret, payload) {
		t.Fatalf("signature mismatch")
	}
}

func TestServerTimeFetchedOnEverySignedCall(t *testing.T) {
	fx, srv := newFakeExchange(t)
	fx.handlers[accountPath] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"assets":[]}`))
	}
	c := newTestClient(srv.URL, time.UnixMilli(testServerTime))
	for i := 0; i < 3; i++ {
		if _, err := c.Account(context.Background()); err != nil {
			t.Fatalf("account: %v", err)
		}
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	timeCalls := 0
	for _, req := range fx.requests {
		if req.path == serverTimePath {
			timeCalls++
		}
	}
	if timeCalls != 3 {
		t.Fatalf("expected 3 server time calls, got %d", timeCalls)
	}
}

func TestPlaceOrderPostsFormBody(t *testing.T) {
	fx, srv := newFakeExchange(t)
	fx.handlers[orderPath] = func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"orderId":42,"clientOrderId":"cid-1","symbol":"BTCUSDT","status":"NEW","side":"BUY","origQty":"2.000"}`))
	}
	c := newTestClient(srv.URL, time.UnixMilli(testServerTime))
	resp, err := c.PlaceOrder(context.Background(), OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          SideBuy,
		Type:          "MARKET",
		Quantity:      decimal.RequireFromString("2"),
		PositionSide:  "BOTH",
		ClientOrderID: "cid-1",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if resp.OrderID != 42 {
		t.Fatalf("expected order id 42, got %d", resp.OrderID)
	}
	req, _ := fx.last(orderPath)
	for key, want := range map[string]string{
		"symbol":           "BTCUSDT",
		"side":             "BUY",
		"type":             "MARKET",
		"quantity":         "2",
		"positionSide":     "BOTH",
		"newClientOrderId": "cid-1",
	} {
		if got := req.query.Get(key); got != want {
			t.Fatalf("%s expected %q, got %q", key, want, got)
		}
	}
}

func TestExchangeErrorSurfacesAsRequestFailed(t *testing.T) {
	fx, srv := newFakeExchange(t)
	fx.handlers[leveragePath] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`))
	}
	c := newTestClient(srv.URL, time.UnixMilli(testServerTime))
	_, err := c.SetLeverage(context.Background(), "BTCUSDT", 10)
	var reqErr *RequestFailed
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestFailed, got %v", err)
	}
	if reqErr.Endpoint != leveragePath || reqErr.Status != http.StatusBadRequest {
		t.Fatalf("unexpected request error: %+v", reqErr)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != -1021 {
		t.Fatalf("expected api error -1021, got %v", err)
	}
}

func TestServerTimeFailureNamesSignedEndpoint(t *testing.T) {
	fx, srv := newFakeExchange(t)
	fx.handlers[serverTimePath] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":-1001,"msg":"Internal error"}`))
	}
	c := newTestClient(srv.URL, time.UnixMilli(testServerTime))
	_, err := c.PlaceOrder(context.Background(), OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Type:     "MARKET",
		Quantity: decimal.RequireFromString("0.002"),
	})
	var reqErr *RequestFailed
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestFailed, got %v", err)
	}
	if reqErr.Endpoint != orderPath {
		t.Fatalf("expected endpoint %s, got %s", orderPath, reqErr.Endpoint)
	}
	if !strings.Contains(err.Error(), serverTimePath) {
		t.Fatalf("expected server time cause in %q", err.Error())
	}
	if _, ok := fx.last(orderPath); ok {
		t.Fatalf("order must not be sent without a timestamp")
	}
}

func TestSideOpposite(t *testing.T) {
	if got := SideBuy.Opposite(); got != SideSell {
		t.Fatalf("BUY opposite: got %s", got)
	}
	if got := SideSell.Opposite(); got != SideBuy {
		t.Fatalf("SELL opposite: got %s", got)
	}
}

func TestMalformedJSONSurfacesAsRequestFailed(t *testing.T) {
	fx, srv := newFakeExchange(t)
	fx.handlers[tickerPricePath] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price":`))
	}
	c := newTestClient(srv.URL, time.UnixMilli(testServerTime))
	_, err := c.TickerPrice(context.Background(), "BTCUSDT")
	var reqErr *RequestFailed
	if !errors.As(err, &reqErr) || reqErr.Endpoint != tickerPricePath {
		t.Fatalf("expected RequestFailed for ticker, got %v", err)
	}
}

func TestTransportErrorSurfacesAsRequestFailed(t *testing.T) {
	_, srv := newFakeExchange(t)
	baseURL := srv.URL
	srv.Close()
	c := newTestClient(baseURL, time.UnixMilli(testServerTime))
	_, err := c.FundingRate(context.Background(), "BTCUSDT")
	var reqErr *RequestFailed
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestFailed, got %v", err)
	}
}

func TestWalletBalanceDefaultsToZeroWithoutUSDT(t *testing.T) {
	fx, srv := newFakeExchange(t)
	fx.handlers[accountPath] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"assets":[{"asset":"BNB","walletBalance":"3"}]}`))
	}
	c := newTestClient(srv.URL, time.UnixMilli(testServerTime))
	bal, err := c.WalletBalance(context.Background())
	if err != nil {
		t.Fatalf("wallet balance: %v", err)
	}
	if !bal.IsZero() {
		t.Fatalf("expected zero balance, got %s", bal)
	}
}

func TestNetPositionFoldsHedgeModeRows(t *testing.T) {
	rows := []PositionRisk{
		{Symbol: "BTCUSDT", PositionAmt: decimal.RequireFromString("0.5"), PositionSide: "LONG"},
		{Symbol: "BTCUSDT", PositionAmt: decimal.RequireFromString("-0.2"), PositionSide: "SHORT"},
		{Symbol: "ETHUSDT", PositionAmt: decimal.RequireFromString("9")},
	}
	net := NetPosition("BTCUSDT", rows)
	if !net.PositionAmt.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("expected 0.3, got %s", net.PositionAmt)
	}
	if flat := NetPosition("BTCUSDT", nil); !flat.PositionAmt.IsZero() {
		t.Fatalf("expected flat position, got %s", flat.PositionAmt)
	}
}
