package okex

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"resty.dev/v3"

	"nakula/pkg/core"
)

func fixedClockProtocol(t *testing.T, ts time.Time) *Protocol {
	t.Helper()
	p := NewProtocol()
	p.nowFn = func() time.Time { return ts }
	return p
}

func expectedSignature(payload, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func TestSignRequest_Post(t *testing.T) {
	now := time.Date(2020, 3, 16, 12, 30, 45, 123_000_000, time.UTC)
	p := fixedClockProtocol(t, now)

	req := core.NewRequest(http.MethodPost, "/api/spot/v3/orders")
	require.NoError(t, p.SignRequest(req, core.Credentials{
		APIKey:     "key",
		SecretKey:  "s",
		Passphrase: "phrase",
	}))

	timestamp := "2020-03-16T12:30:45.123Z"
	payload := timestamp + "POST" + "/api/spot/v3/orders" + "{}"

	assert.Equal(t, "{}", req.Body)
	assert.Equal(t, "key", req.Headers["OK-ACCESS-KEY"])
	assert.Equal(t, timestamp, req.Headers["OK-ACCESS-TIMESTAMP"])
	assert.Equal(t, "phrase", req.Headers["OK-ACCESS-PASSPHRASE"])
	assert.Equal(t, "application/json", req.Headers["Content-Type"])
	assert.Equal(t, expectedSignature(payload, "s"), req.Headers["OK-ACCESS-SIGN"])
}

func TestSignRequest_PostBodyFromQuery(t *testing.T) {
	now := time.Date(2020, 3, 16, 12, 30, 45, 0, time.UTC)
	p := fixedClockProtocol(t, now)

	req := core.NewRequest(http.MethodPost, "/api/spot/v3/orders")
	req.SetQuery("instrument_id", "BTC-USDT")
	require.NoError(t, p.SignRequest(req, core.Credentials{SecretKey: "s"}))

	body, ok := req.Body.(string)
	require.True(t, ok)
	assert.JSONEq(t, `{"instrument_id":"BTC-USDT"}`, body)
	assert.Empty(t, req.Query)

	payload := "2020-03-16T12:30:45.000Z" + "POST" + "/api/spot/v3/orders" + body
	assert.Equal(t, expectedSignature(payload, "s"), req.Headers["OK-ACCESS-SIGN"])
}

func TestSignRequest_GetAppendsQueryToPathAndPayload(t *testing.T) {
	now := time.Date(2020, 3, 16, 0, 0, 0, 0, time.UTC)
	p := fixedClockProtocol(t, now)

	req := core.NewRequest(http.MethodGet, "/api/spot/v3/orders")
	req.SetQuery("instrument_id", "BTC-USDT")
	req.SetQuery("status", "all")
	require.NoError(t, p.SignRequest(req, core.Credentials{SecretKey: "s"}))

	// Encoded in sorted key order, identical in path and payload.
	wantPath := "/api/spot/v3/orders?instrument_id=BTC-USDT&status=all"
	assert.Equal(t, wantPath, req.Path)
	assert.Nil(t, req.Body)
	assert.Empty(t, req.Query)

	payload := "2020-03-16T00:00:00.000Z" + "GET" + wantPath
	assert.Equal(t, expectedSignature(payload, "s"), req.Headers["OK-ACCESS-SIGN"])
}

func TestSignRequest_NoSecretYieldsEmptySignature(t *testing.T) {
	p := NewProtocol()

	req := core.NewRequest(http.MethodGet, "/api/account/v3/wallet")
	require.NoError(t, p.SignRequest(req, core.Credentials{APIKey: "key"}))

	assert.Equal(t, "", req.Headers["OK-ACCESS-SIGN"])
	assert.Equal(t, "key", req.Headers["OK-ACCESS-KEY"])
}

func TestSignRequest_TimestampMatchesHeader(t *testing.T) {
	p := NewProtocol()

	req := core.NewRequest(http.MethodPost, "/api/spot/v3/orders")
	require.NoError(t, p.SignRequest(req, core.Credentials{SecretKey: "s"}))

	ts := req.Headers["OK-ACCESS-TIMESTAMP"]
	parsed, err := time.Parse(timestampLayout, ts)
	require.NoError(t, err)

	// The header timestamp is the exact string signed into the payload.
	payload := ts + "POST" + "/api/spot/v3/orders" + "{}"
	assert.Equal(t, expectedSignature(payload, "s"), req.Headers["OK-ACCESS-SIGN"])
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
}

func TestBuildRequest_Paths(t *testing.T) {
	p := NewProtocol()
	ctx := context.Background()

	tests := []struct {
		op     core.Operation
		params core.Params
		method string
		path   string
		auth   bool
	}{
		{core.OpGetMarkets, core.Params{}, http.MethodGet, "/api/spot/v3/instruments", false},
		{core.OpGetTicker, core.Params{"instrument_id": "BTC-USDT"},
			http.MethodGet, "/api/spot/v3/instruments/BTC-USDT/ticker", false},
		{core.OpGetOrderBook, core.Params{"instrument_id": "BTC-USDT"},
			http.MethodGet, "/api/spot/v3/instruments/BTC-USDT/book", false},
		{core.OpGetTrades, core.Params{"instrument_id": "BTC-USDT"},
			http.MethodGet, "/api/spot/v3/instruments/BTC-USDT/trades", false},
		{core.OpGetCandles, core.Params{"instrument_id": "BTC-USDT"},
			http.MethodGet, "/api/spot/v3/instruments/BTC-USDT/candles", false},
		{core.OpGetBalance, core.Params{}, http.MethodGet, "/api/account/v3/wallet", true},
		{core.OpCancelOrder, core.Params{"order_id": "42", "instrument_id": "BTC-USDT"},
			http.MethodPost, "/api/spot/v3/cancel_orders/42", true},
		{core.OpGetOrder, core.Params{"order_id": "42", "instrument_id": "BTC-USDT"},
			http.MethodGet, "/api/spot/v3/orders/42", true},
		{core.OpGetOpenOrders, core.Params{"instrument_id": "BTC-USDT"},
			http.MethodGet, "/api/spot/v3/orders_pending", true},
		{core.OpGetOrders, core.Params{"instrument_id": "BTC-USDT"},
			http.MethodGet, "/api/spot/v3/orders", true},
	}

	for _, tt := range tests {
		req, err := p.BuildRequest(ctx, tt.op, tt.params)
		require.NoError(t, err, "op %s", tt.op)
		assert.Equal(t, tt.method, req.Method, "op %s", tt.op)
		assert.Equal(t, tt.path, req.Path, "op %s", tt.op)
		assert.Equal(t, tt.auth, req.RequireAuth, "op %s", tt.op)
	}
}

func TestBuildRequest_PlaceOrderLimit(t *testing.T) {
	p := NewProtocol()

	req, err := p.BuildRequest(context.Background(), core.OpPlaceOrder, core.Params{
		"instrument_id": "BTC-USDT",
		"side":          "buy",
		"type":          "limit",
		"size":          "0.5",
		"price":         "10000",
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/spot/v3/orders", req.Path)
	assert.True(t, req.RequireAuth)
	assert.Equal(t, "0.5", req.Query["size"])
	assert.Equal(t, "10000", req.Query["price"])
}

func TestBuildRequest_PlaceOrderMarketBuyNeedsNotional(t *testing.T) {
	p := NewProtocol()

	_, err := p.BuildRequest(context.Background(), core.OpPlaceOrder, core.Params{
		"instrument_id": "BTC-USDT",
		"side":          "buy",
		"type":          "market",
		"size":          "0.5",
	})
	assert.Error(t, err)

	req, err := p.BuildRequest(context.Background(), core.OpPlaceOrder, core.Params{
		"instrument_id": "BTC-USDT",
		"side":          "buy",
		"type":          "market",
		"notional":      "5000",
	})
	require.NoError(t, err)
	assert.Equal(t, "5000", req.Query["notional"])
	assert.NotContains(t, req.Query, "size")
}

func TestBuildRequest_OrdersStatusFilter(t *testing.T) {
	p := NewProtocol()

	// The order-list filter travels under the "status" key, defaulting to "all".
	req, err := p.BuildRequest(context.Background(), core.OpGetOrders, core.Params{
		"instrument_id": "BTC-USDT",
	})
	require.NoError(t, err)
	assert.Equal(t, "all", req.Query["status"])
	assert.NotContains(t, req.Query, "state")

	req, err = p.BuildRequest(context.Background(), core.OpGetOrders, core.Params{
		"instrument_id": "BTC-USDT",
		"status":        "filled",
	})
	require.NoError(t, err)
	assert.Equal(t, "filled", req.Query["status"])
}

func TestBuildRequest_CandleTimeframe(t *testing.T) {
	p := NewProtocol()

	req, err := p.BuildRequest(context.Background(), core.OpGetCandles, core.Params{
		"instrument_id": "BTC-USDT",
		"timeframe":     "1h",
	})
	require.NoError(t, err)
	assert.Equal(t, "3600", req.Query["granularity"])

	_, err = p.BuildRequest(context.Background(), core.OpGetCandles, core.Params{
		"instrument_id": "BTC-USDT",
		"timeframe":     "7m",
	})
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	path, rest, err := expandPath("/api/spot/v3/orders/{order_id}", core.Params{
		"order_id":      "2477750",
		"instrument_id": "BTC-USDT",
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/spot/v3/orders/2477750", path)
	assert.Equal(t, core.Params{"instrument_id": "BTC-USDT"}, rest)

	_, _, err = expandPath("/api/spot/v3/orders/{order_id}", core.Params{})
	assert.Error(t, err)
}

func TestMapErrorCode(t *testing.T) {
	tests := []struct {
		code string
		want core.ErrorType
	}{
		{"400", core.ErrorTypeNotSupported},
		{"405", core.ErrorTypeNotSupported},
		{"401", core.ErrorTypeAuthentication},
		{"6005", core.ErrorTypeAuthentication},
		{"429", core.ErrorTypeRateLimit},
		{"1002", core.ErrorTypeServiceUnavailable},
		{"1016", core.ErrorTypeInsufficientFunds},
		{"3008", core.ErrorTypeInvalidOrder},
		{"6004", core.ErrorTypeInvalidNonce},
		{"9999", core.ErrorTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapErrorCode(tt.code), "code %s", tt.code)
	}
}

func fetchResponse(t *testing.T, status int, body string) *resty.Response {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	client := resty.New()
	t.Cleanup(func() { _ = client.Close() })

	resp, err := client.R().Get(server.URL)
	require.NoError(t, err)
	return resp
}

func TestParseResponse_Markets(t *testing.T) {
	p := NewProtocol()

	resp := fetchResponse(t, http.StatusOK, `[
		{"instrument_id":"BTC-USDT","base_currency":"BTC","quote_currency":"USDT",
		 "min_size":"0.001","size_increment":"4","tick_size":"2"}
	]`)

	result, err := p.ParseResponse(core.OpGetMarkets, resp)
	require.NoError(t, err)

	markets, ok := result.([]core.Market)
	require.True(t, ok)
	require.Len(t, markets, 1)
	assert.Equal(t, "BTC/USDT", markets[0].Symbol)
}

func TestParseResponse_ErrorClassification(t *testing.T) {
	p := NewProtocol()

	resp := fetchResponse(t, http.StatusBadRequest, `{"code":"3008","message":"invalid order size"}`)

	_, err := p.ParseResponse(core.OpPlaceOrder, resp)
	require.Error(t, err)
	assert.True(t, core.IsInvalidOrder(err))

	var exErr *core.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "3008", exErr.Code)
	assert.Equal(t, "invalid order size", exErr.Message)
	assert.Equal(t, "okex", exErr.Exchange)
}

func TestParseResponse_ErrorWithoutCode(t *testing.T) {
	p := NewProtocol()

	resp := fetchResponse(t, http.StatusBadGateway, `upstream timeout`)

	_, err := p.ParseResponse(core.OpGetTicker, resp)
	require.Error(t, err)

	var exErr *core.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, core.ErrorTypeUnknown, exErr.Type)
	assert.Equal(t, http.StatusBadGateway, exErr.StatusCode)
}

func TestParseResponse_PlaceResult(t *testing.T) {
	p := NewProtocol()

	resp := fetchResponse(t, http.StatusOK, `{"order_id":"2477750","client_oid":"","result":true}`)

	result, err := p.ParseResponse(core.OpPlaceOrder, resp)
	require.NoError(t, err)

	order, ok := result.(*core.Order)
	require.True(t, ok)
	assert.Equal(t, "2477750", order.ID)
}

func TestParseResponse_PlaceResultRejected(t *testing.T) {
	p := NewProtocol()

	resp := fetchResponse(t, http.StatusOK, `{"order_id":"","result":false}`)

	_, err := p.ParseResponse(core.OpPlaceOrder, resp)
	require.Error(t, err)
	assert.True(t, core.IsInvalidOrder(err))
}
