package okex

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"resty.dev/v3"

	"nakula/pkg/core"
)

const (
	// ProductionURL is the REST host for the OKEx v3 API.
	ProductionURL = "https://www.okex.com"
	// WebsocketURL is the streaming endpoint for the OKEx v3 API.
	WebsocketURL = "wss://real.okex.com:8443/ws/v3"

	spotPrefix    = "/api/spot/v3"
	accountPrefix = "/api/account/v3"

	// timestampLayout renders the signing nonce. The exchange rejects
	// requests whose OK-ACCESS-TIMESTAMP differs from the signed payload,
	// so the same formatted string is used for both.
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Timeframes maps unified candle intervals to the exchange's granularity
// values in seconds.
var Timeframes = map[string]int{
	"1m":  60,
	"3m":  180,
	"5m":  300,
	"15m": 900,
	"30m": 1800,
	"1h":  3600,
	"1d":  86400,
	"1w":  604800,
}

// Protocol implements the core.Protocol interface for the OKEx exchange.
// It provides request building, response parsing, and authentication for
// the v3 REST API.
type Protocol struct {
	// nowFn supplies the signing clock, replaceable in tests.
	nowFn func() time.Time
}

// NewProtocol creates a new OKEx protocol instance.
func NewProtocol() *Protocol {
	return &Protocol{nowFn: time.Now}
}

// Name returns the protocol identifier "okex".
func (p *Protocol) Name() string {
	return "okex"
}

// Version returns the OKEx API version string.
func (p *Protocol) Version() string {
	return "3"
}

// BaseURL returns the scheme and host requests are sent to. Spot and
// account endpoints share the host and differ only in path prefix.
func (p *Protocol) BaseURL() string {
	return ProductionURL
}

// SupportedOperations returns the list of operations supported by this protocol.
func (p *Protocol) SupportedOperations() []core.Operation {
	return []core.Operation{
		core.OpGetMarkets,
		core.OpGetTicker,
		core.OpGetOrderBook,
		core.OpGetTrades,
		core.OpGetCandles,
		core.OpGetBalance,
		core.OpPlaceOrder,
		core.OpCancelOrder,
		core.OpGetOrder,
		core.OpGetOpenOrders,
		core.OpGetOrders,
	}
}

// RateLimits returns the rate limit configuration for the OKEx API.
// The exchange allows one request per two seconds on public endpoints.
func (p *Protocol) RateLimits() core.RateLimitConfig {
	return core.RateLimitConfig{
		RequestsPerSecond: 0.5,
		Burst:             1,
	}
}

// BuildRequest constructs an exchange-specific HTTP request descriptor for
// the given operation. Paths are relative to the host so the signer can
// cover them verbatim.
func (p *Protocol) BuildRequest(ctx context.Context, op core.Operation, params core.Params) (*core.Request, error) {
	switch op {
	case core.OpGetMarkets:
		return core.NewRequest(http.MethodGet, spotPrefix+"/instruments"), nil
	case core.OpGetTicker:
		return p.buildInstrumentRequest("/instruments/{instrument_id}/ticker", params)
	case core.OpGetOrderBook:
		return p.buildGetOrderBookRequest(params)
	case core.OpGetTrades:
		return p.buildGetTradesRequest(params)
	case core.OpGetCandles:
		return p.buildGetCandlesRequest(params)
	case core.OpGetBalance:
		req := core.NewRequest(http.MethodGet, accountPrefix+"/wallet")
		req.SetRequireAuth(true)
		return req, nil
	case core.OpPlaceOrder:
		return p.buildPlaceOrderRequest(params)
	case core.OpCancelOrder:
		return p.buildCancelOrderRequest(params)
	case core.OpGetOrder:
		return p.buildGetOrderRequest(params)
	case core.OpGetOpenOrders:
		return p.buildGetOpenOrdersRequest(params)
	case core.OpGetOrders:
		return p.buildGetOrdersRequest(params)
	default:
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}
}

// SignRequest signs a request descriptor with the v3 HMAC-SHA256 scheme.
//
// The signed payload is timestamp + method + path relative to the host.
// For GET requests the URL-encoded query is appended to both the path and
// the payload; for other methods the JSON-serialized query becomes the
// request body and is appended to the payload. The signature is the
// base64-encoded HMAC digest, or empty when no secret is configured.
func (p *Protocol) SignRequest(req *core.Request, creds core.Credentials) error {
	timestamp := p.nowFn().UTC().Format(timestampLayout)

	payload := timestamp + req.Method + req.Path

	if req.Method == http.MethodGet {
		if len(req.Query) > 0 {
			encoded := encodeQuery(req.Query)
			req.Path += "?" + encoded
			req.Query = nil
			payload += "?" + encoded
		}
	} else {
		body, err := encodeBody(req.Query)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		req.Body = body
		req.Query = nil
		payload += body
	}

	req.SetHeader("OK-ACCESS-KEY", creds.APIKey)
	req.SetHeader("OK-ACCESS-SIGN", signHMAC(payload, creds.SecretKey))
	req.SetHeader("OK-ACCESS-TIMESTAMP", timestamp)
	req.SetHeader("OK-ACCESS-PASSPHRASE", creds.Passphrase)
	req.SetHeader("Content-Type", "application/json")

	return nil
}

// ParseResponse parses an HTTP response and normalizes it to the canonical
// type for the operation. Error responses are classified by the exchange's
// numeric error code.
func (p *Protocol) ParseResponse(op core.Operation, resp *resty.Response) (any, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil response")
	}

	if resp.StatusCode() >= 400 {
		return nil, p.parseError(resp)
	}

	n := NewNormalizer()
	body := resp.Bytes()

	switch op {
	case core.OpGetMarkets:
		var data []okexInstrument
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal instruments: %w", err)
		}
		return n.NormalizeMarkets(data)

	case core.OpGetTicker:
		var data okexTicker
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal ticker: %w", err)
		}
		return n.NormalizeTicker(&data)

	case core.OpGetOrderBook:
		var data okexOrderBook
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal order book: %w", err)
		}
		return n.NormalizeOrderBook(&data)

	case core.OpGetTrades:
		var data []okexTrade
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal trades: %w", err)
		}
		return n.NormalizeTrades(data)

	case core.OpGetCandles:
		var data [][]string
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal candles: %w", err)
		}
		return n.NormalizeCandles(data)

	case core.OpGetBalance:
		var data []okexWalletEntry
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal wallet: %w", err)
		}
		return n.NormalizeBalances(data)

	case core.OpPlaceOrder, core.OpCancelOrder:
		var data okexPlaceResult
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal order result: %w", err)
		}
		if !data.Result {
			return nil, core.NewExchangeError(
				p.Name(), core.ErrorTypeInvalidOrder, resp.StatusCode(),
				"order request rejected")
		}
		return &core.Order{ID: data.OrderID, Info: data}, nil

	case core.OpGetOrder:
		var data okexOrder
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal order: %w", err)
		}
		return n.NormalizeOrder(&data)

	case core.OpGetOpenOrders, core.OpGetOrders:
		var data []okexOrder
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		return n.NormalizeOrders(data)

	default:
		var result any
		if err := sonic.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		return result, nil
	}
}

type okexAPIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *Protocol) parseError(resp *resty.Response) error {
	var apiErr okexAPIError
	if err := sonic.Unmarshal(resp.Bytes(), &apiErr); err == nil && apiErr.Code != "" {
		message := apiErr.Message
		if message == "" {
			message = resp.Status()
		}
		return core.NewExchangeError(
			p.Name(), mapErrorCode(apiErr.Code), resp.StatusCode(), message,
		).WithCode(apiErr.Code)
	}
	return core.NewExchangeError(
		p.Name(), core.ErrorTypeUnknown, resp.StatusCode(),
		fmt.Sprintf("HTTP error: %s", resp.Status()))
}

// mapErrorCode classifies the exchange's numeric string error codes.
func mapErrorCode(code string) core.ErrorType {
	switch code {
	case "400", "405":
		return core.ErrorTypeNotSupported
	case "401", "6005":
		return core.ErrorTypeAuthentication
	case "429":
		return core.ErrorTypeRateLimit
	case "1002":
		return core.ErrorTypeServiceUnavailable
	case "1016":
		return core.ErrorTypeInsufficientFunds
	case "3008":
		return core.ErrorTypeInvalidOrder
	case "6004":
		return core.ErrorTypeInvalidNonce
	default:
		return core.ErrorTypeUnknown
	}
}

func (p *Protocol) buildInstrumentRequest(template string, params core.Params) (*core.Request, error) {
	path, _, err := expandPath(spotPrefix+template, params)
	if err != nil {
		return nil, err
	}
	return core.NewRequest(http.MethodGet, path), nil
}

func (p *Protocol) buildGetOrderBookRequest(params core.Params) (*core.Request, error) {
	path, rest, err := expandPath(spotPrefix+"/instruments/{instrument_id}/book", params)
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodGet, path)
	if limit := getIntParam(rest, "limit"); limit > 0 {
		req.SetQuery("size", strconv.Itoa(limit))
	}
	return req, nil
}

func (p *Protocol) buildGetTradesRequest(params core.Params) (*core.Request, error) {
	path, rest, err := expandPath(spotPrefix+"/instruments/{instrument_id}/trades", params)
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodGet, path)
	if limit := getIntParam(rest, "limit"); limit > 0 {
		req.SetQuery("limit", strconv.Itoa(limit))
	}
	return req, nil
}

func (p *Protocol) buildGetCandlesRequest(params core.Params) (*core.Request, error) {
	path, rest, err := expandPath(spotPrefix+"/instruments/{instrument_id}/candles", params)
	if err != nil {
		return nil, err
	}

	timeframe := getStringParamWithDefault(rest, "timeframe", "1m")
	granularity, ok := Timeframes[timeframe]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}

	req := core.NewRequest(http.MethodGet, path)
	req.SetQuery("granularity", strconv.Itoa(granularity))
	if since, ok := rest["since"].(time.Time); ok && !since.IsZero() {
		req.SetQuery("start", since.UTC().Format(timestampLayout))
	}
	return req, nil
}

func (p *Protocol) buildPlaceOrderRequest(params core.Params) (*core.Request, error) {
	instrumentID, err := getRequiredStringParam(params, "instrument_id")
	if err != nil {
		return nil, err
	}
	side, err := getRequiredStringParam(params, "side")
	if err != nil {
		return nil, err
	}
	orderType, err := getRequiredStringParam(params, "type")
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodPost, spotPrefix+"/orders")
	req.SetQuery("instrument_id", instrumentID)
	req.SetQuery("side", side)
	req.SetQuery("type", orderType)
	req.SetRequireAuth(true)

	if orderType == "market" {
		if side == "buy" {
			notional, err := getRequiredStringParam(params, "notional")
			if err != nil {
				return nil, err
			}
			req.SetQuery("notional", notional)
		} else {
			size, err := getRequiredStringParam(params, "size")
			if err != nil {
				return nil, err
			}
			req.SetQuery("size", size)
		}
	} else {
		size, err := getRequiredStringParam(params, "size")
		if err != nil {
			return nil, err
		}
		price, err := getRequiredStringParam(params, "price")
		if err != nil {
			return nil, err
		}
		req.SetQuery("size", size)
		req.SetQuery("price", price)
	}

	return req, nil
}

func (p *Protocol) buildCancelOrderRequest(params core.Params) (*core.Request, error) {
	path, rest, err := expandPath(spotPrefix+"/cancel_orders/{order_id}", params)
	if err != nil {
		return nil, err
	}
	instrumentID, err := getRequiredStringParam(rest, "instrument_id")
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodPost, path)
	req.SetQuery("instrument_id", instrumentID)
	req.SetRequireAuth(true)
	return req, nil
}

func (p *Protocol) buildGetOrderRequest(params core.Params) (*core.Request, error) {
	path, rest, err := expandPath(spotPrefix+"/orders/{order_id}", params)
	if err != nil {
		return nil, err
	}
	instrumentID, err := getRequiredStringParam(rest, "instrument_id")
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodGet, path)
	req.SetQuery("instrument_id", instrumentID)
	req.SetRequireAuth(true)
	return req, nil
}

func (p *Protocol) buildGetOpenOrdersRequest(params core.Params) (*core.Request, error) {
	instrumentID, err := getRequiredStringParam(params, "instrument_id")
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodGet, spotPrefix+"/orders_pending")
	req.SetQuery("instrument_id", instrumentID)
	req.SetRequireAuth(true)

	if limit := getIntParam(params, "limit"); limit > 0 {
		req.SetQuery("limit", strconv.Itoa(limit))
	}
	return req, nil
}

func (p *Protocol) buildGetOrdersRequest(params core.Params) (*core.Request, error) {
	instrumentID, err := getRequiredStringParam(params, "instrument_id")
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodGet, spotPrefix+"/orders")
	req.SetQuery("instrument_id", instrumentID)
	req.SetQuery("status", getStringParamWithDefault(params, "status", "all"))
	req.SetRequireAuth(true)

	if limit := getIntParam(params, "limit"); limit > 0 {
		req.SetQuery("limit", strconv.Itoa(limit))
	}
	return req, nil
}

// expandPath fills {name} placeholders in a path template from params and
// returns the expanded path plus the residual params that were not consumed.
func expandPath(template string, params core.Params) (string, core.Params, error) {
	rest := make(core.Params, len(params))
	for k, v := range params {
		rest[k] = v
	}

	path := template
	for {
		start := strings.Index(path, "{")
		if start < 0 {
			break
		}
		end := strings.Index(path[start:], "}")
		if end < 0 {
			return "", nil, fmt.Errorf("unbalanced placeholder in path template %q", template)
		}
		name := path[start+1 : start+end]

		value, err := getRequiredStringParam(rest, name)
		if err != nil {
			return "", nil, err
		}
		delete(rest, name)

		path = path[:start] + url.PathEscape(value) + path[start+end+1:]
	}
	return path, rest, nil
}

// encodeQuery renders query params in canonical sorted form. The same
// encoding produces the transmitted URL and the signed payload, so the
// bytes always match.
func encodeQuery(params core.Params) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, fmt.Sprint(v))
	}
	return values.Encode()
}

// encodeBody serializes query params as the JSON request body. An empty
// map serializes to "{}" rather than nothing; the exchange signs bodies of
// authenticated POST requests even when they carry no fields.
func encodeBody(params core.Params) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	body, err := sonic.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// signHMAC computes the base64-encoded HMAC-SHA256 signature, or an empty
// string when there is nothing to sign or no secret to sign with.
func signHMAC(payload, secret string) string {
	if payload == "" || secret == "" {
		return ""
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func getRequiredStringParam(params core.Params, key string) (string, error) {
	val, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}

	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string", key)
	}
	if str == "" {
		return "", fmt.Errorf("parameter %s cannot be empty", key)
	}
	return str, nil
}

func getStringParamWithDefault(params core.Params, key, def string) string {
	if val, ok := params[key]; ok {
		if str, ok := val.(string); ok && str != "" {
			return str
		}
	}
	return def
}

func getIntParam(params core.Params, key string) int {
	if val, ok := params[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
	}
	return 0
}
