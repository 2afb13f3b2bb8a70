// Package okex implements the unified exchange interface for the OKEx v3
// spot REST and streaming APIs.
package okex

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"nakula/internal/circuitbreaker"
	httpclient "nakula/internal/http"
	"nakula/internal/keyring"
	"nakula/internal/ratelimit"
	"nakula/pkg/core"
	"nakula/pkg/exchange"
)

// Exchange implements the exchange.Exchange interface for OKEx spot markets.
// It provides rate limiting, circuit breaking, and API key rotation around
// the v3 protocol.
type Exchange struct {
	config         *core.Config
	keyRing        *keyring.KeyRing
	httpClient     *httpclient.Client
	rateLimiter    *ratelimit.Limiter
	circuitBreaker *circuitbreaker.Breaker
	logger         zerolog.Logger
	normalizer     *Normalizer
	protocol       *Protocol
	markets        *exchange.MarketCache
	wsClient       *Stream
	wsMu           sync.RWMutex
}

// Option is a functional option for configuring the Exchange.
type Option func(*Options)

// Options holds construction options for the Exchange.
type Options struct {
	KeyRing *keyring.KeyRing
	Logger  zerolog.Logger
	BaseURL string
}

// WithKeyRing returns an option that sets the API key ring for key rotation.
func WithKeyRing(kr *keyring.KeyRing) Option {
	return func(o *Options) {
		o.KeyRing = kr
	}
}

// WithLogger returns an option that sets the logger for the exchange.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithBaseURL overrides the REST endpoint, for proxies and tests.
func WithBaseURL(url string) Option {
	return func(o *Options) {
		o.BaseURL = url
	}
}

// New creates an Exchange with the given configuration and options.
// It initializes the HTTP client, rate limiter, and circuit breaker based
// on the config. Credentials from the config become a single-key ring
// unless WithKeyRing supplies one.
func New(config *core.Config, opts ...Option) (*Exchange, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	options := &Options{
		Logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(options)
	}

	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = ProductionURL
	}

	httpClient, err := httpclient.NewClient(&httpclient.Config{
		BaseURL:      baseURL,
		Timeout:      config.Timeout,
		MaxRetries:   config.MaxRetries,
		RetryWaitMin: config.RetryWaitMin,
		RetryWaitMax: config.RetryWaitMax,
	}, options.Logger)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	var rl *ratelimit.Limiter
	if config.RateLimitRequests > 0 {
		rl = ratelimit.NewPerPeriod(config.RateLimitRequests, config.RateLimitPeriod)
	}

	var cb *circuitbreaker.Breaker
	if config.CircuitBreakerEnabled {
		cb = circuitbreaker.New(circuitbreaker.Config{
			FailThreshold:    config.CircuitBreakerFailThreshold,
			SuccessThreshold: config.CircuitBreakerSuccessThreshold,
			Timeout:          config.CircuitBreakerTimeout,
		})
	}

	kr := options.KeyRing
	if kr == nil && config.Credentials != nil {
		kr = keyring.FromCredentials(*config.Credentials)
	}

	return &Exchange{
		config:         config,
		keyRing:        kr,
		httpClient:     httpClient,
		rateLimiter:    rl,
		circuitBreaker: cb,
		logger:         options.Logger,
		normalizer:     NewNormalizer(),
		protocol:       NewProtocol(),
		markets:        exchange.NewMarketCache(),
	}, nil
}

// Name returns the exchange identifier "okex".
func (e *Exchange) Name() string {
	return "okex"
}

// Version returns the OKEx API version.
func (e *Exchange) Version() string {
	return "3"
}

// Close releases resources used by the exchange, including the HTTP client
// and any open websocket connection.
func (e *Exchange) Close() error {
	e.wsMu.Lock()
	if e.wsClient != nil {
		_ = e.wsClient.Close()
		e.wsClient = nil
	}
	e.wsMu.Unlock()

	if e.httpClient != nil {
		return e.httpClient.Close()
	}
	return nil
}

// LoadMarkets fetches the instrument list and primes the market cache.
// Subsequent calls return the cached markets unless reload is true.
func (e *Exchange) LoadMarkets(ctx context.Context, reload bool) ([]core.Market, error) {
	if e.markets.Loaded() && !reload {
		return e.markets.Markets(), nil
	}

	req, err := e.protocol.BuildRequest(ctx, core.OpGetMarkets, core.Params{})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := e.protocol.ParseResponse(core.OpGetMarkets, resp)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	markets, ok := result.([]core.Market)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", result)
	}

	e.markets.Replace(markets)
	e.logger.Info().Int("count", len(markets)).Msg("markets loaded")
	return markets, nil
}

// Markets returns the session market cache.
func (e *Exchange) Markets() *exchange.MarketCache {
	return e.markets
}

// GetTicker retrieves the current ticker for the specified symbol.
func (e *Exchange) GetTicker(ctx context.Context, symbol string, opts ...exchange.Option) (*core.Ticker, error) {
	market, err := e.resolveMarket(symbol)
	if err != nil {
		return nil, err
	}

	req, err := e.protocol.BuildRequest(ctx, core.OpGetTicker, core.Params{
		"instrument_id": market.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := e.protocol.ParseResponse(core.OpGetTicker, resp)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	ticker, ok := result.(*core.Ticker)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", result)
	}

	ticker.Symbol = market.Symbol
	return ticker, nil
}

// GetOrderBook retrieves the order book for the specified symbol.
func (e *Exchange) GetOrderBook(ctx context.Context, symbol string, opts ...exchange.Option) (*core.OrderBook, error) {
	options := exchange.ApplyOptions(opts...)

	market, err := e.resolveMarket(symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{"instrument_id": market.ID}
	if options.Limit > 0 {
		params["limit"] = options.Limit
	}

	req, err := e.protocol.BuildRequest(ctx, core.OpGetOrderBook, params)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := e.protocol.ParseResponse(core.OpGetOrderBook, resp)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	book, ok := result.(*core.OrderBook)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", result)
	}

	book.Symbol = market.Symbol
	return book, nil
}

// GetTrades retrieves recent trades for the specified symbol as an iterator.
func (e *Exchange) GetTrades(ctx context.Context, symbol string, opts ...exchange.Option) iter.Seq2[*core.Trade, error] {
	return func(yield func(*core.Trade, error) bool) {
		options := exchange.ApplyOptions(opts...)

		market, err := e.resolveMarket(symbol)
		if err != nil {
			yield(nil, err)
			return
		}

		params := core.Params{"instrument_id": market.ID}
		if options.Limit > 0 {
			params["limit"] = options.Limit
		}

		req, err := e.protocol.BuildRequest(ctx, core.OpGetTrades, params)
		if err != nil {
			yield(nil, fmt.Errorf("build request: %w", err))
			return
		}

		resp, err := e.doRequest(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}

		result, err := e.protocol.ParseResponse(core.OpGetTrades, resp)
		if err != nil {
			yield(nil, fmt.Errorf("parse response: %w", err))
			return
		}

		trades, ok := result.([]core.Trade)
		if !ok {
			yield(nil, fmt.Errorf("unexpected response type: %T", result))
			return
		}

		for i := range trades {
			trade := &trades[i]
			trade.Symbol = market.Symbol
			if !yield(trade, nil) {
				return
			}
		}
	}
}

// GetCandles retrieves OHLCV candles for the specified symbol. The interval
// defaults to one minute; use WithTimeframe to select another.
func (e *Exchange) GetCandles(ctx context.Context, symbol string, opts ...exchange.Option) ([]core.Candle, error) {
	options := exchange.ApplyOptions(opts...)

	market, err := e.resolveMarket(symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{"instrument_id": market.ID}
	if options.Timeframe != "" {
		params["timeframe"] = options.Timeframe
	}
	if !options.Since.IsZero() {
		params["since"] = options.Since
	}

	req, err := e.protocol.BuildRequest(ctx, core.OpGetCandles, params)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := e.protocol.ParseResponse(core.OpGetCandles, resp)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	candles, ok := result.([]core.Candle)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", result)
	}

	return candles, nil
}

// GetBalance retrieves the account wallet balances.
func (e *Exchange) GetBalance(ctx context.Context, opts ...exchange.Option) ([]core.Balance, error) {
	req, err := e.protocol.BuildRequest(ctx, core.OpGetBalance, core.Params{})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.doSignedRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := e.protocol.ParseResponse(core.OpGetBalance, resp)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	balances, ok := result.([]core.Balance)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", result)
	}

	return balances, nil
}

// PlaceOrder submits a new order to the exchange.
//
// Market buys take a quote-currency notional instead of a base size, so by
// default they require a price to convert the amount; the check fails before
// any network call. Setting CreateMarketBuyRequiresPrice false passes the
// amount through as the notional directly.
func (e *Exchange) PlaceOrder(ctx context.Context, req *exchange.OrderRequest, opts ...exchange.Option) (*core.Order, error) {
	market, err := e.resolveMarket(req.Symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{
		"instrument_id": market.ID,
		"side":          req.Side.String(),
		"type":          req.Type.String(),
	}

	if req.Type == core.TypeMarket && req.Side == core.SideBuy {
		notional, err := e.marketBuyNotional(req, market)
		if err != nil {
			return nil, err
		}
		params["notional"] = notional
	} else {
		size, err := core.ToPrecision(&req.Amount, market.Precision.Amount)
		if err != nil {
			return nil, fmt.Errorf("amount to precision: %w", err)
		}
		params["size"] = size

		if req.Type == core.TypeLimit {
			if req.Price == nil {
				return nil, core.NewExchangeError(e.Name(), core.ErrorTypeInvalidOrder, 0,
					"limit order requires a price")
			}
			price, err := core.ToPrecision(req.Price, market.Precision.Price)
			if err != nil {
				return nil, fmt.Errorf("price to precision: %w", err)
			}
			params["price"] = price
		}
	}

	coreReq, err := e.protocol.BuildRequest(ctx, core.OpPlaceOrder, params)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.doSignedRequest(ctx, coreReq)
	if err != nil {
		return nil, err
	}

	result, err := e.protocol.ParseResponse(core.OpPlaceOrder, resp)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	order, ok := result.(*core.Order)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", result)
	}

	// The submit endpoint returns only the order id; the rest comes from
	// the request.
	order.Side = req.Side
	order.Type = req.Type
	order.Amount = &req.Amount
	order.Price = req.Price
	order.Status = core.StatusOpen
	e.normalizer.AttachOrderMarket(order, market)

	e.logger.Info().
		Str("symbol", market.Symbol).
		Str("order_id", order.ID).
		Str("side", req.Side.String()).
		Str("type", req.Type.String()).
		Msg("order placed")
	return order, nil
}

// marketBuyNotional computes the quote-currency notional a market buy
// submits in place of a size.
func (e *Exchange) marketBuyNotional(req *exchange.OrderRequest, market *core.Market) (string, error) {
	if req.Price == nil {
		if e.config.CreateMarketBuyRequiresPrice {
			return "", core.NewExchangeError(e.Name(), core.ErrorTypeInvalidOrder, 0,
				"market buy orders require a price to compute the quote amount to spend; "+
					"supply a price, or disable CreateMarketBuyRequiresPrice and pass the "+
					"quote amount in the amount argument")
		}
		return core.ToPrecision(&req.Amount, market.Precision.Amount)
	}

	var notional apd.Decimal
	if _, err := core.DecimalContext.Mul(&notional, &req.Amount, req.Price); err != nil {
		return "", fmt.Errorf("compute notional: %w", err)
	}
	return core.ToPrecision(&notional, market.Precision.Amount)
}

// CancelOrder cancels an existing order. The cancel endpoint does not echo
// the order back, so the result carries the requested id with a canceled
// status.
func (e *Exchange) CancelOrder(ctx context.Context, req *exchange.CancelRequest, opts ...exchange.Option) (*core.Order, error) {
	market, err := e.resolveMarket(req.Symbol)
	if err != nil {
		return nil, err
	}

	coreReq, err := e.protocol.BuildRequest(ctx, core.OpCancelOrder, core.Params{
		"order_id":      req.OrderID,
		"instrument_id": market.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.doSignedRequest(ctx, coreReq)
	if err != nil {
		return nil, err
	}

	result, err := e.protocol.ParseResponse(core.OpCancelOrder, resp)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	order, ok := result.(*core.Order)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", result)
	}

	order.ID = req.OrderID
	order.Status = core.StatusCanceled
	order.Symbol = market.Symbol

	e.logger.Info().
		Str("symbol", market.Symbol).
		Str("order_id", req.OrderID).
		Msg("order canceled")
	return order, nil
}

// GetOrder retrieves the current state of an order.
func (e *Exchange) GetOrder(ctx context.Context, req *exchange.OrderQuery, opts ...exchange.Option) (*core.Order, error) {
	market, err := e.resolveMarket(req.Symbol)
	if err != nil {
		return nil, err
	}

	coreReq, err := e.protocol.BuildRequest(ctx, core.OpGetOrder, core.Params{
		"order_id":      req.OrderID,
		"instrument_id": market.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.doSignedRequest(ctx, coreReq)
	if err != nil {
		return nil, err
	}

	result, err := e.protocol.ParseResponse(core.OpGetOrder, resp)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	order, ok := result.(*core.Order)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", result)
	}

	e.normalizer.AttachOrderMarket(order, market)
	return order, nil
}

// GetOpenOrders retrieves all pending orders for the given symbol.
func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string, opts ...exchange.Option) ([]core.Order, error) {
	options := exchange.ApplyOptions(opts...)

	market, err := e.resolveMarket(symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{"instrument_id": market.ID}
	if options.Limit > 0 {
		params["limit"] = options.Limit
	}

	return e.fetchOrders(ctx, core.OpGetOpenOrders, params, market)
}

// GetOrders retrieves orders for the given symbol regardless of status.
// Use WithStatus to restrict to an exchange-native status value.
func (e *Exchange) GetOrders(ctx context.Context, symbol string, opts ...exchange.Option) ([]core.Order, error) {
	options := exchange.ApplyOptions(opts...)

	market, err := e.resolveMarket(symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{"instrument_id": market.ID}
	if options.Status != "" {
		params["status"] = options.Status
	}
	if options.Limit > 0 {
		params["limit"] = options.Limit
	}

	return e.fetchOrders(ctx, core.OpGetOrders, params, market)
}

// GetClosedOrders retrieves fully filled orders for the given symbol.
func (e *Exchange) GetClosedOrders(ctx context.Context, symbol string, opts ...exchange.Option) ([]core.Order, error) {
	opts = append(opts, exchange.WithStatus("filled"))
	return e.GetOrders(ctx, symbol, opts...)
}

func (e *Exchange) fetchOrders(ctx context.Context, op core.Operation, params core.Params, market *core.Market) ([]core.Order, error) {
	req, err := e.protocol.BuildRequest(ctx, op, params)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.doSignedRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := e.protocol.ParseResponse(op, resp)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	orders, ok := result.([]core.Order)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", result)
	}

	for i := range orders {
		e.normalizer.AttachOrderMarket(&orders[i], market)
	}
	return orders, nil
}

// resolveMarket maps a unified symbol to its cached market metadata.
func (e *Exchange) resolveMarket(symbol string) (*core.Market, error) {
	market, ok := e.markets.BySymbol(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s (call LoadMarkets first)", core.ErrMarketNotLoaded, symbol)
	}
	return market, nil
}

func (e *Exchange) doRequest(ctx context.Context, req *core.Request) (*resty.Response, error) {
	if e.rateLimiter != nil {
		if err := e.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	if e.circuitBreaker != nil && !e.circuitBreaker.Allow() {
		return nil, core.NewExchangeError(e.Name(), core.ErrorTypeServiceUnavailable, 0,
			"circuit breaker open")
	}

	resp, err := e.httpClient.Do(ctx, req)

	if e.circuitBreaker != nil {
		e.circuitBreaker.Record(err == nil)
	}
	return resp, err
}

func (e *Exchange) doSignedRequest(ctx context.Context, req *core.Request) (*resty.Response, error) {
	if e.keyRing == nil {
		return nil, core.NewExchangeError(e.Name(), core.ErrorTypeAuthentication, 0,
			core.ErrNoCredentials.Error())
	}

	key, err := e.keyRing.Current()
	if err != nil {
		return nil, core.NewExchangeError(e.Name(), core.ErrorTypeAuthentication, 0, err.Error())
	}

	if err := e.protocol.SignRequest(req, key.Credentials); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	e.keyRing.MarkUsed()

	resp, err := e.doRequest(ctx, req)
	if err != nil {
		e.keyRing.OnError(err)
	}
	return resp, err
}

// Register creates an Exchange and registers it with the container.
// This is a convenience function for dependency injection setup.
func Register(container *exchange.Container, config *core.Config, opts ...Option) error {
	ex, err := New(config, opts...)
	if err != nil {
		return fmt.Errorf("create okex exchange: %w", err)
	}
	container.Register("okex", ex)
	return nil
}
