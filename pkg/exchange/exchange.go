package exchange

import (
	"context"
	"iter"

	"github.com/cockroachdb/apd/v3"

	"nakula/pkg/core"
)

// Exchange defines the unified interface for interacting with cryptocurrency
// exchanges. All exchange adapters must provide market metadata, market data
// retrieval, account management, and order execution; streaming support is
// optional per exchange.
type Exchange interface {
	Name() string
	Version() string

	// LoadMarkets fetches the instrument list and primes the session market
	// cache. Subsequent calls return the cached markets unless reload is true.
	LoadMarkets(ctx context.Context, reload bool) ([]core.Market, error)

	GetTicker(ctx context.Context, symbol string, opts ...Option) (*core.Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, opts ...Option) (*core.OrderBook, error)
	GetTrades(ctx context.Context, symbol string, opts ...Option) iter.Seq2[*core.Trade, error]
	GetCandles(ctx context.Context, symbol string, opts ...Option) ([]core.Candle, error)

	GetBalance(ctx context.Context, opts ...Option) ([]core.Balance, error)

	PlaceOrder(ctx context.Context, req *OrderRequest, opts ...Option) (*core.Order, error)
	CancelOrder(ctx context.Context, req *CancelRequest, opts ...Option) (*core.Order, error)
	GetOrder(ctx context.Context, req *OrderQuery, opts ...Option) (*core.Order, error)
	GetOpenOrders(ctx context.Context, symbol string, opts ...Option) ([]core.Order, error)
	GetOrders(ctx context.Context, symbol string, opts ...Option) ([]core.Order, error)
	GetClosedOrders(ctx context.Context, symbol string, opts ...Option) ([]core.Order, error)

	SubscribeTicker(ctx context.Context, symbol string, opts ...Option) (<-chan *core.Ticker, <-chan error)
	SubscribeTrades(ctx context.Context, symbol string, opts ...Option) (<-chan *core.Trade, <-chan error)
	SubscribeOrderBook(ctx context.Context, symbol string, opts ...Option) (<-chan *core.OrderBook, <-chan error)
}

// OrderRequest contains the parameters required to place a new order.
type OrderRequest struct {
	Symbol string
	Side   core.OrderSide
	Type   core.OrderType
	// Amount is the base-currency size. For market buys with the default
	// configuration it is converted to a quote-currency notional using Price.
	Amount apd.Decimal
	// Price is the limit price. It is nil for market orders unless the
	// caller supplies it so the adapter can compute the market-buy notional.
	Price *apd.Decimal
}

// CancelRequest contains the parameters required to cancel an existing order.
type CancelRequest struct {
	Symbol  string
	OrderID string
}

// OrderQuery contains the parameters required to query order status.
type OrderQuery struct {
	Symbol  string
	OrderID string
}
