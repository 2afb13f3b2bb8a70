package core

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// OrderSide represents the direction of an order (buy or sell).
type OrderSide int

// Order side constants define the direction of a trade.
const (
	// SideBuy indicates an order to purchase the base asset.
	SideBuy OrderSide = iota
	// SideSell indicates an order to sell the base asset.
	SideSell
)

// String returns the string representation of the order side ("buy" or "sell").
func (s OrderSide) String() string {
	return [...]string{"buy", "sell"}[s]
}

// MarshalJSON implements json.Marshaler for OrderSide.
func (s OrderSide) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderSide.
// It accepts both lowercase and uppercase forms.
func (s *OrderSide) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"buy"`, `"BUY"`:
		*s = SideBuy
	case `"sell"`, `"SELL"`:
		*s = SideSell
	}
	return nil
}

// OrderType represents the execution type of an order.
type OrderType int

// Order type constants define how an order is executed.
const (
	// TypeLimit executes at a specified price or better.
	TypeLimit OrderType = iota
	// TypeMarket executes immediately at the best available price.
	TypeMarket
)

// String returns the string representation of the order type ("limit" or "market").
func (t OrderType) String() string {
	return [...]string{"limit", "market"}[t]
}

// MarshalJSON implements json.Marshaler for OrderType.
func (t OrderType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderType.
// It accepts both lowercase and uppercase forms.
func (t *OrderType) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"limit"`, `"LIMIT"`:
		*t = TypeLimit
	case `"market"`, `"MARKET"`:
		*t = TypeMarket
	}
	return nil
}

// OrderStatus is the canonical lifecycle state of an order.
//
// It is deliberately a string type rather than an enum: exchanges grow new
// status values over time, and an unrecognized status must survive
// normalization unchanged instead of being coerced or dropped.
type OrderStatus string

// Canonical order status values.
const (
	// StatusOpen indicates the order is live on the book, possibly partially filled.
	StatusOpen OrderStatus = "open"
	// StatusClosed indicates the order has been completely filled.
	StatusClosed OrderStatus = "closed"
	// StatusCanceled indicates the order was canceled or failed.
	StatusCanceled OrderStatus = "canceled"
)

// IsCanonical returns true if the status is one of the canonical values.
func (s OrderStatus) IsCanonical() bool {
	return s == StatusOpen || s == StatusClosed || s == StatusCanceled
}

// IsTerminal returns true if the order can no longer change state.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusCanceled
}

// MinMax holds an inclusive lower and upper bound for an order field.
type MinMax struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// MarketPrecision holds the decimal-place counts for a market's price and amount.
//
// The counts are floats because the exchange reports them in the tick_size and
// size_increment fields, whose numeric values are used directly as precision
// exponents.
type MarketPrecision struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// MarketLimits holds the order limits derived for a market.
type MarketLimits struct {
	Price MinMax `json:"price"`
}

// Market describes a tradable instrument. Markets are built once from the
// exchange's instrument list and are immutable afterwards; the MarketCache
// owns their lifecycle for the session.
type Market struct {
	// ID is the exchange-native instrument identifier (e.g. "BTC-USDT").
	ID string `json:"id"`
	// Symbol is the unified identifier in BASE/QUOTE form (e.g. "BTC/USDT").
	Symbol string `json:"symbol"`
	// Base is the canonical base currency code.
	Base string `json:"base"`
	// Quote is the canonical quote currency code.
	Quote string `json:"quote"`
	// BaseID is the exchange-native base currency identifier.
	BaseID string `json:"baseId"`
	// QuoteID is the exchange-native quote currency identifier.
	QuoteID string `json:"quoteId"`
	// Active reports whether the market is currently tradable.
	Active bool `json:"active"`
	// Precision holds the decimal-place counts for price and amount.
	Precision MarketPrecision `json:"precision"`
	// Limits holds the derived order limits.
	Limits MarketLimits `json:"limits"`
	// Info carries the exchange-native instrument payload.
	Info any `json:"info,omitempty"`
}

// Balance represents the account balance for a single currency.
type Balance struct {
	// Currency is the canonical currency code (e.g. "BTC").
	Currency string `json:"currency"`
	// Free is the balance available for trading.
	Free apd.Decimal `json:"free"`
	// Used is the balance locked in open orders.
	Used apd.Decimal `json:"used"`
	// Total is the overall balance (free + used).
	Total apd.Decimal `json:"total"`
}

// Ticker is a normalized market snapshot. Fields the exchange did not report
// are nil, never zero.
type Ticker struct {
	// Symbol is the unified market symbol.
	Symbol string `json:"symbol"`
	// Timestamp is when the exchange generated the snapshot.
	Timestamp time.Time `json:"timestamp"`

	High        *apd.Decimal `json:"high"`
	Low         *apd.Decimal `json:"low"`
	Bid         *apd.Decimal `json:"bid"`
	Ask         *apd.Decimal `json:"ask"`
	Open        *apd.Decimal `json:"open"`
	Close       *apd.Decimal `json:"close"`
	Last        *apd.Decimal `json:"last"`
	BaseVolume  *apd.Decimal `json:"baseVolume"`
	QuoteVolume *apd.Decimal `json:"quoteVolume"`

	// Info carries the exchange-native ticker payload.
	Info any `json:"info,omitempty"`
}

// Fee describes a trading fee.
type Fee struct {
	// Cost is the fee amount in Currency units.
	Cost apd.Decimal `json:"cost"`
	// Currency is the canonical code the fee is charged in.
	Currency string `json:"currency"`
}

// Trade represents a single public or private execution.
type Trade struct {
	// ID is the exchange-assigned trade identifier.
	ID string `json:"id"`
	// OrderID links the trade to its parent order, when known.
	OrderID string `json:"order"`
	// Symbol is the unified market symbol.
	Symbol string `json:"symbol"`
	// Side indicates the taker direction.
	Side OrderSide `json:"side"`
	// Timestamp is when the trade executed.
	Timestamp time.Time `json:"timestamp"`

	Price  *apd.Decimal `json:"price"`
	Amount *apd.Decimal `json:"amount"`
	// Cost is always recomputed as price*amount, never read from the payload.
	Cost *apd.Decimal `json:"cost"`
	// Fee is nil for public trades; the exchange does not report it.
	Fee *Fee `json:"fee"`

	// Info carries the exchange-native trade payload.
	Info any `json:"info,omitempty"`
}

// Order represents an exchange order with derived lifecycle fields.
type Order struct {
	// ID is the exchange-assigned order identifier.
	ID string `json:"id"`
	// Symbol is the unified market symbol, when the market is known.
	Symbol string `json:"symbol"`
	// Type defines how the order executes.
	Type OrderType `json:"type"`
	// Side indicates whether this is a buy or sell order.
	Side OrderSide `json:"side"`
	// Status is the canonical lifecycle state; unrecognized exchange
	// statuses pass through unchanged.
	Status OrderStatus `json:"status"`
	// Timestamp is when the order was created on the exchange.
	Timestamp time.Time `json:"timestamp"`

	Price     *apd.Decimal `json:"price"`
	Amount    *apd.Decimal `json:"amount"`
	Filled    *apd.Decimal `json:"filled"`
	Remaining *apd.Decimal `json:"remaining"`
	Cost      *apd.Decimal `json:"cost"`
	Average   *apd.Decimal `json:"average"`

	// Fee carries the fee currency inferred from the order side. The fee
	// cost is always zero because the exchange API does not report it; the
	// value must not be taken as the true fee.
	Fee *Fee `json:"fee"`
	// Trades lists the executions backing the order, when known.
	Trades []Trade `json:"trades"`

	// Info carries the exchange-native order payload.
	Info any `json:"info,omitempty"`
}

// Candle is a single OHLCV data point.
type Candle struct {
	// Timestamp is the start of the candle period.
	Timestamp time.Time `json:"timestamp"`

	Open   apd.Decimal `json:"open"`
	High   apd.Decimal `json:"high"`
	Low    apd.Decimal `json:"low"`
	Close  apd.Decimal `json:"close"`
	Volume apd.Decimal `json:"volume"`
}

// BookLevel represents a single price level in the order book.
type BookLevel struct {
	// Price is the limit price for this level.
	Price apd.Decimal `json:"price"`
	// Size is the total quantity offered at this price.
	Size apd.Decimal `json:"size"`
}

// OrderBook represents a point-in-time order book snapshot.
type OrderBook struct {
	// Symbol is the unified market symbol.
	Symbol string `json:"symbol"`
	// Bids are buy levels sorted by price descending.
	Bids []BookLevel `json:"bids"`
	// Asks are sell levels sorted by price ascending.
	Asks []BookLevel `json:"asks"`
	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`
}
