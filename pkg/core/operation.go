package core

// Operation represents a type of action that can be performed on an exchange.
type Operation int

// Operation constants define all supported exchange operations.
const (
	// OpGetMarkets retrieves the exchange's instrument list.
	OpGetMarkets Operation = iota
	// OpGetTicker retrieves current market ticker data for a symbol.
	OpGetTicker
	// OpGetOrderBook retrieves the current order book depth.
	OpGetOrderBook
	// OpGetTrades retrieves recent trades for a symbol.
	OpGetTrades
	// OpGetCandles retrieves OHLCV candle data.
	OpGetCandles
	// OpGetBalance retrieves account wallet balances.
	OpGetBalance
	// OpPlaceOrder submits a new order to the exchange.
	OpPlaceOrder
	// OpCancelOrder cancels an existing order.
	OpCancelOrder
	// OpGetOrder retrieves details of a specific order.
	OpGetOrder
	// OpGetOpenOrders retrieves all pending orders.
	OpGetOpenOrders
	// OpGetOrders retrieves orders for a market regardless of status.
	OpGetOrders
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	return [...]string{
		"GET_MARKETS",
		"GET_TICKER",
		"GET_ORDER_BOOK",
		"GET_TRADES",
		"GET_CANDLES",
		"GET_BALANCE",
		"PLACE_ORDER",
		"CANCEL_ORDER",
		"GET_ORDER",
		"GET_OPEN_ORDERS",
		"GET_ORDERS",
	}[o]
}
