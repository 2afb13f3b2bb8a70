package okex

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"

	"nakula/pkg/core"
	"nakula/pkg/currency"
)

// okexInstrument represents a raw spot instrument from GET /instruments.
type okexInstrument struct {
	InstrumentID  string `json:"instrument_id"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
	MinSize       string `json:"min_size"`
	SizeIncrement string `json:"size_increment"`
	TickSize      string `json:"tick_size"`
}

// okexWalletEntry represents a single currency balance from GET /wallet.
type okexWalletEntry struct {
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
}

// okexTicker represents a raw ticker from GET /instruments/{id}/ticker.
type okexTicker struct {
	InstrumentID string `json:"instrument_id"`
	Last         string `json:"last"`
	Bid          string `json:"bid"`
	Ask          string `json:"ask"`
	High24h      string `json:"high_24h"`
	Low24h       string `json:"low_24h"`
	Open24h      string `json:"open_24h"`
	BaseVolume   string `json:"base_volume_24h"`
	QuoteVolume  string `json:"quote_volume_24h"`
	Timestamp    string `json:"timestamp"`
}

// okexTrade represents a raw public trade from GET /instruments/{id}/trades.
type okexTrade struct {
	TradeID   string `json:"trade_id"`
	Time      string `json:"time"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
}

// okexOrder represents a raw order from the order endpoints.
type okexOrder struct {
	OrderID        string `json:"order_id"`
	InstrumentID   string `json:"instrument_id"`
	Type           string `json:"type"`
	Side           string `json:"side"`
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	Price          string `json:"price"`
	Size           string `json:"size"`
	FilledSize     string `json:"filled_size"`
	FilledNotional string `json:"filled_notional"`
}

// okexOrderBook represents a raw book from GET /instruments/{id}/book.
// Levels are [price, size, order count] triplets.
type okexOrderBook struct {
	Timestamp string     `json:"timestamp"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
}

// okexPlaceResult represents the response to POST /orders and
// POST /cancel_orders/{id}.
type okexPlaceResult struct {
	OrderID   string `json:"order_id"`
	ClientOID string `json:"client_oid"`
	Result    bool   `json:"result"`
}

// Normalizer converts exchange-native payloads to canonical core types.
type Normalizer struct{}

// NewNormalizer creates a new Normalizer instance.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// NormalizeMarket converts a raw instrument to a canonical Market.
//
// The exchange reports tick_size and size_increment as decimal-place counts,
// and price limits derive from the price count as powers of ten
// (min = 10^-n, max = 10^n). Downstream precision handling depends on this
// convention, so it is reproduced as-is.
func (n *Normalizer) NormalizeMarket(data *okexInstrument) (*core.Market, error) {
	pricePrecision, err := parsePrecision(data.TickSize)
	if err != nil {
		return nil, fmt.Errorf("instrument %s tick_size: %w", data.InstrumentID, err)
	}
	amountPrecision, err := parsePrecision(data.SizeIncrement)
	if err != nil {
		return nil, fmt.Errorf("instrument %s size_increment: %w", data.InstrumentID, err)
	}

	base := currency.Canonical(data.BaseCurrency)
	quote := currency.Canonical(data.QuoteCurrency)

	return &core.Market{
		ID:      data.InstrumentID,
		Symbol:  base + "/" + quote,
		Base:    base,
		Quote:   quote,
		BaseID:  data.BaseCurrency,
		QuoteID: data.QuoteCurrency,
		Active:  true,
		Precision: core.MarketPrecision{
			Price:  pricePrecision,
			Amount: amountPrecision,
		},
		Limits: core.MarketLimits{
			Price: core.MinMax{
				Min: math.Pow(10, -pricePrecision),
				Max: math.Pow(10, pricePrecision),
			},
		},
		Info: *data,
	}, nil
}

// NormalizeMarkets converts the full instrument list to canonical Markets.
func (n *Normalizer) NormalizeMarkets(data []okexInstrument) ([]core.Market, error) {
	markets := make([]core.Market, 0, len(data))
	for i := range data {
		market, err := n.NormalizeMarket(&data[i])
		if err != nil {
			return nil, fmt.Errorf("normalize market: %w", err)
		}
		markets = append(markets, *market)
	}
	return markets, nil
}

// NormalizeBalances converts wallet entries to canonical Balances.
func (n *Normalizer) NormalizeBalances(data []okexWalletEntry) ([]core.Balance, error) {
	balances := make([]core.Balance, 0, len(data))
	for i := range data {
		entry := &data[i]
		balance := core.Balance{
			Currency: currency.Canonical(entry.Currency),
		}
		if err := setDecimal(&balance.Free, entry.Available); err != nil {
			return nil, fmt.Errorf("balance %s available: %w", entry.Currency, err)
		}
		if err := setDecimal(&balance.Used, entry.Hold); err != nil {
			return nil, fmt.Errorf("balance %s hold: %w", entry.Currency, err)
		}
		if err := setDecimal(&balance.Total, entry.Balance); err != nil {
			return nil, fmt.Errorf("balance %s balance: %w", entry.Currency, err)
		}
		balances = append(balances, balance)
	}
	return balances, nil
}

// NormalizeTicker converts a raw ticker to a canonical Ticker. Fields the
// exchange omitted stay nil. The symbol is attached later by the adapter,
// which owns the market cache.
func (n *Normalizer) NormalizeTicker(data *okexTicker) (*core.Ticker, error) {
	ts, err := parseTimestamp(data.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("ticker timestamp: %w", err)
	}

	ticker := &core.Ticker{
		Timestamp: ts,
		Info:      *data,
	}

	if ticker.High, err = core.ParseDecimal(data.High24h); err != nil {
		return nil, err
	}
	if ticker.Low, err = core.ParseDecimal(data.Low24h); err != nil {
		return nil, err
	}
	if ticker.Bid, err = core.ParseDecimal(data.Bid); err != nil {
		return nil, err
	}
	if ticker.Ask, err = core.ParseDecimal(data.Ask); err != nil {
		return nil, err
	}
	if ticker.Open, err = core.ParseDecimal(data.Open24h); err != nil {
		return nil, err
	}
	if ticker.Last, err = core.ParseDecimal(data.Last); err != nil {
		return nil, err
	}
	ticker.Close = ticker.Last
	if ticker.BaseVolume, err = core.ParseDecimal(data.BaseVolume); err != nil {
		return nil, err
	}
	if ticker.QuoteVolume, err = core.ParseDecimal(data.QuoteVolume); err != nil {
		return nil, err
	}

	return ticker, nil
}

// NormalizeTrade converts a raw public trade to a canonical Trade. The cost
// is always recomputed as price*amount rather than read from the payload.
func (n *Normalizer) NormalizeTrade(data *okexTrade) (*core.Trade, error) {
	ts, err := parseTimestamp(data.Time)
	if err != nil {
		return nil, fmt.Errorf("trade %s time: %w", data.TradeID, err)
	}

	trade := &core.Trade{
		ID:        data.TradeID,
		OrderID:   data.TradeID,
		Side:      parseSide(data.Side),
		Timestamp: ts,
		Info:      *data,
	}

	if trade.Price, err = core.ParseDecimal(data.Price); err != nil {
		return nil, err
	}
	if trade.Amount, err = core.ParseDecimal(data.Size); err != nil {
		return nil, err
	}
	if trade.Price != nil && trade.Amount != nil {
		var cost apd.Decimal
		if _, err := core.DecimalContext.Mul(&cost, trade.Price, trade.Amount); err != nil {
			return nil, fmt.Errorf("trade %s cost: %w", data.TradeID, err)
		}
		trade.Cost = &cost
	}

	return trade, nil
}

// NormalizeTrades converts multiple raw trades to canonical Trades.
func (n *Normalizer) NormalizeTrades(data []okexTrade) ([]core.Trade, error) {
	trades := make([]core.Trade, 0, len(data))
	for i := range data {
		trade, err := n.NormalizeTrade(&data[i])
		if err != nil {
			return nil, fmt.Errorf("normalize trade: %w", err)
		}
		trades = append(trades, *trade)
	}
	return trades, nil
}

// ParseOrderStatus maps an exchange-native order status to its canonical
// value. The mapping is total: any status outside the table is returned
// unchanged rather than rejected, so new exchange statuses degrade gracefully.
func (n *Normalizer) ParseOrderStatus(status string) core.OrderStatus {
	switch status {
	case "open", "ordering", "part_filled":
		return core.StatusOpen
	case "filled":
		return core.StatusClosed
	case "canceled", "cancelled", "canceling", "failure":
		return core.StatusCanceled
	default:
		return core.OrderStatus(status)
	}
}

// NormalizeOrder converts a raw order to a canonical Order and derives the
// lifecycle fields:
//
//   - remaining = amount - filled, when both are present
//   - cost = price * filled, when the exchange did not report a notional
//   - price = cost / filled, when both are positive; the traded notional is
//     authoritative over the quoted price
//
// The fee cost is always zero because the API does not report fees on
// orders; only the fee currency is meaningful.
func (n *Normalizer) NormalizeOrder(data *okexOrder) (*core.Order, error) {
	order := &core.Order{
		ID:     data.OrderID,
		Type:   parseOrderType(data.Type),
		Side:   parseSide(data.Side),
		Status: n.ParseOrderStatus(data.Status),
		Fee:    &core.Fee{},
		Info:   *data,
	}

	if data.Timestamp != "" {
		ts, err := parseTimestamp(data.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("order %s timestamp: %w", data.OrderID, err)
		}
		order.Timestamp = ts
	}

	var err error
	if order.Price, err = core.ParseDecimal(data.Price); err != nil {
		return nil, err
	}
	if order.Amount, err = core.ParseDecimal(data.Size); err != nil {
		return nil, err
	}
	if order.Filled, err = core.ParseDecimal(data.FilledSize); err != nil {
		return nil, err
	}
	if order.Cost, err = core.ParseDecimal(data.FilledNotional); err != nil {
		return nil, err
	}

	if order.Filled != nil {
		if order.Amount != nil {
			var remaining apd.Decimal
			if _, err := core.DecimalContext.Sub(&remaining, order.Amount, order.Filled); err != nil {
				return nil, fmt.Errorf("order %s remaining: %w", data.OrderID, err)
			}
			order.Remaining = &remaining
		}
		switch {
		case order.Cost == nil:
			if order.Price != nil {
				var cost apd.Decimal
				if _, err := core.DecimalContext.Mul(&cost, order.Price, order.Filled); err != nil {
					return nil, fmt.Errorf("order %s cost: %w", data.OrderID, err)
				}
				order.Cost = &cost
			}
		case order.Cost.Sign() > 0 && order.Filled.Sign() > 0:
			var price apd.Decimal
			if _, err := core.DecimalContext.Quo(&price, order.Cost, order.Filled); err != nil {
				return nil, fmt.Errorf("order %s price: %w", data.OrderID, err)
			}
			order.Price = &price
		}
	}

	return order, nil
}

// NormalizeOrders converts multiple raw orders to canonical Orders.
func (n *Normalizer) NormalizeOrders(data []okexOrder) ([]core.Order, error) {
	orders := make([]core.Order, 0, len(data))
	for i := range data {
		order, err := n.NormalizeOrder(&data[i])
		if err != nil {
			return nil, fmt.Errorf("normalize order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// AttachOrderMarket completes an order with market-dependent fields: the
// unified symbol and the fee currency, which the exchange charges in the
// base currency on buys and the quote currency on sells.
func (n *Normalizer) AttachOrderMarket(order *core.Order, market *core.Market) {
	if market == nil {
		return
	}
	order.Symbol = market.Symbol
	if order.Fee != nil {
		if order.Side == core.SideBuy {
			order.Fee.Currency = market.Base
		} else {
			order.Fee.Currency = market.Quote
		}
	}
}

// NormalizeCandle converts a raw [time, open, high, low, close, volume]
// tuple to a canonical Candle.
func (n *Normalizer) NormalizeCandle(data []string) (*core.Candle, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("candle has %d fields, want 6", len(data))
	}

	ts, err := parseTimestamp(data[0])
	if err != nil {
		return nil, fmt.Errorf("candle time: %w", err)
	}
	candle := &core.Candle{Timestamp: ts}

	fields := []struct {
		dest *apd.Decimal
		name string
	}{
		{&candle.Open, "open"},
		{&candle.High, "high"},
		{&candle.Low, "low"},
		{&candle.Close, "close"},
		{&candle.Volume, "volume"},
	}
	for i, f := range fields {
		if err := setDecimal(f.dest, data[i+1]); err != nil {
			return nil, fmt.Errorf("candle %s: %w", f.name, err)
		}
	}

	return candle, nil
}

// NormalizeCandles converts multiple raw candle tuples to canonical Candles.
func (n *Normalizer) NormalizeCandles(data [][]string) ([]core.Candle, error) {
	candles := make([]core.Candle, 0, len(data))
	for _, c := range data {
		candle, err := n.NormalizeCandle(c)
		if err != nil {
			return nil, fmt.Errorf("normalize candle: %w", err)
		}
		candles = append(candles, *candle)
	}
	return candles, nil
}

// NormalizeOrderBook converts a raw book to a canonical OrderBook. Levels
// carry price at index 0 and size at index 1; the trailing order count is
// dropped.
func (n *Normalizer) NormalizeOrderBook(data *okexOrderBook) (*core.OrderBook, error) {
	ts, err := parseTimestamp(data.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("order book timestamp: %w", err)
	}

	book := &core.OrderBook{Timestamp: ts}

	if book.Bids, err = normalizeBookLevels(data.Bids); err != nil {
		return nil, fmt.Errorf("normalize bids: %w", err)
	}
	if book.Asks, err = normalizeBookLevels(data.Asks); err != nil {
		return nil, fmt.Errorf("normalize asks: %w", err)
	}

	return book, nil
}

func normalizeBookLevels(levels [][]string) ([]core.BookLevel, error) {
	result := make([]core.BookLevel, 0, len(levels))
	for _, level := range levels {
		if len(level) < 2 {
			continue
		}

		var bl core.BookLevel
		if err := setDecimal(&bl.Price, level[0]); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if err := setDecimal(&bl.Size, level[1]); err != nil {
			return nil, fmt.Errorf("parse size: %w", err)
		}
		result = append(result, bl)
	}
	return result, nil
}

// parsePrecision reads a decimal-place count reported as a numeric string.
func parsePrecision(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty precision")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse precision %q: %w", s, err)
	}
	return v, nil
}

// parseTimestamp parses the exchange's ISO-8601 timestamps
// (e.g. "2019-03-20T02:25:00.123Z"). An absent timestamp maps to the
// zero time rather than an error, like every other optional field.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return ts, nil
}

func setDecimal(dest *apd.Decimal, s string) error {
	if s == "" {
		dest.Set(apd.New(0, 0))
		return nil
	}
	if _, _, err := dest.SetString(s); err != nil {
		return fmt.Errorf("set decimal from %q: %w", s, err)
	}
	return nil
}

func parseSide(s string) core.OrderSide {
	if s == "sell" {
		return core.SideSell
	}
	return core.SideBuy
}

func parseOrderType(s string) core.OrderType {
	if s == "market" {
		return core.TypeMarket
	}
	return core.TypeLimit
}
