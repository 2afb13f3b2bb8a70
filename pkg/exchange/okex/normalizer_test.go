package okex

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

func TestNormalizeMarket(t *testing.T) {
	n := NewNormalizer()

	market, err := n.NormalizeMarket(&okexInstrument{
		InstrumentID:  "BTC-USDT",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
		MinSize:       "0.001",
		SizeIncrement: "4",
		TickSize:      "2",
	})
	require.NoError(t, err)

	assert.Equal(t, "BTC-USDT", market.ID)
	assert.Equal(t, "BTC/USDT", market.Symbol)
	assert.Equal(t, "BTC", market.Base)
	assert.Equal(t, "USDT", market.Quote)
	assert.True(t, market.Active)
	assert.Equal(t, 2.0, market.Precision.Price)
	assert.Equal(t, 4.0, market.Precision.Amount)
}

func TestNormalizeMarket_AliasedCurrency(t *testing.T) {
	n := NewNormalizer()

	market, err := n.NormalizeMarket(&okexInstrument{
		InstrumentID:  "DRK-usdt",
		BaseCurrency:  "DRK",
		QuoteCurrency: "usdt",
		TickSize:      "3",
		SizeIncrement: "3",
	})
	require.NoError(t, err)

	assert.Equal(t, "DASH/USDT", market.Symbol)
	assert.Equal(t, "DASH", market.Base)
	assert.Equal(t, "DRK", market.BaseID)
}

func TestNormalizeMarket_PriceLimits(t *testing.T) {
	n := NewNormalizer()

	// limits.price.min must equal 10^-precision and max 10^precision for
	// every precision the exchange reports.
	for _, tickSize := range []string{"0", "1", "2", "4", "8"} {
		market, err := n.NormalizeMarket(&okexInstrument{
			InstrumentID:  "BTC-USDT",
			BaseCurrency:  "BTC",
			QuoteCurrency: "USDT",
			TickSize:      tickSize,
			SizeIncrement: "4",
		})
		require.NoError(t, err)

		p := market.Precision.Price
		assert.InEpsilon(t, math.Pow(10, -p), market.Limits.Price.Min, 1e-12, "tick_size %s", tickSize)
		assert.InEpsilon(t, math.Pow(10, p), market.Limits.Price.Max, 1e-12, "tick_size %s", tickSize)
	}
}

func TestNormalizeMarket_BadPrecision(t *testing.T) {
	n := NewNormalizer()

	_, err := n.NormalizeMarket(&okexInstrument{
		InstrumentID:  "BTC-USDT",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
		TickSize:      "not-a-number",
		SizeIncrement: "4",
	})
	assert.Error(t, err)
}

func TestNormalizeBalances(t *testing.T) {
	n := NewNormalizer()

	balances, err := n.NormalizeBalances([]okexWalletEntry{
		{Currency: "btc", Balance: "1.5", Available: "1.0", Hold: "0.5"},
		{Currency: "USDT", Balance: "1000", Available: "1000", Hold: "0"},
	})
	require.NoError(t, err)
	require.Len(t, balances, 2)

	assert.Equal(t, "BTC", balances[0].Currency)
	assert.Equal(t, "1.0", balances[0].Free.String())
	assert.Equal(t, "0.5", balances[0].Used.String())
	assert.Equal(t, "1.5", balances[0].Total.String())

	assert.Equal(t, "USDT", balances[1].Currency)
	assert.True(t, balances[1].Used.IsZero())
}

func TestNormalizeTicker(t *testing.T) {
	n := NewNormalizer()

	ticker, err := n.NormalizeTicker(&okexTicker{
		InstrumentID: "BTC-USDT",
		Last:         "50000.5",
		Bid:          "50000",
		Ask:          "50001",
		High24h:      "51000",
		Low24h:       "49000",
		BaseVolume:   "1200.5",
		QuoteVolume:  "60000000",
		Timestamp:    "2020-03-16T12:00:00.000Z",
	})
	require.NoError(t, err)

	assert.Equal(t, "50000.5", ticker.Last.String())
	assert.Equal(t, "50000.5", ticker.Close.String())
	assert.Equal(t, "50000", ticker.Bid.String())
	assert.Equal(t, "50001", ticker.Ask.String())
	assert.Equal(t, "51000", ticker.High.String())
	assert.Equal(t, "49000", ticker.Low.String())
	assert.Equal(t, "1200.5", ticker.BaseVolume.String())
	assert.Equal(t, "60000000", ticker.QuoteVolume.String())
	assert.Equal(t, 2020, ticker.Timestamp.Year())
}

func TestNormalizeTicker_AbsentFieldsStayNil(t *testing.T) {
	n := NewNormalizer()

	ticker, err := n.NormalizeTicker(&okexTicker{
		InstrumentID: "BTC-USDT",
		Last:         "50000",
		Timestamp:    "2020-03-16T12:00:00.000Z",
	})
	require.NoError(t, err)

	assert.Nil(t, ticker.Bid)
	assert.Nil(t, ticker.Ask)
	assert.Nil(t, ticker.High)
	assert.Nil(t, ticker.Open)
	assert.NotNil(t, ticker.Last)
}

func TestNormalizeTicker_MissingTimestamp(t *testing.T) {
	n := NewNormalizer()

	ticker, err := n.NormalizeTicker(&okexTicker{
		InstrumentID: "BTC-USDT",
		Last:         "50000",
	})
	require.NoError(t, err)

	assert.True(t, ticker.Timestamp.IsZero())
	assert.Equal(t, "50000", ticker.Last.String())
}

func TestNormalizeOrderBook_MissingTimestamp(t *testing.T) {
	n := NewNormalizer()

	book, err := n.NormalizeOrderBook(&okexOrderBook{
		Bids: [][]string{{"50000", "1"}},
		Asks: [][]string{{"50001", "2"}},
	})
	require.NoError(t, err)

	assert.True(t, book.Timestamp.IsZero())
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
}

func TestNormalizeTrade_CostRecomputed(t *testing.T) {
	n := NewNormalizer()

	trade, err := n.NormalizeTrade(&okexTrade{
		TradeID: "12345",
		Time:    "2020-03-16T12:00:00.000Z",
		Price:   "100.5",
		Size:    "2",
		Side:    "sell",
	})
	require.NoError(t, err)

	assert.Equal(t, "12345", trade.ID)
	assert.Equal(t, core.SideSell, trade.Side)
	assert.Equal(t, "201.0", trade.Cost.String())
	assert.Nil(t, trade.Fee)
}

func TestParseOrderStatus(t *testing.T) {
	n := NewNormalizer()

	tests := []struct {
		raw  string
		want core.OrderStatus
	}{
		{"open", core.StatusOpen},
		{"ordering", core.StatusOpen},
		{"part_filled", core.StatusOpen},
		{"filled", core.StatusClosed},
		{"canceled", core.StatusCanceled},
		{"cancelled", core.StatusCanceled},
		{"canceling", core.StatusCanceled},
		{"failure", core.StatusCanceled},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, n.ParseOrderStatus(tt.raw), "status %q", tt.raw)
	}
}

func TestParseOrderStatus_UnknownPassesThrough(t *testing.T) {
	n := NewNormalizer()

	got := n.ParseOrderStatus("settling")
	assert.Equal(t, core.OrderStatus("settling"), got)
	assert.False(t, got.IsCanonical())

	// Mapping a value twice must not change it further.
	assert.Equal(t, got, n.ParseOrderStatus(string(got)))
}

func TestNormalizeOrder_Derivations(t *testing.T) {
	n := NewNormalizer()

	order, err := n.NormalizeOrder(&okexOrder{
		OrderID:      "2477750",
		InstrumentID: "BTC-USDT",
		Type:         "limit",
		Side:         "buy",
		Status:       "part_filled",
		Timestamp:    "2020-03-16T12:00:00.000Z",
		Price:        "100",
		Size:         "3",
		FilledSize:   "1",
	})
	require.NoError(t, err)

	assert.Equal(t, core.StatusOpen, order.Status)
	assert.Equal(t, "2", order.Remaining.String())
	// No notional reported, so cost derives from the quoted price.
	assert.Equal(t, "100", order.Cost.String())
}

func TestNormalizeOrder_PriceFromNotional(t *testing.T) {
	n := NewNormalizer()

	order, err := n.NormalizeOrder(&okexOrder{
		OrderID:        "2477751",
		Type:           "market",
		Side:           "buy",
		Status:         "filled",
		Price:          "0",
		Size:           "2",
		FilledSize:     "2",
		FilledNotional: "210",
	})
	require.NoError(t, err)

	// The traded notional wins over the quoted price.
	assert.Equal(t, "105", order.Price.String())
	assert.Equal(t, core.StatusClosed, order.Status)
	assert.True(t, order.Remaining.IsZero())
}

func TestNormalizeOrder_FeeCostIsZero(t *testing.T) {
	n := NewNormalizer()

	order, err := n.NormalizeOrder(&okexOrder{
		OrderID:    "1",
		Side:       "buy",
		Status:     "filled",
		Size:       "1",
		FilledSize: "1",
		Price:      "10",
	})
	require.NoError(t, err)
	require.NotNil(t, order.Fee)
	assert.True(t, order.Fee.Cost.IsZero())
}

func TestAttachOrderMarket(t *testing.T) {
	n := NewNormalizer()
	market := &core.Market{Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT"}

	buy := &core.Order{Side: core.SideBuy, Fee: &core.Fee{}}
	n.AttachOrderMarket(buy, market)
	assert.Equal(t, "BTC/USDT", buy.Symbol)
	assert.Equal(t, "BTC", buy.Fee.Currency)

	sell := &core.Order{Side: core.SideSell, Fee: &core.Fee{}}
	n.AttachOrderMarket(sell, market)
	assert.Equal(t, "USDT", sell.Fee.Currency)
}

func TestNormalizeCandle(t *testing.T) {
	n := NewNormalizer()

	candle, err := n.NormalizeCandle([]string{
		"2020-03-16T12:00:00.000Z", "100", "110", "95", "105", "42.5",
	})
	require.NoError(t, err)

	assert.Equal(t, "100", candle.Open.String())
	assert.Equal(t, "110", candle.High.String())
	assert.Equal(t, "95", candle.Low.String())
	assert.Equal(t, "105", candle.Close.String())
	assert.Equal(t, "42.5", candle.Volume.String())
	assert.Equal(t, 2020, candle.Timestamp.Year())
}

func TestNormalizeCandle_ShortTuple(t *testing.T) {
	n := NewNormalizer()

	_, err := n.NormalizeCandle([]string{"2020-03-16T12:00:00.000Z", "100"})
	assert.Error(t, err)
}

func TestNormalizeOrderBook(t *testing.T) {
	n := NewNormalizer()

	book, err := n.NormalizeOrderBook(&okexOrderBook{
		Timestamp: "2020-03-16T12:00:00.000Z",
		Bids: [][]string{
			{"100", "2", "3"},
			{"99.5", "1", "1"},
		},
		Asks: [][]string{
			{"100.5", "4", "2"},
		},
	})
	require.NoError(t, err)

	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, "100", book.Bids[0].Price.String())
	assert.Equal(t, "2", book.Bids[0].Size.String())
	assert.Equal(t, "100.5", book.Asks[0].Price.String())
}
