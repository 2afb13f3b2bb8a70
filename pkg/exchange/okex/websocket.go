package okex

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"nakula/internal/ws"
	"nakula/pkg/core"
	"nakula/pkg/exchange"
)

// Stream manages the OKEx v3 websocket connection. The server sends
// raw-deflate compressed binary frames and answers a "ping" text keepalive
// with "pong"; data messages carry a "table" field naming the channel and a
// "data" array whose entries each identify their instrument.
type Stream struct {
	client *ws.Client
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]func([]byte)

	startOnce sync.Once
	stopChan  chan struct{}
}

type streamEnvelope struct {
	Event     string `json:"event"`
	Channel   string `json:"channel"`
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`

	Table string `json:"table"`
	Data  []struct {
		InstrumentID string `json:"instrument_id"`
	} `json:"data"`
}

// NewStream creates a Stream for the production websocket endpoint.
func NewStream(logger zerolog.Logger) *Stream {
	client := ws.NewClient(ws.Config{
		URL:              WebsocketURL,
		ReconnectEnabled: true,
		PingInterval:     25 * time.Second,
		Decompress:       inflate,
		Keepalive:        []byte("ping"),
	}, logger)

	return &Stream{
		client:   client,
		logger:   logger,
		handlers: make(map[string]func([]byte)),
		stopChan: make(chan struct{}),
	}
}

// inflate decodes a raw-deflate compressed frame.
func inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("inflate frame: %w", err)
	}
	return out, nil
}

// Connect establishes the websocket connection and starts the routing loop.
func (s *Stream) Connect(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	s.startOnce.Do(func() {
		go s.routeLoop()
	})
	return nil
}

// Close tears down the connection and all subscriptions.
func (s *Stream) Close() error {
	close(s.stopChan)
	return s.client.Close()
}

// Subscribe registers a handler for a channel (e.g. "spot/ticker:BTC-USDT")
// and sends the subscription request.
func (s *Stream) Subscribe(channel string, handler func([]byte)) error {
	s.mu.Lock()
	s.handlers[channel] = handler
	s.mu.Unlock()

	return s.client.SendJSON(map[string]any{
		"op":   "subscribe",
		"args": []string{channel},
	})
}

// Unsubscribe removes the handler for a channel and sends the
// unsubscription request.
func (s *Stream) Unsubscribe(channel string) error {
	s.mu.Lock()
	delete(s.handlers, channel)
	s.mu.Unlock()

	if !s.client.IsConnected() {
		return nil
	}
	return s.client.SendJSON(map[string]any{
		"op":   "unsubscribe",
		"args": []string{channel},
	})
}

func (s *Stream) routeLoop() {
	for {
		select {
		case <-s.stopChan:
			return
		case frame, ok := <-s.client.Messages():
			if !ok {
				return
			}
			s.route(frame)
		}
	}
}

func (s *Stream) route(frame []byte) {
	if bytes.Equal(frame, []byte("pong")) {
		return
	}

	var env streamEnvelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		s.logger.Warn().Err(err).Msg("unparseable stream frame")
		return
	}

	switch {
	case env.Event == "error":
		s.logger.Error().
			Int("code", env.ErrorCode).
			Str("message", env.Message).
			Msg("stream error event")
	case env.Event != "":
		s.logger.Debug().
			Str("event", env.Event).
			Str("channel", env.Channel).
			Msg("stream event")
	case env.Table != "":
		s.dispatch(&env, frame)
	}
}

// dispatch fans each data entry out to the handler keyed by
// table:instrument_id. Entries are re-extracted from the raw frame so
// handlers see the exchange's full payload, not the envelope's projection.
func (s *Stream) dispatch(env *streamEnvelope, frame []byte) {
	var raw struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := sonic.Unmarshal(frame, &raw); err != nil {
		s.logger.Warn().Err(err).Str("table", env.Table).Msg("unparseable data array")
		return
	}

	for i, entry := range raw.Data {
		if i >= len(env.Data) {
			break
		}
		key := env.Table + ":" + env.Data[i].InstrumentID

		s.mu.RLock()
		handler := s.handlers[key]
		s.mu.RUnlock()

		if handler != nil {
			handler(entry)
		}
	}
}

// wsTicker is the streaming ticker payload. The field names differ from
// the REST ticker for the best quotes.
type wsTicker struct {
	InstrumentID string `json:"instrument_id"`
	Last         string `json:"last"`
	BestBid      string `json:"best_bid"`
	BestAsk      string `json:"best_ask"`
	Open24h      string `json:"open_24h"`
	High24h      string `json:"high_24h"`
	Low24h       string `json:"low_24h"`
	BaseVolume   string `json:"base_volume_24h"`
	QuoteVolume  string `json:"quote_volume_24h"`
	Timestamp    string `json:"timestamp"`
}

// wsTrade is the streaming trade payload, which carries "timestamp" where
// the REST payload carries "time".
type wsTrade struct {
	InstrumentID string `json:"instrument_id"`
	TradeID      string `json:"trade_id"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	Side         string `json:"side"`
	Timestamp    string `json:"timestamp"`
}

// wsDepth is the streaming order book payload.
type wsDepth struct {
	InstrumentID string     `json:"instrument_id"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
	Timestamp    string     `json:"timestamp"`
}

// SubscribeTicker streams ticker updates for the specified symbol until the
// context is cancelled.
func (e *Exchange) SubscribeTicker(ctx context.Context, symbol string, opts ...exchange.Option) (<-chan *core.Ticker, <-chan error) {
	tickerCh := make(chan *core.Ticker, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(tickerCh)
		defer close(errCh)

		market, stream, err := e.prepareSubscription(ctx, symbol)
		if err != nil {
			errCh <- err
			return
		}

		channel := "spot/ticker:" + market.ID
		err = stream.Subscribe(channel, func(data []byte) {
			var raw wsTicker
			if err := sonic.Unmarshal(data, &raw); err != nil {
				e.logger.Warn().Err(err).Msg("unmarshal stream ticker")
				return
			}
			ticker, err := e.normalizer.NormalizeTicker(&okexTicker{
				InstrumentID: raw.InstrumentID,
				Last:         raw.Last,
				Bid:          raw.BestBid,
				Ask:          raw.BestAsk,
				High24h:      raw.High24h,
				Low24h:       raw.Low24h,
				Open24h:      raw.Open24h,
				BaseVolume:   raw.BaseVolume,
				QuoteVolume:  raw.QuoteVolume,
				Timestamp:    raw.Timestamp,
			})
			if err != nil {
				e.logger.Warn().Err(err).Msg("normalize stream ticker")
				return
			}
			ticker.Symbol = market.Symbol
			deliver(ctx, tickerCh, ticker, e.logger, channel)
		})
		if err != nil {
			errCh <- fmt.Errorf("subscribe ticker: %w", err)
			return
		}

		<-ctx.Done()
		_ = stream.Unsubscribe(channel)
	}()

	return tickerCh, errCh
}

// SubscribeTrades streams public trades for the specified symbol until the
// context is cancelled.
func (e *Exchange) SubscribeTrades(ctx context.Context, symbol string, opts ...exchange.Option) (<-chan *core.Trade, <-chan error) {
	tradeCh := make(chan *core.Trade, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(tradeCh)
		defer close(errCh)

		market, stream, err := e.prepareSubscription(ctx, symbol)
		if err != nil {
			errCh <- err
			return
		}

		channel := "spot/trade:" + market.ID
		err = stream.Subscribe(channel, func(data []byte) {
			var raw wsTrade
			if err := sonic.Unmarshal(data, &raw); err != nil {
				e.logger.Warn().Err(err).Msg("unmarshal stream trade")
				return
			}
			trade, err := e.normalizer.NormalizeTrade(&okexTrade{
				TradeID: raw.TradeID,
				Time:    raw.Timestamp,
				Price:   raw.Price,
				Size:    raw.Size,
				Side:    raw.Side,
			})
			if err != nil {
				e.logger.Warn().Err(err).Msg("normalize stream trade")
				return
			}
			trade.Symbol = market.Symbol
			deliver(ctx, tradeCh, trade, e.logger, channel)
		})
		if err != nil {
			errCh <- fmt.Errorf("subscribe trades: %w", err)
			return
		}

		<-ctx.Done()
		_ = stream.Unsubscribe(channel)
	}()

	return tradeCh, errCh
}

// SubscribeOrderBook streams order book snapshots for the specified symbol
// until the context is cancelled.
func (e *Exchange) SubscribeOrderBook(ctx context.Context, symbol string, opts ...exchange.Option) (<-chan *core.OrderBook, <-chan error) {
	bookCh := make(chan *core.OrderBook, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(bookCh)
		defer close(errCh)

		market, stream, err := e.prepareSubscription(ctx, symbol)
		if err != nil {
			errCh <- err
			return
		}

		channel := "spot/depth5:" + market.ID
		err = stream.Subscribe(channel, func(data []byte) {
			var raw wsDepth
			if err := sonic.Unmarshal(data, &raw); err != nil {
				e.logger.Warn().Err(err).Msg("unmarshal stream depth")
				return
			}
			book, err := e.normalizer.NormalizeOrderBook(&okexOrderBook{
				Timestamp: raw.Timestamp,
				Bids:      raw.Bids,
				Asks:      raw.Asks,
			})
			if err != nil {
				e.logger.Warn().Err(err).Msg("normalize stream depth")
				return
			}
			book.Symbol = market.Symbol
			deliver(ctx, bookCh, book, e.logger, channel)
		})
		if err != nil {
			errCh <- fmt.Errorf("subscribe order book: %w", err)
			return
		}

		<-ctx.Done()
		_ = stream.Unsubscribe(channel)
	}()

	return bookCh, errCh
}

// prepareSubscription resolves the market and returns a connected stream.
func (e *Exchange) prepareSubscription(ctx context.Context, symbol string) (*core.Market, *Stream, error) {
	market, err := e.resolveMarket(symbol)
	if err != nil {
		return nil, nil, err
	}

	stream := e.getStream()
	if err := stream.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect websocket: %w", err)
	}
	return market, stream, nil
}

func (e *Exchange) getStream() *Stream {
	e.wsMu.RLock()
	if e.wsClient != nil {
		defer e.wsMu.RUnlock()
		return e.wsClient
	}
	e.wsMu.RUnlock()

	e.wsMu.Lock()
	defer e.wsMu.Unlock()
	if e.wsClient == nil {
		e.wsClient = NewStream(e.logger)
	}
	return e.wsClient
}

func deliver[T any](ctx context.Context, ch chan<- T, v T, logger zerolog.Logger, channel string) {
	if ctx.Err() != nil {
		return
	}
	select {
	case ch <- v:
	default:
		logger.Warn().Str("channel", channel).Msg("subscriber buffer full, dropping update")
	}
}
