package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
)

// Config holds configuration options for a websocket client.
type Config struct {
	// URL is the websocket server endpoint to connect to.
	URL string
	// ReconnectEnabled determines whether automatic reconnection is enabled.
	ReconnectEnabled bool
	// ReconnectMaxWait is the maximum duration to wait between reconnection attempts.
	ReconnectMaxWait time.Duration
	// ReconnectBaseWait is the initial duration to wait before the first reconnection attempt.
	ReconnectBaseWait time.Duration
	// PingInterval is the duration between keepalive messages.
	PingInterval time.Duration
	// PongWait is the maximum time to wait for traffic before considering the connection dead.
	PongWait time.Duration
	// BufferSize is the capacity of the raw message channel.
	BufferSize int
	// Decompress, when set, transforms each binary frame before delivery.
	// Exchanges that compress stream payloads provide their codec here.
	Decompress func([]byte) ([]byte, error)
	// Keepalive, when set, is the application-level keepalive payload sent
	// as a text frame every PingInterval. Control-frame pings are sent when
	// empty.
	Keepalive []byte
}

// Client manages a websocket connection with automatic reconnection and
// keepalive. Every decoded frame is delivered on a single raw channel;
// protocol-level routing belongs to the exchange layer.
type Client struct {
	config  Config
	state   *State
	conn    *gws.Conn
	handler *eventHandler
	logger  zerolog.Logger

	mu                sync.RWMutex
	messages          chan []byte
	connectedChan     chan struct{}
	stopChan          chan struct{}
	wg                sync.WaitGroup
	keepaliveOnce     sync.Once
	reconnectAttempts int
}

type eventHandler struct {
	client *Client
}

// NewClient creates a websocket client with the given configuration.
// Default values are applied for any zero-valued configuration fields.
func NewClient(config Config, logger zerolog.Logger) *Client {
	if config.ReconnectBaseWait == 0 {
		config.ReconnectBaseWait = 1 * time.Second
	}
	if config.ReconnectMaxWait == 0 {
		config.ReconnectMaxWait = 30 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 10 * time.Second
	}
	if config.PongWait == 0 {
		config.PongWait = 20 * time.Second
	}
	if config.BufferSize == 0 {
		config.BufferSize = 100
	}

	client := &Client{
		config:        config,
		state:         &State{},
		messages:      make(chan []byte, config.BufferSize),
		connectedChan: make(chan struct{}),
		stopChan:      make(chan struct{}),
		logger:        logger,
	}
	client.state.Store(StateDisconnected)
	client.handler = &eventHandler{client: client}
	return client
}

// Messages returns the channel carrying every decoded frame.
func (c *Client) Messages() <-chan []byte {
	return c.messages
}

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	h.client.state.Store(StateConnected)

	h.client.mu.Lock()
	h.client.reconnectAttempts = 0
	select {
	case <-h.client.connectedChan:
	default:
		close(h.client.connectedChan)
	}
	h.client.mu.Unlock()

	h.client.logger.Info().
		Str("url", h.client.config.URL).
		Msg("websocket connected")

	_ = socket.SetDeadline(time.Now().Add(h.client.config.PingInterval + h.client.config.PongWait))
}

func (h *eventHandler) OnClose(socket *gws.Conn, err error) {
	h.client.state.Store(StateDisconnected)

	h.client.mu.Lock()
	h.client.connectedChan = make(chan struct{})
	h.client.mu.Unlock()

	h.client.logger.Warn().
		Err(err).
		Str("url", h.client.config.URL).
		Msg("websocket disconnected")

	if h.client.config.ReconnectEnabled {
		select {
		case <-h.client.stopChan:
			return
		default:
			go h.client.attemptReconnect()
		}
	}
}

func (h *eventHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.client.config.PingInterval + h.client.config.PongWait))
	_ = socket.WritePong(nil)
}

func (h *eventHandler) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.client.config.PingInterval + h.client.config.PongWait))
}

func (h *eventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	_ = socket.SetDeadline(time.Now().Add(h.client.config.PingInterval + h.client.config.PongWait))

	data := message.Bytes()
	if len(data) == 0 {
		return
	}

	if h.client.config.Decompress != nil && message.Opcode == gws.OpcodeBinary {
		decoded, err := h.client.config.Decompress(data)
		if err != nil {
			h.client.logger.Error().Err(err).Msg("decompress frame")
			return
		}
		data = decoded
	} else {
		// The gws message buffer is recycled after Close.
		data = append([]byte(nil), data...)
	}

	select {
	case h.client.messages <- data:
	case <-h.client.stopChan:
	default:
		h.client.logger.Warn().Msg("message buffer full, dropping frame")
	}
}

// Connect establishes a websocket connection to the configured URL and
// starts the keepalive loop.
func (c *Client) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(StateDisconnected, StateConnecting) {
		current := c.state.Load()
		if current == StateConnected {
			return nil
		}
		return fmt.Errorf("invalid state for connect: %s", current)
	}

	socket, _, err := gws.NewClient(c.handler, &gws.ClientOption{
		Addr: c.config.URL,
	})
	if err != nil {
		c.state.Store(StateDisconnected)
		return fmt.Errorf("connect websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = socket
	connected := c.connectedChan
	c.mu.Unlock()

	c.wg.Go(func() {
		socket.ReadLoop()
	})
	c.keepaliveOnce.Do(func() {
		c.wg.Go(func() {
			c.keepaliveLoop()
		})
	})

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		_ = socket.NetConn().Close()
		c.state.Store(StateDisconnected)
		return ctx.Err()
	case <-c.stopChan:
		_ = socket.NetConn().Close()
		c.state.Store(StateClosed)
		return fmt.Errorf("client stopped")
	}
}

func (c *Client) keepaliveLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			if c.state.Load() != StateConnected {
				continue
			}
			var err error
			if len(c.config.Keepalive) > 0 {
				err = c.WriteText(c.config.Keepalive)
			} else {
				err = c.writePing()
			}
			if err != nil {
				c.logger.Warn().Err(err).Msg("keepalive failed")
			}
		}
	}
}

// Close gracefully shuts down the websocket client and releases all resources.
func (c *Client) Close() error {
	if !c.state.CompareAndSwap(StateConnected, StateClosed) &&
		!c.state.CompareAndSwap(StateConnecting, StateClosed) &&
		!c.state.CompareAndSwap(StateReconnecting, StateClosed) &&
		!c.state.CompareAndSwap(StateDisconnected, StateClosed) {
		return nil
	}

	close(c.stopChan)

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.NetConn().Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	close(c.messages)
	return nil
}

// State returns the current connection state of the websocket.
func (c *Client) State() ConnState {
	return c.state.Load()
}

// IsConnected returns true if the websocket has an active connection.
func (c *Client) IsConnected() bool {
	return c.state.Load() == StateConnected
}

// WriteText sends raw bytes over the websocket as a text frame.
func (c *Client) WriteText(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.state.Load() != StateConnected {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WriteMessage(gws.OpcodeText, data)
}

// SendJSON marshals the given value to JSON and sends it over the websocket.
func (c *Client) SendJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return c.WriteText(data)
}

func (c *Client) writePing() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.state.Load() != StateConnected {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WritePing(nil)
}

func (c *Client) attemptReconnect() {
	if !c.state.CompareAndSwap(StateDisconnected, StateReconnecting) {
		return
	}

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.mu.Lock()
		attempts := c.reconnectAttempts
		c.reconnectAttempts++
		c.mu.Unlock()

		wait := min(c.config.ReconnectBaseWait*time.Duration(1<<uint(attempts)), c.config.ReconnectMaxWait)
		c.logger.Info().
			Dur("wait", wait).
			Int("attempt", attempts+1).
			Msg("attempting reconnect")

		select {
		case <-time.After(wait):
		case <-c.stopChan:
			return
		}

		c.state.Store(StateDisconnected)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err != nil {
			c.logger.Error().Err(err).
				Int("attempt", attempts+1).
				Msg("reconnect failed")
			continue
		}

		c.logger.Info().Msg("reconnected successfully")
		return
	}
}
