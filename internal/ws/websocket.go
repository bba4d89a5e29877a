package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"

	"poloniex/pkg/core"
)

// Config holds configuration options for the feed socket.
type Config struct {
	// URL is the websocket endpoint to connect to.
	URL string
	// ReconnectEnabled determines whether automatic reconnection is enabled.
	ReconnectEnabled bool
	// ReconnectMaxWait is the maximum wait between reconnection attempts.
	ReconnectMaxWait time.Duration
	// ReconnectBaseWait is the wait before the first reconnection attempt.
	ReconnectBaseWait time.Duration
	// PingInterval is the duration between keepalive pings.
	PingInterval time.Duration
	// PongWait is the maximum time to wait for a pong before the connection
	// is considered dead.
	PongWait time.Duration
}

// Conn manages a websocket connection to the exchange feed. Inbound frames
// are delivered one at a time, in arrival order, to a single delegate
// installed with OnFrame; the next frame is not delivered until the delegate
// returns.
type Conn struct {
	config  Config
	state   *State
	handler *eventHandler
	logger  zerolog.Logger

	onFrame func([]byte)
	onOpen  func()

	mu                sync.RWMutex
	conn              *gws.Conn
	connectedChan     chan struct{}
	stopChan          chan struct{}
	wg                sync.WaitGroup
	reconnectAttempts int
}

type eventHandler struct {
	conn *Conn
}

// New creates a feed socket with the given configuration. Default values
// are applied for zero-valued fields; reconnection stays off unless enabled.
func New(config Config) *Conn {
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

	c := &Conn{
		config:        config,
		state:         &State{},
		connectedChan: make(chan struct{}),
		stopChan:      make(chan struct{}),
		logger:        zerolog.Nop(),
	}
	c.state.Store(StateDisconnected)
	c.handler = &eventHandler{conn: c}
	return c
}

// SetLogger configures the logger for the socket.
func (c *Conn) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// OnFrame installs the delegate that receives every inbound frame. Must be
// set before Connect.
func (c *Conn) OnFrame(fn func([]byte)) {
	c.onFrame = fn
}

// OnOpen installs a hook invoked each time a connection is established,
// including after a reconnect. Must be set before Connect.
func (c *Conn) OnOpen(fn func()) {
	c.onOpen = fn
}

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	h.conn.state.Store(StateConnected)

	h.conn.mu.Lock()
	h.conn.reconnectAttempts = 0
	select {
	case <-h.conn.connectedChan:
	default:
		close(h.conn.connectedChan)
	}
	h.conn.mu.Unlock()

	h.conn.logger.Info().
		Str("url", h.conn.config.URL).
		Msg("feed socket connected")

	_ = socket.SetDeadline(time.Now().Add(h.conn.config.PingInterval + h.conn.config.PongWait))

	if h.conn.onOpen != nil {
		h.conn.onOpen()
	}
}

func (h *eventHandler) OnClose(socket *gws.Conn, err error) {
	h.conn.state.Store(StateDisconnected)

	h.conn.mu.Lock()
	h.conn.connectedChan = make(chan struct{})
	h.conn.mu.Unlock()

	h.conn.logger.Warn().
		Err(err).
		Str("url", h.conn.config.URL).
		Msg("feed socket disconnected")

	if h.conn.config.ReconnectEnabled {
		select {
		case <-h.conn.stopChan:
			return
		default:
			go h.conn.attemptReconnect()
		}
	}
}

func (h *eventHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.conn.config.PingInterval + h.conn.config.PongWait))
	_ = socket.WritePong(nil)
}

func (h *eventHandler) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.conn.config.PingInterval + h.conn.config.PongWait))
}

// OnMessage runs on the read loop goroutine, so frames reach the delegate
// strictly in arrival order.
func (h *eventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	data := message.Bytes()
	if len(data) == 0 {
		return
	}

	h.conn.logger.Debug().Str("data", string(data)).Msg("received feed frame")

	if h.conn.onFrame != nil {
		h.conn.onFrame(data)
	}
}

// Connect establishes the websocket connection and starts the read loop.
// It returns once the connection handshake completes or the context expires.
func (c *Conn) Connect(ctx context.Context) error {
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
		return fmt.Errorf("connect feed socket: %w", err)
	}

	c.mu.Lock()
	c.conn = socket
	connected := c.connectedChan
	c.mu.Unlock()

	c.wg.Go(func() {
		socket.ReadLoop()
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
		return fmt.Errorf("socket stopped")
	}
}

// Close shuts the socket down and joins the read loop. Safe to call more
// than once.
func (c *Conn) Close() error {
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
	return nil
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	return c.state.Load()
}

// IsConnected returns true if the socket has an active connection.
func (c *Conn) IsConnected() bool {
	return c.state.Load() == StateConnected
}

// WriteMessage sends raw bytes over the socket.
func (c *Conn) WriteMessage(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.state.Load() != StateConnected {
		return core.ErrNotConnected
	}

	return c.conn.WriteMessage(gws.OpcodeText, data)
}

// WriteJSON marshals the given value and sends it over the socket.
func (c *Conn) WriteJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return c.WriteMessage(data)
}

func (c *Conn) attemptReconnect() {
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

		wait := c.calculateBackoff(attempts)
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
		if err := c.Connect(ctx); err != nil {
			c.logger.Error().Err(err).
				Int("attempt", attempts+1).
				Msg("reconnect failed")
			cancel()
			c.state.Store(StateReconnecting)
			continue
		}
		cancel()

		c.logger.Info().Msg("reconnected successfully")
		return
	}
}

func (c *Conn) calculateBackoff(attempts int) time.Duration {
	return min(c.config.ReconnectBaseWait*time.Duration(1<<uint(attempts)), c.config.ReconnectMaxWait)
}
