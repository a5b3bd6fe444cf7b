// Package signal implements the websocket client used to exchange session
// negotiation messages (capabilities, transport parameters, stream
// announcements) with a remote signaling server. Messages are JSON envelopes
// correlated by id; server pushes without an id are dispatched as
// notifications.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"rtcclient/pkg/circuitbreaker"
	"rtcclient/pkg/retry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Message is the JSON envelope on the wire.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NotificationHandler receives server-initiated pushes.
type NotificationHandler func(method string, payload json.RawMessage)

// Options configures a Client.
type Options struct {
	URL            string
	RequestTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration

	// Reconnect settings. ReconnectLimiter throttles dial attempts across
	// reconnect cycles; nil disables reconnecting entirely.
	ReconnectLimiter  *rate.Limiter
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration

	// Breaker guards request round trips. Left nil, a breaker with default
	// thresholds is installed.
	Breaker *circuitbreaker.CircuitBreaker

	Logger *zap.SugaredLogger
}

// Client is a websocket signaling client. Safe for concurrent use; writes are
// serialized internally.
type Client struct {
	options Options

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]chan Message
	closed   bool
	handler  NotificationHandler
	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once

	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

// NewClient builds a client; Dial must be called before use.
func NewClient(options Options) (*Client, error) {
	if options.URL == "" {
		return nil, fmt.Errorf("missing signaling url")
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = 15 * time.Second
	}
	if options.PingInterval <= 0 {
		options.PingInterval = 30 * time.Second
	}
	if options.PongTimeout <= 0 {
		options.PongTimeout = 60 * time.Second
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	breaker := options.Breaker
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("signaling circuit state changed", "from", from.String(), "to", to.String())
	})
	return &Client{
		options: options,
		pending: make(map[string]chan Message),
		done:    make(chan struct{}),
		breaker: breaker,
		logger:  logger,
	}, nil
}

// OnNotification registers the handler for server pushes. Must be called
// before Dial.
func (c *Client) OnNotification(handler NotificationHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Dial connects to the signaling server and starts the read and keepalive
// loops.
func (c *Client) Dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.options.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing signaling server: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("client closed")
	}
	c.conn = conn
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(c.options.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.options.PongTimeout))
		return nil
	})

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Infow("connected to signaling server", "url", c.options.URL)
	return nil
}

// Request sends a correlated request and waits for the matching response.
// Round trips run through the circuit breaker, so a consistently failing
// server makes requests fail fast instead of each waiting out the timeout.
func (c *Client) Request(ctx context.Context, method string, payload interface{}) (json.RawMessage, error) {
	var response json.RawMessage
	err := c.breaker.Execute(ctx, func() error {
		var innerErr error
		response, innerErr = c.doRequest(ctx, method, payload)
		return innerErr
	})
	return response, err
}

func (c *Client) doRequest(ctx context.Context, method string, payload interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", method, err)
	}

	msg := Message{ID: uuid.NewString(), Method: method, Payload: data}
	reply := make(chan Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client closed")
	}
	c.pending[msg.ID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.options.RequestTimeout)
	defer timer.Stop()

	select {
	case response := <-reply:
		if response.Error != "" {
			return nil, fmt.Errorf("%s rejected: %s", method, response.Error)
		}
		return response.Payload, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s timed out after %s", method, c.options.RequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("client closed")
	}
}

// Notify sends a one-way message, expecting no response.
func (c *Client) Notify(method string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", method, err)
	}
	return c.write(Message{Method: method, Payload: data})
}

// Connected reports whether a live connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Close shuts the client down. Pending requests fail.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	if conn != nil {
		conn.Close()
	}
	c.logger.Debugw("signaling client closed")
}

func (c *Client) write(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnw("signaling read failed", "error", err)
			}
			c.handleDisconnect(conn)
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.options.PongTimeout))

		if msg.ID != "" {
			c.mu.Lock()
			reply, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				reply <- msg
				continue
			}
		}

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil && msg.Method != "" {
			handler(msg.Method, msg.Payload)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debugw("ping failed", "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleDisconnect drops the dead connection and, when reconnecting is
// enabled, re-dials with backoff behind the shared rate limiter.
func (c *Client) handleDisconnect(dead *websocket.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != dead {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	dead.Close()

	if c.options.ReconnectLimiter == nil {
		c.logger.Warnw("signaling connection lost, reconnect disabled")
		c.Close()
		return
	}

	c.logger.Warnw("signaling connection lost, reconnecting")
	go c.reconnect()
}

func (c *Client) reconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.done
		cancel()
	}()

	cfg := retry.Config{
		Enabled:      true,
		MaxAttempts:  c.options.ReconnectAttempts,
		InitialDelay: c.options.ReconnectDelay,
		MaxDelay:     c.options.ReconnectMaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}

	err := retry.Retry(ctx, cfg, func() error {
		if err := c.options.ReconnectLimiter.Wait(ctx); err != nil {
			return err
		}
		return c.Dial(ctx)
	})
	if err != nil {
		c.logger.Errorw("signaling reconnect failed", "error", err)
		c.Close()
	}
}
