// Package marketstream subscribes to exchange kline streams over WebSocket.
package marketstream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"agent-chart-lab/internal/observability"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("stream client closed")

// Config configures WebSocket client behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription ack.
	SubscribeTimeout time.Duration
	// Buffer is the per-stream channel capacity.
	Buffer int
}

// DefaultConfig returns default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  10 * time.Second,
		Buffer:            256,
	}
}

// StreamName returns the exchange stream name for a kline subscription.
func StreamName(symbol, interval string) string {
	return strings.ToLower(symbol) + "@kline_" + interval
}

// Client is a kline stream client using gorilla/websocket.
type Client struct {
	endpoint string
	config   Config
	logger   *log.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// streams maps stream name to its subscriber channel
	streams   map[string]chan []byte
	streamsMu sync.RWMutex

	// pending maps request ID to the channel waiting for its ack
	pending   map[uint64]chan error
	pendingMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewClient creates a client and connects to endpoint.
func NewClient(ctx context.Context, endpoint string, config *Config, logger *log.Logger) (*Client, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[stream] ", log.LstdFlags)
	}

	c := &Client{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		streams:  make(map[string]chan []byte),
		pending:  make(map[uint64]chan error),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// Subscribe subscribes to the kline stream of symbol and interval. Each
// message on the returned channel is one raw stream payload. When the
// subscriber falls behind, the oldest buffered tick is dropped.
func (c *Client) Subscribe(ctx context.Context, symbol, interval string) (<-chan []byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	name := StreamName(symbol, interval)

	c.streamsMu.Lock()
	if ch, ok := c.streams[name]; ok {
		c.streamsMu.Unlock()
		return ch, nil
	}
	ch := make(chan []byte, c.config.Buffer)
	c.streams[name] = ch
	c.streamsMu.Unlock()

	if err := c.send(ctx, "SUBSCRIBE", []string{name}); err != nil {
		c.streamsMu.Lock()
		delete(c.streams, name)
		c.streamsMu.Unlock()
		return nil, err
	}
	return ch, nil
}

// Unsubscribe stops a kline stream and closes its channel.
func (c *Client) Unsubscribe(ctx context.Context, symbol, interval string) error {
	name := StreamName(symbol, interval)

	c.streamsMu.Lock()
	ch, ok := c.streams[name]
	delete(c.streams, name)
	c.streamsMu.Unlock()
	if !ok {
		return nil
	}
	close(ch)

	return c.send(ctx, "UNSUBSCRIBE", []string{name})
}

// send writes a method request and waits for its ack.
func (c *Client) send(ctx context.Context, method string, params []string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	reqID := c.requestID.Add(1)
	ack := make(chan error, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = ack
	c.pendingMu.Unlock()

	forget := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		forget()
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(request{Method: method, Params: params, ID: reqID})
	c.connMu.Unlock()

	if err != nil {
		forget()
		return fmt.Errorf("write %s: %w", strings.ToLower(method), err)
	}

	select {
	case err, ok := <-ack:
		if !ok {
			return ErrClosed
		}
		return err
	case <-time.After(c.config.SubscribeTimeout):
		forget()
		return fmt.Errorf("%s timeout after %s", strings.ToLower(method), c.config.SubscribeTimeout)
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		forget()
		return ctx.Err()
	}
}

// Close closes the WebSocket connection and every stream channel.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.streamsMu.Lock()
	for name, ch := range c.streams {
		close(ch)
		delete(c.streams, name)
	}
	c.streamsMu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	return nil
}

// readLoop reads messages and dispatches them to stream channels.
func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.logger.Printf("read failed, reconnecting in %s: %v", reconnectDelay, err)
				c.wg.Add(1)
				go c.reconnect(conn, reconnectDelay)

				reconnectDelay *= 2
				if reconnectDelay > c.config.MaxReconnectDelay {
					reconnectDelay = c.config.MaxReconnectDelay
				}
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

// reconnect replaces a dead connection and resubscribes every stream.
func (c *Client) reconnect(dead *websocket.Conn, delay time.Duration) {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn == dead {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Printf("reconnect failed: %v", err)
		return
	}
	observability.RecordStreamReconnect()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.resubscribeAll()
	}()
}

func (c *Client) resubscribeAll() {
	c.streamsMu.RLock()
	names := make([]string, 0, len(c.streams))
	for name := range c.streams {
		names = append(names, name)
	}
	c.streamsMu.RUnlock()

	if len(names) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
	defer cancel()
	if err := c.send(ctx, "SUBSCRIBE", names); err != nil {
		c.logger.Printf("resubscribe %d streams: %v", len(names), err)
	}
}

// handleMessage routes an ack, an error or a kline payload.
func (c *Client) handleMessage(message []byte) {
	doc := gjson.ParseBytes(message)

	if id := doc.Get("id"); id.Exists() {
		var ackErr error
		if e := doc.Get("error"); e.Exists() {
			ackErr = fmt.Errorf("stream error %d: %s", e.Get("code").Int(), e.Get("msg").String())
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[id.Uint()]
		delete(c.pending, id.Uint())
		c.pendingMu.Unlock()
		if ok {
			ch <- ackErr
		} else if ackErr != nil {
			c.logger.Printf("%v", ackErr)
		}
		return
	}

	name := doc.Get("stream").String()
	if name == "" {
		// Raw stream payloads carry symbol and interval instead.
		symbol, interval := doc.Get("s").String(), doc.Get("k.i").String()
		if symbol == "" || interval == "" {
			return
		}
		name = StreamName(symbol, interval)
	}

	c.streamsMu.RLock()
	defer c.streamsMu.RUnlock()
	ch, ok := c.streams[name]
	if !ok {
		return
	}

	select {
	case ch <- message:
		return
	default:
	}

	// Full: drop the oldest buffered tick to keep the newest.
	select {
	case <-ch:
		observability.RecordTickDropped("backpressure")
	default:
	}
	select {
	case ch <- message:
	default:
		observability.RecordTickDropped("backpressure")
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces in readLoop.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

type request struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}
