// Package bridge is the sensor-side client of the ingest endpoint. A capture
// process (or the replay command) uses it to stream skeleton frames and
// recognized tokens to a running engine.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-i4c3d/internal/log"
	"github.com/teslashibe/go-i4c3d/pkg/gesture"
	"github.com/teslashibe/go-i4c3d/pkg/protocol"
)

const (
	DefaultBackoff = time.Second
	writeWait      = 5 * time.Second
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("bridge: client closed")

// Config holds client settings.
type Config struct {
	// URL of the engine, e.g. "ws://localhost:8090". The sensor path is
	// appended when missing.
	URL      string
	SensorID string
	// Backoff between dial attempts.
	Backoff time.Duration
	// MaxAttempts caps dial attempts per connect; 0 retries until the
	// context ends.
	MaxAttempts int
}

// Endpoint returns the full websocket URL.
func (c Config) Endpoint() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("bridge: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("bridge: unsupported scheme %q", u.Scheme)
	}
	if !strings.Contains(u.Path, "/ws/sensor") {
		u.Path = strings.TrimRight(u.Path, "/") + "/ws/sensor"
	}
	if c.SensorID != "" && strings.HasSuffix(u.Path, "/ws/sensor") {
		u.Path += "/" + c.SensorID
	}
	return u.String(), nil
}

// Client streams protocol messages to the ingest endpoint.
type Client struct {
	endpoint string
	cfg      Config
	dialer   *websocket.Dialer
	logger   *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	closed    bool
	onMessage func(*protocol.Message)
	dials     int
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// OnMessage sets the callback for messages from the engine (tilt, status,
// pong). It runs on the client's read goroutine.
func OnMessage(fn func(*protocol.Message)) Option {
	return func(c *Client) { c.onMessage = fn }
}

// New creates a client. It does not connect until Connect or the first send.
func New(cfg Config, opts ...Option) (*Client, error) {
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	c := &Client{
		endpoint: endpoint,
		cfg:      cfg,
		dialer:   websocket.DefaultDialer,
		logger:   log.Component("bridge"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the URL the client dials.
func (c *Client) Endpoint() string { return c.endpoint }

// Connect dials the endpoint, retrying with a fixed backoff.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}
	return c.connectLocked(ctx)
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Dials returns how many successful dials the client has made.
func (c *Client) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// SendFrame streams one skeleton frame.
func (c *Client) SendFrame(ctx context.Context, f gesture.Frame) error {
	msg, err := protocol.NewSkeletonMessage(f)
	if err != nil {
		return err
	}
	return c.Send(ctx, msg)
}

// SendToken streams one recognized token.
func (c *Client) SendToken(ctx context.Context, vocabulary, text string) error {
	msg, err := protocol.NewTokenMessage(vocabulary, text)
	if err != nil {
		return err
	}
	return c.Send(ctx, msg)
}

// Send writes a message, reconnecting once if the connection has dropped.
func (c *Client) Send(ctx context.Context, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

func (c *Client) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if c.closed {
			return ErrClosed
		}
		if c.conn == nil {
			if err := c.connectLocked(ctx); err != nil {
				return err
			}
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		if err == nil {
			return nil
		}
		c.logger.Warn("write failed", "error", err)
		c.dropLocked()
		if attempt >= 1 {
			return fmt.Errorf("bridge: write: %w", err)
		}
	}
}

func (c *Client) connectLocked(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
		if err == nil {
			c.conn = conn
			c.dials++
			c.logger.Info("connected", "url", c.endpoint, "attempt", attempt)
			go c.readLoop(conn)
			return nil
		}
		if c.cfg.MaxAttempts > 0 && attempt >= c.cfg.MaxAttempts {
			return fmt.Errorf("bridge: dial %s after %d attempts: %w", c.endpoint, attempt, err)
		}
		c.logger.Debug("dial failed, retrying", "url", c.endpoint, "attempt", attempt, "error", err)

		timer := time.NewTimer(c.cfg.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				conn.Close()
			}
			c.mu.Unlock()
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Debug("ignoring bad message", "error", err)
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	err := c.conn.Close()
	c.conn = nil
	return err
}
