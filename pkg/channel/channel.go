package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-i4c3d/internal/log"
)

// DefaultDialTimeout bounds a (re)connect attempt.
const DefaultDialTimeout = 3 * time.Second

// errorLogInterval limits transport error logging to one line per interval.
const errorLogInterval = 5 * time.Second

// State is the TCP connection state. UDP is stateless.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "connected":
		*s = Connected
	case "disconnected":
		*s = Disconnected
	default:
		return fmt.Errorf("channel: unknown state %q", b)
	}
	return nil
}

// Target is the remote tool's address.
type Target struct {
	Host    string `json:"host"`
	TCPPort int    `json:"tcp_port"`
	UDPPort int    `json:"udp_port"`
}

// TCPAddr returns host:tcpPort.
func (t Target) TCPAddr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.TCPPort))
}

// UDPAddr returns host:udpPort.
func (t Target) UDPAddr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.UDPPort))
}

// Dialer opens sockets. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Sender is what the gesture side needs from a channel.
type Sender interface {
	SendReliable(payload string)
	SendBestEffort(payload string) error
}

// Stats are cumulative channel counters.
type Stats struct {
	State         State  `json:"state"`
	Target        Target `json:"target"`
	Dials         uint64 `json:"dials"`
	ReliableSent  uint64 `json:"reliable_sent"`
	ReliableErrs  uint64 `json:"reliable_errors"`
	BestEffortOut uint64 `json:"best_effort_sent"`
}

// Channel owns the TCP command stream and the UDP sign sender.
// All methods are safe for concurrent use. Sockets are always dialed outside
// mu and udpMu, so State, Stats and SendBestEffort never wait on a dial.
type Channel struct {
	dialer      Dialer
	dialTimeout time.Duration
	logger      *slog.Logger

	// writeMu serializes reliable sends, including their reconnect dial.
	// It is never taken while holding mu.
	writeMu sync.Mutex

	mu            sync.Mutex // guards everything below
	target        Target
	hasTarget     bool
	gen           uint64 // bumped by every Connect
	tcp           net.Conn
	w             *bufio.Writer
	state         State
	closed        bool
	lastErrorTime time.Time

	udpMu     sync.Mutex
	udp       net.Conn
	udpGen    uint64
	udpClosed bool

	dials         atomic.Uint64
	reliableSent  atomic.Uint64
	reliableErrs  atomic.Uint64
	bestEffortOut atomic.Uint64
}

// Option configures a Channel.
type Option func(*Channel)

// WithDialer replaces the socket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// WithDialTimeout bounds each connect attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithLogger overrides the channel logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// New creates a disconnected channel. Call Connect before sending.
func New(opts ...Option) *Channel {
	c := &Channel{
		dialer:      &net.Dialer{},
		dialTimeout: DefaultDialTimeout,
		logger:      log.Component("channel"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect points the channel at host and opens both sockets, replacing any
// existing ones. A *ConnectionError is returned when either socket fails; the
// target is kept so the next SendReliable retries the TCP side. When a later
// Connect overtakes this one, ErrSuperseded is returned and its sockets are
// discarded.
func (c *Channel) Connect(ctx context.Context, host string, tcpPort, udpPort int) error {
	target := Target{Host: host, TCPPort: tcpPort, UDPPort: udpPort}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	c.target = target
	c.hasTarget = true
	old := c.detachLocked()
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	udp, err := c.dialer.DialContext(ctx, "udp", target.UDPAddr())
	if err != nil {
		c.swapUDP(gen, nil)
		return &ConnectionError{Transport: UDP, Addr: target.UDPAddr(), Err: err}
	}
	if err := c.swapUDP(gen, udp); err != nil {
		return err
	}

	conn, err := c.dialTCP(ctx, target)
	if err != nil {
		return err
	}
	if err := c.attach(gen, conn); err != nil {
		return err
	}

	c.logger.Info("connected", "tcp", target.TCPAddr(), "udp", target.UDPAddr())
	return nil
}

// SendReliable writes payload to the TCP stream, reconnecting first when the
// stream is down. Transport errors are logged, the stream is closed and the
// state drops to Disconnected; they are never returned.
func (c *Channel) SendReliable(payload string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	closed, hasTarget, target, gen, w := c.closed, c.hasTarget, c.target, c.gen, c.w
	c.mu.Unlock()

	if closed {
		c.logger.Debug("dropping command on closed channel", "payload", payload)
		return
	}
	if !hasTarget {
		c.logError("send", ErrNotConfigured)
		return
	}

	if w == nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
		conn, err := c.dialTCP(ctx, target)
		cancel()
		if err != nil {
			c.logError("reconnect", err)
			return
		}
		if err := c.attach(gen, conn); err != nil {
			c.logger.Debug("dropping command after reconnect", "payload", payload, "error", err)
			return
		}
		c.logger.Info("reconnected", "tcp", target.TCPAddr())

		c.mu.Lock()
		w = c.w
		c.mu.Unlock()
		if w == nil {
			return
		}
	}

	if _, err := w.WriteString(payload); err != nil {
		c.fail(w, err)
		return
	}
	if err := w.Flush(); err != nil {
		c.fail(w, err)
		return
	}
	c.reliableSent.Add(1)
}

// SendBestEffort sends one UDP datagram. Errors are returned unhandled.
func (c *Channel) SendBestEffort(payload string) error {
	c.udpMu.Lock()
	defer c.udpMu.Unlock()

	if c.udp == nil {
		if c.udpClosed {
			return ErrClosed
		}
		return ErrNotConfigured
	}
	if _, err := c.udp.Write([]byte(payload)); err != nil {
		return fmt.Errorf("channel: udp send: %w", err)
	}
	c.bestEffortOut.Add(1)
	return nil
}

// Deliver sends m on its transport, honouring Repeat and Interval. UDP errors
// are returned from the first failing send.
func (c *Channel) Deliver(m Message) error {
	return deliver(c, m, time.Sleep)
}

// State returns the TCP connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Target returns the configured target and whether one is set.
func (c *Channel) Target() (Target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target, c.hasTarget
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	state, target := c.state, c.target
	c.mu.Unlock()
	return Stats{
		State:         state,
		Target:        target,
		Dials:         c.dials.Load(),
		ReliableSent:  c.reliableSent.Load(),
		ReliableErrs:  c.reliableErrs.Load(),
		BestEffortOut: c.bestEffortOut.Load(),
	}
}

// Close releases both sockets. It is safe to call more than once; later sends
// are dropped (TCP) or fail with ErrClosed (UDP).
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	tcp := c.detachLocked()
	c.mu.Unlock()

	c.udpMu.Lock()
	c.udpClosed = true
	udp := c.udp
	c.udp = nil
	c.udpMu.Unlock()

	var errs []error
	if tcp != nil {
		errs = append(errs, tcp.Close())
	}
	if udp != nil {
		errs = append(errs, udp.Close())
	}

	c.logger.Info("closed")
	return errors.Join(errs...)
}

// dialTCP opens a stream to target without holding any lock.
func (c *Channel) dialTCP(ctx context.Context, target Target) (net.Conn, error) {
	c.dials.Add(1)
	conn, err := c.dialer.DialContext(ctx, "tcp", target.TCPAddr())
	if err != nil {
		return nil, &ConnectionError{Transport: TCP, Addr: target.TCPAddr(), Err: err}
	}
	return conn, nil
}

// attach installs conn as the live stream unless the channel was closed or
// reconnected to another target since gen was read.
func (c *Channel) attach(gen uint64, conn net.Conn) error {
	c.mu.Lock()
	var err error
	switch {
	case c.closed:
		err = ErrClosed
	case c.gen != gen:
		err = ErrSuperseded
	}
	var old net.Conn
	if err == nil {
		old = c.detachLocked()
		c.tcp = conn
		c.w = bufio.NewWriter(conn)
		c.state = Connected
	}
	c.mu.Unlock()

	if err != nil {
		conn.Close()
		return err
	}
	if old != nil {
		old.Close()
	}
	return nil
}

// swapUDP installs udp (nil to clear) for Connect generation gen. An older
// generation never replaces a newer one.
func (c *Channel) swapUDP(gen uint64, udp net.Conn) error {
	c.udpMu.Lock()
	var err error
	switch {
	case c.udpClosed:
		err = ErrClosed
	case gen < c.udpGen:
		err = ErrSuperseded
	}
	var old net.Conn
	if err == nil {
		old, c.udp, c.udpGen = c.udp, udp, gen
	}
	c.udpMu.Unlock()

	if err != nil && udp != nil {
		udp.Close()
	}
	if old != nil {
		old.Close()
	}
	return err
}

// fail tears the stream down after a write error on w. A stream that has
// already been replaced is left alone.
func (c *Channel) fail(w *bufio.Writer, err error) {
	c.logError("write", err)
	c.mu.Lock()
	var old net.Conn
	if c.w == w {
		old = c.detachLocked()
	}
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// detachLocked unhooks the stream and returns it for closing outside mu.
func (c *Channel) detachLocked() net.Conn {
	old := c.tcp
	c.tcp, c.w = nil, nil
	c.state = Disconnected
	return old
}

// logError counts every error but logs at most once per errorLogInterval.
func (c *Channel) logError(op string, err error) {
	total := c.reliableErrs.Add(1)
	c.mu.Lock()
	if !c.lastErrorTime.IsZero() && time.Since(c.lastErrorTime) < errorLogInterval {
		c.mu.Unlock()
		return
	}
	c.lastErrorTime = time.Now()
	c.mu.Unlock()
	c.logger.Warn("tcp transport error", "op", op, "error", err, "total_errors", total)
}

// deliver is shared by Channel.Deliver and the dispatcher.
func deliver(s Sender, m Message, sleep func(time.Duration)) error {
	n := m.Times()
	for i := 0; i < n; i++ {
		if i > 0 && m.Interval > 0 {
			sleep(m.Interval)
		}
		switch m.Transport {
		case UDP:
			if err := s.SendBestEffort(m.Payload); err != nil {
				return err
			}
		default:
			s.SendReliable(m.Payload)
		}
	}
	return nil
}

var _ Sender = (*Channel)(nil)
