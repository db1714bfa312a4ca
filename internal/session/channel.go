// Package session implements the session transport: two logical channels,
// video and control, each carried by its own TLS WebSocket connection and
// owned by an explicit Session value.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrChannelClosed is returned by Send and Receive once a channel has
	// been torn down, locally or by the peer.
	ErrChannelClosed = errors.New("channel closed")
	// ErrNotReady is returned by Session.Send before the channel's
	// handshake has completed. No I/O is attempted.
	ErrNotReady = errors.New("channel not ready")
)

// Kind is the routing key of a logical channel.
type Kind string

const (
	Video   Kind = "video"
	Control Kind = "control"
)

// Kinds lists the logical channels of a session.
var Kinds = []Kind{Video, Control}

// Path is the URL path the channel is served on.
func (k Kind) Path() string { return "/" + string(k) }

func (k Kind) index() int {
	if k == Video {
		return 0
	}
	return 1
}

func (k Kind) valid() bool { return k == Video || k == Control }

// Video carries binary JPEG frames, control carries JSON text.
func (k Kind) messageType() int {
	if k == Video {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// State is the lifecycle of one channel slot in a session.
type State int32

const (
	Pending State = iota
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options tune a channel's flow control and liveness checks.
type Options struct {
	// WriteTimeout bounds every Send and control frame write.
	WriteTimeout time.Duration
	// ReadTimeout closes a channel whose peer has been silent this long.
	// Zero disables the check.
	ReadTimeout time.Duration
	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration
	// ReadLimit is the largest message accepted, in bytes.
	ReadLimit int64
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  45 * time.Second,
		PingInterval: 15 * time.Second,
		ReadLimit:    16 << 20,
	}
}

// Channel is one logical channel over a WebSocket connection. Send may be
// called by one writer loop and Receive by one reader loop concurrently;
// Close may be called from anywhere, any number of times.
type Channel struct {
	kind   Kind
	conn   *websocket.Conn
	opts   Options
	logger *slog.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newChannel(conn *websocket.Conn, kind Kind, opts Options, logger *slog.Logger) *Channel {
	c := &Channel{
		kind:   kind,
		conn:   conn,
		opts:   opts,
		logger: logger,
		done:   make(chan struct{}),
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	c.extendRead()
	conn.SetPongHandler(func(string) error {
		c.extendRead()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		c.extendRead()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), c.writeDeadline())
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})
	if opts.PingInterval > 0 {
		go c.keepalive()
	}
	return c
}

// Kind returns the channel's routing key.
func (c *Channel) Kind() Kind { return c.kind }

// RemoteAddr returns the peer's network address.
func (c *Channel) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// State reports Ready until the channel is closed.
func (c *Channel) State() State {
	if c.closed.Load() {
		return Closed
	}
	return Ready
}

// Done is closed when the channel is torn down.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Send writes one message. It fails with ErrChannelClosed once the channel
// is closed, and closes the channel itself when the write fails.
func (c *Channel) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(c.writeDeadline())
	if err := c.conn.WriteMessage(c.kind.messageType(), payload); err != nil {
		c.closeWith(err)
		return fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	return nil
}

// Receive blocks for the next message. Closing the channel unblocks it with
// ErrChannelClosed.
func (c *Channel) Receive() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.closeWith(err)
		if isLocalClose(err) {
			return nil, ErrChannelClosed
		}
		return nil, fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	c.extendRead()
	return data, nil
}

// Close tears the channel down. It is idempotent.
func (c *Channel) Close() error {
	c.closeWith(nil)
	return nil
}

// DiscardIncoming reads and drops messages until the channel closes, so
// that pings, pongs and the peer's close frame are processed on a channel
// this side only writes to.
func (c *Channel) DiscardIncoming() {
	for {
		if _, err := c.Receive(); err != nil {
			return
		}
	}
}

func (c *Channel) closeWith(cause error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.conn.Close()
		if cause != nil && !isLocalClose(cause) {
			c.logger.Debug("channel closed", "cause", cause)
		} else {
			c.logger.Debug("channel closed")
		}
	})
}

func (c *Channel) keepalive() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, c.writeDeadline()); err != nil {
				c.closeWith(err)
				return
			}
		}
	}
}

func (c *Channel) extendRead() {
	if c.opts.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
}

func (c *Channel) writeDeadline() time.Time {
	if c.opts.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.opts.WriteTimeout)
}

// isLocalClose reports errors caused by our own Close racing a blocked read.
func isLocalClose(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent)
}
