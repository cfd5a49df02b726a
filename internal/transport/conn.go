package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultDialTimeout bounds the websocket handshake.
	DefaultDialTimeout = 5 * time.Second

	inboxSize = 16
)

// ErrClosed is returned once the connection has gone away.
var ErrClosed = errors.New("connection closed")

// Conn is a message-oriented client connection. Every Send is one text
// frame and every Receive returns one frame, so message boundaries survive
// the trip.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	log          zerolog.Logger

	wmu sync.Mutex

	inbox     chan []byte
	done      chan struct{}
	readErr   error
	closeOnce sync.Once
}

// Option configures Dial.
type Option func(*dialOptions)

type dialOptions struct {
	dialTimeout  time.Duration
	writeTimeout time.Duration
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *dialOptions) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *dialOptions) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// Dial connects to the exam server at url.
func Dial(ctx context.Context, url string, log zerolog.Logger, opts ...Option) (*Conn, error) {
	o := dialOptions{dialTimeout: DefaultDialTimeout, writeTimeout: DefaultWriteTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: o.dialTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := newConn(ws, o.writeTimeout, log.With().Str("component", "transport").Str("url", url).Logger())
	c.log.Info().Msg("Connected to exam server")
	return c, nil
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration, log zerolog.Logger) *Conn {
	c := &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		log:          log,
		inbox:        make(chan []byte, inboxSize),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop is the only reader of the socket. A Receive that gives up on its
// context leaves the connection usable for the next one.
func (c *Conn) readLoop() {
	defer close(c.inbox)
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				c.log.Debug().Err(err).Msg("Connection closed")
			}
			c.readErr = err
			return
		}
		select {
		case c.inbox <- msg:
		case <-c.done:
			return
		}
	}
}

// Send writes msg as one text frame. The write deadline is the earlier of
// ctx's deadline and the write timeout.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Receive returns the next frame, or an error when ctx ends or the
// connection is gone.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-c.inbox:
		if !ok {
			if c.readErr != nil {
				return nil, fmt.Errorf("read message: %w", c.readErr)
			}
			return nil, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Drain discards frames that arrived but were never received, typically
// replies whose Receive already timed out, and reports how many it dropped.
func (c *Conn) Drain() int {
	n := 0
	for {
		select {
		case _, ok := <-c.inbox:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Close sends a close frame and releases the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.wmu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmu.Unlock()

		err = c.ws.Close()
	})
	return err
}
