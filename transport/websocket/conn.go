package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wricardo/textrelay/relay"
)

// Time allowed to write a close frame to the peer.
const closeWait = time.Second

// Conn is a relay connection backed by a WebSocket.
type Conn struct {
	id       string
	identity string
	ws       *websocket.Conn

	state   atomic.Int32
	writeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	stopAbort func() bool
	closeOnce sync.Once
}

func newConn(parent context.Context, ws *websocket.Conn, identity string) *Conn {
	ctx, cancel := context.WithCancel(parent)
	c := &Conn{
		id:       uuid.NewString(),
		identity: identity,
		ws:       ws,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.state.Store(int32(relay.StateHandshaking))

	// Unblock a pending write, then the pending read, once the connection is
	// cancelled. The read fails last so teardown's close frame gets a fresh
	// write deadline.
	c.stopAbort = context.AfterFunc(ctx, func() {
		now := time.Now()
		ws.NetConn().SetWriteDeadline(now)
		ws.NetConn().SetReadDeadline(now)
	})
	return c
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) Identity() string { return c.identity }

func (c *Conn) State() relay.State {
	return relay.State(c.state.Load())
}

// Context is cancelled when the connection starts closing.
func (c *Conn) Context() context.Context {
	return c.ctx
}

func (c *Conn) open() {
	c.state.CompareAndSwap(int32(relay.StateHandshaking), int32(relay.StateOpen))
}

// beginClose moves an open connection to Closing so dispatchers skip it.
func (c *Conn) beginClose() {
	c.state.CompareAndSwap(int32(relay.StateOpen), int32(relay.StateClosing))
}

// Send writes one text frame. A failed write cancels the connection, which
// ends its receive loop.
func (c *Conn) Send(text string) error {
	if c.State() != relay.StateOpen {
		return relay.ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("send to %s: %w", c.identity, err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.beginClose()
		c.cancel()
		return fmt.Errorf("send to %s: %w", c.identity, err)
	}
	return nil
}

// receive reads one complete message. Fragments are reassembled by the
// underlying connection. Non-text messages and text that is not valid UTF-8
// yield an empty string.
func (c *Conn) receive() (string, error) {
	if err := c.ctx.Err(); err != nil {
		return "", err
	}

	messageType, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctxErr := c.ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}

	if messageType != websocket.TextMessage {
		return "", nil
	}
	if !utf8.Valid(data) {
		slog.Debug("dropped invalid UTF-8 message", "identity", c.identity, "conn_id", c.id, "bytes", len(data))
		return "", nil
	}
	return string(data), nil
}

// close sends a normal-closure frame with reason and releases the socket.
// Only the first call has any effect; it reports whether it did the work.
func (c *Conn) close(reason string) bool {
	closed := false
	c.closeOnce.Do(func() {
		closed = true
		c.beginClose()

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil &&
			!errors.Is(err, websocket.ErrCloseSent) {
			slog.Debug("close frame not sent", "identity", c.identity, "conn_id", c.id, "error", err)
		}

		c.stopAbort()
		c.cancel()
		c.ws.Close()
		c.state.Store(int32(relay.StateClosed))
	})
	return closed
}
