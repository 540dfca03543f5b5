package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/wricardo/textrelay/relay"
)

const (
	// DefaultMaxMessageSize bounds one reassembled inbound message.
	DefaultMaxMessageSize = 64 * 1024

	// IdentityParam is the query parameter carrying the client's label.
	IdentityParam = "identity"

	joinNotice = "is connected"

	closeReasonIdentityInUse = "identity already in use"
	closeReasonTeardown      = "closing"
)

// Handler upgrades requests and runs one relay connection per request
type Handler struct {
	registry       *relay.Registry
	dispatcher     *relay.Dispatcher
	upgrader       websocket.Upgrader
	maxMessageSize int64
}

// NewHandler creates a handler that relays through dispatcher. A zero
// maxMessageSize selects DefaultMaxMessageSize.
func NewHandler(dispatcher *relay.Dispatcher, maxMessageSize int64) *Handler {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Handler{
		registry:   dispatcher.Registry(),
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The identity page may be served from another origin during development
				return true
			},
		},
		maxMessageSize: maxMessageSize,
	}
}

// ServeHTTP handles WebSocket upgrade requests from clients
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get(IdentityParam)
	if identity == "" {
		http.Error(w, relay.ErrIdentityRequired.Error(), http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		slog.Warn("websocket upgrade failed", "identity", identity, "error", err)
		return
	}

	h.serve(r.Context(), ws, identity)
}

// serve runs the connection from handshake to teardown. It returns once the
// socket has been released.
func (h *Handler) serve(ctx context.Context, ws *websocket.Conn, identity string) {
	ws.SetReadLimit(h.maxMessageSize)
	c := newConn(ctx, ws, identity)

	if !h.registry.TryRegister(identity, c) {
		slog.Info("connection rejected", "identity", identity, "conn_id", c.ID(), "error", relay.ErrIdentityInUse)
		c.close(closeReasonIdentityInUse)
		return
	}
	defer h.teardown(c)

	c.open()
	slog.Info("client connected", "identity", identity, "conn_id", c.ID(), "clients", h.registry.Len())

	h.dispatcher.Broadcast(c.Context(), relay.FormatLine(identity, joinNotice))
	h.receiveLoop(c)
}

func (h *Handler) receiveLoop(c *Conn) {
	for {
		text, err := c.receive()
		if err != nil {
			logExit(c, err)
			return
		}

		if text == "" {
			if c.State() != relay.StateOpen {
				return
			}
			continue
		}

		msg := relay.ParseFrom(text, c.Identity())
		h.dispatcher.Dispatch(c.Context(), msg)
	}
}

// teardown unregisters c and closes it. Safe to call more than once; a later
// call never removes an entry that now belongs to another connection.
func (h *Handler) teardown(c *Conn) {
	c.beginClose()
	h.registry.Unregister(c.Identity(), c)

	if c.close(closeReasonTeardown) {
		slog.Info("client disconnected", "identity", c.Identity(), "conn_id", c.ID(), "clients", h.registry.Len())
	}
}

func logExit(c *Conn, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.Debug("connection cancelled", "identity", c.Identity(), "conn_id", c.ID())
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		slog.Debug("peer closed connection", "identity", c.Identity(), "conn_id", c.ID())
	default:
		slog.Warn("transport failure", "identity", c.Identity(), "conn_id", c.ID(), "error", err)
	}
}
