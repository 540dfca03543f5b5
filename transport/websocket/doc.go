// Package websocket provides the WebSocket transport for the text relay.
//
// The websocket package implements:
//   - The upgrade endpoint (?identity=<label>)
//   - Identity registration with rejection of duplicates
//   - The per-connection receive loop feeding the relay dispatcher
//   - Serialized writes and exactly-once teardown
//
// Connection Lifecycle:
//
//  1. Handshaking: the request is upgraded and the identity is registered.
//     A duplicate identity is answered with a close frame
//     ("identity already in use") and the socket is released.
//  2. Open: "<identity> : is connected" is broadcast to every open
//     connection, the new one included. Each text message read from the
//     socket is parsed with relay.Parse and handed to the dispatcher.
//  3. Closing: on peer close, transport error or cancellation the identity
//     is unregistered and a normal-closure frame is sent.
//  4. Closed: the socket is released.
//
// Usage:
//
//	registry := relay.NewRegistry()
//	handler := websocket.NewHandler(relay.NewDispatcher(registry), 0)
//	http.Handle("/ws", handler)
//
// Concurrency:
//
// Each connection is served on the goroutine net/http runs the handler on;
// nothing else is spawned per connection. Other connections' handlers write
// to it through Conn.Send, which holds a per-connection mutex so frames never
// interleave. Cancelling the request context forces the pending read and any
// in-flight write to fail, which unwinds straight to teardown.
package websocket
