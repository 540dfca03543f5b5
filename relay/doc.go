// Package relay implements the connection registry and message routing for the
// text relay server.
//
// The relay package provides:
//   - A concurrency-safe Registry mapping identity labels to live connections
//   - A pure Parse function for the pipe-delimited wire protocol
//   - A Dispatcher that delivers parsed messages by broadcast or unicast
//
// Wire Protocol:
//
// Each inbound text message has the form
//
//	<origin>|<firstToken>[ <remainder>]
//
// A first token beginning with "@" addresses a single recipient:
//   - alice|hello everyone   broadcast "alice : hello everyone"
//   - alice|@bob hi there    unicast "alice : hi there" to bob
//
// A message without a "|" separator is relayed as a broadcast body with no
// origin. ParseFrom fills in the sender for that case only; an empty origin
// before a separator is kept as sent.
//
// Usage:
//
//	registry := relay.NewRegistry()
//	dispatcher := relay.NewDispatcher(registry)
//
//	if !registry.TryRegister("alice", conn) {
//		// identity already in use
//	}
//	defer registry.Unregister("alice", conn)
//
//	dispatcher.Dispatch(ctx, relay.Parse("alice|@bob hi there"))
//
// Concurrency:
//
// The Registry is the only shared state. All of its methods are safe for
// concurrent use. Dispatch takes a snapshot before sending, so no lock is held
// while writing to connections. Delivery is best-effort and at-most-once;
// there is no ordering between different senders.
package relay
