// Package api provides the HTTP surface of the text relay.
//
// The api package implements:
//   - The identity page where a user picks a nickname
//   - The chat page that opens the WebSocket connection
//   - Connection listing and health endpoints
//   - UpgradeRouter, which sends every upgrade request to the relay and
//     passes all other requests through unchanged
//
// Endpoints:
//
// Pages:
//   - GET / - Nickname form
//   - POST / - Chat page for the submitted nickname
//
// Relay:
//   - GET /ws?identity=<label> - WebSocket upgrade (any path is accepted
//     when the request carries upgrade headers)
//   - GET /api/connections - Identities of open connections
//   - GET /health - Liveness probe
//
// Other handlers, such as the MCP endpoint, are attached with Mount.
//
// Usage:
//
//	registry := relay.NewRegistry()
//	relayHandler := websocket.NewHandler(relay.NewDispatcher(registry), 0)
//	server := api.NewServer(registry, relayHandler)
//	server.Mount("/mcp", mcpServer)
//	http.ListenAndServe(":8080", server)
//
// Error Handling:
//
// JSON endpoints report errors as
//
//	{
//	  "error": "error message"
//	}
package api
