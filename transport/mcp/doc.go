// Package mcp exposes the text relay to MCP (Model Context Protocol) clients.
//
// The mcp package provides:
//   - Tool definitions for inspecting and driving the relay
//   - A JSON-RPC over HTTP endpoint (POST /mcp)
//   - The MCP server used by the stdio-mcp command
//
// Available Tools:
//
//   - list_connections: identities of all open connections
//   - send_message: relay one wire-format line, e.g. "ops|@alice restart at 5"
//
// Messages sent through send_message go through the same parser and
// dispatcher as WebSocket traffic. A line without a "|" separator is sent as
// "server".
//
// Usage:
//
//	relayMCP := mcp.NewServer(dispatcher, "1.0.0")
//	http.Handle("/mcp", relayMCP)
//
//	// or over stdio
//	server.ServeStdio(relayMCP.GetMCPServer())
package mcp
