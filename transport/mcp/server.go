package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/textrelay/relay"
)

// ServerOrigin labels messages injected without an origin.
const ServerOrigin = "server"

// Server wraps an MCP server whose tools act on the relay
type Server struct {
	dispatcher *relay.Dispatcher
	mcpServer  *server.MCPServer
}

// NewServer creates an MCP server bound to dispatcher
func NewServer(dispatcher *relay.Dispatcher, version string) *Server {
	s := &Server{dispatcher: dispatcher}

	s.mcpServer = server.NewMCPServer(
		"Text Relay",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(`Text Relay - MCP Interface

Clients connected to the relay are addressed by their identity.

AVAILABLE TOOLS:
- list_connections: List identities of open connections
- send_message: Relay a wire-format line "<origin>|<text>" or "<origin>|@<identity> <text>"`),
	)

	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_connections",
		Description: "List the identities of all open relay connections",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListConnections)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "send_message",
		Description: "Relay a message. Prefix the text with @identity to send to one client, otherwise it is broadcast",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"line": map[string]interface{}{
					"type":        "string",
					"description": "Wire-format line, e.g. \"ops|hello everyone\" or \"ops|@alice hi\"",
				},
			},
			Required: []string{"line"},
		},
	}, s.handleSendMessage)
}

// ServeHTTP answers JSON-RPC requests posted to the MCP endpoint
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	response := s.mcpServer.HandleMessage(r.Context(), body)

	responseData, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseData)
}

func (s *Server) handleListConnections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identities := make([]string, 0)
	for _, entry := range s.dispatcher.Registry().Snapshot() {
		if entry.Conn.State() == relay.StateOpen {
			identities = append(identities, entry.Identity)
		}
	}

	result, err := marshalResult(map[string]interface{}{
		"count":      len(identities),
		"identities": identities,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	line, err := request.RequireString("line")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if line == "" {
		return mcp.NewToolResultError("line must not be empty"), nil
	}

	msg := relay.ParseFrom(line, ServerOrigin)
	delivered := s.dispatcher.Dispatch(ctx, msg)

	response := map[string]interface{}{
		"delivered": delivered,
		"line":      msg.Line(),
	}
	if msg.IsUnicast() {
		response["target"] = msg.Target
	}

	result, err := marshalResult(response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(result), nil
}

func marshalResult(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}
