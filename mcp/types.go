package mcp

import (
	"context"
	"encoding/json"
	"errors"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

var (
	ErrNotConnected    = errors.New("mcp client not connected")
	ErrEndpointTimeout = errors.New("timed out waiting for endpoint event")
	ErrCrossOrigin     = errors.New("endpoint origin does not match server origin")
	ErrStreamClosed    = errors.New("event stream closed before endpoint event")
	ErrInvalidResponse = errors.New("invalid response")
	ErrClosed          = errors.New("mcp client closed")
	ErrUnknownServer   = errors.New("unknown mcp server")
)

// ToolDefinition is a tool advertised by a server. IsActive is local-only and
// controls whether the tool is offered to the model. InputSchema is shared
// between snapshots and must be treated as read-only.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
	Annotations map[string]any `json:"annotations,omitempty"`
	IsActive    bool           `json:"isActive"`
}

// ToolClient is one protocol session with an MCP server.
type ToolClient interface {
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	ListResources(ctx context.Context) ([]mcptypes.Resource, error)
	ListPrompts(ctx context.Context) ([]mcptypes.Prompt, error)
	// IsConnected reports whether the session is still usable. It turns
	// false once the transport drops or Close is called.
	IsConnected() bool
	Close() error
}

// ClientInfo identifies this program during the initialize handshake.
var ClientInfo = mcptypes.Implementation{
	Name:    "chatmcp",
	Version: "0.1.0",
}
