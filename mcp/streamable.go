package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"chatmcp/logging"
)

// StreamableClient talks to servers using the streamable HTTP transport,
// backed by the mcp-go client.
type StreamableClient struct {
	url     string
	headers map[string]string
	log     *logging.Logger

	mu         sync.Mutex
	client     *client.Client
	serverInfo mcptypes.Implementation
}

func NewStreamableClient(url string, headers map[string]string, log *logging.Logger) *StreamableClient {
	return &StreamableClient{url: url, headers: headers, log: log}
}

func (s *StreamableClient) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}

	var opts []transport.StreamableHTTPCOption
	if len(s.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(s.headers))
	}

	mcpClient, err := client.NewStreamableHttpClient(s.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to create streamable client: %w", err)
	}

	// Start HTTP transport (required before Initialize/ListTools)
	if err := mcpClient.GetTransport().Start(ctx); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to start HTTP transport: %w", err)
	}

	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: mcptypes.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo:      ClientInfo,
		},
	}

	result, err := mcpClient.Initialize(ctx, initReq)
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize handshake failed: %w", err)
	}

	s.log.Info().
		Str("server_name", result.ServerInfo.Name).
		Str("server_version", result.ServerInfo.Version).
		Msg("mcp handshake complete")

	s.client = mcpClient
	s.serverInfo = result.ServerInfo
	return nil
}

func (s *StreamableClient) ServerInfo() mcptypes.Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

func (s *StreamableClient) current() (*client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

// ListTools lists every tool; the mcp-go client follows pagination itself.
func (s *StreamableClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	c, err := s.current()
	if err != nil {
		return nil, err
	}

	result, err := c.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}

	tools := make([]ToolDefinition, 0, len(result.Tools))
	for _, t := range result.Tools {
		// Round-trip through JSON so both transports share one normalizer.
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("%w: tool %s: %v", ErrInvalidResponse, t.Name, err)
		}
		var item map[string]any
		if err := json.Unmarshal(b, &item); err != nil {
			return nil, fmt.Errorf("%w: tool %s: %v", ErrInvalidResponse, t.Name, err)
		}
		def, err := normalizeTool(item)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		tools = append(tools, def)
	}
	return tools, nil
}

func (s *StreamableClient) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	c, err := s.current()
	if err != nil {
		return nil, err
	}

	result, err := c.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s failed: %w", name, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", name, err)
	}
	return raw, nil
}

func (s *StreamableClient) ListResources(ctx context.Context) ([]mcptypes.Resource, error) {
	c, err := s.current()
	if err != nil {
		return nil, err
	}
	result, err := c.ListResources(ctx, mcptypes.ListResourcesRequest{})
	if err != nil {
		return nil, fmt.Errorf("resources/list failed: %w", err)
	}
	return result.Resources, nil
}

func (s *StreamableClient) ListPrompts(ctx context.Context) ([]mcptypes.Prompt, error) {
	c, err := s.current()
	if err != nil {
		return nil, err
	}
	result, err := c.ListPrompts(ctx, mcptypes.ListPromptsRequest{})
	if err != nil {
		return nil, fmt.Errorf("prompts/list failed: %w", err)
	}
	return result.Prompts, nil
}

func (s *StreamableClient) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

func (s *StreamableClient) Close() error {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}
