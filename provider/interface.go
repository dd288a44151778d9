// Package provider streams chat completions from OpenAI-compatible
// endpoints and runs the tool-call round trip in between.
//
// # Streaming
//
// A logical completion is one or two upstream requests. When the model
// finishes with "tool_calls", the accumulated calls are executed and a
// follow-up request without tools carries the results back. Every text
// delta of both requests flows through the same model.StreamCallback, and
// exactly one event with Finished set ends the completion.
//
// # Collaborators
//
// ChatClient does not talk to MCP servers itself. It reads tool lists from
// a ToolSource and hands calls to a ToolExecutor, both satisfied by the mcp
// package.
package provider

import (
	"context"

	"chatmcp/mcp"
)

// ToolSource returns the tools known for a server, connecting on demand.
type ToolSource interface {
	GetTools(ctx context.Context, server string) ([]mcp.ToolDefinition, bool)
}

// ToolExecutor runs tool calls and lists the built-in tools it handles.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, req mcp.ToolCallRequest) mcp.ToolResult
	LocalTools() []mcp.ToolDefinition
}

// CredentialLookup resolves a credential key to its secret, or "".
type CredentialLookup interface {
	Get(key string) string
}

// ProfileSource supplies facts about the user for the system prompt.
type ProfileSource interface {
	Facts() []string
}

// StaticProfile is a fixed list of facts.
type StaticProfile []string

func (p StaticProfile) Facts() []string { return p }
