package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"chatmcp/logging"
)

// ToolCallRequest is one tool invocation issued by the model.
type ToolCallRequest struct {
	CallID    string
	Name      string
	Arguments string
}

// ToolResult is the tool-role record fed back to the model. Content is
// either the tool's JSON result or a JSON error object.
type ToolResult struct {
	CallID  string
	Role    string
	Name    string
	Content string
	IsError bool
}

// LocalHandler implements a built-in tool.
type LocalHandler func(ctx context.Context, args map[string]any) (any, error)

// LocalTool is a built-in tool with its advertised definition.
type LocalTool struct {
	Definition ToolDefinition
	Handler    LocalHandler
}

// ClientSource hands out connected clients by server name.
type ClientSource interface {
	GetClient(ctx context.Context, name string) (ToolClient, error)
}

// Executor resolves model tool calls to a local handler or to an active
// remote tool. ExecuteTool never returns an error; failures become error
// results so that every call id gets an answer.
type Executor struct {
	registry *Registry
	clients  ClientSource
	locals   map[string]LocalTool
	log      *logging.Logger
}

func NewExecutor(registry *Registry, clients ClientSource, log *logging.Logger, locals ...LocalTool) *Executor {
	e := &Executor{
		registry: registry,
		clients:  clients,
		locals:   make(map[string]LocalTool, len(locals)),
		log:      log.Sub("executor"),
	}
	for _, lt := range locals {
		e.locals[SanitizeToolName(lt.Definition.Name)] = lt
	}
	return e
}

// LocalTools returns the built-in tool definitions, sorted by name.
func (e *Executor) LocalTools() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(e.locals))
	for _, lt := range e.locals {
		def := lt.Definition
		def.IsActive = true
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (e *Executor) ExecuteTool(ctx context.Context, req ToolCallRequest) ToolResult {
	log := e.log.With("tool", req.Name)

	args, err := parseArguments(req.Arguments)
	if err != nil {
		log.Warn().Err(err).Str("call_id", req.CallID).Msg("invalid tool arguments")
		return errorResult(req, "Invalid tool arguments", err)
	}

	if lt, ok := e.locals[SanitizeToolName(req.Name)]; ok {
		out, err := runLocal(ctx, lt.Handler, args)
		if err != nil {
			log.Warn().Err(err).Msg("local tool failed")
			return errorResult(req, "Local tool failed", err)
		}
		content, err := encodeContent(out)
		if err != nil {
			return errorResult(req, "Local tool returned an unencodable result", err)
		}
		return ToolResult{CallID: req.CallID, Role: "tool", Name: req.Name, Content: content}
	}

	server, def, ok := e.registry.FindActive(req.Name)
	if !ok {
		log.Warn().Msg("unknown or inactive tool")
		return errorResult(req, "Tool not found or inactive", fmt.Errorf("no active tool named %q", req.Name))
	}

	client, err := e.clients.GetClient(ctx, server)
	if err != nil {
		return errorResult(req, "MCP server unavailable", err)
	}

	log.Debug().Str("server", server).Str("call_id", req.CallID).Msg("calling remote tool")
	raw, err := client.CallTool(ctx, def.Name, args)
	if err != nil {
		log.Warn().Err(err).Str("server", server).Msg("remote tool failed")
		return errorResult(req, "Tool execution failed", err)
	}

	return ToolResult{CallID: req.CallID, Role: "tool", Name: req.Name, Content: rawContent(raw)}
}

func parseArguments(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func runLocal(ctx context.Context, h LocalHandler, args map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, args)
}

func encodeContent(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// rawContent unwraps bare JSON strings and passes everything else through.
func rawContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func errorResult(req ToolCallRequest, msg string, err error) ToolResult {
	body, _ := json.Marshal(map[string]string{
		"error":   msg,
		"details": err.Error(),
	})
	return ToolResult{
		CallID:  req.CallID,
		Role:    "tool",
		Name:    req.Name,
		Content: string(body),
		IsError: true,
	}
}
