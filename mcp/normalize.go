package mcp

import (
	"encoding/json"
	"fmt"
)

// schemaKeys lists the spellings servers use for a tool's input schema,
// in order of preference.
var schemaKeys = []string{"inputSchema", "input_schema", "parameters", "schema"}

type toolsPage struct {
	Tools      json.RawMessage `json:"tools"`
	NextCursor string          `json:"nextCursor"`
}

// parseToolsPage validates one tools/list result and returns its tools and
// the cursor of the next page.
func parseToolsPage(raw json.RawMessage) ([]ToolDefinition, string, error) {
	var page toolsPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, "", fmt.Errorf("%w: tools/list result: %v", ErrInvalidResponse, err)
	}
	if len(page.Tools) == 0 || page.Tools[0] != '[' {
		return nil, "", fmt.Errorf("%w: tools/list result has no tools array", ErrInvalidResponse)
	}

	var items []map[string]any
	if err := json.Unmarshal(page.Tools, &items); err != nil {
		return nil, "", fmt.Errorf("%w: tools/list entries: %v", ErrInvalidResponse, err)
	}

	tools := make([]ToolDefinition, 0, len(items))
	for i, item := range items {
		tool, err := normalizeTool(item)
		if err != nil {
			return nil, "", fmt.Errorf("%w: tool %d: %v", ErrInvalidResponse, i, err)
		}
		tools = append(tools, tool)
	}
	return tools, page.NextCursor, nil
}

// normalizeTool builds a ToolDefinition from a decoded tool object,
// folding schema key variants into InputSchema.
func normalizeTool(item map[string]any) (ToolDefinition, error) {
	name, _ := item["name"].(string)
	if name == "" {
		return ToolDefinition{}, fmt.Errorf("missing name")
	}

	tool := ToolDefinition{Name: name, IsActive: true}
	tool.Description, _ = item["description"].(string)
	tool.Annotations, _ = item["annotations"].(map[string]any)

	for _, key := range schemaKeys {
		if schema, ok := item[key].(map[string]any); ok {
			tool.InputSchema = schema
			break
		}
	}
	if tool.InputSchema == nil {
		tool.InputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if _, ok := tool.InputSchema["type"]; !ok {
		schema := make(map[string]any, len(tool.InputSchema)+1)
		for k, v := range tool.InputSchema {
			schema[k] = v
		}
		schema["type"] = "object"
		tool.InputSchema = schema
	}

	return tool, nil
}
