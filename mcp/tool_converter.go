package mcp

import (
	"github.com/openai/openai-go/v3"
)

// MaxToolNameLength is the longest function name the chat API accepts.
const MaxToolNameLength = 64

// SanitizeToolName turns a tool name into a valid function name. Only
// [a-zA-Z0-9_-] survive, the result is capped at 64 bytes, and an empty
// result becomes "tool". The same function is used when advertising tools
// and when resolving the names the model calls back with.
func SanitizeToolName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name) && len(out) < MaxToolNameLength; i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return "tool"
	}
	return string(out)
}

// ConvertToolsToOpenAIFormat converts tool definitions to OpenAI function tools.
//
// Output per tool:
//
//	{
//	  "type": "function",
//	  "function": {
//	    "name": "get_weather",
//	    "description": "Get weather data",
//	    "parameters": {...}
//	  }
//	}
func ConvertToolsToOpenAIFormat(tools []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, tool := range tools {
		params := openai.FunctionParameters{}
		for k, v := range tool.InputSchema {
			params[k] = v
		}
		if _, ok := params["type"]; !ok {
			params["type"] = "object"
		}

		fn := openai.FunctionDefinitionParam{
			Name:       SanitizeToolName(tool.Name),
			Parameters: params,
		}
		if tool.Description != "" {
			fn.Description = openai.String(tool.Description)
		}
		result[i] = openai.ChatCompletionFunctionTool(fn)
	}

	return result
}
