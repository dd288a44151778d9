package testutil

import (
	"time"

	"chatmcp/mcp"
	"chatmcp/model"
)

var fixedTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// SystemMessage returns a system message for testing
func SystemMessage(content string) model.Message {
	return model.Message{ID: "sys", Role: model.RoleSystem, Content: model.TextContent(content), Timestamp: fixedTime}
}

func UserMessage(content string) model.Message {
	return model.Message{ID: "user", Role: model.RoleUser, Content: model.TextContent(content), Timestamp: fixedTime}
}

// Conversation returns [system, user] with the given user text.
func Conversation(user string) []model.Message {
	return []model.Message{
		SystemMessage("You are a helpful assistant."),
		UserMessage(user),
	}
}

// WeatherTool returns a sample tool definition for testing
func WeatherTool() mcp.ToolDefinition {
	return mcp.ToolDefinition{
		Name:        "get_weather",
		Description: "Get the current weather for a location",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "The city and state, e.g. San Francisco, CA",
				},
			},
			"required": []any{"location"},
		},
		IsActive: true,
	}
}
