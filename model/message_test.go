package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentJSONForms(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		validate func(t *testing.T, c Content)
	}{
		{
			name: "null",
			json: `null`,
			validate: func(t *testing.T, c Content) {
				assert.True(t, c.IsNull())
			},
		},
		{
			name: "string",
			json: `"hello"`,
			validate: func(t *testing.T, c Content) {
				s, ok := c.Text()
				assert.True(t, ok)
				assert.Equal(t, "hello", s)
			},
		},
		{
			name: "parts",
			json: `[{"type":"image_url","image_url":{"url":"data:x"}},{"type":"text","text":"caption"}]`,
			validate: func(t *testing.T, c Content) {
				require.True(t, c.IsParts())
				assert.Len(t, c.Parts(), 2)
				first, ok := c.FirstText()
				assert.True(t, ok)
				assert.Equal(t, "caption", first)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			require.NoError(t, json.Unmarshal([]byte(tt.json), &c))
			tt.validate(t, c)

			out, err := json.Marshal(c)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(out))
		})
	}

	var c Content
	assert.Error(t, json.Unmarshal([]byte(`42`), &c))
}

func TestContentAppend(t *testing.T) {
	c := NullContent().Append("Hel").Append("lo")
	s, ok := c.Text()
	assert.True(t, ok)
	assert.Equal(t, "Hello", s)
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"assistant null content with tool calls", Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c"}}}, false},
		{"tool ok", Message{Role: RoleTool, ToolCallID: "c", Content: TextContent("{}")}, false},
		{"tool missing call id", Message{Role: RoleTool, Content: TextContent("{}")}, true},
		{"tool with parts", Message{Role: RoleTool, ToolCallID: "c", Content: PartsContent(ContentPart{Type: "text"})}, true},
		{"bad role", Message{Role: "bot"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	orig := Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "a"}},
		Raw:       map[string]any{"k": "v"},
	}
	c := orig.Clone()
	c.ToolCalls[0].ID = "b"
	c.Raw["k"] = "w"

	assert.Equal(t, "a", orig.ToolCalls[0].ID)
	assert.Equal(t, "v", orig.Raw["k"])
}
