package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is a single turn in a conversation.
//
// Content is null while an assistant reply is still pending. Tool messages
// always carry ToolCallID and string content.
type Message struct {
	ID         string         `json:"id"`
	ChatID     int64          `json:"chatId"`
	Model      string         `json:"model,omitempty"`
	Role       Role           `json:"role"`
	Content    Content        `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Raw        map[string]any `json:"raw,omitempty"`
	Seen       bool           `json:"seen"`
}

// Validate checks the per-role content invariants.
func (m Message) Validate() error {
	switch {
	case !m.Role.Valid():
		return fmt.Errorf("unknown role %q", m.Role)
	case m.Role == RoleTool && m.ToolCallID == "":
		return fmt.Errorf("tool message %s has no tool_call_id", m.ID)
	case m.Role == RoleTool && !m.Content.IsText():
		return fmt.Errorf("tool message %s must have string content", m.ID)
	}
	return nil
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	c := m
	c.Content = m.Content.clone()
	if m.ToolCalls != nil {
		c.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.Raw != nil {
		c.Raw = make(map[string]any, len(m.Raw))
		for k, v := range m.Raw {
			c.Raw[k] = v
		}
	}
	return c
}

// ToolCall is a model-issued request to invoke a function.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type contentKind int

const (
	contentNull contentKind = iota
	contentText
	contentParts
)

// Content is a message body: null, a plain string, or an ordered list of
// typed parts. The zero value is null.
type Content struct {
	kind  contentKind
	text  string
	parts []ContentPart
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

func NullContent() Content { return Content{} }

func TextContent(s string) Content { return Content{kind: contentText, text: s} }

func PartsContent(parts ...ContentPart) Content {
	return Content{kind: contentParts, parts: append([]ContentPart(nil), parts...)}
}

func (c Content) IsNull() bool  { return c.kind == contentNull }
func (c Content) IsText() bool  { return c.kind == contentText }
func (c Content) IsParts() bool { return c.kind == contentParts }

// Text returns the string content and whether the content is a string.
func (c Content) Text() (string, bool) {
	return c.text, c.kind == contentText
}

// Parts returns a copy of the part list, or nil for non-part content.
func (c Content) Parts() []ContentPart {
	if c.kind != contentParts {
		return nil
	}
	return append([]ContentPart(nil), c.parts...)
}

// FirstText returns the text of the first text part, or the string itself.
func (c Content) FirstText() (string, bool) {
	switch c.kind {
	case contentText:
		return c.text, true
	case contentParts:
		for _, p := range c.parts {
			if p.Type == "text" {
				return p.Text, true
			}
		}
	}
	return "", false
}

// Append adds s to string content. Null content becomes a string.
func (c Content) Append(s string) Content {
	switch c.kind {
	case contentParts:
		return Content{kind: contentParts, parts: append(c.Parts(), ContentPart{Type: "text", Text: s})}
	default:
		return Content{kind: contentText, text: c.text + s}
	}
}

// String renders the content for display and search.
func (c Content) String() string {
	if s, ok := c.FirstText(); ok {
		return s
	}
	return ""
}

func (c Content) clone() Content {
	if c.kind == contentParts {
		return Content{kind: contentParts, parts: c.Parts()}
	}
	return c
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case contentText:
		return json.Marshal(c.text)
	case contentParts:
		return json.Marshal(c.parts)
	default:
		return []byte("null"), nil
	}
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextContent(s)
	case data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Content{kind: contentParts, parts: parts}
	default:
		return fmt.Errorf("content must be null, string or array, got %s", string(data[:1]))
	}
	return nil
}
