package provider

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"

	"chatmcp/model"
)

// ErrMappingFailed means a non-empty history produced no sendable messages.
var ErrMappingFailed = errors.New("message mapping failed")

// ToOpenAIMessage maps one conversation record to the wire format. The bool
// is false when the record cannot be sent:
//   - system needs string content
//   - user needs non-null content
//   - tool needs a tool_call_id and string content
//
// Assistant content falls back to the first text part, then to null.
func ToOpenAIMessage(msg model.Message) (openai.ChatCompletionMessageParamUnion, bool) {
	switch msg.Role {
	case model.RoleSystem:
		text, ok := msg.Content.Text()
		if !ok {
			return openai.ChatCompletionMessageParamUnion{}, false
		}
		out := openai.SystemMessage(text)
		if msg.Name != "" {
			out.OfSystem.Name = openai.String(msg.Name)
		}
		return out, true

	case model.RoleUser:
		var out openai.ChatCompletionMessageParamUnion
		switch {
		case msg.Content.IsText():
			text, _ := msg.Content.Text()
			out = openai.UserMessage(text)
		case msg.Content.IsParts():
			parts := toOpenAIParts(msg.Content.Parts())
			if len(parts) == 0 {
				return openai.ChatCompletionMessageParamUnion{}, false
			}
			out = openai.UserMessage(parts)
		default:
			return openai.ChatCompletionMessageParamUnion{}, false
		}
		if msg.Name != "" {
			out.OfUser.Name = openai.String(msg.Name)
		}
		return out, true

	case model.RoleAssistant:
		asst := openai.ChatCompletionAssistantMessageParam{}
		if text, ok := msg.Content.FirstText(); ok {
			asst.Content.OfString = openai.String(text)
		}
		if msg.Name != "" {
			asst.Name = openai.String(msg.Name)
		}
		for _, call := range msg.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      call.Function.Name,
						Arguments: call.Function.Arguments,
					},
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, true

	case model.RoleTool:
		text, ok := msg.Content.Text()
		if !ok || msg.ToolCallID == "" {
			return openai.ChatCompletionMessageParamUnion{}, false
		}
		return openai.ToolMessage(text, msg.ToolCallID), true
	}

	return openai.ChatCompletionMessageParamUnion{}, false
}

func toOpenAIParts(parts []model.ContentPart) []openai.ChatCompletionContentPartUnionParam {
	out := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, openai.TextContentPart(p.Text))
		case "image_url":
			if p.ImageURL == nil || p.ImageURL.URL == "" {
				continue
			}
			img := openai.ChatCompletionContentPartImageImageURLParam{URL: p.ImageURL.URL}
			if p.ImageURL.Detail != "" {
				img.Detail = p.ImageURL.Detail
			}
			out = append(out, openai.ImageContentPart(img))
		}
	}
	return out
}

// ToOpenAIMessages maps a whole history, dropping records that cannot be
// sent. A non-empty history that maps to nothing is an error.
func ToOpenAIMessages(history []model.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, msg := range history {
		if wire, ok := ToOpenAIMessage(msg); ok {
			out = append(out, wire)
		}
	}
	if len(history) > 0 && len(out) == 0 {
		return nil, fmt.Errorf("%w: none of %d messages could be sent", ErrMappingFailed, len(history))
	}
	return out, nil
}

type wireMessage struct {
	Role       model.Role       `json:"role"`
	Content    model.Content    `json:"content"`
	Name       string           `json:"name"`
	ToolCalls  []model.ToolCall `json:"tool_calls"`
	ToolCallID string           `json:"tool_call_id"`
}

// FromOpenAIMessage reads a wire message back into a conversation record.
// Only the fields the wire format carries are filled in.
func FromOpenAIMessage(wire openai.ChatCompletionMessageParamUnion) (model.Message, error) {
	b, err := json.Marshal(wire)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to encode wire message: %w", err)
	}

	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return model.Message{}, fmt.Errorf("failed to decode wire message: %w", err)
	}

	return model.Message{
		Role:       w.Role,
		Content:    w.Content,
		Name:       w.Name,
		ToolCalls:  w.ToolCalls,
		ToolCallID: w.ToolCallID,
	}, nil
}
