package mcp

import (
	"context"
	"errors"
	"fmt"
)

// FeedbackToolName is the always-available tool that lets the model ask the
// user a question.
const FeedbackToolName = "request_user_feedback"

// FeedbackRequest is what the model asked.
type FeedbackRequest struct {
	Question string
	Options  []string
}

// FeedbackSink delivers a question to the user and returns the answer.
type FeedbackSink func(ctx context.Context, req FeedbackRequest) (string, error)

func NewFeedbackTool(sink FeedbackSink) LocalTool {
	return LocalTool{
		Definition: ToolDefinition{
			Name:        FeedbackToolName,
			Description: "Ask the user a clarifying question and wait for their answer. Use when the request is ambiguous.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{
						"type":        "string",
						"description": "The question to ask the user",
					},
					"options": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Optional suggested answers",
					},
				},
				"required": []any{"question"},
			},
			IsActive: true,
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			question, _ := args["question"].(string)
			if question == "" {
				return nil, errors.New("question is required")
			}

			req := FeedbackRequest{Question: question}
			if raw, ok := args["options"].([]any); ok {
				for _, o := range raw {
					req.Options = append(req.Options, fmt.Sprint(o))
				}
			}

			if sink == nil {
				return map[string]any{"status": "unanswered", "question": question}, nil
			}
			answer, err := sink(ctx, req)
			if err != nil {
				return nil, err
			}
			return map[string]any{"question": question, "answer": answer}, nil
		},
	}
}
