package provider

import (
	"sort"
	"strings"

	"github.com/openai/openai-go/v3"

	"chatmcp/model"
)

type pendingCall struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

// toolCallAccumulator collects index-addressed tool-call fragments for one
// upstream request. Arguments are concatenated and never parsed here.
type toolCallAccumulator struct {
	calls map[int64]*pendingCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int64]*pendingCall)}
}

func (a *toolCallAccumulator) add(delta openai.ChatCompletionChunkChoiceDeltaToolCall) {
	pc, ok := a.calls[delta.Index]
	if !ok {
		pc = &pendingCall{}
		a.calls[delta.Index] = pc
	}
	if delta.ID != "" {
		pc.id = delta.ID
	}
	if delta.Type != "" {
		pc.typ = delta.Type
	}
	if delta.Function.Name != "" {
		pc.name = delta.Function.Name
	}
	pc.args.WriteString(delta.Function.Arguments)
}

func (a *toolCallAccumulator) empty() bool { return len(a.calls) == 0 }

// ready returns the calls in index order, but only when every entry has
// both an id and a function name. Otherwise it returns nil.
func (a *toolCallAccumulator) ready() []model.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}

	indexes := make([]int64, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	out := make([]model.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		pc := a.calls[idx]
		if pc.id == "" || pc.name == "" {
			return nil
		}
		typ := pc.typ
		if typ == "" {
			typ = "function"
		}
		out = append(out, model.ToolCall{
			ID:   pc.id,
			Type: typ,
			Function: model.FunctionCall{
				Name:      pc.name,
				Arguments: pc.args.String(),
			},
		})
	}
	return out
}
