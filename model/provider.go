package model

// StreamEvent is one signal of a logical completion.
//
// Content carries a text delta. ToolCalls is set once when the model has
// finished requesting tools. Exactly one event per completion has Finished
// set; that event may carry Err.
type StreamEvent struct {
	Content   string
	ToolCalls []ToolCall
	Err       error
	Finished  bool
}

// StreamCallback receives every event of a logical completion in order.
type StreamCallback func(ev StreamEvent)

// ToolMessagesHook receives the assistant tool-request record and the tool
// responses produced for it, before the follow-up request is issued.
type ToolMessagesHook func(request Message, results []Message)
