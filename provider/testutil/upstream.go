// Package testutil provides fixtures and a scripted OpenAI-compatible
// upstream for provider tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Response is one scripted reply. Chunks are streamed as SSE data records
// followed by [DONE]. A non-zero Status sends Body with that status instead.
type Response struct {
	Chunks []string
	Status int
	Body   string
}

// RecordedRequest is a request the upstream received.
type RecordedRequest struct {
	Path   string
	Header http.Header
	Body   map[string]any
}

// Messages returns the request's messages array.
func (r RecordedRequest) Messages() []map[string]any {
	raw, _ := r.Body["messages"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, m := range raw {
		if mm, ok := m.(map[string]any); ok {
			out = append(out, mm)
		}
	}
	return out
}

// FakeUpstream answers chat completion requests from a queue of scripted
// responses and records every request body.
type FakeUpstream struct {
	srv *httptest.Server

	mu        sync.Mutex
	responses []Response
	requests  []RecordedRequest
}

func NewFakeUpstream(t testing.TB) *FakeUpstream {
	t.Helper()
	f := &FakeUpstream{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

// BaseURL is the API base to configure clients with.
func (f *FakeUpstream) BaseURL() string { return f.srv.URL + "/v1" }

func (f *FakeUpstream) Enqueue(responses ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, responses...)
}

func (f *FakeUpstream) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

func (f *FakeUpstream) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}

	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.requests = append(f.requests, RecordedRequest{Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
	var resp Response
	ok := len(f.responses) > 0
	if ok {
		resp = f.responses[0]
		f.responses = f.responses[1:]
	}
	f.mu.Unlock()

	if !ok {
		http.Error(w, `{"error":{"message":"no scripted response","type":"server_error"}}`, http.StatusInternalServerError)
		return
	}
	if resp.Status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.Status)
		io.WriteString(w, resp.Body)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, chunk := range resp.Chunks {
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		if flusher != nil {
			flusher.Flush()
		}
	}
	io.WriteString(w, "data: [DONE]\n\n")
}

func chunk(delta map[string]any, finishReason string) string {
	choice := map[string]any{"index": 0, "delta": delta, "finish_reason": nil}
	if finishReason != "" {
		choice["finish_reason"] = finishReason
	}
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion.chunk",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []any{choice},
	})
	return string(b)
}

// TextChunk is a content delta.
func TextChunk(text string) string {
	return chunk(map[string]any{"content": text}, "")
}

// ToolCallChunk is one tool-call fragment. Empty id or name are omitted
// from the fragment, as continuation fragments do upstream.
func ToolCallChunk(index int, id, name, args string) string {
	fn := map[string]any{"arguments": args}
	if name != "" {
		fn["name"] = name
	}
	tc := map[string]any{"index": index, "function": fn}
	if id != "" {
		tc["id"] = id
		tc["type"] = "function"
	}
	return chunk(map[string]any{"tool_calls": []any{tc}}, "")
}

// FinishChunk ends a choice with the given reason.
func FinishChunk(reason string) string {
	return chunk(map[string]any{}, reason)
}

// TextResponse streams text in the given pieces and stops.
func TextResponse(pieces ...string) Response {
	var chunks []string
	for _, p := range pieces {
		chunks = append(chunks, TextChunk(p))
	}
	return Response{Chunks: append(chunks, FinishChunk("stop"))}
}
