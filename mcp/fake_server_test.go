package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeSSEServer is a scripted MCP server speaking the SSE transport.
type fakeSSEServer struct {
	srv *httptest.Server

	// endpoint is advertised in the endpoint event; empty means /message.
	endpoint     string
	skipEndpoint bool
	// inline answers in the POST body rather than on the stream.
	inline      bool
	arrayFrames bool
	initError   *RPCError
	pages       [][]map[string]any

	mu      sync.Mutex
	stream  chan string
	methods []string
	calls   []map[string]any
}

func newFakeSSEServer(t *testing.T, configure func(*fakeSSEServer)) *fakeSSEServer {
	t.Helper()
	f := &fakeSSEServer{
		pages: [][]map[string]any{{
			{"name": "get_weather", "description": "Weather lookup", "inputSchema": map[string]any{
				"type":       "object",
				"properties": map[string]any{"city": map[string]any{"type": "string"}},
			}},
		}},
	}
	if configure != nil {
		configure(f)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", f.handleStream)
	mux.HandleFunc("/message", f.handleMessage)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.srv.CloseClientConnections()
		f.srv.Close()
	})
	return f
}

func (f *fakeSSEServer) URL() string { return f.srv.URL }

func (f *fakeSSEServer) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func (f *fakeSSEServer) Calls() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.calls...)
}

func (f *fakeSSEServer) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)

	events := make(chan string, 16)
	f.mu.Lock()
	f.stream = events
	f.mu.Unlock()

	// comments and unknown events must be ignored by the client
	io.WriteString(w, ": hello\n\nevent: heartbeat\ndata: {}\n\n")
	if !f.skipEndpoint {
		endpoint := f.endpoint
		if endpoint == "" {
			endpoint = "/message?sessionId=abc"
		}
		fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	}
	flusher.Flush()

	for {
		select {
		case ev := <-events:
			io.WriteString(w, ev)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (f *fakeSSEServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	f.mu.Unlock()

	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": *req.ID}
	result, rpcErr := f.answer(req.Method, req.Params)
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}

	var frame []byte
	if f.arrayFrames {
		inner, _ := json.Marshal(resp)
		frame, _ = json.Marshal([]string{"event: message\ndata: " + string(inner) + "\n\n"})
	} else {
		frame, _ = json.Marshal(resp)
	}

	if f.inline {
		w.Header().Set("Content-Type", "application/json")
		w.Write(frame)
		return
	}
	f.mu.Lock()
	events := f.stream
	f.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
	events <- "event: message\ndata: " + string(frame) + "\n\n"
}

func (f *fakeSSEServer) answer(method string, params json.RawMessage) (any, *RPCError) {
	var p map[string]any
	if len(params) > 0 {
		json.Unmarshal(params, &p)
	}

	switch method {
	case "initialize":
		if f.initError != nil {
			return nil, f.initError
		}
		return map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "fake", "version": "1.0.0"},
		}, nil

	case "tools/list":
		page := 0
		if cursor, _ := p["cursor"].(string); cursor != "" {
			page, _ = strconv.Atoi(strings.TrimPrefix(cursor, "p"))
		}
		if page >= len(f.pages) {
			return nil, &RPCError{Code: -32602, Message: "bad cursor"}
		}
		result := map[string]any{"tools": f.pages[page]}
		if page+1 < len(f.pages) {
			result["nextCursor"] = fmt.Sprintf("p%d", page+1)
		}
		return result, nil

	case "tools/call":
		f.mu.Lock()
		f.calls = append(f.calls, p)
		f.mu.Unlock()
		name, _ := p["name"].(string)
		if name == "explode" {
			return nil, &RPCError{Code: -32000, Message: "tool exploded"}
		}
		return map[string]any{
			"content": []any{map[string]any{"type": "text", "text": "called " + name}},
		}, nil

	case "resources/list":
		return map[string]any{"resources": []any{map[string]any{"uri": "file:///notes.txt", "name": "notes"}}}, nil

	case "prompts/list":
		return map[string]any{"prompts": []any{map[string]any{"name": "greet"}}}, nil
	}

	return nil, &RPCError{Code: -32601, Message: "method not found"}
}
