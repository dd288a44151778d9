package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by a server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func newRequest(id int64, method string, params any) rpcRequest {
	return rpcRequest{JSONRPC: mcptypes.JSONRPC_VERSION, ID: &id, Method: method, Params: params}
}

func newNotification(method string, params any) rpcRequest {
	return rpcRequest{JSONRPC: mcptypes.JSONRPC_VERSION, Method: method, Params: params}
}

// numericID returns the correlation id when it is a number or a numeric string.
func (m rpcMessage) numericID() (int64, bool) {
	raw := bytes.TrimSpace(m.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		raw = []byte(s)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// decodeFrames accepts a single JSON-RPC object, an array whose elements
// are objects or SSE-wrapped strings, or a raw event-stream body.
func decodeFrames(body []byte) ([]rpcMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	switch body[0] {
	case '{':
		var msg rpcMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		return []rpcMessage{msg}, nil

	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(body, &elems); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		var out []rpcMessage
		for _, elem := range elems {
			elem = bytes.TrimSpace(elem)
			if len(elem) > 0 && elem[0] == '"' {
				var wrapped string
				if err := json.Unmarshal(elem, &wrapped); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
				}
				elem = []byte(wrapped)
			}
			msgs, err := decodeFrames(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, msgs...)
		}
		return out, nil

	default:
		var out []rpcMessage
		for _, ev := range parseEventStream(body) {
			if ev.Event != "" && ev.Event != "message" {
				continue
			}
			msgs, err := decodeFrames([]byte(ev.Data))
			if err != nil {
				return nil, err
			}
			out = append(out, msgs...)
		}
		if out == nil {
			return nil, fmt.Errorf("%w: unrecognized frame %q", ErrInvalidResponse, truncate(string(body), 64))
		}
		return out, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
