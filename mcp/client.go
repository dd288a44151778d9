package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"chatmcp/logging"
)

// DefaultEndpointTimeout bounds the wait for the endpoint event.
const DefaultEndpointTimeout = 10 * time.Second

// maxPages stops runaway pagination from a misbehaving server.
const maxPages = 100

// SSEClient speaks MCP over the SSE transport: a long-lived GET stream
// carries responses, and requests are POSTed to the endpoint the server
// advertises on that stream.
type SSEClient struct {
	baseURL         *url.URL
	httpClient      *http.Client
	headers         map[string]string
	endpointTimeout time.Duration
	log             *logging.Logger

	nextID atomic.Int64

	mu         sync.Mutex
	gen        uint64
	cancel     context.CancelFunc
	endpoint   *url.URL
	connected  bool
	pending    map[int64]chan rpcResult
	serverInfo mcptypes.Implementation
}

type rpcResult struct {
	msg rpcMessage
	err error
}

type SSEOption func(*SSEClient)

func WithHTTPClient(hc *http.Client) SSEOption {
	return func(c *SSEClient) { c.httpClient = hc }
}

func WithHeaders(headers map[string]string) SSEOption {
	return func(c *SSEClient) { c.headers = headers }
}

func WithEndpointTimeout(d time.Duration) SSEOption {
	return func(c *SSEClient) { c.endpointTimeout = d }
}

func WithLogger(log *logging.Logger) SSEOption {
	return func(c *SSEClient) { c.log = log }
}

func NewSSEClient(baseURL string, opts ...SSEOption) (*SSEClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}

	c := &SSEClient{
		baseURL:         u,
		httpClient:      http.DefaultClient,
		endpointTimeout: DefaultEndpointTimeout,
		log:             logging.Nop(),
		pending:         make(map[int64]chan rpcResult),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect opens the event stream, waits for the endpoint event and runs the
// initialize handshake. Any failure leaves the client closed.
func (c *SSEClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("connect already in progress")
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.pending = make(map[int64]chan rpcResult)
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL.String()+"/sse", nil)
	if err != nil {
		c.Close()
		return fmt.Errorf("failed to build event stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.applyHeaders(req)

	endpointCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go c.readStream(gen, req, endpointCh, errCh)

	timer := time.NewTimer(c.endpointTimeout)
	defer timer.Stop()

	var advertised string
	select {
	case advertised = <-endpointCh:
	case err := <-errCh:
		c.Close()
		return err
	case <-timer.C:
		c.Close()
		return fmt.Errorf("%w after %s", ErrEndpointTimeout, c.endpointTimeout)
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}

	endpoint, err := c.resolveEndpoint(advertised)
	if err != nil {
		c.Close()
		return err
	}

	c.mu.Lock()
	c.endpoint = endpoint
	c.mu.Unlock()
	c.log.Debug().Str("endpoint", endpoint.String()).Msg("endpoint received")

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return fmt.Errorf("initialize handshake failed: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *SSEClient) initialize(ctx context.Context) error {
	params := mcptypes.InitializeParams{
		ProtocolVersion: mcptypes.LATEST_PROTOCOL_VERSION,
		Capabilities:    mcptypes.ClientCapabilities{},
		ClientInfo:      ClientInfo,
	}

	raw, err := c.call(ctx, "initialize", params)
	if err != nil {
		return err
	}

	var result mcptypes.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("%w: initialize result: %v", ErrInvalidResponse, err)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()

	c.log.Info().
		Str("server_name", result.ServerInfo.Name).
		Str("server_version", result.ServerInfo.Version).
		Str("protocol", result.ProtocolVersion).
		Msg("mcp handshake complete")

	return c.notify(ctx, "notifications/initialized", nil)
}

// resolveEndpoint resolves the advertised URL against the base URL and
// rejects any endpoint on a different origin.
func (c *SSEClient) resolveEndpoint(advertised string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(advertised))
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint %q: %v", ErrInvalidResponse, advertised, err)
	}
	endpoint := c.baseURL.ResolveReference(ref)

	if !sameOrigin(endpoint, c.baseURL) {
		return nil, fmt.Errorf("%w: %s is not on %s", ErrCrossOrigin, originOf(endpoint), originOf(c.baseURL))
	}
	return endpoint, nil
}

func sameOrigin(a, b *url.URL) bool {
	return originOf(a) == originOf(b)
}

func originOf(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "https":
			port = "443"
		case "http":
			port = "80"
		}
	}
	return strings.ToLower(u.Scheme) + "://" + host + ":" + port
}

func (c *SSEClient) readStream(gen uint64, req *http.Request, endpointCh chan<- string, errCh chan<- error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		errCh <- fmt.Errorf("failed to open event stream: %w", err)
		c.streamEnded(gen, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errCh <- fmt.Errorf("event stream returned HTTP %d", resp.StatusCode)
		c.streamEnded(gen, ErrStreamClosed)
		return
	}

	var (
		buf          eventBuffer
		endpointSeen bool
		chunk        = make([]byte, 32*1024)
	)

	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			for _, ev := range buf.feed(chunk[:n]) {
				switch ev.Event {
				case "endpoint":
					if !endpointSeen {
						endpointSeen = true
						endpointCh <- ev.Data
					}
				case "", "message":
					c.dispatch([]byte(ev.Data))
				default:
					c.log.Debug().Str("event", ev.Event).Msg("ignoring event")
				}
			}
		}

		if readErr != nil {
			if !endpointSeen {
				if errors.Is(readErr, io.EOF) {
					errCh <- ErrStreamClosed
				} else {
					errCh <- fmt.Errorf("%w: %v", ErrStreamClosed, readErr)
				}
			}
			c.streamEnded(gen, readErr)
			return
		}
	}
}

// streamEnded tears the session down unless a newer connection replaced it.
func (c *SSEClient) streamEnded(gen uint64, cause error) {
	c.mu.Lock()
	current := gen == c.gen && c.cancel != nil
	c.mu.Unlock()
	if !current {
		return
	}
	c.log.Debug().Err(cause).Msg("event stream ended")
	c.teardown(gen, fmt.Errorf("%w: %v", ErrNotConnected, cause))
}

func (c *SSEClient) dispatch(data []byte) {
	msgs, err := decodeFrames(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping undecodable frame")
		return
	}

	for _, msg := range msgs {
		id, ok := msg.numericID()
		if !ok {
			continue
		}

		c.mu.Lock()
		ch, found := c.pending[id]
		if found {
			delete(c.pending, id)
		}
		c.mu.Unlock()

		if found {
			ch <- rpcResult{msg: msg}
		}
	}
}

// call sends a request and waits for the correlated response.
func (c *SSEClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	endpoint := c.endpoint
	if endpoint == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := c.nextID.Add(1)
	ch := make(chan rpcResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.post(ctx, endpoint, newRequest(id, method, params)); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.msg.Error != nil {
			return nil, res.msg.Error
		}
		return res.msg.Result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *SSEClient) notify(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	endpoint := c.endpoint
	c.mu.Unlock()
	if endpoint == nil {
		return ErrNotConnected
	}
	return c.post(ctx, endpoint, newNotification(method, params))
}

func (c *SSEClient) post(ctx context.Context, endpoint *url.URL, payload rpcRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", payload.Method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", payload.Method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to POST %s: %w", payload.Method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", payload.Method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST %s returned HTTP %d: %s", payload.Method, resp.StatusCode, truncate(strings.TrimSpace(string(respBody)), 200))
	}

	// Some servers answer inline instead of on the event stream.
	if len(bytes.TrimSpace(respBody)) > 0 {
		c.dispatch(respBody)
	}
	return nil
}

func (c *SSEClient) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *SSEClient) applyHeaders(req *http.Request) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
}

func (c *SSEClient) requireConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	return nil
}

// ServerInfo returns what the server reported during initialize.
func (c *SSEClient) ServerInfo() mcptypes.Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// ListTools fetches every page of tools/list.
func (c *SSEClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}
	return paginate(ctx, c, "tools/list", parseToolsPage)
}

// CallTool invokes a tool and returns the raw result unvalidated.
func (c *SSEClient) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	raw, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s failed: %w", name, err)
	}
	return raw, nil
}

func (c *SSEClient) ListResources(ctx context.Context) ([]mcptypes.Resource, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}

	type page struct {
		Resources  []mcptypes.Resource `json:"resources"`
		NextCursor string              `json:"nextCursor"`
	}
	return paginate(ctx, c, "resources/list", func(raw json.RawMessage) ([]mcptypes.Resource, string, error) {
		var p page
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, "", fmt.Errorf("%w: resources/list result: %v", ErrInvalidResponse, err)
		}
		return p.Resources, p.NextCursor, nil
	})
}

func (c *SSEClient) ListPrompts(ctx context.Context) ([]mcptypes.Prompt, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}

	type page struct {
		Prompts    []mcptypes.Prompt `json:"prompts"`
		NextCursor string            `json:"nextCursor"`
	}
	return paginate(ctx, c, "prompts/list", func(raw json.RawMessage) ([]mcptypes.Prompt, string, error) {
		var p page
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, "", fmt.Errorf("%w: prompts/list result: %v", ErrInvalidResponse, err)
		}
		return p.Prompts, p.NextCursor, nil
	})
}

func paginate[T any](ctx context.Context, c *SSEClient, method string, decode func(json.RawMessage) ([]T, string, error)) ([]T, error) {
	var (
		all    []T
		cursor string
		seen   = make(map[string]bool)
	)
	for page := 0; page < maxPages; page++ {
		raw, err := c.call(ctx, method, cursorParams(cursor))
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", method, err)
		}
		items, next, err := decode(raw)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if next == "" || seen[next] {
			break
		}
		seen[next] = true
		cursor = next
	}
	return all, nil
}

func cursorParams(cursor string) any {
	if cursor == "" {
		return nil
	}
	return map[string]any{"cursor": cursor}
}

func (c *SSEClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close aborts the stream and fails outstanding requests. It is safe to
// call more than once.
func (c *SSEClient) Close() error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.teardown(gen, ErrClosed)
	return nil
}

func (c *SSEClient) teardown(gen uint64, reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	for id, ch := range c.pending {
		ch <- rpcResult{err: reason}
		delete(c.pending, id)
	}
	c.endpoint = nil
	c.connected = false
}
