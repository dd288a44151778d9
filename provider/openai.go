package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/errgroup"

	"chatmcp/config"
	"chatmcp/logging"
	"chatmcp/mcp"
	"chatmcp/model"
)

const finishReasonToolCalls = "tool_calls"

type endpointKey struct {
	baseURL string
	apiKey  string
}

type Option func(*ChatClient)

// WithTools enables the tool variant. Either argument may be nil.
func WithTools(source ToolSource, executor ToolExecutor) Option {
	return func(c *ChatClient) {
		c.tools = source
		c.executor = executor
	}
}

func WithProfile(p ProfileSource) Option {
	return func(c *ChatClient) { c.profile = p }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *ChatClient) { c.httpClient = hc }
}

// WithMaxRetries sets the SDK retry count for failed requests.
func WithMaxRetries(n int) Option {
	return func(c *ChatClient) { c.maxRetries = n }
}

func WithClock(now func() time.Time) Option {
	return func(c *ChatClient) { c.now = now }
}

// ChatClient streams completions for configured models. The SDK client is
// cached per (base URL, API key) and replaced, never mutated, when either
// changes.
type ChatClient struct {
	cfg        *config.Config
	creds      CredentialLookup
	tools      ToolSource
	executor   ToolExecutor
	profile    ProfileSource
	httpClient *http.Client
	maxRetries int
	now        func() time.Time
	log        *logging.Logger

	mu     sync.Mutex
	client *openai.Client
	key    endpointKey
	builds int
}

func NewChatClient(cfg *config.Config, creds CredentialLookup, log *logging.Logger, opts ...Option) *ChatClient {
	c := &ChatClient{
		cfg:        cfg,
		creds:      creds,
		maxRetries: 2,
		now:        time.Now,
		log:        log.Sub("provider"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.profile == nil {
		c.profile = StaticProfile(cfg.Profile.Facts)
	}
	return c
}

// clientFor returns the cached SDK client for the endpoint, building a new
// one when the endpoint or key changed.
func (c *ChatClient) clientFor(baseURL, apiKey string) openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := endpointKey{baseURL: baseURL, apiKey: apiKey}
	if c.client != nil && c.key == key {
		return *c.client
	}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(c.maxRetries),
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}

	client := openai.NewClient(opts...)
	c.client = &client
	c.key = key
	c.builds++
	c.log.Debug().Str("base_url", baseURL).Msg("built chat client")
	return client
}

// emitter forwards events and guarantees a single terminal event.
type emitter struct {
	cb   model.StreamCallback
	done bool
}

func (e *emitter) send(ev model.StreamEvent) {
	if e.done || e.cb == nil {
		return
	}
	e.cb(ev)
}

func (e *emitter) delta(s string) {
	if s != "" {
		e.send(model.StreamEvent{Content: s})
	}
}

func (e *emitter) finish(err error) {
	if e.done {
		return
	}
	e.send(model.StreamEvent{Err: err, Finished: true})
	e.done = true
}

type request struct {
	client  openai.Client
	modelID string
	params  openai.ChatCompletionNewParams
}

func (c *ChatClient) prepare(history []model.Message, modelID string) (*request, error) {
	ep, err := c.cfg.ResolveModel(modelID)
	if err != nil {
		return nil, err
	}

	var apiKey string
	if c.creds != nil {
		apiKey = c.creds.Get(ep.CredentialKey)
	}
	if apiKey == "" && config.RequiresCredential(ep.ProviderID) {
		return nil, fmt.Errorf("%w: %q for provider %q", config.ErrMissingCredential, ep.CredentialKey, ep.ProviderID)
	}

	wire, err := ToOpenAIMessages(history)
	if err != nil {
		return nil, err
	}
	var facts []string
	if c.profile != nil {
		facts = c.profile.Facts()
	}
	wire = withSystemPrompt(history, wire, c.cfg.SystemPrompt, facts, c.now())

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(ep.Model),
		Messages: wire,
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = openai.Float(c.cfg.Temperature)
	}

	return &request{
		client:  c.clientFor(ep.BaseURL, apiKey),
		modelID: modelID,
		params:  params,
	}, nil
}

// StreamCompletion streams a reply without tools. It blocks until the
// terminal event has been delivered.
func (c *ChatClient) StreamCompletion(ctx context.Context, history []model.Message, cb model.StreamCallback, modelID string) {
	em := &emitter{cb: cb}

	req, err := c.prepare(history, modelID)
	if err != nil {
		c.log.Warn().Err(err).Str("model", modelID).Msg("completion setup failed")
		em.finish(err)
		return
	}

	_, _, err = c.stream(ctx, req, em, nil)
	em.finish(err)
}

// StreamCompletionWithTools streams a reply with the built-in tools and the
// active tools of server offered to the model. If the model asks for tools,
// they run concurrently and a follow-up request without tools continues the
// reply. onToolMessages, if set, sees the tool request and its results
// before the follow-up is sent.
func (c *ChatClient) StreamCompletionWithTools(ctx context.Context, history []model.Message, cb model.StreamCallback, modelID, server string, onToolMessages model.ToolMessagesHook) {
	em := &emitter{cb: cb}

	req, err := c.prepare(history, modelID)
	if err != nil {
		c.log.Warn().Err(err).Str("model", modelID).Msg("completion setup failed")
		em.finish(err)
		return
	}

	if tools := c.gatherTools(ctx, server); len(tools) > 0 {
		req.params.Tools = mcp.ConvertToolsToOpenAIFormat(tools)
		req.params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String("auto"),
		}
	}

	acc := newToolCallAccumulator()
	text, finishReason, err := c.stream(ctx, req, em, acc)
	if err != nil {
		em.finish(err)
		return
	}

	if finishReason != finishReasonToolCalls || c.executor == nil {
		em.finish(nil)
		return
	}

	calls := acc.ready()
	if len(calls) == 0 {
		// Nothing runnable was assembled; end the reply as it stands.
		c.log.Warn().Bool("fragments", !acc.empty()).Msg("tool_calls finish without complete calls")
		em.finish(nil)
		return
	}

	em.send(model.StreamEvent{ToolCalls: calls})

	toolRequest, results := c.runTools(ctx, req.modelID, text, calls)
	if onToolMessages != nil {
		onToolMessages(toolRequest.Clone(), cloneAll(results))
	}

	followUp := req.params
	followUp.Tools = nil
	followUp.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{}
	followUp.Messages = append([]openai.ChatCompletionMessageParamUnion(nil), req.params.Messages...)
	for _, msg := range append([]model.Message{toolRequest}, results...) {
		if wire, ok := ToOpenAIMessage(msg); ok {
			followUp.Messages = append(followUp.Messages, wire)
		}
	}

	_, _, err = c.stream(ctx, &request{client: req.client, modelID: req.modelID, params: followUp}, em, nil)
	em.finish(err)
}

// gatherTools returns the built-in tools plus the active tools of server.
// Server failures leave the remote part empty.
func (c *ChatClient) gatherTools(ctx context.Context, server string) []mcp.ToolDefinition {
	var tools []mcp.ToolDefinition
	if c.executor != nil {
		tools = append(tools, c.executor.LocalTools()...)
	}
	if c.tools == nil || server == "" {
		return tools
	}

	remote, ok := c.tools.GetTools(ctx, server)
	if !ok {
		c.log.Warn().Str("server", server).Msg("no tools available from server, continuing without them")
		return tools
	}
	for _, t := range remote {
		if t.IsActive {
			tools = append(tools, t)
		}
	}
	return tools
}

// runTools executes calls concurrently. Results keep the order of calls.
func (c *ChatClient) runTools(ctx context.Context, modelID, text string, calls []model.ToolCall) (model.Message, []model.Message) {
	now := c.now()

	toolRequest := model.Message{
		ID:        newMessageID(),
		Model:     modelID,
		Role:      model.RoleAssistant,
		Content:   model.NullContent(),
		ToolCalls: calls,
		Timestamp: now,
	}
	if text != "" {
		toolRequest.Content = model.TextContent(text)
	}

	results := make([]model.Message, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			res := c.executor.ExecuteTool(ctx, mcp.ToolCallRequest{
				CallID:    call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
			c.log.Debug().
				Str("tool", call.Function.Name).
				Str("call_id", call.ID).
				Bool("error", res.IsError).
				Msg("tool call finished")
			results[i] = model.Message{
				ID:         newMessageID(),
				Model:      modelID,
				Role:       model.RoleTool,
				Content:    model.TextContent(res.Content),
				Name:       res.Name,
				ToolCallID: res.CallID,
				Timestamp:  now,
			}
			return nil
		})
	}
	g.Wait()

	return toolRequest, results
}

// stream runs one upstream request, forwarding text deltas. When acc is
// non-nil, tool-call fragments are collected into it.
func (c *ChatClient) stream(ctx context.Context, req *request, em *emitter, acc *toolCallAccumulator) (string, string, error) {
	stream := req.client.Chat.Completions.NewStreaming(ctx, req.params)
	defer stream.Close()

	var (
		text         strings.Builder
		finishReason string
	)
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			em.delta(choice.Delta.Content)
		}
		if acc != nil {
			for _, tc := range choice.Delta.ToolCalls {
				acc.add(tc)
			}
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}

	if err := stream.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return text.String(), finishReason, err
		}
		c.log.Error().Err(err).Str("model", req.modelID).Msg("stream failed")
		return text.String(), finishReason, fmt.Errorf("chat completion stream: %w", err)
	}
	return text.String(), finishReason, nil
}

func newMessageID() string {
	return gonanoid.Must()
}

func cloneAll(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
