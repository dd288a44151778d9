package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmcp/logging"
	"chatmcp/model"
	"chatmcp/storage"
)

const testPrompt = "You are a test assistant."

var fixedNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type completeFunc func(ctx context.Context, history []model.Message, cb model.StreamCallback, hook model.ToolMessagesHook)

type fakeCompleter struct {
	mu        sync.Mutex
	run       completeFunc
	histories [][]model.Message
}

func (f *fakeCompleter) StreamCompletionWithTools(ctx context.Context, history []model.Message, cb model.StreamCallback, modelID, server string, hook model.ToolMessagesHook) {
	f.mu.Lock()
	f.histories = append(f.histories, history)
	run := f.run
	f.mu.Unlock()
	run(ctx, history, cb, hook)
}

func (f *fakeCompleter) calls() [][]model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]model.Message(nil), f.histories...)
}

func replyWith(pieces ...string) completeFunc {
	return func(_ context.Context, _ []model.Message, cb model.StreamCallback, _ model.ToolMessagesHook) {
		for _, p := range pieces {
			cb(model.StreamEvent{Content: p})
		}
		cb(model.StreamEvent{Finished: true})
	}
}

type recordingListing struct {
	mu      sync.Mutex
	added   []model.Chat
	removed []string
	cleared int
}

func (l *recordingListing) ChatAdded(chat model.Chat) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.added = append(l.added, chat)
}

func (l *recordingListing) ChatRemoved(chatUUID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, chatUUID)
}

func (l *recordingListing) ChatsCleared() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleared++
}

// flakyDB wraps a real database and lets tests fail or hold individual calls.
type flakyDB struct {
	*storage.DB
	failCreate   error
	afterCreate  func()
	failAddRole  model.Role
	holdMessages map[int64]chan struct{}
	entered      chan int64
}

func (f *flakyDB) CreateChat(ctx context.Context, title, chatUUID string, first model.Message) (model.ChatRef, error) {
	if f.failCreate != nil {
		return model.ChatRef{}, f.failCreate
	}
	ref, err := f.DB.CreateChat(ctx, title, chatUUID, first)
	if err == nil && f.afterCreate != nil {
		f.afterCreate()
	}
	return ref, err
}

func (f *flakyDB) AddMessage(ctx context.Context, chatID int64, msg model.Message) error {
	if f.failAddRole != "" && msg.Role == f.failAddRole {
		return errors.New("disk full")
	}
	return f.DB.AddMessage(ctx, chatID, msg)
}

func (f *flakyDB) GetMessages(ctx context.Context, chatID int64) ([]model.Message, error) {
	if gate, ok := f.holdMessages[chatID]; ok {
		f.entered <- chatID
		<-gate
	}
	return f.DB.GetMessages(ctx, chatID)
}

type harness struct {
	db        *flakyDB
	completer *fakeCompleter
	listing   *recordingListing
	store     *Store
}

func newHarness(t *testing.T, run completeFunc) *harness {
	t.Helper()
	db, err := storage.Open(":memory:", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db:        &flakyDB{DB: db, entered: make(chan int64, 4)},
		completer: &fakeCompleter{run: run},
		listing:   &recordingListing{},
	}
	h.store = NewStore(h.db, h.completer, logging.Nop(), Options{
		ModelID:      "gpt-test",
		ServerName:   "weather",
		SystemPrompt: testPrompt,
		Listing:      h.listing,
		Now:          func() time.Time { return fixedNow },
	})
	return h
}

func (h *harness) stored(t *testing.T, chatUUID string) []model.Message {
	t.Helper()
	id, ok, err := h.db.GetChatIntegerIDByUUID(context.Background(), chatUUID)
	require.NoError(t, err)
	require.True(t, ok, "chat %s not stored", chatUUID)
	msgs, err := h.db.GetMessages(context.Background(), id)
	require.NoError(t, err)
	return msgs
}

func roles(msgs []model.Message) []model.Role {
	out := make([]model.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestSendMessageCreatesChatOnFirstSend(t *testing.T) {
	h := newHarness(t, replyWith("Hi", " there"))
	ctx := context.Background()

	first := strings.Repeat("weather please ", 6)
	require.NoError(t, h.store.SendMessage(ctx, first))

	state := h.store.Snapshot()
	assert.True(t, state.Initialized)
	assert.False(t, state.Streaming)
	assert.NotZero(t, state.ChatID)

	require.Len(t, h.listing.added, 1)
	added := h.listing.added[0]
	assert.Equal(t, state.ChatUUID, added.UUID)
	assert.Equal(t, first[:50], added.Title)

	stored := h.stored(t, state.ChatUUID)
	assert.Equal(t, []model.Role{model.RoleSystem, model.RoleUser, model.RoleAssistant}, roles(stored))
	text, _ := stored[2].Content.Text()
	assert.Equal(t, "Hi there", text)
	sys, _ := stored[0].Content.Text()
	assert.Equal(t, testPrompt, sys)

	require.Len(t, state.Messages, 3)
	for i := range stored {
		assert.Equal(t, stored[i].ID, state.Messages[i].ID)
	}

	calls := h.completer.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []model.Role{model.RoleSystem, model.RoleUser}, roles(calls[0]))
}

func TestSecondSendInSameChatReusesRow(t *testing.T) {
	h := newHarness(t, replyWith("ok"))
	ctx := context.Background()

	require.NoError(t, h.store.SendMessage(ctx, "one"))
	require.NoError(t, h.store.SendMessage(ctx, "two"))

	assert.Len(t, h.listing.added, 1)
	stored := h.stored(t, h.store.ActiveChat())
	assert.Len(t, stored, 5)

	calls := h.completer.calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1], 4)
}

func TestSendWhileStreamingIsRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	h := newHarness(t, func(_ context.Context, _ []model.Message, cb model.StreamCallback, _ model.ToolMessagesHook) {
		cb(model.StreamEvent{Content: "thinking"})
		close(started)
		<-release
		cb(model.StreamEvent{Finished: true})
	})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.store.SendMessage(ctx, "first") }()
	<-started

	before := h.store.Snapshot()
	require.True(t, before.Streaming)

	err := h.store.SendMessage(ctx, "second")
	assert.ErrorIs(t, err, ErrAlreadyStreaming)

	after := h.store.Snapshot()
	assert.Equal(t, len(before.Messages), len(after.Messages))
	assert.True(t, after.Streaming)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, h.store.IsStreaming())
	assert.Len(t, h.completer.calls(), 1)
}

func TestStreamErrorStripsPlaceholder(t *testing.T) {
	boom := errors.New("upstream unavailable")
	h := newHarness(t, func(_ context.Context, _ []model.Message, cb model.StreamCallback, _ model.ToolMessagesHook) {
		cb(model.StreamEvent{Finished: true, Err: boom})
	})

	err := h.store.SendMessage(context.Background(), "hello")
	require.ErrorIs(t, err, boom)

	state := h.store.Snapshot()
	assert.False(t, state.Streaming)
	assert.Equal(t, []model.Role{model.RoleSystem, model.RoleUser}, roles(state.Messages))
	assert.Equal(t, []model.Role{model.RoleSystem, model.RoleUser}, roles(h.stored(t, state.ChatUUID)))
}

func TestFailedUserPersistRollsBack(t *testing.T) {
	h := newHarness(t, replyWith("never"))
	h.db.failAddRole = model.RoleUser
	ctx := context.Background()

	err := h.store.SendMessage(ctx, "hello")
	require.Error(t, err)

	state := h.store.Snapshot()
	assert.False(t, state.Streaming)
	assert.Zero(t, state.ChatID)
	assert.Equal(t, []model.Role{model.RoleSystem}, roles(state.Messages))

	_, ok, err := h.db.GetChatIntegerIDByUUID(ctx, state.ChatUUID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{state.ChatUUID}, h.listing.removed)
	assert.Empty(t, h.completer.calls())

	h.db.failAddRole = ""
	require.NoError(t, h.store.SendMessage(ctx, "hello again"))
	assert.Len(t, h.stored(t, state.ChatUUID), 3)
}

func TestFailedChatCreationLeavesNoGhosts(t *testing.T) {
	h := newHarness(t, replyWith("never"))
	h.db.failCreate = errors.New("locked")

	err := h.store.SendMessage(context.Background(), "hello")
	require.Error(t, err)

	state := h.store.Snapshot()
	assert.False(t, state.Streaming)
	assert.Equal(t, []model.Role{model.RoleSystem}, roles(state.Messages))
	assert.Empty(t, h.listing.added)
	assert.Empty(t, h.completer.calls())
}

func TestChatSwitchDuringCreationRemovesNewChat(t *testing.T) {
	h := newHarness(t, replyWith("never"))
	var switched string
	h.db.afterCreate = func() { switched = h.store.StartNewChat() }

	abandoned := h.store.StartNewChat()

	err := h.store.SendMessage(context.Background(), "hello")
	require.Error(t, err)

	_, ok, err := h.db.GetChatIntegerIDByUUID(context.Background(), abandoned)
	require.NoError(t, err)
	assert.False(t, ok, "abandoned chat must not stay stored")
	assert.Equal(t, []string{abandoned}, h.listing.removed)

	state := h.store.Snapshot()
	assert.False(t, state.Streaming)
	assert.Equal(t, switched, state.ChatUUID)
	assert.Equal(t, []model.Role{model.RoleSystem}, roles(state.Messages))
	assert.Empty(t, h.completer.calls())
}

func TestToolRoundIsPersistedInOrder(t *testing.T) {
	calls := []model.ToolCall{{
		ID:       "call_1",
		Type:     "function",
		Function: model.FunctionCall{Name: "get_weather", Arguments: `{"city":"Oslo"}`},
	}}
	h := newHarness(t, func(_ context.Context, _ []model.Message, cb model.StreamCallback, hook model.ToolMessagesHook) {
		cb(model.StreamEvent{Content: "Checking."})
		cb(model.StreamEvent{ToolCalls: calls})
		hook(model.Message{
			ID:        "req",
			Role:      model.RoleAssistant,
			Content:   model.TextContent("Checking."),
			ToolCalls: calls,
		}, []model.Message{{
			ID:         "res",
			Role:       model.RoleTool,
			Name:       "get_weather",
			Content:    model.TextContent(`{"temp":3}`),
			ToolCallID: "call_1",
		}})
		cb(model.StreamEvent{Content: "It is 3 degrees."})
		cb(model.StreamEvent{Finished: true})
	})

	require.NoError(t, h.store.SendMessage(context.Background(), "weather in Oslo?"))

	want := []model.Role{model.RoleSystem, model.RoleUser, model.RoleAssistant, model.RoleTool, model.RoleAssistant}
	state := h.store.Snapshot()
	stored := h.stored(t, state.ChatUUID)
	assert.Equal(t, want, roles(stored))
	assert.Equal(t, want, roles(state.Messages))

	assert.Equal(t, "call_1", stored[2].ToolCalls[0].ID)
	text, _ := stored[2].Content.Text()
	assert.Equal(t, "Checking.", text)
	assert.Equal(t, "call_1", stored[3].ToolCallID)
	assert.Equal(t, state.ChatID, stored[3].ChatID)
	final, _ := stored[4].Content.Text()
	assert.Equal(t, "It is 3 degrees.", final)

	for i := range stored {
		assert.Equal(t, stored[i].ID, state.Messages[i].ID)
	}
}

func TestSwitchChatLastRequestWins(t *testing.T) {
	h := newHarness(t, replyWith("unused"))
	ctx := context.Background()

	a := seedChat(t, h, "first chat")
	b := seedChat(t, h, "second chat")

	gate := make(chan struct{})
	h.db.holdMessages = map[int64]chan struct{}{a.IntID: gate}

	done := make(chan error, 1)
	go func() { done <- h.store.SwitchChat(ctx, a.UUID) }()
	require.Equal(t, a.IntID, <-h.db.entered)

	require.NoError(t, h.store.SwitchChat(ctx, b.UUID))
	close(gate)
	require.NoError(t, <-done)

	state := h.store.Snapshot()
	assert.Equal(t, b.UUID, state.ChatUUID)
	assert.Equal(t, b.IntID, state.ChatID)
	require.Len(t, state.Messages, 2)
	text, _ := state.Messages[1].Content.Text()
	assert.Equal(t, "second chat", text)
}

func seedChat(t *testing.T, h *harness, userText string) model.ChatRef {
	t.Helper()
	ctx := context.Background()
	ref, err := h.db.CreateChat(ctx, userText, uuid.NewString(), model.Message{
		ID:        uuid.NewString(),
		Role:      model.RoleSystem,
		Content:   model.TextContent(testPrompt),
		Timestamp: fixedNow,
	})
	require.NoError(t, err)
	require.NoError(t, h.db.AddMessage(ctx, ref.IntID, model.Message{
		ID:        uuid.NewString(),
		Role:      model.RoleUser,
		Content:   model.TextContent(userText),
		Timestamp: fixedNow,
	}))
	return ref
}

func TestSwitchChatSynthesizesSystemMessage(t *testing.T) {
	h := newHarness(t, replyWith("unused"))
	ctx := context.Background()

	firstAt := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	ref, err := h.db.CreateChat(ctx, "legacy", uuid.NewString(), model.Message{
		ID:        "u1",
		Role:      model.RoleUser,
		Content:   model.TextContent("hi"),
		Timestamp: firstAt,
	})
	require.NoError(t, err)

	require.NoError(t, h.store.SwitchChat(ctx, ref.UUID))
	msgs := h.store.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.True(t, msgs[0].Timestamp.Equal(firstAt.Add(-time.Millisecond)))
	text, _ := msgs[0].Content.Text()
	assert.Equal(t, testPrompt, text)

	empty, err := h.db.AddChat(ctx, "empty", uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, h.store.SwitchChat(ctx, empty.UUID))
	msgs = h.store.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.True(t, msgs[0].Timestamp.Equal(fixedNow))
}

func TestSwitchChatUnknown(t *testing.T) {
	h := newHarness(t, replyWith("unused"))
	err := h.store.SwitchChat(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestDeleteActiveChatStartsNewSession(t *testing.T) {
	h := newHarness(t, replyWith("ok"))
	ctx := context.Background()

	require.NoError(t, h.store.SendMessage(ctx, "hello"))
	old := h.store.ActiveChat()

	require.NoError(t, h.store.DeleteChatSession(ctx, old))

	assert.Equal(t, []string{old}, h.listing.removed)
	state := h.store.Snapshot()
	assert.NotEqual(t, old, state.ChatUUID)
	assert.NotEmpty(t, state.ChatUUID)
	assert.Zero(t, state.ChatID)
	assert.Equal(t, []model.Role{model.RoleSystem}, roles(state.Messages))

	_, ok, err := h.db.GetChatIntegerIDByUUID(ctx, old)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteInactiveChatKeepsSession(t *testing.T) {
	h := newHarness(t, replyWith("ok"))
	ctx := context.Background()

	other := seedChat(t, h, "other")
	require.NoError(t, h.store.SendMessage(ctx, "hello"))
	active := h.store.ActiveChat()

	require.NoError(t, h.store.DeleteChatSession(ctx, other.UUID))
	assert.Equal(t, active, h.store.ActiveChat())
	assert.Len(t, h.store.Snapshot().Messages, 3)
}

func TestDeleteAllChats(t *testing.T) {
	h := newHarness(t, replyWith("ok"))
	ctx := context.Background()

	seedChat(t, h, "a")
	require.NoError(t, h.store.SendMessage(ctx, "hello"))
	old := h.store.ActiveChat()

	require.NoError(t, h.store.DeleteAllChats(ctx))
	assert.Equal(t, 1, h.listing.cleared)
	assert.NotEqual(t, old, h.store.ActiveChat())

	chats, err := h.db.ListChats(ctx)
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestStaleStreamPersistsToOriginatingChat(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	h := newHarness(t, func(_ context.Context, _ []model.Message, cb model.StreamCallback, _ model.ToolMessagesHook) {
		cb(model.StreamEvent{Content: "part one, "})
		close(started)
		<-release
		cb(model.StreamEvent{Content: "part two"})
		cb(model.StreamEvent{Finished: true})
	})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.store.SendMessage(ctx, "long question") }()
	<-started
	original := h.store.ActiveChat()

	fresh := h.store.StartNewChat()
	close(release)
	require.NoError(t, <-done)

	state := h.store.Snapshot()
	assert.Equal(t, fresh, state.ChatUUID)
	assert.False(t, state.Streaming)
	assert.Equal(t, []model.Role{model.RoleSystem}, roles(state.Messages))

	stored := h.stored(t, original)
	require.Len(t, stored, 3)
	text, _ := stored[2].Content.Text()
	assert.Equal(t, "part one, part two", text)
}

func TestAddToolResponseMessageContinues(t *testing.T) {
	h := newHarness(t, replyWith("done"))
	ctx := context.Background()

	require.NoError(t, h.store.SendMessage(ctx, "run it"))
	require.NoError(t, h.store.AddToolResponseMessage(ctx, model.Message{
		Name:       "manual",
		Content:    model.TextContent(`{"ok":true}`),
		ToolCallID: "call_9",
	}))

	calls := h.completer.calls()
	require.Len(t, calls, 2)
	last := calls[1][len(calls[1])-1]
	assert.Equal(t, model.RoleTool, last.Role)
	assert.Equal(t, "call_9", last.ToolCallID)

	stored := h.stored(t, h.store.ActiveChat())
	assert.Equal(t, []model.Role{
		model.RoleSystem, model.RoleUser, model.RoleAssistant, model.RoleTool, model.RoleAssistant,
	}, roles(stored))
	assert.False(t, h.store.IsStreaming())
}

func TestAddToolResponseMessageRequiresSavedChat(t *testing.T) {
	h := newHarness(t, replyWith("unused"))
	h.store.StartNewChat()

	err := h.store.AddToolResponseMessage(context.Background(), model.Message{
		Content:    model.TextContent("x"),
		ToolCallID: "call_1",
	})
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.Empty(t, h.completer.calls())
}

func TestMarkSeen(t *testing.T) {
	h := newHarness(t, replyWith("ok"))
	ctx := context.Background()

	require.NoError(t, h.store.SendMessage(ctx, "hello"))
	require.NoError(t, h.store.MarkSeen(ctx))

	for _, m := range h.store.Snapshot().Messages {
		assert.True(t, m.Seen, m.ID)
	}
	for _, m := range h.stored(t, h.store.ActiveChat()) {
		assert.True(t, m.Seen, m.ID)
	}
}

func TestObserverSeesEvents(t *testing.T) {
	h := newHarness(t, replyWith("a", "b"))
	var mu sync.Mutex
	var got []string
	h.store.opts.Observer = func(chatUUID string, ev model.StreamEvent) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Finished {
			got = append(got, "<end>")
			return
		}
		got = append(got, ev.Content)
	}

	require.NoError(t, h.store.SendMessage(context.Background(), "hi"))
	assert.Equal(t, []string{"a", "b", "<end>"}, got)
}
