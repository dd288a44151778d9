// Package conversation holds the active chat: its messages, its identity
// and whether a reply is streaming. It sits between user actions, the
// completion client and persistence.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"chatmcp/logging"
	"chatmcp/model"
	"chatmcp/storage"
)

var (
	ErrAlreadyStreaming = errors.New("a reply is already streaming")
	ErrChatNotFound     = errors.New("chat not found")
)

// Persistence is the storage the store writes through to.
type Persistence interface {
	Ping(ctx context.Context) error
	GetMessages(ctx context.Context, chatID int64) ([]model.Message, error)
	AddMessage(ctx context.Context, chatID int64, msg model.Message) error
	CreateChat(ctx context.Context, title, chatUUID string, first model.Message) (model.ChatRef, error)
	GetChatIntegerIDByUUID(ctx context.Context, chatUUID string) (int64, bool, error)
	DeleteChatAndMessagesByUUID(ctx context.Context, chatUUID string) (bool, error)
	DeleteAllChats(ctx context.Context) (bool, error)
	MarkMessagesSeen(ctx context.Context, chatID int64) error
}

// Completer streams a reply for a history. It blocks until the terminal
// event has been delivered.
type Completer interface {
	StreamCompletionWithTools(ctx context.Context, history []model.Message, cb model.StreamCallback, modelID, server string, onToolMessages model.ToolMessagesHook)
}

// ChatListing is told when chats appear or disappear.
type ChatListing interface {
	ChatAdded(chat model.Chat)
	ChatRemoved(chatUUID string)
	ChatsCleared()
}

// Observer sees every stream event together with the chat it belongs to.
type Observer func(chatUUID string, ev model.StreamEvent)

type Options struct {
	ModelID      string
	ServerName   string
	SystemPrompt string
	Listing      ChatListing
	Observer     Observer
	Now          func() time.Time
}

// State is a read-only copy of the store.
type State struct {
	ChatUUID    string
	ChatID      int64
	Messages    []model.Message
	Streaming   bool
	Initialized bool
}

// Store is the single source of truth for the active conversation. At most
// one reply streams at a time. Chat switches are last-request-wins.
type Store struct {
	db        Persistence
	completer Completer
	opts      Options
	log       *logging.Logger

	mu          sync.Mutex
	initialized bool
	chatUUID    string
	chatID      int64 // 0 until the chat row exists
	messages    []model.Message
	streaming   bool
	loadToken   string
}

func NewStore(db Persistence, completer Completer, log *logging.Logger, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		db:        db,
		completer: completer,
		opts:      opts,
		log:       log.Sub("conversation"),
	}
}

// Init checks that storage is reachable. It is called on first send if the
// caller never did.
func (s *Store) Init(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("storage not ready: %w", err)
	}
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ChatUUID:    s.chatUUID,
		ChatID:      s.chatID,
		Messages:    cloneMessages(s.messages),
		Streaming:   s.streaming,
		Initialized: s.initialized,
	}
}

func (s *Store) ActiveChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatUUID
}

func (s *Store) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

func (s *Store) SetModel(modelID string) {
	s.mu.Lock()
	s.opts.ModelID = modelID
	s.mu.Unlock()
}

func (s *Store) SetServer(name string) {
	s.mu.Lock()
	s.opts.ServerName = name
	s.mu.Unlock()
}

// StartNewChat makes a fresh session active. Nothing is written to storage
// until the first message is sent.
func (s *Store) StartNewChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startNewChatLocked()
}

func (s *Store) startNewChatLocked() string {
	s.loadToken = uuid.NewString()
	s.chatUUID = uuid.NewString()
	s.chatID = 0
	s.messages = []model.Message{s.systemMessage(s.opts.Now())}
	s.log.Debug().Str("chat", s.chatUUID).Msg("new chat session")
	return s.chatUUID
}

func (s *Store) systemMessage(ts time.Time) model.Message {
	return model.Message{
		ID:        newMessageID(),
		ChatID:    s.chatID,
		Model:     s.opts.ModelID,
		Role:      model.RoleSystem,
		Content:   model.TextContent(s.opts.SystemPrompt),
		Timestamp: ts,
		Seen:      true,
	}
}

// SwitchChat loads a stored chat and makes it active. If another switch is
// issued before this one's load finishes, this load is discarded.
func (s *Store) SwitchChat(ctx context.Context, chatUUID string) error {
	s.mu.Lock()
	token := uuid.NewString()
	s.loadToken = token
	s.mu.Unlock()

	id, ok, err := s.db.GetChatIntegerIDByUUID(ctx, chatUUID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatUUID)
	}

	stored, err := s.db.GetMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load chat %s: %w", chatUUID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadToken != token {
		s.log.Debug().Str("chat", chatUUID).Msg("discarding superseded chat load")
		return nil
	}

	s.chatUUID = chatUUID
	s.chatID = id
	s.messages = s.withLeadingSystem(id, stored)
	return nil
}

// withLeadingSystem guarantees the list starts with a system message. A
// synthesized one is dated just before the first stored message.
func (s *Store) withLeadingSystem(chatID int64, stored []model.Message) []model.Message {
	if len(stored) > 0 && stored[0].Role == model.RoleSystem {
		return stored
	}

	ts := s.opts.Now()
	if len(stored) > 0 {
		ts = stored[0].Timestamp.Add(-time.Millisecond)
	}
	sys := s.systemMessage(ts)
	sys.ChatID = chatID
	return append([]model.Message{sys}, stored...)
}

// SendMessage sends a text message in the active chat and blocks until the
// reply has finished streaming.
func (s *Store) SendMessage(ctx context.Context, text string) error {
	return s.SendContent(ctx, model.TextContent(text))
}

func (s *Store) SendContent(ctx context.Context, content model.Content) error {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return ErrAlreadyStreaming
	}
	s.streaming = true
	initialized := s.initialized
	s.mu.Unlock()

	t, err := s.prepareSend(ctx, content, initialized)
	if err != nil {
		s.mu.Lock()
		s.streaming = false
		s.mu.Unlock()
		return err
	}

	return s.complete(ctx, t)
}

// turn is one streaming completion bound to the chat it started in.
type turn struct {
	chatUUID  string
	chatID    int64
	modelID   string
	server    string
	history   []model.Message
	assistant *model.Message // reply being built, nil once persisted
}

func (s *Store) prepareSend(ctx context.Context, content model.Content, initialized bool) (*turn, error) {
	if !initialized {
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	if s.chatUUID == "" {
		s.startNewChatLocked()
	}
	chatUUID, chatID := s.chatUUID, s.chatID
	system := s.messages[0]
	modelID, server := s.opts.ModelID, s.opts.ServerName
	s.mu.Unlock()

	created := false
	if chatID == 0 {
		id, ok, err := s.db.GetChatIntegerIDByUUID(ctx, chatUUID)
		if err != nil {
			return nil, err
		}
		if ok {
			chatID = id
		} else {
			title := storage.GenerateChatTitle(content.String())
			ref, err := s.db.CreateChat(ctx, title, chatUUID, system)
			if err != nil {
				return nil, fmt.Errorf("failed to create chat: %w", err)
			}
			chatID = ref.IntID
			created = true
			s.notifyAdded(model.Chat{ID: ref.IntID, UUID: chatUUID, Title: title, CreatedAt: s.opts.Now()})
		}
		s.mu.Lock()
		if s.chatUUID == chatUUID {
			s.chatID = chatID
			for i := range s.messages {
				s.messages[i].ChatID = chatID
			}
		}
		s.mu.Unlock()
	}

	now := s.opts.Now()
	user := model.Message{
		ID:        newMessageID(),
		ChatID:    chatID,
		Model:     modelID,
		Role:      model.RoleUser,
		Content:   content,
		Timestamp: now,
		Seen:      true,
	}
	placeholder := model.Message{
		ID:        newMessageID(),
		ChatID:    chatID,
		Model:     modelID,
		Role:      model.RoleAssistant,
		Content:   model.NullContent(),
		Timestamp: now,
	}

	s.mu.Lock()
	if s.chatUUID != chatUUID {
		s.mu.Unlock()
		s.rollback(ctx, chatUUID, created)
		return nil, fmt.Errorf("chat %s is no longer active", chatUUID)
	}
	s.messages = append(s.messages, user.Clone(), placeholder.Clone())
	history := cloneMessages(s.messages[:len(s.messages)-1])
	s.mu.Unlock()

	if err := s.db.AddMessage(ctx, chatID, user); err != nil {
		s.rollback(ctx, chatUUID, created, user.ID, placeholder.ID)
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	return &turn{
		chatUUID:  chatUUID,
		chatID:    chatID,
		modelID:   modelID,
		server:    server,
		history:   history,
		assistant: &placeholder,
	}, nil
}

// rollback undoes the optimistic additions of a failed send, including a
// chat row created by it.
func (s *Store) rollback(ctx context.Context, chatUUID string, created bool, ids ...string) {
	s.mu.Lock()
	if s.chatUUID == chatUUID {
		s.removeLocked(ids...)
		if created {
			s.chatID = 0
			for i := range s.messages {
				s.messages[i].ChatID = 0
			}
		}
	}
	s.mu.Unlock()

	if !created {
		return
	}
	if _, err := s.db.DeleteChatAndMessagesByUUID(ctx, chatUUID); err != nil {
		s.log.Error().Err(err).Str("chat", chatUUID).Msg("failed to remove chat after failed send")
		return
	}
	if s.opts.Listing != nil {
		s.opts.Listing.ChatRemoved(chatUUID)
	}
}

// AddToolResponseMessage stores a tool result in the active chat. Unless a
// reply is already streaming, the assistant is asked to continue.
func (s *Store) AddToolResponseMessage(ctx context.Context, msg model.Message) error {
	msg.Role = model.RoleTool
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.opts.Now()
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	chatUUID, chatID := s.chatUUID, s.chatID
	modelID, server := s.opts.ModelID, s.opts.ServerName
	s.mu.Unlock()
	if chatID == 0 {
		return fmt.Errorf("%w: active chat has not been saved", ErrChatNotFound)
	}

	msg.ChatID = chatID
	if err := s.db.AddMessage(ctx, chatID, msg); err != nil {
		return fmt.Errorf("failed to save tool message: %w", err)
	}

	s.mu.Lock()
	if s.chatUUID == chatUUID {
		s.messages = append(s.messages, msg.Clone())
	}
	if s.streaming {
		s.mu.Unlock()
		return nil
	}
	s.streaming = true
	history := cloneMessages(s.messages)
	s.mu.Unlock()

	return s.complete(ctx, &turn{
		chatUUID: chatUUID,
		chatID:   chatID,
		modelID:  modelID,
		server:   server,
		history:  history,
	})
}

// complete runs the completion for t and persists what it produces. The
// streaming flag is cleared when it returns.
func (s *Store) complete(ctx context.Context, t *turn) error {
	defer func() {
		s.mu.Lock()
		s.streaming = false
		s.mu.Unlock()
	}()

	var result error
	s.completer.StreamCompletionWithTools(ctx, t.history, func(ev model.StreamEvent) {
		if s.opts.Observer != nil {
			s.opts.Observer(t.chatUUID, ev)
		}

		switch {
		case ev.Finished:
			result = s.finish(ctx, t, ev.Err)
		case len(ev.ToolCalls) > 0:
			a := s.ensureAssistant(t)
			a.ToolCalls = append([]model.ToolCall(nil), ev.ToolCalls...)
			s.syncAssistant(t)
		case ev.Content != "":
			a := s.ensureAssistant(t)
			a.Content = a.Content.Append(ev.Content)
			s.syncAssistant(t)
		}
	}, t.modelID, t.server, func(request model.Message, results []model.Message) {
		if err := s.persistToolRound(ctx, t, request, results); err != nil {
			s.log.Error().Err(err).Str("chat", t.chatUUID).Msg("failed to save tool round")
		}
	})

	return result
}

// ensureAssistant returns the reply being built, starting a new one when
// the previous one was already persisted.
func (s *Store) ensureAssistant(t *turn) *model.Message {
	if t.assistant == nil {
		t.assistant = &model.Message{
			ID:        newMessageID(),
			ChatID:    t.chatID,
			Model:     t.modelID,
			Role:      model.RoleAssistant,
			Content:   model.NullContent(),
			Timestamp: s.opts.Now(),
		}
	}
	return t.assistant
}

// syncAssistant mirrors the reply into memory if its chat is still active.
func (s *Store) syncAssistant(t *turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chatUUID != t.chatUUID || t.assistant == nil {
		return
	}
	s.upsertLocked(t.assistant.Clone())
}

func (s *Store) persistToolRound(ctx context.Context, t *turn, request model.Message, results []model.Message) error {
	a := s.ensureAssistant(t)
	a.ToolCalls = request.ToolCalls
	if a.Content.IsNull() && !request.Content.IsNull() {
		a.Content = request.Content
	}
	s.syncAssistant(t)

	if err := s.persistAssistant(ctx, t); err != nil {
		return err
	}

	for _, res := range results {
		res.ChatID = t.chatID
		if res.Model == "" {
			res.Model = t.modelID
		}
		if err := s.db.AddMessage(ctx, t.chatID, res); err != nil {
			return err
		}
		s.mu.Lock()
		if s.chatUUID == t.chatUUID {
			s.messages = append(s.messages, res.Clone())
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) persistAssistant(ctx context.Context, t *turn) error {
	a := t.assistant
	if a == nil {
		return nil
	}
	t.assistant = nil

	msg := a.Clone()
	msg.ChatID = t.chatID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.opts.Now()
	}
	if err := s.db.AddMessage(ctx, t.chatID, msg); err != nil {
		return fmt.Errorf("failed to save reply: %w", err)
	}
	return nil
}

func (s *Store) finish(ctx context.Context, t *turn, streamErr error) error {
	a := t.assistant
	empty := a == nil || (a.Content.IsNull() && len(a.ToolCalls) == 0)

	if empty {
		if a != nil {
			s.mu.Lock()
			if s.chatUUID == t.chatUUID {
				s.removeLocked(a.ID)
			}
			s.mu.Unlock()
			t.assistant = nil
		}
		if streamErr != nil {
			s.log.Warn().Err(streamErr).Str("chat", t.chatUUID).Msg("reply failed")
		}
		return streamErr
	}

	if err := s.persistAssistant(ctx, t); err != nil {
		return errors.Join(streamErr, err)
	}
	return streamErr
}

// DeleteChatSession deletes a chat. Deleting the active chat starts a new
// session.
func (s *Store) DeleteChatSession(ctx context.Context, chatUUID string) error {
	deleted, err := s.db.DeleteChatAndMessagesByUUID(ctx, chatUUID)
	if err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", chatUUID, err)
	}
	if deleted && s.opts.Listing != nil {
		s.opts.Listing.ChatRemoved(chatUUID)
	}

	s.mu.Lock()
	if s.chatUUID == chatUUID {
		s.startNewChatLocked()
	}
	s.mu.Unlock()
	return nil
}

// DeleteAllChats removes every chat and starts a new session.
func (s *Store) DeleteAllChats(ctx context.Context) error {
	if _, err := s.db.DeleteAllChats(ctx); err != nil {
		return fmt.Errorf("failed to delete chats: %w", err)
	}
	if s.opts.Listing != nil {
		s.opts.Listing.ChatsCleared()
	}

	s.mu.Lock()
	s.startNewChatLocked()
	s.mu.Unlock()
	return nil
}

// MarkSeen flags every message of the active chat as seen.
func (s *Store) MarkSeen(ctx context.Context) error {
	s.mu.Lock()
	chatUUID, chatID := s.chatUUID, s.chatID
	s.mu.Unlock()
	if chatID == 0 {
		return nil
	}

	if err := s.db.MarkMessagesSeen(ctx, chatID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.chatUUID == chatUUID {
		for i := range s.messages {
			s.messages[i].Seen = true
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) notifyAdded(chat model.Chat) {
	if s.opts.Listing != nil {
		s.opts.Listing.ChatAdded(chat)
	}
}

// caller holds s.mu
func (s *Store) upsertLocked(msg model.Message) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			return
		}
	}
	s.messages = append(s.messages, msg)
}

// caller holds s.mu
func (s *Store) removeLocked(ids ...string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.messages[:0]
	for _, m := range s.messages {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	s.messages = kept
}

func cloneMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func newMessageID() string {
	return gonanoid.Must()
}
