package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"chatmcp/config"
	"chatmcp/conversation"
	"chatmcp/logging"
	"chatmcp/mcp"
	"chatmcp/model"
	"chatmcp/provider"
	"chatmcp/storage"
)

// app holds the collaborators a command needs. Everything is built from
// the loaded config.
type app struct {
	db       *storage.DB
	creds    *config.CredentialStore
	toggles  *config.ToolToggles
	registry *mcp.Registry
	manager  *mcp.Manager
	executor *mcp.Executor
	chat     *provider.ChatClient
	store    *conversation.Store
}

type appOptions struct {
	modelID  string
	server   string
	feedback mcp.FeedbackSink
	observer conversation.Observer
}

func newApp(opts appOptions) (*app, error) {
	db, err := storage.Open(config.GetDatabasePath(cfg.DataDir()), log)
	if err != nil {
		return nil, err
	}

	creds := config.NewCredentialStore(cfg.DataDir())
	if err := creds.Load(); err != nil {
		db.Close()
		return nil, err
	}

	toggles, err := config.LoadToolToggles(cfg.DataDir())
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{db: db, creds: creds, toggles: toggles}
	a.registry = mcp.NewRegistry(toggles, log)
	toolsLog := log.Sub("tools")
	a.registry.Subscribe(func(server string, tools []mcp.ToolDefinition) {
		toolsLog.Debug().
			Str("server", server).
			Int("tools", len(tools)).
			Int("active", len(a.registry.ActiveTools(server))).
			Msg("tool list changed")
	})
	a.manager = mcp.NewManager(cfg.MCPServers, a.registry, log)
	a.executor = mcp.NewExecutor(a.registry, a.manager, log, mcp.NewFeedbackTool(opts.feedback))
	a.chat = provider.NewChatClient(cfg, creds, log, provider.WithTools(a.manager, a.executor))

	modelID := opts.modelID
	if modelID == "" {
		modelID = cfg.DefaultModel
	}
	server := opts.server
	if server == "" {
		server = cfg.DefaultServer
	}

	a.store = conversation.NewStore(db, a.chat, log, conversation.Options{
		ModelID:      modelID,
		ServerName:   server,
		SystemPrompt: cfg.SystemPrompt,
		Listing:      loggedListing{log: log.Sub("chats")},
		Observer:     opts.observer,
	})
	return a, nil
}

func (a *app) Close() {
	a.manager.CloseAll()
	a.db.Close()
}

// loggedListing records chat list changes. The CLI has no live list to
// refresh.
type loggedListing struct {
	log *logging.Logger
}

func (l loggedListing) ChatAdded(chat model.Chat) {
	l.log.Debug().Str("chat", chat.UUID).Str("title", chat.Title).Msg("chat added")
}

func (l loggedListing) ChatRemoved(chatUUID string) {
	l.log.Debug().Str("chat", chatUUID).Msg("chat removed")
}

func (l loggedListing) ChatsCleared() {
	l.log.Debug().Msg("all chats removed")
}

// promptFeedback asks the user on the terminal when the model calls the
// feedback tool. A numeric answer picks one of the offered options.
func promptFeedback(in io.Reader, out io.Writer) mcp.FeedbackSink {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, req mcp.FeedbackRequest) (string, error) {
		fmt.Fprintf(out, "\n? %s\n", req.Question)
		for i, opt := range req.Options {
			fmt.Fprintf(out, "  %d) %s\n", i+1, opt)
		}
		fmt.Fprint(out, "> ")

		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read answer: %w", err)
		}
		answer := strings.TrimSpace(line)
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(req.Options) {
			answer = req.Options[n-1]
		}
		return answer, nil
	}
}
