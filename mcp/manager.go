package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"chatmcp/config"
	"chatmcp/logging"
)

// DefaultConnectTimeout bounds a whole connect + discovery attempt.
const DefaultConnectTimeout = 30 * time.Second

// ClientFactory builds an unconnected client for a configured server.
type ClientFactory func(name string, cfg config.ServerConfig) (ToolClient, error)

type ManagerOption func(*Manager)

func WithClientFactory(f ClientFactory) ManagerOption {
	return func(m *Manager) { m.factory = f }
}

func WithConnectTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.connectTimeout = d }
}

// ServerStatus is the connection state of one server.
type ServerStatus struct {
	Name       string
	URL        string
	Transport  string
	Connected  bool
	Connecting bool
	Tools      int
	Err        error
}

type connection struct {
	client     ToolClient
	connected  bool
	connecting bool
	err        error
}

// Manager owns one client per configured server. Concurrent connection
// attempts to the same server share a single result, and a failed server is
// retried on the next call that needs it.
type Manager struct {
	servers        map[string]config.ServerConfig
	registry       *Registry
	log            *logging.Logger
	factory        ClientFactory
	connectTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*connection
	group singleflight.Group
}

func NewManager(servers map[string]config.ServerConfig, registry *Registry, log *logging.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		servers:        servers,
		registry:       registry,
		log:            log.Sub("mcp"),
		connectTimeout: DefaultConnectTimeout,
		conns:          make(map[string]*connection),
	}
	m.factory = m.defaultFactory
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) defaultFactory(name string, cfg config.ServerConfig) (ToolClient, error) {
	log := m.log.With("server", name)
	switch cfg.ServerTransport() {
	case config.TransportStreamableHTTP:
		return NewStreamableClient(cfg.URL, cfg.Headers, log), nil
	case config.TransportSSE:
		return NewSSEClient(cfg.URL, WithHeaders(cfg.Headers), WithLogger(log))
	default:
		return nil, fmt.Errorf("server %s: unsupported transport %q", name, cfg.Transport)
	}
}

// Registry returns the shared tool registry the manager publishes into.
func (m *Manager) Registry() *Registry { return m.registry }

// ServerNames lists configured servers in name order.
func (m *Manager) ServerNames() []string {
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnectToServer returns the connected client for name, connecting first if
// needed. Callers racing on the same server share one attempt.
func (m *Manager) ConnectToServer(ctx context.Context, name string) (ToolClient, error) {
	cfg, ok := m.servers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}

	if client, ok := m.liveClient(name); ok {
		return client, nil
	}

	ch := m.group.DoChan(name, func() (any, error) {
		// The attempt outlives any single caller so that joiners are not
		// failed by the first caller going away.
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.connectTimeout)
		defer cancel()
		return m.connect(attemptCtx, name, cfg)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(ToolClient), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// liveClient returns the client of name if its session is still up. A
// client whose transport dropped is closed and forgotten so that the next
// caller dials again.
func (m *Manager) liveClient(name string) (ToolClient, bool) {
	m.mu.Lock()
	conn := m.conns[name]
	if conn == nil || !conn.connected {
		m.mu.Unlock()
		return nil, false
	}
	client := conn.client
	m.mu.Unlock()

	if client.IsConnected() {
		return client, true
	}

	m.mu.Lock()
	if conn.client == client {
		conn.connected = false
		conn.client = nil
		conn.err = ErrNotConnected
	}
	m.mu.Unlock()

	m.log.Warn().Str("server", name).Msg("session dropped, will reconnect")
	client.Close()
	return nil, false
}

func (m *Manager) connect(ctx context.Context, name string, cfg config.ServerConfig) (ToolClient, error) {
	if client, ok := m.liveClient(name); ok {
		return client, nil
	}

	m.mu.Lock()
	conn := m.conns[name]
	if conn == nil {
		conn = &connection{}
		m.conns[name] = conn
	}
	conn.connecting = true
	conn.err = nil
	m.mu.Unlock()

	m.log.Info().Str("server", name).Str("url", cfg.URL).Msg("connecting")

	client, err := m.dial(ctx, name, cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	conn.connecting = false
	if err != nil {
		conn.err = err
		conn.client = nil
		m.log.Warn().Err(err).Str("server", name).Msg("connection failed")
		return nil, err
	}
	conn.client = client
	conn.connected = true
	return client, nil
}

func (m *Manager) dial(ctx context.Context, name string, cfg config.ServerConfig) (ToolClient, error) {
	client, err := m.factory(name, cfg)
	if err != nil {
		return nil, err
	}

	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("list tools %s: %w", name, err)
	}

	m.registry.Publish(name, tools)
	m.log.Info().Str("server", name).Int("tools", len(tools)).Msg("connected")
	return client, nil
}

// InitializeAllConnections connects every configured server concurrently and
// reports the failures by server name. One failing server never stops the
// others.
func (m *Manager) InitializeAllConnections(ctx context.Context) map[string]error {
	var (
		mu   sync.Mutex
		errs = make(map[string]error)
		g    errgroup.Group
	)

	for _, name := range m.ServerNames() {
		g.Go(func() error {
			if _, err := m.ConnectToServer(ctx, name); err != nil {
				mu.Lock()
				errs[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return errs
}

// GetTools returns the tools published for name, connecting if nothing has
// been published yet. ok is false when the server never produced a list.
func (m *Manager) GetTools(ctx context.Context, name string) ([]ToolDefinition, bool) {
	if tools, ok := m.registry.Tools(name); ok {
		return tools, true
	}
	if _, err := m.ConnectToServer(ctx, name); err != nil {
		return nil, false
	}
	return m.registry.Tools(name)
}

// GetClient returns the connected client for name, waiting on any attempt
// already in flight.
func (m *Manager) GetClient(ctx context.Context, name string) (ToolClient, error) {
	return m.ConnectToServer(ctx, name)
}

func (m *Manager) Status(name string) (ServerStatus, bool) {
	cfg, ok := m.servers[name]
	if !ok {
		return ServerStatus{}, false
	}

	st := ServerStatus{Name: name, URL: cfg.URL, Transport: cfg.ServerTransport()}
	var client ToolClient
	m.mu.Lock()
	if conn := m.conns[name]; conn != nil {
		st.Connected = conn.connected
		st.Connecting = conn.connecting
		st.Err = conn.err
		client = conn.client
	}
	m.mu.Unlock()
	if st.Connected && (client == nil || !client.IsConnected()) {
		st.Connected = false
		st.Err = ErrNotConnected
	}

	if tools, ok := m.registry.Tools(name); ok {
		st.Tools = len(tools)
	}
	return st, true
}

func (m *Manager) Statuses() []ServerStatus {
	out := make([]ServerStatus, 0, len(m.servers))
	for _, name := range m.ServerNames() {
		st, _ := m.Status(name)
		out = append(out, st)
	}
	return out
}

// CloseAll closes every client in parallel, giving each a second to finish.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*connection)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for name, conn := range conns {
		if conn.client == nil {
			continue
		}
		wg.Add(1)
		go func(name string, client ToolClient) {
			defer wg.Done()
			if err := closeWithTimeout(client, time.Second); err != nil {
				m.log.Warn().Err(err).Str("server", name).Msg("close failed")
			}
		}(name, conn.client)
	}
	wg.Wait()
}

func closeWithTimeout(client ToolClient, d time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- client.Close() }()

	select {
	case err := <-done:
		return err
	case <-time.After(d):
		return fmt.Errorf("close timed out after %s", d)
	}
}
