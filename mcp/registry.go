package mcp

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sahilm/fuzzy"

	"chatmcp/logging"
)

// ToggleStore persists explicit per-tool activation choices.
type ToggleStore interface {
	Lookup(server, tool string) (active, explicit bool)
	// Toggled reports whether any tool of server was ever explicitly toggled.
	Toggled(server string) bool
	Set(server, tool string, active bool) error
}

// Registry is the shared, observable view of every tool discovered per
// server. Readers always get copies.
type Registry struct {
	mu          sync.RWMutex
	servers     map[string][]ToolDefinition
	toggles     ToggleStore
	log         *logging.Logger
	subscribers map[int]func(server string, tools []ToolDefinition)
	nextSub     int
}

func NewRegistry(toggles ToggleStore, log *logging.Logger) *Registry {
	return &Registry{
		servers:     make(map[string][]ToolDefinition),
		toggles:     toggles,
		log:         log.Sub("registry"),
		subscribers: make(map[int]func(string, []ToolDefinition)),
	}
}

// Publish replaces the tool list for server. Tools with an explicit toggle
// keep it. The rest start active only while the server has never been
// toggled; after that, new tools need an explicit opt-in.
func (r *Registry) Publish(server string, tools []ToolDefinition) {
	defaultActive := r.toggles == nil || !r.toggles.Toggled(server)

	list := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		t.IsActive = defaultActive
		if r.toggles != nil {
			if active, explicit := r.toggles.Lookup(server, t.Name); explicit {
				t.IsActive = active
			}
		}
		list[i] = t
	}

	r.mu.Lock()
	r.servers[server] = list
	subs := r.subscriberList()
	r.mu.Unlock()

	r.log.Debug().Str("server", server).Int("tools", len(list)).Msg("published tools")
	r.notify(subs, server, list)
}

// Tools returns a copy of the list published for server. The bool reports
// whether anything was ever published.
func (r *Registry) Tools(server string) ([]ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, ok := r.servers[server]
	if !ok {
		return nil, false
	}
	return append([]ToolDefinition(nil), list...), true
}

// ActiveTools returns the tools of server the model may be offered.
func (r *Registry) ActiveTools(server string) []ToolDefinition {
	list, _ := r.Tools(server)
	active := list[:0]
	for _, t := range list {
		if t.IsActive {
			active = append(active, t)
		}
	}
	return active
}

// Snapshot copies the whole registry.
func (r *Registry) Snapshot() map[string][]ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]ToolDefinition, len(r.servers))
	for name, list := range r.servers {
		out[name] = append([]ToolDefinition(nil), list...)
	}
	return out
}

// FindActive looks up an active tool by the name the model used. Names are
// compared after sanitization so advertised and dispatched names agree.
// Servers are scanned in name order.
func (r *Registry) FindActive(name string) (string, ToolDefinition, bool) {
	want := SanitizeToolName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, server := range r.sortedServers() {
		for _, t := range r.servers[server] {
			if t.IsActive && (t.Name == name || SanitizeToolName(t.Name) == want) {
				return server, t, true
			}
		}
	}
	return "", ToolDefinition{}, false
}

// SetToolActive flips the active flag on a published tool and records the
// choice so it survives rediscovery.
func (r *Registry) SetToolActive(server, tool string, active bool) error {
	r.mu.Lock()
	list, ok := r.servers[server]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}

	idx := -1
	for i, t := range list {
		if t.Name == tool {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("server %s has no tool named %q", server, tool)
	}

	updated := append([]ToolDefinition(nil), list...)
	updated[idx].IsActive = active
	r.servers[server] = updated
	subs := r.subscriberList()
	r.mu.Unlock()

	if r.toggles != nil {
		if err := r.toggles.Set(server, tool, active); err != nil {
			return fmt.Errorf("failed to persist toggle: %w", err)
		}
	}

	r.notify(subs, server, updated)
	return nil
}

// Subscribe registers fn to be called after every change. The returned
// function removes the subscription.
func (r *Registry) Subscribe(fn func(server string, tools []ToolDefinition)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}

// ToolMatch is one fuzzy search hit.
type ToolMatch struct {
	Server string
	Tool   ToolDefinition
	Score  int
}

type toolSource []ToolMatch

func (s toolSource) String(i int) string { return s[i].Server + "/" + s[i].Tool.Name }
func (s toolSource) Len() int            { return len(s) }

// Search fuzzy-matches query against "server/tool" across every server.
func (r *Registry) Search(query string) []ToolMatch {
	r.mu.RLock()
	var src toolSource
	for _, server := range r.sortedServers() {
		for _, t := range r.servers[server] {
			src = append(src, ToolMatch{Server: server, Tool: t})
		}
	}
	r.mu.RUnlock()

	if query == "" {
		return []ToolMatch(src)
	}

	matches := fuzzy.FindFrom(query, src)
	out := make([]ToolMatch, 0, len(matches))
	for _, m := range matches {
		hit := src[m.Index]
		hit.Score = m.Score
		out = append(out, hit)
	}
	return out
}

// caller holds r.mu
func (r *Registry) sortedServers() []string {
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// caller holds r.mu
func (r *Registry) subscriberList() []func(string, []ToolDefinition) {
	subs := make([]func(string, []ToolDefinition), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func (r *Registry) notify(subs []func(string, []ToolDefinition), server string, list []ToolDefinition) {
	for _, fn := range subs {
		fn(server, append([]ToolDefinition(nil), list...))
	}
}
