package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// ServerToggles records explicit per-tool activation choices for one server.
type ServerToggles struct {
	Tools map[string]bool `toml:"tools"`
}

// ToolToggles persists tool activation choices in <dataDir>/tools.toml.
// A server without entries has never been explicitly toggled.
type ToolToggles struct {
	mu      sync.RWMutex
	Servers map[string]ServerToggles `toml:"servers"`
	path    string
}

// NewToolToggles returns an in-memory store that never touches disk.
func NewToolToggles() *ToolToggles {
	return &ToolToggles{Servers: make(map[string]ServerToggles)}
}

func LoadToolToggles(dataDir string) (*ToolToggles, error) {
	path := filepath.Join(dataDir, "tools.toml")
	tt := &ToolToggles{Servers: make(map[string]ServerToggles), path: path}

	if !FileExists(path) {
		return tt, nil
	}

	if _, err := toml.DecodeFile(path, tt); err != nil {
		return nil, fmt.Errorf("failed to decode tools config: %w", err)
	}
	if tt.Servers == nil {
		tt.Servers = make(map[string]ServerToggles)
	}
	return tt, nil
}

// Lookup returns the explicit choice for a tool and whether one exists.
func (tt *ToolToggles) Lookup(server, tool string) (active bool, explicit bool) {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	entry, ok := tt.Servers[server]
	if !ok {
		return false, false
	}
	active, explicit = entry.Tools[tool]
	return active, explicit
}

// Toggled reports whether any tool of server was ever explicitly toggled.
func (tt *ToolToggles) Toggled(server string) bool {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return len(tt.Servers[server].Tools) > 0
}

// Set records an explicit choice and persists it when backed by a file.
func (tt *ToolToggles) Set(server, tool string, active bool) error {
	tt.mu.Lock()
	entry := tt.Servers[server]
	if entry.Tools == nil {
		entry.Tools = make(map[string]bool)
	}
	entry.Tools[tool] = active
	tt.Servers[server] = entry
	tt.mu.Unlock()

	return tt.save()
}

func (tt *ToolToggles) save() error {
	if tt.path == "" {
		return nil
	}
	if err := EnsureDir(filepath.Dir(tt.path)); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	f, err := os.OpenFile(tt.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create tools config file: %w", err)
	}
	defer f.Close()

	tt.mu.RLock()
	defer tt.mu.RUnlock()
	if err := toml.NewEncoder(f).Encode(tt); err != nil {
		return fmt.Errorf("failed to encode tools config: %w", err)
	}
	return nil
}
