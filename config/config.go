package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

var (
	ErrModelNotConfigured    = errors.New("model not configured")
	ErrProviderNotConfigured = errors.New("provider not configured")
	ErrMissingCredential     = errors.New("missing credential")
)

// ProviderConfig describes one OpenAI-compatible upstream.
type ProviderConfig struct {
	APIBaseURL    string `toml:"api_base_url"`
	CredentialKey string `toml:"credential_key,omitempty"`
}

// ModelConfig maps a model id to the provider serving it. Name is the
// upstream model name when it differs from the id.
type ModelConfig struct {
	Provider string `toml:"provider"`
	Name     string `toml:"name,omitempty"`
}

// ServerConfig is one named MCP server.
type ServerConfig struct {
	URL       string            `toml:"url"`
	Transport string            `toml:"transport,omitempty"` // "sse" (default) or "streamable-http"
	Headers   map[string]string `toml:"headers,omitempty"`
}

type ProfileConfig struct {
	Facts []string `toml:"facts,omitempty"`
}

type Config struct {
	DataDirectory string  `toml:"data_directory"`
	DefaultModel  string  `toml:"default_model"`
	DefaultServer string  `toml:"default_server,omitempty"`
	SystemPrompt  string  `toml:"system_prompt,omitempty"`
	Temperature   float64 `toml:"temperature"`
	LogLevel      string  `toml:"log_level,omitempty"`

	Providers  map[string]ProviderConfig `toml:"providers"`
	Models     map[string]ModelConfig    `toml:"models"`
	MCPServers map[string]ServerConfig   `toml:"mcp_servers"`
	Profile    ProfileConfig             `toml:"profile"`
}

const (
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// ServerTransport returns the configured transport for a server, defaulting to SSE.
func (s ServerConfig) ServerTransport() string {
	if s.Transport == "" {
		return TransportSSE
	}
	return s.Transport
}

func (c *Config) applyEnvOverrides() {
	if dataDir := os.Getenv("CHATMCP_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if model := os.Getenv("CHATMCP_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if temp := os.Getenv("CHATMCP_TEMPERATURE"); temp != "" {
		if v, err := strconv.ParseFloat(temp, 64); err == nil {
			c.Temperature = v
		}
	}
	if CheckDebug() {
		c.LogLevel = "debug"
	}
}

func (c *Config) applyDefaults() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if c.Models == nil {
		c.Models = make(map[string]ModelConfig)
	}
	if c.MCPServers == nil {
		c.MCPServers = make(map[string]ServerConfig)
	}
	for id, p := range c.Providers {
		if p.APIBaseURL == "" {
			p.APIBaseURL = getProviderDefaultBaseURL(id)
		}
		if p.CredentialKey == "" {
			p.CredentialKey = id
		}
		c.Providers[id] = p
	}
	if c.DataDirectory == "" {
		c.DataDirectory = GetDefaultDataDir()
	}
}

// CheckDebug reports whether CHATMCP_DEBUG asks for debug logging.
func CheckDebug() bool {
	debug := os.Getenv("CHATMCP_DEBUG")
	return debug == "true" || debug == "1"
}

// OpenDebugLog opens <dataDir>/debug.log for appending with 0600 permissions.
func OpenDebugLog(dataDir string) (io.WriteCloser, error) {
	if err := EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	logPath := filepath.Join(dataDir, "debug.log")
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log at %s: %w", logPath, err)
	}
	return f, nil
}

// Load reads the config file at path (GetConfigFilePath when empty). A
// missing file yields the defaults. Environment overrides apply last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = GetConfigFilePath()
	}

	cfg := DefaultConfig()
	if FileExists(path) {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := EnsureDataDirPermissions(cfg.DataDir()); err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}

	return cfg, nil
}
