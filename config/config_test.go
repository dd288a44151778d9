package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadParsesServersProvidersAndModels(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	path := writeConfig(t, `
data_directory = "`+dataDir+`"
default_model = "llama"
default_server = "weather"
temperature = 0.2

[providers.ollama]

[providers.openrouter]
credential_key = "or-key"

[models.llama]
provider = "ollama"
name = "llama3.1:latest"

[mcp_servers.weather]
url = "http://localhost:9000"

[mcp_servers.files]
url = "http://localhost:9001/mcp"
transport = "streamable-http"
headers = { Authorization = "Bearer x" }

[profile]
facts = ["Lives in Lisbon"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir())
	assert.Equal(t, "llama", cfg.DefaultModel)
	assert.Equal(t, 0.2, cfg.Temperature)
	assert.Equal(t, []string{"files", "weather"}, cfg.ServerNames())
	assert.Equal(t, TransportSSE, cfg.MCPServers["weather"].ServerTransport())
	assert.Equal(t, TransportStreamableHTTP, cfg.MCPServers["files"].ServerTransport())
	assert.Equal(t, "Bearer x", cfg.MCPServers["files"].Headers["Authorization"])
	assert.Equal(t, []string{"Lives in Lisbon"}, cfg.Profile.Facts)

	// defaults filled per provider id
	assert.Equal(t, "http://localhost:11434/v1", cfg.Providers["ollama"].APIBaseURL)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.Providers["openrouter"].APIBaseURL)
	assert.Equal(t, "or-key", cfg.Providers["openrouter"].CredentialKey)

	info, err := os.Stat(dataDir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CHATMCP_DATA_DIR", t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.DefaultModel)
	assert.Equal(t, DefaultSystemPrompt, cfg.SystemPrompt)
}

func TestEnvOverrides(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CHATMCP_DATA_DIR", dataDir)
	t.Setenv("CHATMCP_MODEL", "other")
	t.Setenv("CHATMCP_TEMPERATURE", "1.5")
	t.Setenv("CHATMCP_DEBUG", "1")

	cfg, err := Load(writeConfig(t, `default_model = "gpt-4o-mini"`))
	require.NoError(t, err)
	assert.Equal(t, dataDir, cfg.DataDir())
	assert.Equal(t, "other", cfg.DefaultModel)
	assert.Equal(t, 1.5, cfg.Temperature)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestResolveModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers["local"] = ProviderConfig{APIBaseURL: "http://127.0.0.1:8000/v1"}
	cfg.Providers["nourl"] = ProviderConfig{}
	cfg.Models["alias"] = ModelConfig{Provider: "local", Name: "real-name"}
	cfg.Models["orphan"] = ModelConfig{Provider: "missing"}
	cfg.Models["broken"] = ModelConfig{Provider: "nourl"}

	tests := []struct {
		name    string
		modelID string
		want    Endpoint
		wantErr error
	}{
		{
			name:    "default model",
			modelID: "",
			want:    Endpoint{ProviderID: "openai", BaseURL: "https://api.openai.com/v1", CredentialKey: "openai", Model: "gpt-4o-mini"},
		},
		{
			name:    "aliased model with implicit credential key",
			modelID: "alias",
			want:    Endpoint{ProviderID: "local", BaseURL: "http://127.0.0.1:8000/v1", CredentialKey: "local", Model: "real-name"},
		},
		{name: "unknown model", modelID: "nope", wantErr: ErrModelNotConfigured},
		{name: "unknown provider", modelID: "orphan", wantErr: ErrProviderNotConfigured},
		{name: "provider without url", modelID: "broken", wantErr: ErrProviderNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.ResolveModel(tt.modelID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialStoreRoundTripAndEnvPrecedence(t *testing.T) {
	dataDir := t.TempDir()

	store := NewCredentialStore(dataDir)
	store.Set("openai", "sk-file")
	store.Set("open-router.v1", "or-file")
	require.NoError(t, store.Save())

	info, err := os.Stat(filepath.Join(dataDir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := NewCredentialStore(dataDir)
	require.NoError(t, loaded.Load())
	assert.Equal(t, "sk-file", loaded.Get("openai"))

	t.Setenv("CHATMCP_KEY_OPEN_ROUTER_V1", "or-env")
	assert.Equal(t, "or-env", loaded.Get("open-router.v1"))

	loaded.Delete("openai")
	assert.Empty(t, loaded.Get("openai"))
}

func TestToolTogglesPersist(t *testing.T) {
	dataDir := t.TempDir()

	tt, err := LoadToolToggles(dataDir)
	require.NoError(t, err)
	assert.False(t, tt.Toggled("weather"))

	require.NoError(t, tt.Set("weather", "get_forecast", false))
	assert.True(t, tt.Toggled("weather"))

	reloaded, err := LoadToolToggles(dataDir)
	require.NoError(t, err)
	active, explicit := reloaded.Lookup("weather", "get_forecast")
	assert.True(t, explicit)
	assert.False(t, active)

	_, explicit = reloaded.Lookup("weather", "get_alerts")
	assert.False(t, explicit)
}

func TestCreateDefaultConfigDoesNotOverwrite(t *testing.T) {
	t.Setenv("CHATMCP_DATA_DIR", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	written, err := CreateDefaultConfig(path)
	require.NoError(t, err)
	assert.True(t, written)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.DefaultModel)

	written, err = CreateDefaultConfig(path)
	require.NoError(t, err)
	assert.False(t, written)
}
