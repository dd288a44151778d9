package config

const DefaultSystemPrompt = "You are a helpful assistant. Use the available tools when they help answer the user."

func DefaultConfig() *Config {
	return &Config{
		DataDirectory: GetDefaultDataDir(),
		DefaultModel:  "gpt-4o-mini",
		SystemPrompt:  DefaultSystemPrompt,
		Temperature:   0.7,
		LogLevel:      "info",
		Providers: map[string]ProviderConfig{
			"openai": {
				APIBaseURL:    "https://api.openai.com/v1",
				CredentialKey: "openai",
			},
		},
		Models: map[string]ModelConfig{
			"gpt-4o-mini": {Provider: "openai"},
		},
		MCPServers: map[string]ServerConfig{},
	}
}

func GenerateConfigTemplate() string {
	return `# chatmcp configuration
# Location: ~/.config/chatmcp/config.toml
# This file uses TOML format: https://toml.io

# Directory holding chats.db, credentials.toml and tools.toml
data_directory = "~/.local/share/chatmcp"

# Model used when none is given on the command line
default_model = "gpt-4o-mini"

# MCP server whose tools are offered to the model
default_server = ""

system_prompt = "You are a helpful assistant. Use the available tools when they help answer the user."
temperature = 0.7

# trace, debug, info, warn, error, silent
log_level = "info"

# OpenAI-compatible upstreams. API keys live in credentials.toml under
# credential_key, or in CHATMCP_KEY_<KEY>.
[providers.openai]
api_base_url = "https://api.openai.com/v1"
credential_key = "openai"

# [providers.openrouter]
# api_base_url = "https://openrouter.ai/api/v1"
# credential_key = "openrouter"

# [providers.ollama]
# api_base_url = "http://localhost:11434/v1"

[models."gpt-4o-mini"]
provider = "openai"

# [mcp_servers.weather]
# url = "http://localhost:8080"
# transport = "sse"            # or "streamable-http"
# headers = { Authorization = "Bearer ..." }

[profile]
# Facts about you that are added to every system prompt
facts = []
`
}
