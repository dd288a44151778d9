package config

import (
	"fmt"
	"sort"
)

// Endpoint is the resolved upstream for one model id.
type Endpoint struct {
	ProviderID    string
	BaseURL       string
	CredentialKey string
	Model         string // upstream model name
}

// ResolveModel maps a model id to its provider endpoint. It does not look up
// the credential itself.
func (c *Config) ResolveModel(modelID string) (Endpoint, error) {
	if modelID == "" {
		modelID = c.DefaultModel
	}
	m, ok := c.Models[modelID]
	if !ok || m.Provider == "" {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrModelNotConfigured, modelID)
	}

	p, ok := c.Providers[m.Provider]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q (model %q)", ErrProviderNotConfigured, m.Provider, modelID)
	}

	baseURL := p.APIBaseURL
	if baseURL == "" {
		baseURL = getProviderDefaultBaseURL(m.Provider)
	}
	if baseURL == "" {
		return Endpoint{}, fmt.Errorf("%w: %q has no api_base_url", ErrProviderNotConfigured, m.Provider)
	}

	credKey := p.CredentialKey
	if credKey == "" {
		credKey = m.Provider
	}

	name := m.Name
	if name == "" {
		name = modelID
	}

	return Endpoint{
		ProviderID:    m.Provider,
		BaseURL:       baseURL,
		CredentialKey: credKey,
		Model:         name,
	}, nil
}

// ServerNames returns the configured MCP server names in sorted order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiresCredential reports whether the provider needs an API key.
// Local Ollama serves its OpenAI-compatible API without one.
func RequiresCredential(providerID string) bool {
	return providerID != "ollama"
}

// getProviderDefaultBaseURL returns the default base URL for a provider
func getProviderDefaultBaseURL(providerID string) string {
	switch providerID {
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "openai":
		return "https://api.openai.com/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
