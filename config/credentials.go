package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// CredentialStore holds API keys keyed by credential lookup key. Keys are
// read from a plaintext credentials.toml; CHATMCP_KEY_<KEY> environment
// variables take precedence.
type CredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]string
	dataDir     string
}

type credentialsFile struct {
	Credentials map[string]string `toml:"credentials"`
}

func NewCredentialStore(dataDir string) *CredentialStore {
	return &CredentialStore{
		credentials: make(map[string]string),
		dataDir:     dataDir,
	}
}

// Load reads credentials.toml. A missing file is not an error.
func (c *CredentialStore) Load() error {
	path := credentialsPath(c.dataDir)
	if !FileExists(path) {
		return nil
	}

	var cf credentialsFile
	if _, err := toml.DecodeFile(path, &cf); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials = make(map[string]string, len(cf.Credentials))
	for k, v := range cf.Credentials {
		c.credentials[k] = v
	}
	return nil
}

// Save writes credentials.toml with 0600 permissions.
func (c *CredentialStore) Save() error {
	if err := EnsureDir(c.dataDir); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	c.mu.RLock()
	cf := credentialsFile{Credentials: make(map[string]string, len(c.credentials))}
	for k, v := range c.credentials {
		cf.Credentials[k] = v
	}
	c.mu.RUnlock()

	f, err := os.OpenFile(credentialsPath(c.dataDir), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create credentials file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cf); err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	return nil
}

// Get returns the credential for key, or "" when none is known.
func (c *CredentialStore) Get(key string) string {
	if v := os.Getenv(credentialEnvVar(key)); v != "" {
		return v
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credentials[key]
}

func (c *CredentialStore) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials[key] = value
}

func (c *CredentialStore) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.credentials, key)
}

func credentialsPath(dataDir string) string {
	return filepath.Join(dataDir, "credentials.toml")
}

// credentialEnvVar maps "open-router.v1" to CHATMCP_KEY_OPEN_ROUTER_V1.
func credentialEnvVar(key string) string {
	var b strings.Builder
	b.WriteString("CHATMCP_KEY_")
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
