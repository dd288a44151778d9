package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// CreateDefaultConfig writes the commented template to path unless a file
// already exists there. It reports whether a file was written.
func CreateDefaultConfig(path string) (bool, error) {
	if FileExists(path) {
		return false, nil
	}
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateConfigTemplate()), 0600); err != nil {
		return false, fmt.Errorf("failed to write config: %w", err)
	}
	return true, nil
}
