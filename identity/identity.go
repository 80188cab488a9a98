// Package identity manages the node's persistent identity: a UUID generated
// on first start and stored in a file so the node keeps the same identity
// across restarts.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Load returns the node identity stored at path, generating and persisting
// a new one if the file does not exist.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id == "" {
			return "", fmt.Errorf("identity file %s is empty", path)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read identity file: %w", err)
	}

	id := uuid.NewString()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("failed to create identity directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist identity: %w", err)
	}
	return id, nil
}
