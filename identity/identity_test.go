package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadGeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node", "identity")

	id, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected non-empty identity")
	}

	// A second load must return the same identity.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("Second Load failed: %v", err)
	}
	if again != id {
		t.Errorf("Identity changed across loads: %s vs %s", id, again)
	}
}

func TestLoadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")
	if err := os.WriteFile(path, []byte("node-fixed-id\n"), 0o600); err != nil {
		t.Fatalf("Failed to write identity file: %v", err)
	}

	id, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if id != "node-fixed-id" {
		t.Errorf("Expected node-fixed-id, got %q", id)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("Failed to write identity file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for empty identity file")
	}
}
