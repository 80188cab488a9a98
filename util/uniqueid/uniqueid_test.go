package uniqueid

import (
	"testing"
)

func TestUniqueIdNotEmpty(t *testing.T) {
	id := UniqueId()
	if id == "" {
		t.Error("Expected non-empty id")
	}
}

func TestUniqueIdUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		id := UniqueId()
		if seen[id] {
			t.Fatalf("Duplicate id generated after %d iterations: %s", i, id)
		}
		seen[id] = true
	}
}

func TestUniqueIdURLSafe(t *testing.T) {
	id := UniqueId()
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			t.Errorf("Id %q contains non-URL-safe character %q", id, r)
		}
	}
}
