package capacity

import (
	"testing"
)

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"512MB", 512 * 1024 * 1024},
		{"2GB", 2 * 1024 * 1024 * 1024},
		{"1TB", 1 << 40},
		{"64KB", 64 * 1024},
		{"100B", 100},
		{"1024", 1024},
		{"1.5GB", 1610612736},
		{" 8GB ", 8 * 1024 * 1024 * 1024},
		{"512mb", 512 * 1024 * 1024},
	}
	for _, c := range cases {
		got, err := ParseSize(c.in)
		if err != nil {
			t.Errorf("ParseSize(%q) failed: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseSizeInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-5GB", "GB", "12XB"} {
		if _, err := ParseSize(in); err == nil {
			t.Errorf("ParseSize(%q) should have failed", in)
		}
	}
}

func TestMemoryLimitDefaults(t *testing.T) {
	if got := MemoryLimit(""); got != DefaultMemoryBytes {
		t.Errorf("Expected default for empty value, got %d", got)
	}
	if got := MemoryLimit("not-a-size"); got != DefaultMemoryBytes {
		t.Errorf("Expected default for unparsable value, got %d", got)
	}
	if got := MemoryLimit("512MB"); got != 512*1024*1024 {
		t.Errorf("Expected 512MB parsed, got %d", got)
	}
}

func TestResolveExplicitValues(t *testing.T) {
	c, err := Resolve(Spec{
		CPUCores: "4",
		Memory:   "8GB",
		Storage:  "100GB",
		Network:  "100",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if c.CPUCores != 4 {
		t.Errorf("Expected 4 cores, got %f", c.CPUCores)
	}
	if c.MemoryBytes != 8*1024*1024*1024 {
		t.Errorf("Expected 8GB memory, got %d", c.MemoryBytes)
	}
	if c.StorageBytes != 100*1024*1024*1024 {
		t.Errorf("Expected 100GB storage, got %d", c.StorageBytes)
	}
	if c.NetworkMbps != 100 {
		t.Errorf("Expected 100 Mbps, got %f", c.NetworkMbps)
	}
}

func TestResolveAutoDetects(t *testing.T) {
	c, err := Resolve(Spec{})
	if err != nil {
		t.Fatalf("Resolve with auto values failed: %v", err)
	}
	if c.CPUCores <= 0 {
		t.Errorf("Expected detected cpu cores > 0, got %f", c.CPUCores)
	}
	if c.MemoryBytes <= 0 {
		t.Errorf("Expected detected memory > 0, got %d", c.MemoryBytes)
	}
	if c.StorageBytes <= 0 {
		t.Errorf("Expected detected storage > 0, got %d", c.StorageBytes)
	}
	if c.NetworkMbps != DefaultNetworkMbps {
		t.Errorf("Expected default network throughput, got %f", c.NetworkMbps)
	}
}

func TestResolveInvalidValues(t *testing.T) {
	if _, err := Resolve(Spec{CPUCores: "-2"}); err == nil {
		t.Error("Expected error for negative cpu_cores")
	}
	if _, err := Resolve(Spec{CPUCores: "4", Memory: "lots"}); err == nil {
		t.Error("Expected error for unparsable memory")
	}
}
