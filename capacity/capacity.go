// Package capacity models the resources a node advertises to the network:
// CPU cores, memory, storage and network throughput. Values come from
// configuration, where "auto" means detected from the host at startup.
package capacity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultMemoryBytes is the memory limit applied to a workload whose
// declared memory requirement is absent or unparsable.
const DefaultMemoryBytes int64 = 256 * 1024 * 1024

// DefaultNetworkMbps is advertised when network throughput is set to "auto";
// link speed is not reliably detectable from userspace.
const DefaultNetworkMbps = 1000.0

// Capacity is the set of resources a node declares to its peers.
type Capacity struct {
	CPUCores     float64 `json:"cpuCores" yaml:"cpu_cores"`
	MemoryBytes  int64   `json:"memoryBytes" yaml:"memory_bytes"`
	StorageBytes int64   `json:"storageBytes" yaml:"storage_bytes"`
	NetworkMbps  float64 `json:"networkMbps" yaml:"network_mbps"`
}

// Spec declares capacity in configuration form. Each field is either a
// concrete value ("8", "16GB", "500") or "auto".
type Spec struct {
	CPUCores string `yaml:"cpu_cores"`
	Memory   string `yaml:"memory"`
	Storage  string `yaml:"storage"`
	Network  string `yaml:"network"`
}

// Resolve turns a Spec into a concrete Capacity, detecting "auto" values
// from the host.
func Resolve(spec Spec) (Capacity, error) {
	var c Capacity

	switch spec.CPUCores {
	case "", "auto":
		count, err := cpu.Counts(true)
		if err != nil {
			return c, fmt.Errorf("failed to detect cpu cores: %w", err)
		}
		c.CPUCores = float64(count)
	default:
		cores, err := strconv.ParseFloat(spec.CPUCores, 64)
		if err != nil || cores <= 0 {
			return c, fmt.Errorf("invalid cpu_cores value %q", spec.CPUCores)
		}
		c.CPUCores = cores
	}

	switch spec.Memory {
	case "", "auto":
		vm, err := mem.VirtualMemory()
		if err != nil {
			return c, fmt.Errorf("failed to detect memory: %w", err)
		}
		c.MemoryBytes = int64(vm.Total)
	default:
		bytes, err := ParseSize(spec.Memory)
		if err != nil {
			return c, fmt.Errorf("invalid memory value %q: %w", spec.Memory, err)
		}
		c.MemoryBytes = bytes
	}

	switch spec.Storage {
	case "", "auto":
		usage, err := disk.Usage("/")
		if err != nil {
			return c, fmt.Errorf("failed to detect storage: %w", err)
		}
		c.StorageBytes = int64(usage.Total)
	default:
		bytes, err := ParseSize(spec.Storage)
		if err != nil {
			return c, fmt.Errorf("invalid storage value %q: %w", spec.Storage, err)
		}
		c.StorageBytes = bytes
	}

	switch spec.Network {
	case "", "auto":
		c.NetworkMbps = DefaultNetworkMbps
	default:
		mbps, err := strconv.ParseFloat(strings.TrimSuffix(spec.Network, "Mbps"), 64)
		if err != nil || mbps <= 0 {
			return c, fmt.Errorf("invalid network value %q", spec.Network)
		}
		c.NetworkMbps = mbps
	}

	return c, nil
}

// ParseSize parses a human-readable size like "512MB", "2GB" or "1024"
// (plain bytes) into a byte count.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	upper := strings.ToUpper(s)
	for _, u := range units {
		if strings.HasSuffix(upper, u.suffix) {
			num := strings.TrimSpace(strings.TrimSuffix(upper, u.suffix))
			value, err := strconv.ParseFloat(num, 64)
			if err != nil || value < 0 {
				return 0, fmt.Errorf("invalid size %q", s)
			}
			return int64(value * float64(u.multiplier)), nil
		}
	}

	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return value, nil
}

// MemoryLimit parses a workload memory requirement, falling back to
// DefaultMemoryBytes when the value is absent or unparsable.
func MemoryLimit(s string) int64 {
	if s == "" {
		return DefaultMemoryBytes
	}
	bytes, err := ParseSize(s)
	if err != nil || bytes <= 0 {
		return DefaultMemoryBytes
	}
	return bytes
}
