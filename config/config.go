package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gridmesh/gridmesh/capacity"
	"github.com/gridmesh/gridmesh/ledger"
)

// NodeConfig holds this node's identity and addresses.
type NodeConfig struct {
	IDFile        string `yaml:"id_file"`
	ListenAddr    string `yaml:"listen_addr"`
	AdvertiseAddr string `yaml:"advertise_addr"`
}

// CooperativeConfig is informational membership metadata, opaque to the
// core and advertised as-is.
type CooperativeConfig struct {
	ID   string `yaml:"id"`
	Tier string `yaml:"tier"`
}

// LedgerConfig selects and parameterizes the persistent store behind the
// credit ledger.
type LedgerConfig struct {
	Store    string                `yaml:"store"` // memory, badger or postgres
	Path     string                `yaml:"path"`  // badger database directory
	Postgres ledger.PostgresConfig `yaml:"postgres"`
}

// IntervalsConfig tunes the background loops. Zero means the default.
type IntervalsConfig struct {
	Metering  time.Duration `yaml:"metering"`
	Discovery time.Duration `yaml:"discovery"`
}

// Config is the root configuration structure
type Config struct {
	Version     int               `yaml:"version"`
	Node        NodeConfig        `yaml:"node"`
	Capacity    capacity.Spec     `yaml:"capacity"`
	Bootstrap   []string          `yaml:"bootstrap"`
	Cooperative CooperativeConfig `yaml:"cooperative"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Intervals   IntervalsConfig   `yaml:"intervals"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a runnable configuration for a single local node.
func Default() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Node.IDFile == "" {
		c.Node.IDFile = "gridmesh-node.id"
	}
	if c.Node.ListenAddr == "" {
		c.Node.ListenAddr = ":7400"
	}
	if c.Node.AdvertiseAddr == "" {
		c.Node.AdvertiseAddr = "localhost:7400"
	}
	if c.Capacity.CPUCores == "" {
		c.Capacity.CPUCores = "auto"
	}
	if c.Capacity.Memory == "" {
		c.Capacity.Memory = "auto"
	}
	if c.Capacity.Storage == "" {
		c.Capacity.Storage = "auto"
	}
	// Ledger state must survive restarts; the memory store is opt-in.
	if c.Ledger.Store == "" {
		c.Ledger.Store = ledger.StoreBadger
	}
	if c.Ledger.Store == ledger.StoreBadger && c.Ledger.Path == "" {
		c.Ledger.Path = "gridmesh-ledger"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}

	if c.Node.ListenAddr == "" {
		return fmt.Errorf("node listen_addr is required")
	}
	if c.Node.AdvertiseAddr == "" {
		return fmt.Errorf("node advertise_addr is required")
	}

	switch c.Ledger.Store {
	case ledger.StoreMemory:
	case ledger.StoreBadger:
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger path is required for the badger store")
		}
	case ledger.StorePostgres:
		pg := c.Ledger.Postgres
		if pg.Host == "" || pg.User == "" || pg.Database == "" {
			return fmt.Errorf("ledger postgres host, user and database are required")
		}
	default:
		return fmt.Errorf("unsupported ledger store: %s (memory, badger or postgres)", c.Ledger.Store)
	}

	for i, addr := range c.Bootstrap {
		if addr == "" {
			return fmt.Errorf("bootstrap peer %d: address is empty", i)
		}
	}

	if c.Intervals.Metering < 0 || c.Intervals.Discovery < 0 {
		return fmt.Errorf("intervals must not be negative")
	}

	return nil
}
