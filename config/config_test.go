package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gridmesh/gridmesh/ledger"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
version: 1
node:
  id_file: /var/lib/gridmesh/node.id
  listen_addr: ":7400"
  advertise_addr: "10.0.0.5:7400"
capacity:
  cpu_cores: "8"
  memory: "16GB"
  storage: auto
  network: "1000"
bootstrap:
  - peer1.local:7400
  - peer2.local:7400
cooperative:
  id: coop-west
  tier: standard
ledger:
  store: badger
  path: /var/lib/gridmesh/ledger
intervals:
  metering: 10s
  discovery: 1m
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Node.AdvertiseAddr != "10.0.0.5:7400" {
		t.Errorf("Expected advertise addr 10.0.0.5:7400, got %q", cfg.Node.AdvertiseAddr)
	}
	if cfg.Capacity.CPUCores != "8" || cfg.Capacity.Memory != "16GB" {
		t.Errorf("Unexpected capacity spec: %+v", cfg.Capacity)
	}
	if len(cfg.Bootstrap) != 2 || cfg.Bootstrap[0] != "peer1.local:7400" {
		t.Errorf("Unexpected bootstrap list: %v", cfg.Bootstrap)
	}
	if cfg.Cooperative.ID != "coop-west" || cfg.Cooperative.Tier != "standard" {
		t.Errorf("Unexpected cooperative metadata: %+v", cfg.Cooperative)
	}
	if cfg.Ledger.Store != ledger.StoreBadger || cfg.Ledger.Path != "/var/lib/gridmesh/ledger" {
		t.Errorf("Unexpected ledger config: %+v", cfg.Ledger)
	}
	if cfg.Intervals.Metering != 10*time.Second || cfg.Intervals.Discovery != time.Minute {
		t.Errorf("Unexpected intervals: %+v", cfg.Intervals)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "version: 1\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Node.ListenAddr != ":7400" {
		t.Errorf("Expected default listen addr, got %q", cfg.Node.ListenAddr)
	}
	if cfg.Capacity.CPUCores != "auto" || cfg.Capacity.Memory != "auto" {
		t.Errorf("Expected auto capacity defaults, got %+v", cfg.Capacity)
	}
	if cfg.Ledger.Store != ledger.StoreBadger {
		t.Errorf("Expected persistent badger store default, got %q", cfg.Ledger.Store)
	}
	if cfg.Ledger.Path == "" {
		t.Error("Expected a default path for the badger store")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidateVersion(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "version: 2\n")); err == nil {
		t.Error("Expected error for unsupported version")
	}
}

func TestValidateBadgerRequiresPath(t *testing.T) {
	cfg := Default()
	cfg.Ledger.Store = ledger.StoreBadger
	cfg.Ledger.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for badger store without path")
	}
}

func TestValidatePostgresRequiresConnection(t *testing.T) {
	cfg := Default()
	cfg.Ledger.Store = ledger.StorePostgres
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for postgres store without connection settings")
	}
}

func TestValidateUnknownStore(t *testing.T) {
	cfg := Default()
	cfg.Ledger.Store = "cassandra"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for unknown ledger store")
	}
}

func TestValidateEmptyBootstrapEntry(t *testing.T) {
	cfg := Default()
	cfg.Bootstrap = []string{"peer1.local:7400", ""}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty bootstrap address")
	}
}
