package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != defaultBindAddr {
		t.Errorf("BindAddr = %q, want %q", cfg.BindAddr, defaultBindAddr)
	}
	if cfg.ListenPort != defaultListenPort {
		t.Errorf("ListenPort = %d, want %d", cfg.ListenPort, defaultListenPort)
	}
	if cfg.Challenge == "" {
		t.Error("Challenge should be auto-generated when unset")
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"--listen-port", "9000", "--log-level", "DEBUG", "--challenge", "fixed"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 9000 {
		t.Errorf("ListenPort = %d, want 9000", cfg.ListenPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q (lowercased)", cfg.LogLevel, "debug")
	}
	if cfg.Challenge != "fixed" {
		t.Errorf("Challenge = %q, want %q", cfg.Challenge, "fixed")
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("VOTERD_BIND_ADDR", "10.0.0.1")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "10.0.0.1" {
		t.Errorf("BindAddr = %q, want %q", cfg.BindAddr, "10.0.0.1")
	}
}

func TestLoadFlagsBeatEnv(t *testing.T) {
	t.Setenv("VOTERD_BIND_ADDR", "10.0.0.1")
	cfg, err := Load([]string{"--bind-addr", "192.168.1.1"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "192.168.1.1" {
		t.Errorf("BindAddr = %q, want flag value %q", cfg.BindAddr, "192.168.1.1")
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	if _, err := Load([]string{"--listen-port", "70000"}); err == nil {
		t.Fatal("expected error for out-of-range listen-port")
	}
}

func TestLoadRejectsSmallBufLen(t *testing.T) {
	if _, err := Load([]string{"--default-buflen", "100"}); err == nil {
		t.Fatal("expected error for default-buflen below 320")
	}
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	if _, err := Load([]string{"--log-level", "verbose"}); err == nil {
		t.Fatal("expected error for unknown log-level")
	}
}

func TestLoadTopologyValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voter.yaml")
	yamlBody := `
instances:
  - node: 1
    linger_secs: 10
    thresholds:
      - rssi: 200
        count: 5
        linger: 20
clients:
  1:
    - name: site-a
      password: secret
      priority: 1
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	topo, err := LoadTopology(path)
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if len(topo.Instances) != 1 || topo.Instances[0].NodeNum != 1 {
		t.Fatalf("unexpected instances: %+v", topo.Instances)
	}
	clients := topo.Clients[1]
	if len(clients) != 1 || clients[0].Name != "site-a" {
		t.Fatalf("unexpected clients: %+v", clients)
	}
}

func TestLoadTopologyRejectsDuplicateNode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voter.yaml")
	yamlBody := `
instances:
  - node: 1
  - node: 1
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadTopology(path); err == nil {
		t.Fatal("expected error for duplicate node number")
	}
}

func TestLoadTopologyRejectsClientsForUnknownNode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voter.yaml")
	yamlBody := `
instances:
  - node: 1
clients:
  2:
    - name: orphan
      password: secret
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadTopology(path); err == nil {
		t.Fatal("expected error for clients referencing an unknown node")
	}
}

func TestLoadTopologyRejectsMissingPassword(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voter.yaml")
	yamlBody := `
instances:
  - node: 1
clients:
  1:
    - name: no-password
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadTopology(path); err == nil {
		t.Fatal("expected error for client with no password")
	}
}

func TestLoadTopologyRejectsTooManyThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voter.yaml")

	var thresholds string
	for i := 0; i < MaxThresholds+1; i++ {
		thresholds += "      - rssi: 100\n        count: 1\n        linger: 1\n"
	}
	yamlBody := "instances:\n  - node: 1\n    thresholds:\n" + thresholds
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadTopology(path); err == nil {
		t.Fatal("expected error for too many thresholds")
	}
}

func TestLoadTopologyMissingFile(t *testing.T) {
	if _, err := LoadTopology(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing topology file")
	}
}
