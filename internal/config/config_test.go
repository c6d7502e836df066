package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Electrum.Endpoint == "" {
		t.Error("expected a non-empty default electrum endpoint")
	}
	if !cfg.Electrum.TLS {
		t.Error("expected TLS enabled by default")
	}
	if cfg.Electrum.DialTimeout != 10*time.Second {
		t.Errorf("expected 10s dial timeout, got %v", cfg.Electrum.DialTimeout)
	}
	if cfg.Wallet.Lookahead != 20 {
		t.Errorf("expected default lookahead 20, got %d", cfg.Wallet.Lookahead)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics enabled by default")
	}
}

func TestLoadCreatesDefaultWhenAbsent(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wallet.Lookahead != 20 {
		t.Errorf("expected default lookahead, got %d", cfg.Wallet.Lookahead)
	}

	if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err != nil {
		t.Errorf("expected config file to be written: %v", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Electrum.Endpoint = "example.com:50002"
	cfg.Wallet.Lookahead = 50
	cfg.Storage.DataDir = dir

	if err := cfg.Save(ConfigPath(dir)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Electrum.Endpoint != "example.com:50002" {
		t.Errorf("endpoint mismatch: %s", loaded.Electrum.Endpoint)
	}
	if loaded.Wallet.Lookahead != 50 {
		t.Errorf("lookahead mismatch: %d", loaded.Wallet.Lookahead)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte("not: valid: yaml: : :"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("expected an error for malformed config")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to validate, got %v", err)
	}

	cfg.Electrum.Endpoint = ""
	if err := cfg.Validate(); err != ErrMissingEndpoint {
		t.Errorf("expected ErrMissingEndpoint, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Wallet.Lookahead = 0
	if err := cfg.Validate(); err != ErrInvalidLookahead {
		t.Errorf("expected ErrInvalidLookahead, got %v", err)
	}
}

func TestCachePathAndSeedPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = "/tmp/walletsync-test"
	cfg.Wallet.SeedFile = "seed.enc"

	if got, want := cfg.CachePath(), "/tmp/walletsync-test/status_cache.json"; got != want {
		t.Errorf("CachePath() = %s, want %s", got, want)
	}
	if got, want := cfg.SeedPath(), "/tmp/walletsync-test/seed.enc"; got != want {
		t.Errorf("SeedPath() = %s, want %s", got, want)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	got := ExpandPath("~/walletsync")
	want := filepath.Join(home, "walletsync")
	if got != want {
		t.Errorf("ExpandPath(~) = %s, want %s", got, want)
	}

	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandPath(abs) = %s, want unchanged", got)
	}
}
