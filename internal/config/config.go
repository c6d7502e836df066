// Package config loads the synchronizer's on-disk configuration, in the
// shape of the teacher's internal/node.Config: a YAML file with sane
// defaults, ~-expansion for paths, and a Load/Save pair.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidLookahead is returned when Validate finds a non-positive
// lookahead window.
var ErrInvalidLookahead = errors.New("config: lookahead must be positive")

// ErrMissingEndpoint is returned when Validate finds an empty Electrum
// endpoint.
var ErrMissingEndpoint = errors.New("config: electrum endpoint is required")

// ElectrumConfig holds the single Electrum server endpoint this instance
// connects to (spec.md §1 Non-goals: no server discovery or failover
// across multiple endpoints).
type ElectrumConfig struct {
	// Endpoint is "host:port".
	Endpoint string `yaml:"endpoint"`

	// TLS enables the TLS upgrade after the TCP connect.
	TLS bool `yaml:"tls"`

	// ClientID and ProtocolVersion are sent as server.version's params
	// (spec.md §6).
	ClientID        string `yaml:"client_id"`
	ProtocolVersion string `yaml:"protocol_version"`

	// DialTimeout bounds DNS resolution + TCP connect + TLS handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// WalletConfig holds the watched wallet's gap-limit and HD parameters.
type WalletConfig struct {
	// Lookahead is the number of indices past the highest known-used
	// index that must stay watched (spec.md §4.A; default 20, the
	// deployed system uses 50). It must match the downstream wallet's
	// address-revelation horizon (spec.md §9).
	Lookahead uint32 `yaml:"lookahead"`

	// Network selects mainnet or testnet chain parameters.
	Network string `yaml:"network"`

	// SeedFile is the path to the encrypted BIP39 mnemonic, relative to
	// DataDir unless absolute.
	SeedFile string `yaml:"seed_file"`
}

// StorageConfig holds the data directory the status cache and seed file
// live under (spec.md §6: "alongside the wallet database file").
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig holds the operational /metrics HTTP listener settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config holds all configuration for the synchronizer daemon.
type Config struct {
	Electrum ElectrumConfig `yaml:"electrum"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Electrum: ElectrumConfig{
			Endpoint:        "electrum.blockstream.info:50002",
			TLS:             true,
			ClientID:        "walletsync",
			ProtocolVersion: "1.4",
			DialTimeout:     10 * time.Second,
		},
		Wallet: WalletConfig{
			Lookahead: 20,
			Network:   "mainnet",
			SeedFile:  "seed.enc",
		},
		Storage: StorageConfig{
			DataDir: "~/.walletsync",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9332",
		},
	}
}

// Load loads configuration from dataDir/config.yaml. If the file doesn't
// exist, it creates one populated with defaults (mirroring the teacher's
// internal/node.LoadConfig).
func Load(dataDir string) (*Config, error) {
	expanded := ExpandPath(dataDir)
	path := filepath.Join(expanded, ConfigFileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("config: create default: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: create dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	header := []byte("# walletsync configuration\n# generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations that would violate the synchronizer's
// invariants before any component is constructed.
func (c *Config) Validate() error {
	if c.Electrum.Endpoint == "" {
		return ErrMissingEndpoint
	}
	if c.Wallet.Lookahead == 0 {
		return ErrInvalidLookahead
	}
	return nil
}

// ConfigPath returns the full path to the config file for dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// CachePath returns the on-disk status cache path inside the data
// directory, alongside a relative seed file (spec.md §6).
func (c *Config) CachePath() string {
	return filepath.Join(ExpandPath(c.Storage.DataDir), "status_cache.json")
}

// SeedPath returns the encrypted seed file's path: SeedFile itself when it
// is absolute, otherwise SeedFile under the expanded DataDir.
func (c *Config) SeedPath() string {
	if filepath.IsAbs(c.Wallet.SeedFile) {
		return c.Wallet.SeedFile
	}
	return filepath.Join(ExpandPath(c.Storage.DataDir), c.Wallet.SeedFile)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
