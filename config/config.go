// Package config loads station configuration.
//
// Config is stored at $XDG_CONFIG_HOME/macline/config.yaml (defaults to
// ~/.config/macline/config.yaml); the --config flag overrides the path.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LedgerConfig selects and locates the shared ledger store.
type LedgerConfig struct {
	// Kind is "file" or "sqlite".
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// RetryConfig bounds the provisioning retry loops.
type RetryConfig struct {
	Boot     int `yaml:"boot"`
	Fuse     int `yaml:"fuse"`
	Conflict int `yaml:"conflict"`
}

// LoginConfig is the target OS login.
type LoginConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
}

// NTPConfig tunes the warn-only wall clock check before finalize.
type NTPConfig struct {
	Pool string `yaml:"pool"`
	// Threshold is a duration string, e.g. "500ms".
	Threshold string `yaml:"threshold"`
}

// ThresholdDuration parses the configured offset threshold.
func (n NTPConfig) ThresholdDuration() (time.Duration, error) {
	d, err := time.ParseDuration(n.Threshold)
	if err != nil {
		return 0, fmt.Errorf("ntp threshold %q: %w", n.Threshold, err)
	}
	return d, nil
}

// Config holds one station's settings.
type Config struct {
	// Station names this station in logs and diagnostics.
	Station string `yaml:"station"`

	// Device is the serial device path; Baud its line rate.
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	Ledger  LedgerConfig `yaml:"ledger"`
	Retries RetryConfig  `yaml:"retries"`
	Login   LoginConfig  `yaml:"login"`
	NTP     NTPConfig    `yaml:"ntp"`

	// IdentityCommand is the shell command that prints the unit identity.
	IdentityCommand string `yaml:"identity_command,omitempty"`
	// PowerCommand is run to power cycle the target board. Empty means the
	// operator cycles power by hand when prompted.
	PowerCommand string `yaml:"power_command,omitempty"`
}

// Default returns the built-in station settings.
func Default() *Config {
	return &Config{
		Station: "station-1",
		Device:  "/dev/ttyUSB0",
		Baud:    115200,
		Ledger: LedgerConfig{
			Kind: "file",
			Path: filepath.Join(dataDir(), "ledger.csv"),
		},
		Retries: RetryConfig{Boot: 3, Fuse: 3, Conflict: 5},
		Login:   LoginConfig{User: "root"},
		NTP: NTPConfig{
			Pool:      "pool.ntp.org",
			Threshold: "500ms",
		},
	}
}

// Path returns the default config file location. It respects
// XDG_CONFIG_HOME, falling back to ~/.config/macline/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "macline", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "macline", "config.yaml")
}

// Load reads the config at path (empty means the default location). A
// missing file yields the defaults, not an error; a present file overlays
// them.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating directories as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Ledger.Kind {
	case "file", "sqlite":
	default:
		return fmt.Errorf("ledger kind %q: want file or sqlite", c.Ledger.Kind)
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud %d: must be positive", c.Baud)
	}
	if c.Retries.Boot <= 0 || c.Retries.Fuse <= 0 || c.Retries.Conflict <= 0 {
		return errors.New("retry bounds must be positive")
	}
	if _, err := c.NTP.ThresholdDuration(); err != nil {
		return err
	}
	return nil
}

func dataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".local", "share", "macline")
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "macline")
}
