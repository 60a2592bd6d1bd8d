// Package config loads fieldsync configuration from JSON, YAML, or TOML
// files, selected by extension.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all fieldsync configuration.
type Config struct {
	// Status API and daemon settings
	Server ServerConfig `json:"server" yaml:"server" toml:"server"`

	// Marketplace backend the queue replays against
	Backend BackendConfig `json:"backend" yaml:"backend" toml:"backend"`

	// Action queue settings
	Queue QueueConfig `json:"queue" yaml:"queue" toml:"queue"`

	// Connectivity probing
	Connectivity ConnectivityConfig `json:"connectivity" yaml:"connectivity" toml:"connectivity"`

	// Periodic drain schedules
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler" toml:"scheduler"`
}

type ServerConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	DataDir  string `json:"dataDir" yaml:"dataDir" toml:"dataDir"`
	LogLevel string `json:"logLevel" yaml:"logLevel" toml:"logLevel"`
}

type BackendConfig struct {
	BaseURL        string `json:"baseUrl" yaml:"baseUrl" toml:"baseUrl"`
	Token          string `json:"token,omitempty" yaml:"token,omitempty" toml:"token,omitzero"`
	TokenFile      string `json:"tokenFile,omitempty" yaml:"tokenFile,omitempty" toml:"tokenFile,omitzero"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds" toml:"timeoutSeconds"`
	MaxTries       int    `json:"maxTries" yaml:"maxTries" toml:"maxTries"`
}

type QueueConfig struct {
	// Backend is "file" or "sqlite".
	Backend     string `json:"backend" yaml:"backend" toml:"backend"`
	MaxAttempts int    `json:"maxAttempts" yaml:"maxAttempts" toml:"maxAttempts"`
}

type ConnectivityConfig struct {
	// ProbeURL defaults to the backend base URL when empty.
	ProbeURL        string `json:"probeUrl,omitempty" yaml:"probeUrl,omitempty" toml:"probeUrl,omitzero"`
	IntervalSeconds int    `json:"intervalSeconds" yaml:"intervalSeconds" toml:"intervalSeconds"`
}

// SchedulerConfig holds periodic drain schedules.
type SchedulerConfig struct {
	Enabled bool        `json:"enabled" yaml:"enabled" toml:"enabled"`
	Jobs    []JobConfig `json:"jobs" yaml:"jobs" toml:"jobs"`
}

// JobConfig defines one drain schedule.
type JobConfig struct {
	ID         string `json:"id" yaml:"id" toml:"id"`
	Name       string `json:"name" yaml:"name" toml:"name"`
	Kind       string `json:"kind" yaml:"kind" toml:"kind"` // "interval" or "cron"
	IntervalMs int64  `json:"intervalMs,omitempty" yaml:"intervalMs,omitempty" toml:"intervalMs,omitzero"`
	Expr       string `json:"expr,omitempty" yaml:"expr,omitempty" toml:"expr,omitzero"` // cron expression
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:  true,
			Port:     8640,
			DataDir:  "./data",
			LogLevel: "info",
		},
		Backend: BackendConfig{
			TimeoutSeconds: 30,
			MaxTries:       3,
		},
		Queue: QueueConfig{
			Backend:     "file",
			MaxAttempts: 3,
		},
		Connectivity: ConnectivityConfig{
			IntervalSeconds: 15,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Jobs: []JobConfig{
				{
					ID:         "drain",
					Name:       "periodic queue drain",
					Kind:       "interval",
					IntervalMs: 60_000,
					Enabled:    true,
				},
			},
		},
	}
}

// decode parses data into cfg using the format implied by the extension of
// path: .yaml/.yml, .toml, otherwise JSON.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// Load reads config from path, merging the file over the defaults. The
// format follows the extension: .yaml/.yml, .toml, otherwise JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend.baseUrl is required")
	}
	if cfg.Connectivity.ProbeURL == "" {
		cfg.Connectivity.ProbeURL = cfg.Backend.BaseURL
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}
