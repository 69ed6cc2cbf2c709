// Package config handles TaskPilot configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/taskpilot/config.yaml, /etc/taskpilot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskpilot", "config.yaml"))
	}

	paths = append(paths, "/etc/taskpilot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all TaskPilot configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Model    ModelConfig    `yaml:"model"`
	Database DatabaseConfig `yaml:"database"`
	Limits   LimitsConfig   `yaml:"limits"`
	Auth     AuthConfig     `yaml:"auth"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the model service connection.
type ModelConfig struct {
	BaseURL string        `yaml:"base_url"` // Ollama-compatible endpoint
	Name    string        `yaml:"name"`     // Model name (must support function calling)
	Timeout time.Duration `yaml:"timeout"`  // Per-round-trip timeout
	Retries int           `yaml:"retries"`  // Bounded retry count on failure
}

// DatabaseConfig selects the storage backend. When URL is set, the
// postgres backend is used; otherwise Path selects a SQLite file.
type DatabaseConfig struct {
	URL  string `yaml:"url"`  // postgres:// connection string
	Path string `yaml:"path"` // SQLite file path (default: taskpilot.db)
}

// LimitsConfig bounds per-request work.
type LimitsConfig struct {
	MaxMessageLen  int `yaml:"max_message_len"`  // Reject longer user messages (default 10000)
	HistoryWindow  int `yaml:"history_window"`   // Recent messages sent to the model (default 50)
	MaxToolRounds  int `yaml:"max_tool_rounds"`  // Model/tool iteration cap (default 5)
	RequestsPerMin int `yaml:"requests_per_min"` // Per-user rate limit (default 20)
}

// AuthConfig maps bearer tokens to user IDs. Real deployments put a
// proper identity provider in front; this covers development and tests.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens"` // token -> user id
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8080},
		Model: ModelConfig{
			BaseURL: "http://localhost:11434",
			Name:    "qwen3:4b",
		},
		Database: DatabaseConfig{Path: "taskpilot.db"},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-valued limits so a sparse YAML file still
// yields a fully bounded runtime.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Model.Timeout == 0 {
		c.Model.Timeout = 60 * time.Second
	}
	if c.Model.Retries == 0 {
		c.Model.Retries = 1
	}
	if c.Limits.MaxMessageLen == 0 {
		c.Limits.MaxMessageLen = 10000
	}
	if c.Limits.HistoryWindow == 0 {
		c.Limits.HistoryWindow = 50
	}
	if c.Limits.MaxToolRounds == 0 {
		c.Limits.MaxToolRounds = 5
	}
	if c.Limits.RequestsPerMin == 0 {
		c.Limits.RequestsPerMin = 20
	}
}
