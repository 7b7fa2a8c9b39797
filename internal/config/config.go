// Package config loads runwatch.jsonc, the single configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the configuration file format for runwatch.jsonc.
type Config struct {
	Upstream UpstreamSection `json:"upstream"`
	Stream   StreamSection   `json:"stream"`
	Panel    PanelSection    `json:"panel"`
	Daemon   DaemonSection   `json:"daemon"`
	// DataDir holds the credential and schedule databases.
	DataDir string `json:"data_dir"`
}

// UpstreamSection configures the run API endpoint and request layer.
type UpstreamSection struct {
	BaseURL string `json:"base_url"`
	// Credential names a stored credential; empty means the default.
	Credential        string  `json:"credential"`
	MaxRetries        int     `json:"max_retries"`
	RetryBackoffMs    int     `json:"retry_backoff_ms"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// StreamSection configures event stream ingestion.
type StreamSection struct {
	ReconnectMinMs int `json:"reconnect_min_ms"`
	ReconnectMaxMs int `json:"reconnect_max_ms"`
}

// PanelSection configures run lifecycle display timing.
type PanelSection struct {
	AutoCloseMs int `json:"auto_close_ms"`
	FadeMs      int `json:"fade_ms"`
}

// DaemonSection configures the scheduler daemon.
type DaemonSection struct {
	// MetricsAddress serves Prometheus metrics when non-empty.
	MetricsAddress string `json:"metrics_address"`
}

// FindConfigPath returns the path to runwatch.jsonc using precedence:
// 1. configDir + /runwatch.jsonc (if configDir specified)
// 2. ./config/runwatch.jsonc (project-local)
// 3. ~/.runwatch/config/runwatch.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	if configDir != "" {
		path := filepath.Join(configDir, "runwatch.jsonc")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("runwatch.jsonc not found in %s", configDir)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return path, nil
		}
		return abs, nil
	}

	candidates := []string{
		filepath.Join("config", "runwatch.jsonc"),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".runwatch", "config", "runwatch.jsonc"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("runwatch.jsonc not found; tried: %v", candidates)
}

// Load reads and parses the config file at configPath.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	jsonData := StripJSONComments(data)

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDir locates runwatch.jsonc starting from configDir and loads it.
func LoadDir(configDir string) (*Config, error) {
	path, err := FindConfigPath(configDir)
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Default returns a config with all defaults applied and no upstream set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Upstream.MaxRetries == 0 {
		cfg.Upstream.MaxRetries = 2
	}
	if cfg.Upstream.RetryBackoffMs == 0 {
		cfg.Upstream.RetryBackoffMs = 400
	}
	if cfg.Stream.ReconnectMinMs == 0 {
		cfg.Stream.ReconnectMinMs = 1000
	}
	if cfg.Stream.ReconnectMaxMs == 0 {
		cfg.Stream.ReconnectMaxMs = 2500
	}
	if cfg.Panel.AutoCloseMs == 0 {
		cfg.Panel.AutoCloseMs = 1000
	}
	if cfg.Panel.FadeMs == 0 {
		cfg.Panel.FadeMs = 200
	}
	if cfg.DataDir == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(homeDir, ".runwatch", "data")
		} else {
			cfg.DataDir = "data"
		}
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base_url is required: add to runwatch.jsonc")
	}
	return nil
}

// RetryBackoff returns the request retry backoff unit.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Upstream.RetryBackoffMs) * time.Millisecond
}

// ReconnectMin returns the lower stream reconnect delay bound.
func (c *Config) ReconnectMin() time.Duration {
	return time.Duration(c.Stream.ReconnectMinMs) * time.Millisecond
}

// ReconnectMax returns the upper stream reconnect delay bound.
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Stream.ReconnectMaxMs) * time.Millisecond
}

// AutoClose returns the panel auto-close delay.
func (c *Config) AutoClose() time.Duration {
	return time.Duration(c.Panel.AutoCloseMs) * time.Millisecond
}

// Fade returns the panel fade duration.
func (c *Config) Fade() time.Duration {
	return time.Duration(c.Panel.FadeMs) * time.Millisecond
}
