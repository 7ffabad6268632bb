package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by both servers. Each server reads it once
// at startup; there is no live reload of configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	// TelemetryDir overrides where event log streams are written.
	// Empty means <home>/telemetry.
	TelemetryDir string `yaml:"telemetry_dir"`

	// AgentsDir overrides the capability registry root.
	// Empty means <home>/agents.
	AgentsDir string `yaml:"agents_dir"`

	// DisableTelemetry makes recording tools acknowledge writes without
	// persisting anything. Callers never need a special-case branch.
	DisableTelemetry bool `yaml:"disable_telemetry"`

	LogLevel string `yaml:"log_level"`

	// ScriptTimeoutSeconds is the default execution budget for agent
	// scripts. A tool call may override it per request. 0 uses the default.
	ScriptTimeoutSeconds int `yaml:"script_timeout_seconds"`

	// WatchAgents enables the fsnotify watcher that reloads the registry
	// when the agents directory changes on disk.
	WatchAgents bool `yaml:"watch_agents"`
}

const defaultScriptTimeoutSeconds = 120

// HomeDir resolves the agenthub data directory: AGENTHUB_HOME, or
// ~/.agenthub.
func HomeDir() (string, error) {
	if v := os.Getenv("AGENTHUB_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return filepath.Join(home, ".agenthub"), nil
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from homeDir, applies environment overrides, and
// fills defaults. A missing file yields a default config rather than an
// error.
func Load(homeDir string) (Config, error) {
	cfg := Config{HomeDir: homeDir}

	data, err := os.ReadFile(ConfigPath(homeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
		cfg.HomeDir = homeDir
	}

	// Env overrides take precedence over the file.
	if v := os.Getenv("AGENTHUB_TELEMETRY_DIR"); v != "" {
		cfg.TelemetryDir = v
	}
	if v := os.Getenv("AGENTHUB_AGENTS_DIR"); v != "" {
		cfg.AgentsDir = v
	}
	if v := os.Getenv("AGENTHUB_DISABLE_TELEMETRY"); v == "1" || v == "true" {
		cfg.DisableTelemetry = true
	}
	if v := os.Getenv("AGENTHUB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.TelemetryDir == "" {
		cfg.TelemetryDir = filepath.Join(homeDir, "telemetry")
	}
	if cfg.AgentsDir == "" {
		cfg.AgentsDir = filepath.Join(homeDir, "agents")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ScriptTimeoutSeconds <= 0 {
		cfg.ScriptTimeoutSeconds = defaultScriptTimeoutSeconds
	}

	return cfg, nil
}
