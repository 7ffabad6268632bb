package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/agenthub/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()

	cfg, err := config.Load(home)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TelemetryDir != filepath.Join(home, "telemetry") {
		t.Fatalf("unexpected telemetry dir: %q", cfg.TelemetryDir)
	}
	if cfg.AgentsDir != filepath.Join(home, "agents") {
		t.Fatalf("unexpected agents dir: %q", cfg.AgentsDir)
	}
	if cfg.DisableTelemetry {
		t.Fatal("telemetry should be enabled by default")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
	if cfg.ScriptTimeoutSeconds != 120 {
		t.Fatalf("unexpected script timeout: %d", cfg.ScriptTimeoutSeconds)
	}
}

func TestLoad_FromFile(t *testing.T) {
	home := t.TempDir()
	body := "telemetry_dir: /var/lib/agenthub/logs\nagents_dir: /opt/agents\ndisable_telemetry: true\nscript_timeout_seconds: 30\nwatch_agents: true\n"
	if err := os.WriteFile(config.ConfigPath(home), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(home)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TelemetryDir != "/var/lib/agenthub/logs" {
		t.Fatalf("unexpected telemetry dir: %q", cfg.TelemetryDir)
	}
	if cfg.AgentsDir != "/opt/agents" {
		t.Fatalf("unexpected agents dir: %q", cfg.AgentsDir)
	}
	if !cfg.DisableTelemetry {
		t.Fatal("disable_telemetry not honored")
	}
	if cfg.ScriptTimeoutSeconds != 30 {
		t.Fatalf("unexpected script timeout: %d", cfg.ScriptTimeoutSeconds)
	}
	if !cfg.WatchAgents {
		t.Fatal("watch_agents not honored")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(config.ConfigPath(home), []byte("agents_dir: /from/file\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AGENTHUB_AGENTS_DIR", "/from/env")
	t.Setenv("AGENTHUB_DISABLE_TELEMETRY", "1")

	cfg, err := config.Load(home)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AgentsDir != "/from/env" {
		t.Fatalf("env override lost: %q", cfg.AgentsDir)
	}
	if !cfg.DisableTelemetry {
		t.Fatal("env disable flag lost")
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(config.ConfigPath(home), []byte(":\n\t- nope"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(home); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestHomeDir_EnvOverride(t *testing.T) {
	t.Setenv("AGENTHUB_HOME", "/srv/agenthub")
	dir, err := config.HomeDir()
	if err != nil {
		t.Fatalf("home dir: %v", err)
	}
	if dir != "/srv/agenthub" {
		t.Fatalf("unexpected home dir: %q", dir)
	}
}
