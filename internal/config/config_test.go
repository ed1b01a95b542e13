package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Local.BaseURL != "http://127.0.0.1:11434" {
		t.Errorf("expected default ollama base url, got %s", cfg.Local.BaseURL)
	}
	if cfg.Context.MaxTokens != 2000 {
		t.Errorf("expected 2000, got %d", cfg.Context.MaxTokens)
	}
	if cfg.Workers.SummarizerThresholdMessages != 20 {
		t.Errorf("expected 20, got %d", cfg.Workers.SummarizerThresholdMessages)
	}
	if cfg.Workers.HeartbeatIntervalSeconds != 270 {
		t.Errorf("expected 270, got %d", cfg.Workers.HeartbeatIntervalSeconds)
	}
	if cfg.ModelName("router") == "" {
		t.Error("expected a default router model name")
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[local]
base_url = "http://localhost:9999"

[context]
max_tokens = 4000
`), 0644)

	cfg := Load(path)
	if cfg.Local.BaseURL != "http://localhost:9999" {
		t.Errorf("expected overridden base url, got %s", cfg.Local.BaseURL)
	}
	if cfg.Context.MaxTokens != 4000 {
		t.Errorf("expected 4000, got %d", cfg.Context.MaxTokens)
	}
	// Defaults preserved where the file is silent.
	if cfg.Workers.HeartbeatIntervalSeconds != 270 {
		t.Errorf("default should be preserved, got %d", cfg.Workers.HeartbeatIntervalSeconds)
	}
	if cfg.ModelName("companion") == "" {
		t.Error("expected model roster default to survive a partial TOML file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("BOLT_CLOUD_KEY", "sk-ant-env-key")
	t.Setenv("BOLT_DATABASE_PATH", "/tmp/env-bolt.db")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Cloud.APIKey != "sk-ant-env-key" {
		t.Errorf("expected env key, got %s", cfg.Cloud.APIKey)
	}
	if cfg.Database.Path != "/tmp/env-bolt.db" {
		t.Errorf("expected env override, got %s", cfg.Database.Path)
	}
}

func TestKeepAliveFor(t *testing.T) {
	cfg := Default()
	if cfg.KeepAliveFor("router") != "5m" {
		t.Errorf("expected 5m, got %q", cfg.KeepAliveFor("router"))
	}
	if cfg.KeepAliveFor("worker_heavy") != "" {
		t.Errorf("expected empty keep_alive for unconfigured key, got %q", cfg.KeepAliveFor("worker_heavy"))
	}
}
