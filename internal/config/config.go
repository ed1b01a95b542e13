// Package config loads BOLT's runtime configuration: defaults, then an
// optional TOML file, then environment variables (env wins).
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is BOLT's full runtime configuration.
type Config struct {
	Models   ModelsConfig   `toml:"models"`
	Local    LocalConfig    `toml:"local"`
	Cloud    CloudConfig    `toml:"cloud"`
	Database DatabaseConfig `toml:"database"`
	Context  ContextConfig  `toml:"context"`
	Workers  WorkersConfig  `toml:"workers"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Plugins  PluginsConfig  `toml:"plugins"`
}

// ModelsConfig maps each logical model key (spec.md §4.6: router, companion,
// fast_code, worker_light, worker_heavy, beast, cloud) to the concrete model
// name the local backend should load for it, plus that model's desired
// keep_alive duration string (Ollama-style, e.g. "5m", "0").
type ModelsConfig struct {
	Names     map[string]string `toml:"names"`
	KeepAlive map[string]string `toml:"keep_alive"`
}

// LocalConfig addresses the local (Ollama-style) inference backend.
type LocalConfig struct {
	BaseURL string `toml:"base_url"`
}

// CloudConfig addresses the cloud fallback backend. APIKey's prefix selects
// the wire format and endpoint (spec.md §6): sk-ant- -> Anthropic,
// sk-or- -> OpenRouter, gsk_ -> Groq, sk- -> OpenAI. BaseURL and Model
// override the prefix-inferred default when set.
type CloudConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// DatabaseConfig is the sqlite persistence layer's location.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ContextConfig tunes the Context Assembler's token budget (spec.md §4.4).
type ContextConfig struct {
	MaxTokens    int `toml:"max_tokens"`
	RecentWindow int `toml:"recent_window"`
}

// WorkersConfig tunes the background workers' cadences (spec.md §4.8).
type WorkersConfig struct {
	SummarizerIntervalSeconds   int `toml:"summarizer_interval_seconds"`
	SummarizerThresholdMessages int `toml:"summarizer_threshold_messages"`
	ProfileLearnerEveryNTurns   int `toml:"profile_learner_every_n_turns"`
	HeartbeatIntervalSeconds    int `toml:"heartbeat_interval_seconds"`
}

// SandboxConfig holds the Sandbox's home directory and a list of
// home-relative subtrees read from denied_subtrees. Only Home reaches the
// Sandbox; DeniedSubtree is parsed but not applied, so the Sandbox denies
// its built-in list only.
type SandboxConfig struct {
	Home          string   `toml:"home"`
	DeniedSubtree []string `toml:"denied_subtrees"`
}

// PluginsConfig locates the directory the plugin loader scans at startup
// (spec.md §3 supplemented feature).
type PluginsConfig struct {
	Dir string `toml:"dir"`
}

// Default returns a Config with BOLT's built-in defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Models: ModelsConfig{
			Names: map[string]string{
				"router":       "qwen2.5:0.5b",
				"companion":    "llama3.1:8b",
				"fast_code":    "qwen2.5-coder:7b",
				"worker_light": "qwen2.5-coder:7b",
				"worker_heavy": "qwen2.5-coder:32b",
				"beast":        "qwen2.5-coder:32b",
			},
			KeepAlive: map[string]string{
				"router":    "5m",
				"companion": "5m",
			},
		},
		Local: LocalConfig{BaseURL: "http://127.0.0.1:11434"},
		Cloud: CloudConfig{},
		Database: DatabaseConfig{
			Path: filepath.Join(home, ".bolt", "bolt.db"),
		},
		Context: ContextConfig{MaxTokens: 2000, RecentWindow: 50},
		Workers: WorkersConfig{
			SummarizerIntervalSeconds:   15,
			SummarizerThresholdMessages: 20,
			ProfileLearnerEveryNTurns:   5,
			HeartbeatIntervalSeconds:    270,
		},
		Sandbox: SandboxConfig{Home: home},
		Plugins: PluginsConfig{Dir: filepath.Join(home, ".bolt", "plugins")},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "bolt.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("BOLT_LOCAL_BASE_URL"); v != "" {
		cfg.Local.BaseURL = v
	}
	if v := os.Getenv("BOLT_CLOUD_KEY"); v != "" {
		cfg.Cloud.APIKey = v
	}
	if v := os.Getenv("BOLT_CLOUD_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("BOLT_CLOUD_MODEL"); v != "" {
		cfg.Cloud.Model = v
	}
	if v := os.Getenv("BOLT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BOLT_PLUGINS_DIR"); v != "" {
		cfg.Plugins.Dir = v
	}
	if v := os.Getenv("BOLT_SANDBOX_HOME"); v != "" {
		cfg.Sandbox.Home = v
	}

	if cfg.Models.Names == nil {
		cfg.Models.Names = Default().Models.Names
	}
	if cfg.Models.KeepAlive == nil {
		cfg.Models.KeepAlive = map[string]string{}
	}

	return cfg
}

// ModelName resolves a logical model key to the concrete model name the
// local backend should request. Unknown keys return the key itself, so a
// misconfigured roster fails loudly at the provider rather than silently
// here.
func (c Config) ModelName(key string) string {
	if name, ok := c.Models.Names[key]; ok {
		return name
	}
	return key
}

// KeepAliveFor returns the configured keep_alive string for a model key, or
// "" (backend default) if unset.
func (c Config) KeepAliveFor(key string) string {
	return c.Models.KeepAlive[key]
}
