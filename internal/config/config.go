// Package config loads the YAML configuration from the XDG config
// directory with viper, applies defaults, and resolves provider
// credentials from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/kon-agent/kon/internal/session"
	"github.com/kon-agent/kon/internal/tools"
)

type Config struct {
	Provider string `mapstructure:"provider"`

	Agent      AgentConfig      `mapstructure:"agent"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Logging    LoggingConfig    `mapstructure:"logging"`

	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	OpenAICompat OpenAICompatConfig `mapstructure:"openai-compat"`

	Tools   tools.Config   `mapstructure:"tools"`
	Session session.Config `mapstructure:"session"`
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	MaxTurns           int    `mapstructure:"max_turns"`            // tool rounds per cycle (0 = unlimited)
	MaxOutputTokens    int    `mapstructure:"max_output_tokens"`    // per-call output cap (0 = provider default)
	QueueCapacity      int    `mapstructure:"queue_capacity"`       // pending prompt slots
	MaxConcurrency     int    `mapstructure:"max_concurrency"`      // parallel tool executions
	IdleTimeoutSeconds int    `mapstructure:"idle_timeout_seconds"` // per-tool liveness watchdog
	Instructions       string `mapstructure:"instructions"`         // appended to the system prompt
}

// CompactionConfig tunes history compaction.
type CompactionConfig struct {
	OnOverflow      string `mapstructure:"on_overflow"`       // "continue" or "stop"
	ContextWindow   int    `mapstructure:"context_window"`    // model context size in tokens
	BufferTokens    int    `mapstructure:"buffer_tokens"`     // kept free for the next response
	KeepRecentTurns int    `mapstructure:"keep_recent_turns"` // user turns never compacted
}

// RetryConfig tunes transient-failure retries on provider calls.
type RetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxAttempts int  `mapstructure:"max_attempts"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // log destination, empty = stderr
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// OpenAICompatConfig configures a generic OpenAI-compatible server.
type OpenAICompatConfig struct {
	BaseURL string `mapstructure:"base_url"` // Required - no default
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"` // Optional
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	setDefaults()

	// Config file is optional
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveAnthropicCredentials(&cfg.Anthropic)
	resolveOpenAICredentials(&cfg.OpenAI)
	resolveOpenAICompatCredentials(&cfg.OpenAICompat)

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("provider", "anthropic")

	viper.SetDefault("agent.max_turns", 40)
	viper.SetDefault("agent.queue_capacity", 5)
	viper.SetDefault("agent.max_concurrency", 4)
	viper.SetDefault("agent.idle_timeout_seconds", 60)

	viper.SetDefault("compaction.on_overflow", "continue")
	viper.SetDefault("compaction.context_window", 200000)
	viper.SetDefault("compaction.buffer_tokens", 16384)
	viper.SetDefault("compaction.keep_recent_turns", 2)

	viper.SetDefault("retry.enabled", false)
	viper.SetDefault("retry.max_attempts", 5)

	viper.SetDefault("logging.level", "info")

	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("openai.model", "gpt-5.2")
	// openai-compat has no base_url default - it's required

	viper.SetDefault("tools.shell_timeout_seconds", 120)
	viper.SetDefault("session.enabled", true)
}

// ApplyOverrides applies provider and model overrides to the config.
// If provider is non-empty, it overrides the global provider.
// If model is non-empty, it overrides the model for the active provider.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		switch c.Provider {
		case "anthropic":
			c.Anthropic.Model = model
		case "openai":
			c.OpenAI.Model = model
		case "openai-compat":
			c.OpenAICompat.Model = model
		}
	}
}

// ActiveModel returns the configured model for the active provider.
func (c *Config) ActiveModel() string {
	switch c.Provider {
	case "openai":
		return c.OpenAI.Model
	case "openai-compat":
		return c.OpenAICompat.Model
	default:
		return c.Anthropic.Model
	}
}

// Validate reports configuration errors a typo could cause.
func (c *Config) Validate() []error {
	var errs []error
	switch c.Provider {
	case "anthropic", "openai", "openai-compat":
	default:
		errs = append(errs, fmt.Errorf("unknown provider: %s", c.Provider))
	}
	if c.Provider == "openai-compat" && c.OpenAICompat.BaseURL == "" {
		errs = append(errs, fmt.Errorf("openai-compat.base_url is required"))
	}
	switch c.Compaction.OnOverflow {
	case "continue", "stop":
	default:
		errs = append(errs, fmt.Errorf("compaction.on_overflow must be \"continue\" or \"stop\", got %q", c.Compaction.OnOverflow))
	}
	if c.Compaction.ContextWindow <= 0 {
		errs = append(errs, fmt.Errorf("compaction.context_window must be positive"))
	}
	if c.Compaction.BufferTokens < 0 || c.Compaction.BufferTokens >= c.Compaction.ContextWindow {
		errs = append(errs, fmt.Errorf("compaction.buffer_tokens must be within the context window"))
	}
	errs = append(errs, c.Tools.Validate()...)
	return errs
}

func resolveAnthropicCredentials(cfg *AnthropicConfig) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

func resolveOpenAICredentials(cfg *OpenAIConfig) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

func resolveOpenAICompatCredentials(cfg *OpenAICompatConfig) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	cfg.BaseURL = expandEnv(cfg.BaseURL)
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for kon.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "kon"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "kon"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Save writes a starter config to disk.
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`provider: %s

anthropic:
  model: %s
  # api_key: defaults to $ANTHROPIC_API_KEY

openai:
  model: %s
  # api_key: defaults to $OPENAI_API_KEY

# openai-compat:
#   base_url: http://localhost:11434/v1
#   model: qwen3-coder

agent:
  max_turns: %d
  # instructions: |
  #   Extra guidance appended to the system prompt.

compaction:
  on_overflow: %s
  context_window: %d
  buffer_tokens: %d
  keep_recent_turns: %d

session:
  enabled: true
`, cfg.Provider, cfg.Anthropic.Model, cfg.OpenAI.Model,
		cfg.Agent.MaxTurns,
		cfg.Compaction.OnOverflow, cfg.Compaction.ContextWindow,
		cfg.Compaction.BufferTokens, cfg.Compaction.KeepRecentTurns)

	return os.WriteFile(path, []byte(content), 0600)
}
