package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for the assistant backend.
// It is loaded from ~/.secondbrain/config.yaml and can be overridden by
// environment variables.
type Config struct {
	LLM          LLMConfig          `mapstructure:"llm" yaml:"llm"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Context      ContextConfig      `mapstructure:"context" yaml:"context"`
	Memory       MemoryConfig       `mapstructure:"memory" yaml:"memory"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Postproc     PostprocConfig     `mapstructure:"postproc" yaml:"postproc"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig contains configuration for language model providers.
type LLMConfig struct {
	// DefaultProvider is the provider used when a user has no override
	// (e.g. "ollama", "openai", "anthropic")
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`
	// FallbackProvider is substituted once when the primary fails with a
	// transport-level error mid-conversation. Empty disables fallback.
	FallbackProvider string `mapstructure:"fallback_provider" yaml:"fallback_provider"`
	// Providers maps provider names to their specific configuration
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	// Users maps user IDs to per-user provider overrides
	Users map[string]UserProviders `mapstructure:"users" yaml:"users,omitempty"`
}

// ProviderConfig contains configuration for a specific LLM provider.
type ProviderConfig struct {
	// Endpoint is the API endpoint URL (primarily for local providers like Ollama)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	// APIKey is the authentication key for the provider
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the specific model to use with this provider
	Model string `mapstructure:"model" yaml:"model,omitempty"`
	// MaxTokens caps the response length per model call
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	// Temperature controls sampling randomness
	Temperature float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
	// TimeoutSec is the per-request timeout in seconds
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec,omitempty"`
}

// UserProviders holds per-user provider selection. Primary must name a key
// in LLM.Providers; Fallback is optional.
type UserProviders struct {
	Primary  string `mapstructure:"primary" yaml:"primary"`
	Fallback string `mapstructure:"fallback" yaml:"fallback,omitempty"`
}

// OrchestratorConfig contains tunables for the conversation turn engine.
type OrchestratorConfig struct {
	// MaxRetryAttempts is the number of attempts beyond the first
	// for a degraded model response (default: 2)
	MaxRetryAttempts int `mapstructure:"max_retry_attempts" yaml:"max_retry_attempts"`
	// MinResponseLength is the minimum rune count below which a text-only
	// response is treated as degraded
	MinResponseLength int `mapstructure:"min_response_length" yaml:"min_response_length"`
	// MaxToolIterations is the hard cap on model/tool rounds within one attempt
	MaxToolIterations int `mapstructure:"max_tool_iterations" yaml:"max_tool_iterations"`
	// BreakerThreshold is the number of consecutive all-failed tool rounds
	// that trips the circuit breaker
	BreakerThreshold int `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	// AttemptTimeoutSec bounds a single attempt end to end
	AttemptTimeoutSec int `mapstructure:"attempt_timeout_sec" yaml:"attempt_timeout_sec"`
	// ToolTimeoutSec bounds a single tool execution
	ToolTimeoutSec int `mapstructure:"tool_timeout_sec" yaml:"tool_timeout_sec"`
}

// ContextConfig contains budgets for conversation context assembly.
type ContextConfig struct {
	// HistoryLimit is the maximum number of recent turns included
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
	// ExcerptLimit is the maximum number of memory excerpts included
	ExcerptLimit int `mapstructure:"excerpt_limit" yaml:"excerpt_limit"`
	// FactLimit is the maximum number of user facts included
	FactLimit int `mapstructure:"fact_limit" yaml:"fact_limit"`
	// FetchTimeoutSec bounds each concurrent context sub-fetch
	FetchTimeoutSec int `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`
}

// MemoryConfig contains configuration for the conversation memory store.
type MemoryConfig struct {
	// DBPath is the path to the SQLite memory database
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
	// CacheTTLSec is how long assembled conversation context stays cached
	CacheTTLSec int `mapstructure:"cache_ttl_sec" yaml:"cache_ttl_sec"`
}

// ServerConfig contains configuration for the WebSocket conversation server.
type ServerConfig struct {
	// Host is the listen address
	Host string `mapstructure:"host" yaml:"host"`
	// Port is the listen port
	Port int `mapstructure:"port" yaml:"port"`
	// WriteTimeoutSec bounds outbound message writes
	WriteTimeoutSec int `mapstructure:"write_timeout_sec" yaml:"write_timeout_sec"`
}

// PostprocConfig contains configuration for detached post-processing.
type PostprocConfig struct {
	// Workers is the number of background workers draining the job queue
	Workers int `mapstructure:"workers" yaml:"workers"`
	// QueueSize is the job queue capacity; submissions beyond it are dropped
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
	// JobTimeoutSec bounds a single post-processing job
	JobTimeoutSec int `mapstructure:"job_timeout_sec" yaml:"job_timeout_sec"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".secondbrain")

	return &Config{
		LLM: LLMConfig{
			DefaultProvider:  "ollama",
			FallbackProvider: "",
			Providers: map[string]ProviderConfig{
				"ollama": {
					Endpoint: "http://127.0.0.1:11434",
					Model:    "llama3.2",
				},
				"openai": {
					Model: "gpt-4o-mini",
				},
				"anthropic": {
					Model: "claude-3-5-sonnet-20241022",
				},
			},
			Users: make(map[string]UserProviders),
		},
		Orchestrator: OrchestratorConfig{
			MaxRetryAttempts:  2,
			MinResponseLength: 20,
			MaxToolIterations: 8,
			BreakerThreshold:  3,
			AttemptTimeoutSec: 120,
			ToolTimeoutSec:    30,
		},
		Context: ContextConfig{
			HistoryLimit:    20,
			ExcerptLimit:    5,
			FactLimit:       10,
			FetchTimeoutSec: 5,
		},
		Memory: MemoryConfig{
			DBPath:      filepath.Join(dataDir, "memory.db"),
			CacheTTLSec: 300,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8780,
			WriteTimeoutSec: 10,
		},
		Postproc: PostprocConfig{
			Workers:       2,
			QueueSize:     64,
			JobTimeoutSec: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "logs", "secondbrain.log"),
		},
	}
}

// Load reads configuration from the default location
// (~/.secondbrain/config.yaml) and merges with environment variables.
// If no config file exists, it creates one with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	return LoadFromPath(filepath.Join(homeDir, ".secondbrain", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Environment variable overrides,
	// e.g. SECONDBRAIN_LLM_PROVIDERS_OPENAI_API_KEY
	v.SetEnvPrefix("SECONDBRAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Memory.DBPath = expandPath(cfg.Memory.DBPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	cfg.applyOrchestratorDefaults()

	return &cfg, nil
}

// applyOrchestratorDefaults fills in zero-valued orchestrator and context
// tunables. A hand-edited config that omits a field still gets safe limits.
func (c *Config) applyOrchestratorDefaults() {
	d := Default()

	if c.Orchestrator.MaxRetryAttempts == 0 {
		c.Orchestrator.MaxRetryAttempts = d.Orchestrator.MaxRetryAttempts
	}
	if c.Orchestrator.MinResponseLength == 0 {
		c.Orchestrator.MinResponseLength = d.Orchestrator.MinResponseLength
	}
	if c.Orchestrator.MaxToolIterations == 0 {
		c.Orchestrator.MaxToolIterations = d.Orchestrator.MaxToolIterations
	}
	if c.Orchestrator.BreakerThreshold == 0 {
		c.Orchestrator.BreakerThreshold = d.Orchestrator.BreakerThreshold
	}
	if c.Orchestrator.AttemptTimeoutSec == 0 {
		c.Orchestrator.AttemptTimeoutSec = d.Orchestrator.AttemptTimeoutSec
	}
	if c.Orchestrator.ToolTimeoutSec == 0 {
		c.Orchestrator.ToolTimeoutSec = d.Orchestrator.ToolTimeoutSec
	}
	if c.Context.HistoryLimit == 0 {
		c.Context.HistoryLimit = d.Context.HistoryLimit
	}
	if c.Context.ExcerptLimit == 0 {
		c.Context.ExcerptLimit = d.Context.ExcerptLimit
	}
	if c.Context.FactLimit == 0 {
		c.Context.FactLimit = d.Context.FactLimit
	}
	if c.Context.FetchTimeoutSec == 0 {
		c.Context.FetchTimeoutSec = d.Context.FetchTimeoutSec
	}
	if c.Postproc.Workers == 0 {
		c.Postproc.Workers = d.Postproc.Workers
	}
	if c.Postproc.QueueSize == 0 {
		c.Postproc.QueueSize = d.Postproc.QueueSize
	}
	if c.Postproc.JobTimeoutSec == 0 {
		c.Postproc.JobTimeoutSec = d.Postproc.JobTimeoutSec
	}
}

// Save writes the current configuration to the default config file location.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	return c.SaveToPath(filepath.Join(homeDir, ".secondbrain", "config.yaml"))
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// GetDataDir returns the data directory path (~/.secondbrain).
func (c *Config) GetDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".secondbrain")
}

// EnsureDirectories creates all directories needed at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.GetDataDir(),
		filepath.Dir(c.Logging.File),
		filepath.Dir(c.Memory.DBPath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// AttemptTimeout returns the per-attempt timeout as a duration.
func (c *OrchestratorConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutSec) * time.Second
}

// ToolTimeout returns the per-tool timeout as a duration.
func (c *OrchestratorConfig) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSec) * time.Second
}

// FetchTimeout returns the context sub-fetch timeout as a duration.
func (c *ContextConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// CacheTTL returns the context cache TTL as a duration.
func (c *MemoryConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// JobTimeout returns the post-processing job timeout as a duration.
func (c *PostprocConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider cannot be empty")
	}

	if _, exists := c.LLM.Providers[c.LLM.DefaultProvider]; !exists {
		return fmt.Errorf("default provider '%s' not found in providers map", c.LLM.DefaultProvider)
	}

	if c.LLM.FallbackProvider != "" {
		if _, exists := c.LLM.Providers[c.LLM.FallbackProvider]; !exists {
			return fmt.Errorf("fallback provider '%s' not found in providers map", c.LLM.FallbackProvider)
		}
	}

	for userID, up := range c.LLM.Users {
		if up.Primary == "" {
			return fmt.Errorf("user '%s' has no primary provider", userID)
		}
		if _, exists := c.LLM.Providers[up.Primary]; !exists {
			return fmt.Errorf("user '%s' primary provider '%s' not found in providers map", userID, up.Primary)
		}
		if up.Fallback != "" {
			if _, exists := c.LLM.Providers[up.Fallback]; !exists {
				return fmt.Errorf("user '%s' fallback provider '%s' not found in providers map", userID, up.Fallback)
			}
		}
	}

	if c.Orchestrator.MaxRetryAttempts < 0 {
		return fmt.Errorf("max_retry_attempts cannot be negative")
	}
	if c.Orchestrator.MaxToolIterations < 1 {
		return fmt.Errorf("max_tool_iterations must be at least 1")
	}
	if c.Orchestrator.BreakerThreshold < 1 {
		return fmt.Errorf("breaker_threshold must be at least 1")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
