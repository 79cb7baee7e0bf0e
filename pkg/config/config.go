// Package config loads the orchestrator's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/researchpilot/orchestrator/pkg/domain"
	"github.com/researchpilot/orchestrator/pkg/recovery"
)

// Config represents the complete application configuration
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Search        SearchConfig        `yaml:"search"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Memory        MemoryConfig        `yaml:"memory"`
	Auth          AuthConfig          `yaml:"auth,omitempty"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// AuthConfig contains the static session token table
type AuthConfig struct {
	Tokens []TokenEntry `yaml:"tokens,omitempty"`
}

// TokenEntry maps one bearer token to a user
type TokenEntry struct {
	Token  string `yaml:"token"`
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name,omitempty"`
}

// SessionUsers returns the token table in the shape the session provider takes
func (c *Config) SessionUsers() map[string]domain.User {
	users := make(map[string]domain.User, len(c.Auth.Tokens))
	for _, entry := range c.Auth.Tokens {
		users[entry.Token] = domain.User{ID: entry.UserID, Name: entry.Name}
	}
	return users
}

// LLMConfig contains chat-provider configuration
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key,omitempty"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     string  `yaml:"timeout"`
}

// SearchConfig contains search-provider configuration
type SearchConfig struct {
	BaseURL    string `yaml:"base_url"`
	MaxResults int    `yaml:"max_results"`
	Timeout    string `yaml:"timeout"`
}

// ExecutorConfig contains plan-execution configuration
type ExecutorConfig struct {
	BaseIterations int                    `yaml:"base_iterations"`
	Retry          RetryConfig            `yaml:"retry"`
	RetryOverrides map[string]RetryConfig `yaml:"retry_overrides,omitempty"`
}

// RetryConfig is the YAML shape of a retry policy. Delays are duration
// strings ("500ms", "5s").
type RetryConfig struct {
	MaxRetries int     `yaml:"max_retries"`
	BaseDelay  string  `yaml:"base_delay"`
	MaxDelay   string  `yaml:"max_delay"`
	Multiplier float64 `yaml:"multiplier"`
}

// ToPolicy converts to the executor's retry config
func (r RetryConfig) ToPolicy() (recovery.RetryConfig, error) {
	out := recovery.RetryConfig{
		MaxRetries: r.MaxRetries,
		Multiplier: r.Multiplier,
	}
	var err error
	if r.BaseDelay != "" {
		if out.BaseDelay, err = time.ParseDuration(r.BaseDelay); err != nil {
			return out, fmt.Errorf("invalid base_delay: %w", err)
		}
	}
	if r.MaxDelay != "" {
		if out.MaxDelay, err = time.ParseDuration(r.MaxDelay); err != nil {
			return out, fmt.Errorf("invalid max_delay: %w", err)
		}
	}
	return out, nil
}

// MemoryConfig contains research-cache configuration
type MemoryConfig struct {
	TTL              string  `yaml:"ttl"`
	OverlapThreshold float64 `yaml:"overlap_threshold"`
}

// ObservabilityConfig contains observability configuration
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	config.overrideFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file or returns default config
func LoadOrDefault(path string) *Config {
	config, err := Load(path)
	if err != nil {
		config = Default()
	}
	return config
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "llama3.2",
			Temperature: 0.7,
			MaxTokens:   4096,
			Timeout:     "2m",
		},
		Search: SearchConfig{
			BaseURL:    "http://localhost:8888",
			MaxResults: 8,
			Timeout:    "15s",
		},
		Executor: ExecutorConfig{
			BaseIterations: 8,
			Retry: RetryConfig{
				MaxRetries: 2,
				BaseDelay:  "1s",
				MaxDelay:   "5s",
				Multiplier: 2.0,
			},
		},
		Memory: MemoryConfig{
			TTL:              "30m",
			OverlapThreshold: 0.7,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:      false,
				Endpoint:     "localhost:4318",
				SamplingRate: 1.0,
			},
			Metrics: MetricsConfig{
				Enabled: false,
				Port:    2223,
			},
			Logging: LoggingConfig{
				Level: "info",
			},
		},
	}
}

// applyDefaults applies default values to missing fields
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaults.LLM.BaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaults.LLM.Model
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = defaults.LLM.Temperature
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = defaults.LLM.MaxTokens
	}
	if c.LLM.Timeout == "" {
		c.LLM.Timeout = defaults.LLM.Timeout
	}

	if c.Search.BaseURL == "" {
		c.Search.BaseURL = defaults.Search.BaseURL
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = defaults.Search.MaxResults
	}
	if c.Search.Timeout == "" {
		c.Search.Timeout = defaults.Search.Timeout
	}

	if c.Executor.BaseIterations == 0 {
		c.Executor.BaseIterations = defaults.Executor.BaseIterations
	}
	if c.Executor.Retry.MaxRetries == 0 && c.Executor.Retry.BaseDelay == "" {
		c.Executor.Retry = defaults.Executor.Retry
	}

	if c.Memory.TTL == "" {
		c.Memory.TTL = defaults.Memory.TTL
	}
	if c.Memory.OverlapThreshold == 0 {
		c.Memory.OverlapThreshold = defaults.Memory.OverlapThreshold
	}

	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = defaults.Observability.Logging.Level
	}
	if c.Observability.Tracing.Endpoint == "" {
		c.Observability.Tracing.Endpoint = defaults.Observability.Tracing.Endpoint
	}
	if c.Observability.Tracing.SamplingRate == 0 {
		c.Observability.Tracing.SamplingRate = defaults.Observability.Tracing.SamplingRate
	}
	if c.Observability.Metrics.Port == 0 {
		c.Observability.Metrics.Port = defaults.Observability.Metrics.Port
	}
}

// overrideFromEnv overrides configuration from environment variables
func (c *Config) overrideFromEnv() {
	if url := os.Getenv("LLM_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if url := os.Getenv("SEARCH_BASE_URL"); url != "" {
		c.Search.BaseURL = url
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Observability.Tracing.Endpoint = endpoint
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm base_url is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	if c.Search.BaseURL == "" {
		return fmt.Errorf("search base_url is required")
	}
	if c.Executor.BaseIterations < 1 {
		return fmt.Errorf("executor base_iterations must be at least 1")
	}

	if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
		return fmt.Errorf("invalid llm timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Search.Timeout); err != nil {
		return fmt.Errorf("invalid search timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Memory.TTL); err != nil {
		return fmt.Errorf("invalid memory ttl: %w", err)
	}
	if _, err := c.Executor.Retry.ToPolicy(); err != nil {
		return fmt.Errorf("invalid executor retry: %w", err)
	}
	for tool, rc := range c.Executor.RetryOverrides {
		if _, err := rc.ToPolicy(); err != nil {
			return fmt.Errorf("invalid retry override for %s: %w", tool, err)
		}
	}
	for i, entry := range c.Auth.Tokens {
		if entry.Token == "" || entry.UserID == "" {
			return fmt.Errorf("auth token entry %d needs token and user_id", i)
		}
	}

	return nil
}

// RetryPolicy builds the executor's retry policy from the defaults and
// per-tool overrides. Call only after validate has passed.
func (c *Config) RetryPolicy() (*recovery.Policy, error) {
	defaults, err := c.Executor.Retry.ToPolicy()
	if err != nil {
		return nil, err
	}
	var overrides map[string]recovery.RetryConfig
	if len(c.Executor.RetryOverrides) > 0 {
		overrides = make(map[string]recovery.RetryConfig, len(c.Executor.RetryOverrides))
		for tool, rc := range c.Executor.RetryOverrides {
			cfg, err := rc.ToPolicy()
			if err != nil {
				return nil, fmt.Errorf("retry override for %s: %w", tool, err)
			}
			overrides[tool] = cfg
		}
	}
	return recovery.NewPolicy(defaults, overrides), nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDuration parses a duration string from config
func (c *Config) GetDuration(value string) (time.Duration, error) {
	return time.ParseDuration(value)
}
