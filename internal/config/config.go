// Package config provides settings management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates. A missing settings file falls back to in-memory
// defaults and disables config writeback.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Env variable names read at startup.
const (
	EnvConfigPath = "CONFIG_PATH"
	EnvDataDir    = "COGITO_DATA_DIR"
)

// Config represents the complete cogito configuration.
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	Providers    []ProviderConfig   `yaml:"providers"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Queue        QueueConfig        `yaml:"queue"`
	Cache        CacheConfig        `yaml:"cache"`
	Memory       MemoryConfig       `yaml:"memory"`
	Thinking     ThinkingConfig     `yaml:"thinking"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Optimization OptimizationConfig `yaml:"optimization"`
	Maintenance  MaintenanceConfig  `yaml:"maintenance"`
	Logging      LoggingConfig      `yaml:"logging"`

	// InMemoryOnly is set when no settings file was found. Writeback is
	// disabled in that mode.
	InMemoryOnly bool `yaml:"-"`
}

// ProviderConfig defines a single LLM provider.
type ProviderConfig struct {
	Name      string        `yaml:"name"`
	Type      string        `yaml:"type"` // openai, anthropic
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Priority  int           `yaml:"priority"`
	Weight    float64       `yaml:"weight"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DispatchConfig contains fallback dispatcher settings.
type DispatchConfig struct {
	MaxRetries          int           `yaml:"max_retries"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// QueueConfig contains per-provider request queue settings.
type QueueConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	HighWater      int           `yaml:"high_water"`
	JanitorPeriod  time.Duration `yaml:"janitor_period"`
}

// CacheConfig contains cache layer settings.
type CacheConfig struct {
	MaxEntries     int                      `yaml:"max_entries"`
	MaxBytes       int64                    `yaml:"max_bytes"`
	MaxEntrySize   int64                    `yaml:"max_entry_size"`
	EvictionPolicy string                   `yaml:"eviction_policy"` // lru, ttl, largest
	TTLs           map[string]time.Duration `yaml:"ttls"`
	Redis          RedisConfig              `yaml:"redis"`
}

// RedisConfig optionally replaces the disk tier with a redis remote tier.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// MemoryConfig contains memory store settings.
type MemoryConfig struct {
	VectorDim         int     `yaml:"vector_dim"`
	DefaultImportance float64 `yaml:"default_importance"`
	RetrieveLimit     int     `yaml:"retrieve_limit"`
}

// ModelProfile describes one thinking model and its token multiplier.
type ModelProfile struct {
	Name            string  `yaml:"name"`
	Strategy        string  `yaml:"strategy"`
	TokenMultiplier float64 `yaml:"token_multiplier"`
	Description     string  `yaml:"description"`
}

// ThinkingConfig contains thinking engine settings.
type ThinkingConfig struct {
	DefaultModel string         `yaml:"default_model"`
	MaxSteps     int            `yaml:"max_steps"`
	Models       []ModelProfile `yaml:"models"`
}

// StageConfig defines one pipeline stage.
type StageConfig struct {
	Name         string  `yaml:"name"`
	Provider     string  `yaml:"provider"`
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
}

// PipelineConfig contains reasoning-system pipeline settings.
type PipelineConfig struct {
	StageDelay time.Duration            `yaml:"stage_delay"`
	Systems    map[string][]StageConfig `yaml:"systems"`
}

// ModelTier maps a token budget threshold to a model.
type ModelTier struct {
	Name      string `yaml:"name"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// OptimizationConfig contains token optimizer settings.
type OptimizationConfig struct {
	Tiers          []ModelTier `yaml:"tiers"`
	HistoryLimit   int         `yaml:"history_limit"`
	CharsPerToken  float64     `yaml:"chars_per_token"`
	WordMultiplier float64     `yaml:"word_multiplier"`
}

// MaintenanceConfig contains cron schedules for periodic maintenance.
type MaintenanceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron spec, e.g. "@hourly"
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Default TTLs per cache type. Types not listed fall back to "default".
func defaultTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"reasoning_cache":  48 * time.Hour,
		"thinking_cache":   24 * time.Hour,
		"generation_cache": 7 * 24 * time.Hour,
		"default":          24 * time.Hour,
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Dispatch: DispatchConfig{
			MaxRetries:          3,
			HealthCheckInterval: 30 * time.Second,
		},
		Queue: QueueConfig{
			MaxConcurrent:  3,
			RateLimitDelay: 100 * time.Millisecond,
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			HighWater:      256,
			JanitorPeriod:  time.Second,
		},
		Cache: CacheConfig{
			MaxEntries:     1000,
			MaxBytes:       64 << 20,
			MaxEntrySize:   4 << 20,
			EvictionPolicy: "lru",
			TTLs:           defaultTTLs(),
		},
		Memory: MemoryConfig{
			VectorDim:         128,
			DefaultImportance: 0.5,
			RetrieveLimit:     10,
		},
		Thinking: ThinkingConfig{
			DefaultModel: "chain_of_thought",
			MaxSteps:     10,
			Models: []ModelProfile{
				{Name: "chain_of_thought", Strategy: "chain_of_thought", TokenMultiplier: 1.0,
					Description: "Sequential step-by-step reasoning"},
				{Name: "tree_of_thoughts", Strategy: "tree_of_thoughts", TokenMultiplier: 1.5,
					Description: "Branching exploration with evaluation"},
				{Name: "first_principles", Strategy: "first_principles", TokenMultiplier: 1.2,
					Description: "Decomposition into fundamentals"},
			},
		},
		Pipeline: PipelineConfig{
			StageDelay: time.Second,
			Systems:    map[string][]StageConfig{},
		},
		Optimization: OptimizationConfig{
			Tiers: []ModelTier{
				{Name: "fast", Model: "gpt-4o-mini", MaxTokens: 2000},
				{Name: "balanced", Model: "gpt-4o", MaxTokens: 8000},
				{Name: "deep", Model: "o1", MaxTokens: 32000},
			},
			HistoryLimit:   1000,
			CharsPerToken:  4,
			WordMultiplier: 1.3,
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "@hourly",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load resolves the settings file path from the environment (or the given
// override) and loads it. A missing file yields defaults with writeback
// disabled; a malformed file is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		cfg := DefaultConfig()
		cfg.InMemoryOnly = true
		cfg.applyEnv()
		return cfg, nil
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = DefaultConfig()
			cfg.InMemoryOnly = true
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.DataDir = dir
	}
}

// TTLFor returns the configured TTL for a cache type.
func (c *CacheConfig) TTLFor(cacheType string) time.Duration {
	if ttl, ok := c.TTLs[cacheType]; ok {
		return ttl
	}
	if ttl, ok := c.TTLs["default"]; ok {
		return ttl
	}
	return 24 * time.Hour
}

// ModelProfileFor looks up a thinking model profile by name.
func (c *ThinkingConfig) ModelProfileFor(name string) (ModelProfile, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelProfile{}, false
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider[%d]: name is required", i)
		}
		if p.Type == "" {
			return fmt.Errorf("provider[%d] %q: type is required", i, p.Name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider[%d] %q: timeout cannot be negative", i, p.Name)
		}
		if p.Weight < 0 {
			return fmt.Errorf("provider[%d] %q: weight cannot be negative", i, p.Name)
		}
	}

	if c.Dispatch.MaxRetries < 1 {
		return fmt.Errorf("dispatch.max_retries must be at least 1")
	}
	if c.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("queue.max_concurrent must be at least 1")
	}
	if c.Thinking.MaxSteps < 1 {
		return fmt.Errorf("thinking.max_steps must be at least 1")
	}
	if c.Memory.VectorDim < 1 {
		return fmt.Errorf("memory.vector_dim must be at least 1")
	}
	switch c.Cache.EvictionPolicy {
	case "", "lru", "ttl", "largest":
	default:
		return fmt.Errorf("cache.eviction_policy must be one of lru, ttl, largest")
	}

	return nil
}
