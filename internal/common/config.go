package common

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration. Values are resolved in
// priority order: defaults -> config file(s) -> environment -> CLI flags.
// Unknown keys in a config file are rejected at load time.
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
	Pipeline    PipelineConfig `toml:"pipeline"`
	Cascade     CascadeConfig  `toml:"cascade"`
	Claude      ClaudeConfig   `toml:"claude"`
	Gemini      GeminiConfig   `toml:"gemini"`
	LLM         LLMConfig      `toml:"llm"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
}

// SQLiteConfig configures the single embedded database file. The store file
// is the only source of authoritative state.
type SQLiteConfig struct {
	Path          string `toml:"path" validate:"required"`
	CacheSizeMB   int    `toml:"cache_size_mb" validate:"gt=0"`
	WALMode       bool   `toml:"wal_mode"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms" validate:"gte=0"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=debug info warn error"`
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for log lines
}

// PipelineConfig controls batching and concurrency for the job engine.
type PipelineConfig struct {
	BatchSize            int     `toml:"batch_size" validate:"gt=0"`
	MaxConcurrent        int     `toml:"max_concurrent" validate:"gt=0"`
	MaxLLMCostPerSession float64 `toml:"max_llm_cost_per_session" validate:"gte=0"` // USD; 0 disables the cap
}

// CascadeConfig holds the per-layer acceptance thresholds. Defaults are
// conservative; lowering them trades precision for fewer provider calls.
type CascadeConfig struct {
	CacheMinConfidence          float64 `toml:"cache_min_confidence" validate:"gte=0,lte=1"`
	RuleMinConfidence           float64 `toml:"rule_min_confidence" validate:"gte=0,lte=1"`
	PhoneticSimilarityThreshold float64 `toml:"phonetic_similarity_threshold" validate:"gte=0,lte=1"`
	LearnedPatternMinConfidence float64 `toml:"learned_pattern_min_confidence" validate:"gte=0,lte=1"`
	LLMMinConfidence            float64 `toml:"llm_min_confidence" validate:"gte=0,lte=1"`
}

// ClaudeConfig contains Anthropic Claude API configuration.
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"` // Usually supplied via ANTHROPIC_API_KEY
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens" validate:"gt=0"`
	Temperature float32 `toml:"temperature"`
	RPM         int     `toml:"rpm" validate:"gt=0"`        // Requests-per-minute cap
	DailyLimit  int     `toml:"daily_limit" validate:"gte=0"` // 0 = no daily cap
}

// GeminiConfig contains Google Gemini API configuration.
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"` // Usually supplied via GEMINI_API_KEY
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	RPM         int     `toml:"rpm" validate:"gt=0"`
	DailyLimit  int     `toml:"daily_limit" validate:"gte=0"`
}

// LLMConfig contains provider-independent settings: retry, backoff and
// request timeout used by the rate-limit governor.
type LLMConfig struct {
	DefaultProvider          string  `toml:"default_provider" validate:"oneof=claude gemini"`
	InitialBackoffSeconds    int     `toml:"initial_backoff_seconds" validate:"gt=0"`
	MaxBackoffSeconds        int     `toml:"max_backoff_seconds" validate:"gt=0"`
	BackoffMultiplier        float64 `toml:"backoff_multiplier" validate:"gte=1"`
	PerRequestTimeoutSeconds int     `toml:"per_request_timeout_seconds" validate:"gt=0"`
	MaxRetries               int     `toml:"max_retries" validate:"gte=0"`
}

// PerRequestTimeout returns the configured L4 request timeout.
func (c *LLMConfig) PerRequestTimeout() time.Duration {
	return time.Duration(c.PerRequestTimeoutSeconds) * time.Second
}

// InitialBackoff returns the base backoff duration.
func (c *LLMConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffSeconds) * time.Second
}

// MaxBackoff returns the backoff ceiling.
func (c *LLMConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

// NewDefaultConfig creates a configuration with default values. Only
// user-facing settings are expected in prospect.toml; everything here is a
// working production default.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/prospect.db",
				CacheSizeMB:   32,
				WALMode:       true,
				BusyTimeoutMS: 5000,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Pipeline: PipelineConfig{
			BatchSize:            100,
			MaxConcurrent:        4, // Modest default - L4 calls are serialized through the governor anyway
			MaxLLMCostPerSession: 0,
		},
		Cascade: CascadeConfig{
			CacheMinConfidence:          0.80,
			RuleMinConfidence:           0.80,
			PhoneticSimilarityThreshold: 0.85,
			LearnedPatternMinConfidence: 0.60,
			LLMMinConfidence:            0.70,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   1024,
			Temperature: 0,
			RPM:         50,
			DailyLimit:  0,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-3-flash-preview",
			Temperature: 0,
			RPM:         15,
			DailyLimit:  0,
		},
		LLM: LLMConfig{
			DefaultProvider:          "claude",
			InitialBackoffSeconds:    5,
			MaxBackoffSeconds:        120,
			BackoffMultiplier:        2.0,
			PerRequestTimeoutSeconds: 30,
			MaxRetries:               2,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier ones.
// Unknown keys fail the load.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against its struct constraints.
func Validate(config *Config) error {
	v := validator.New()
	if err := v.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
// Provider credentials follow the SDK conventions (ANTHROPIC_API_KEY,
// GEMINI_API_KEY); everything else uses the PROSPECT_ prefix.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PROSPECT_ENV"); env != "" {
		config.Environment = env
	}

	if path := os.Getenv("PROSPECT_DB_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}

	if level := os.Getenv("PROSPECT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if batch := os.Getenv("PROSPECT_BATCH_SIZE"); batch != "" {
		if b, err := strconv.Atoi(batch); err == nil {
			config.Pipeline.BatchSize = b
		}
	}
	if concurrent := os.Getenv("PROSPECT_MAX_CONCURRENT"); concurrent != "" {
		if c, err := strconv.Atoi(concurrent); err == nil {
			config.Pipeline.MaxConcurrent = c
		}
	}
	if cost := os.Getenv("PROSPECT_MAX_LLM_COST"); cost != "" {
		if f, err := strconv.ParseFloat(cost, 64); err == nil {
			config.Pipeline.MaxLLMCostPerSession = f
		}
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Claude.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	}
	if provider := os.Getenv("PROSPECT_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = provider
	}
}
