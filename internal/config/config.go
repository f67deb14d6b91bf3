package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the gateway reads at startup.
type Config struct {
	// HTTP surface
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`

	// LLM provider
	Provider Provider `mapstructure:"provider"`

	// Idempotency
	Idempotency Idempotency `mapstructure:"idempotency"`

	// Context assembly
	ContextRecordLimit int `mapstructure:"context_record_limit"`

	// Tool dispatch
	MaxToolCallsPerTurn int `mapstructure:"max_tool_calls_per_turn"`
}

// Provider configures the upstream chat-completions endpoint.
type Provider struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
}

// Idempotency configures the coordinator and its store.
type Idempotency struct {
	// RedisAddr selects the Redis-backed store when non-empty; the in-memory
	// store is used otherwise (dev and tests only).
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`

	// DefaultTTL gates reclaim of both Done and Failed records. Failed
	// records deliberately wait out the same TTL as successful ones; tune
	// per deployment rather than assuming a shorter failure window.
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollAttempts int           `mapstructure:"poll_attempts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("read_timeout", 30*time.Second)
	v.SetDefault("write_timeout", 0) // streaming responses must not be cut off
	v.SetDefault("allowed_origins", []string{"*"})

	v.SetDefault("provider.base_url", "https://api.openai.com/v1")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.max_tokens", 4096)
	v.SetDefault("provider.timeout", 120*time.Second)
	v.SetDefault("provider.stream_timeout", 300*time.Second)

	v.SetDefault("idempotency.default_ttl", 60*time.Second)
	v.SetDefault("idempotency.poll_interval", 250*time.Millisecond)
	v.SetDefault("idempotency.poll_attempts", 10)

	v.SetDefault("context_record_limit", 5)
	v.SetDefault("max_tool_calls_per_turn", 3)
}

// Load reads configuration from an optional YAML file plus RELAY_* env vars.
// Env vars win over the file; both win over defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("relay-config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
		// Missing default config file is fine; env and defaults apply.
		_ = v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Idempotency.DefaultTTL <= 0 {
		return fmt.Errorf("idempotency.default_ttl must be positive")
	}
	if c.Idempotency.PollInterval <= 0 || c.Idempotency.PollAttempts <= 0 {
		return fmt.Errorf("idempotency poll settings must be positive")
	}
	if c.MaxToolCallsPerTurn <= 0 {
		return fmt.Errorf("max_tool_calls_per_turn must be positive")
	}
	return nil
}
