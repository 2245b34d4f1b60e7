// Package config loads cerebrum.yml, applies CEREBRUM_* environment
// overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dyluth/cerebrum/pkg/broker"
	"gopkg.in/yaml.v3"
)

// Roles that must resolve to a completion model.
const (
	RoleUserProxy     = "user_proxy"
	RoleMarketAnalyst = "market_analyst"
	RoleChiefAnalyst  = "chief_analyst"
	RoleNewsAnalyst   = "news_analyst"
)

// Completion providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Review scopes.
const (
	// ReviewPerAgent grants one review pass for the lifetime of the review
	// agent. Every later task is presented without review.
	ReviewPerAgent = "per_agent"
	// ReviewPerTask reviews every task once, or never when
	// MaxReviewPasses is 0.
	ReviewPerTask = "per_task"
)

// Broker transports.
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

// Config is the top-level cerebrum.yml configuration.
type Config struct {
	Version    string           `yaml:"version"`
	Completion CompletionConfig `yaml:"completion"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Broker     BrokerConfig     `yaml:"broker"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// CompletionConfig configures the completion service shared by all roles.
type CompletionConfig struct {
	Provider     string            `yaml:"provider" env:"CEREBRUM_COMPLETION_PROVIDER"`
	BaseURL      string            `yaml:"base_url" env:"CEREBRUM_COMPLETION_BASE_URL"`
	APIKey       string            `yaml:"api_key" env:"CEREBRUM_COMPLETION_API_KEY"`
	Temperature  float64           `yaml:"temperature" env:"CEREBRUM_COMPLETION_TEMPERATURE"`
	MaxTokens    int               `yaml:"max_tokens" env:"CEREBRUM_COMPLETION_MAX_TOKENS"`
	Timeout      time.Duration     `yaml:"timeout" env:"CEREBRUM_COMPLETION_TIMEOUT"`
	DefaultModel string            `yaml:"default_model,omitempty" env:"CEREBRUM_COMPLETION_MODEL"`
	Models       map[string]string `yaml:"models"`
}

// MarketDataProvider is one entry of the prioritised provider list.
// Priority 1 is the highest.
type MarketDataProvider struct {
	Name     string `yaml:"name"`
	APIKey   string `yaml:"api_key,omitempty"`
	Priority int    `yaml:"priority"`
}

// MarketDataConfig configures market data retrieval.
type MarketDataConfig struct {
	Providers []MarketDataProvider `yaml:"providers"`
	BaseURL   string               `yaml:"base_url,omitempty" env:"CEREBRUM_MARKET_DATA_BASE_URL"`
	Timeout   time.Duration        `yaml:"timeout" env:"CEREBRUM_MARKET_DATA_TIMEOUT"`
}

// WorkflowConfig controls the task protocol.
type WorkflowConfig struct {
	Interactive        bool   `yaml:"interactive" env:"CEREBRUM_INTERACTIVE"`
	MaxFeedbackRetries *int   `yaml:"max_feedback_retries,omitempty" env:"CEREBRUM_MAX_FEEDBACK_RETRIES"`
	ReviewScope        string `yaml:"review_scope" env:"CEREBRUM_REVIEW_SCOPE"`
	MaxReviewPasses    *int   `yaml:"max_review_passes,omitempty" env:"CEREBRUM_MAX_REVIEW_PASSES"`
	ShutdownOnReport   *bool  `yaml:"shutdown_on_report,omitempty" env:"CEREBRUM_SHUTDOWN_ON_REPORT"`
}

// BrokerConfig selects the transport and handler pool.
type BrokerConfig struct {
	Transport     string `yaml:"transport" env:"CEREBRUM_BROKER_TRANSPORT"`
	MaxConcurrent int    `yaml:"max_concurrent" env:"CEREBRUM_BROKER_MAX_CONCURRENT"`
	Backpressure  string `yaml:"backpressure" env:"CEREBRUM_BROKER_BACKPRESSURE"`
	RedisURL      string `yaml:"redis_url,omitempty" env:"REDIS_URL"`
	Instance      string `yaml:"instance" env:"CEREBRUM_INSTANCE_NAME"`
}

// SupervisorConfig controls startup and shutdown.
type SupervisorConfig struct {
	JoinTimeout time.Duration `yaml:"join_timeout" env:"CEREBRUM_JOIN_TIMEOUT"`
	HealthAddr  string        `yaml:"health_addr,omitempty" env:"CEREBRUM_HEALTH_ADDR"`
}

// LoggingConfig configures structured logs.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"CEREBRUM_LOG_LEVEL"`
	Format string `yaml:"format" env:"CEREBRUM_LOG_FORMAT"`
	File   string `yaml:"file,omitempty" env:"CEREBRUM_LOG_FILE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	const freeModel = "meta-llama/llama-4-maverick:free"
	return &Config{
		Version: "1.0",
		Completion: CompletionConfig{
			Provider:    ProviderOpenAI,
			BaseURL:     "https://openrouter.ai/api/v1",
			APIKey:      "${OPENROUTER_API_KEY}",
			Temperature: 0.7,
			MaxTokens:   3000,
			Timeout:     2 * time.Minute,
			Models: map[string]string{
				RoleUserProxy:     freeModel,
				RoleMarketAnalyst: freeModel,
				RoleNewsAnalyst:   freeModel,
				RoleChiefAnalyst:  freeModel,
			},
		},
		MarketData: MarketDataConfig{
			Providers: []MarketDataProvider{
				{Name: "YahooFinance", Priority: 1},
				{Name: "Finhub", Priority: 2},
			},
			Timeout: 30 * time.Second,
		},
		Workflow: WorkflowConfig{
			ReviewScope: ReviewPerAgent,
		},
		Broker: BrokerConfig{
			Transport:     TransportMemory,
			MaxConcurrent: 64,
			Backpressure:  string(broker.PolicyQueue),
			Instance:      "default",
		},
		Supervisor: SupervisorConfig{
			JoinTimeout: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads path on top of the defaults, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to the defaults when
// path does not exist. An empty path always uses the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return finish(Default())
	}
	cfg, err := Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return finish(Default())
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	resolveEnvRefs(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveEnvRefs(cfg *Config) {
	cfg.Completion.APIKey = resolveEnvRef(cfg.Completion.APIKey)
	cfg.Completion.BaseURL = resolveEnvRef(cfg.Completion.BaseURL)
	cfg.Broker.RedisURL = resolveEnvRef(cfg.Broker.RedisURL)
	for i := range cfg.MarketData.Providers {
		cfg.MarketData.Providers[i].APIKey = resolveEnvRef(cfg.MarketData.Providers[i].APIKey)
	}
}

// resolveEnvRef expands a value of the form ${VAR}. Unset variables
// resolve to the empty string so a missing secret is reported by the
// service rather than sent verbatim.
func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return v
	}
	key := strings.TrimSpace(s[2 : len(s)-1])
	if key == "" {
		return v
	}
	return os.Getenv(key)
}
