// Package config loads application configuration from file and environment.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Serper    SerperConfig    `yaml:"serper" mapstructure:"serper"`
	Receita   ReceitaConfig   `yaml:"receita" mapstructure:"receita"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Quality   QualityConfig   `yaml:"quality" mapstructure:"quality"`
	Filter    FilterConfig    `yaml:"filter" mapstructure:"filter"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings for market classification.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SerperConfig holds search provider settings.
type SerperConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// ReceitaConfig holds tax-registry lookup settings.
type ReceitaConfig struct {
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// BatchConfig configures job batch execution.
type BatchConfig struct {
	Size               int `yaml:"size" mapstructure:"size"`
	CheckpointInterval int `yaml:"checkpoint_interval" mapstructure:"checkpoint_interval"`
}

// QueueConfig configures the execution scheduler.
type QueueConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	ExecutionMode   string        `yaml:"execution_mode" mapstructure:"execution_mode"`
	MaxParallelJobs int           `yaml:"max_parallel_jobs" mapstructure:"max_parallel_jobs"`
	StaleAfter      time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
}

// QualityConfig holds per-field weights for the 0-100 completeness score.
// Weights must sum to 100 for a fully populated entity to score exactly 100.
type QualityConfig struct {
	CNPJ        int `yaml:"cnpj" mapstructure:"cnpj"`
	Email       int `yaml:"email" mapstructure:"email"`
	Phone       int `yaml:"phone" mapstructure:"phone"`
	Site        int `yaml:"site" mapstructure:"site"`
	Social      int `yaml:"social" mapstructure:"social"`
	Description int `yaml:"description" mapstructure:"description"`
	City        int `yaml:"city" mapstructure:"city"`
	State       int `yaml:"state" mapstructure:"state"`
	CNAE        int `yaml:"cnae" mapstructure:"cnae"`
	Size        int `yaml:"size" mapstructure:"size"`
}

// FilterConfig points at an optional YAML file overriding the built-in
// company-filter rules.
type FilterConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "prospect.db")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("serper.base_url", "https://google.serper.dev")
	v.SetDefault("serper.rps", 5)
	v.SetDefault("receita.base_url", "https://brasilapi.com.br/api/cnpj/v1")
	v.SetDefault("receita.rps", 3)
	v.SetDefault("batch.size", 5)
	v.SetDefault("batch.checkpoint_interval", 10)
	v.SetDefault("queue.poll_interval", "10s")
	v.SetDefault("queue.execution_mode", "sequential")
	v.SetDefault("queue.max_parallel_jobs", 3)
	v.SetDefault("queue.stale_after", "30m")
	v.SetDefault("quality.cnpj", 20)
	v.SetDefault("quality.email", 15)
	v.SetDefault("quality.phone", 15)
	v.SetDefault("quality.site", 10)
	v.SetDefault("quality.social", 10)
	v.SetDefault("quality.description", 10)
	v.SetDefault("quality.city", 5)
	v.SetDefault("quality.state", 5)
	v.SetDefault("quality.cnae", 5)
	v.SetDefault("quality.size", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Batch.Size <= 0 {
		return eris.New("config: batch.size must be positive")
	}
	if c.Batch.CheckpointInterval <= 0 {
		return eris.New("config: batch.checkpoint_interval must be positive")
	}
	if c.Queue.MaxParallelJobs <= 0 {
		return eris.New("config: queue.max_parallel_jobs must be positive")
	}
	switch c.Queue.ExecutionMode {
	case "sequential", "parallel":
	default:
		return eris.Errorf("config: unknown queue.execution_mode %q", c.Queue.ExecutionMode)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
