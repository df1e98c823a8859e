// Package config provides configuration loading, validation, and management
// for the reactor service. It handles reading from YAML files, REACTOR_*
// environment variables, setting default values, and validating parameters.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all components
// of the reactor service: logging, HTTP server, database, the Apify fetch
// adapter, the Gemini annotation client, the pipeline, the scheduler, and
// the optional Telegram notifier.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Apify     ApifyConfig     `mapstructure:"apify"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ServerConfig controls the HTTP trigger surface.
type ServerConfig struct {
	Addr      string `mapstructure:"addr"       validate:"required"`
	APISecret string `mapstructure:"api_secret" validate:"required"`
}

// DatabaseConfig controls the SQLite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ApifyConfig controls the content fetch adapter.
type ApifyConfig struct {
	Token        string        `mapstructure:"token"         validate:"required"`
	BaseURL      string        `mapstructure:"base_url"      validate:"required,url"`
	ActorID      string        `mapstructure:"actor_id"      validate:"required"`
	ResultsLimit int           `mapstructure:"results_limit" validate:"min=0"`
	CaptionText  bool          `mapstructure:"caption_text"`
	Timeout      time.Duration `mapstructure:"timeout"       validate:"required,min=10s,max=30m"`
}

// GeminiConfig controls the language model client.
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key"             validate:"required"`
	ModelName         string  `mapstructure:"model_name"          validate:"required"`
	Temperature       float32 `mapstructure:"temperature"         validate:"min=0,max=2"`
	MaxRetries        int     `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"min=0,max=300"`
}

// PipelineConfig controls pipeline-run behavior.
type PipelineConfig struct {
	LeaseTTL time.Duration `mapstructure:"lease_ttl" validate:"required,min=1m,max=4h"`
}

// TaskConfig describes one scheduled task entry.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig holds the scheduled task table, keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TelegramConfig controls the optional run-summary notifier.
// When Enabled is false the token and chat ID are not required.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"   validate:"required_if=Enabled true"`
	ChatID  int64  `mapstructure:"chat_id" validate:"required_if=Enabled true"`
}

// Load loads and validates configuration from:
// 1. Default values
// 2. A YAML config file (explicit path, or ./config.yaml when path is empty)
// 3. REACTOR_* environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("REACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine; env vars and defaults may be enough.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("database.path", "reactor.db")

	// Secrets default to empty so viper knows the keys; AutomaticEnv only
	// resolves keys it has seen.
	v.SetDefault("server.api_secret", "")
	v.SetDefault("apify.token", "")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("apify.base_url", "https://api.apify.com")
	v.SetDefault("apify.actor_id", "apify~facebook-posts-scraper")
	v.SetDefault("apify.results_limit", 20)
	v.SetDefault("apify.caption_text", true)
	v.SetDefault("apify.timeout", 10*time.Minute)

	v.SetDefault("gemini.model_name", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 1.0)
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay_seconds", 5)

	v.SetDefault("pipeline.lease_ttl", 15*time.Minute)

	v.SetDefault("telegram.enabled", false)

	v.SetDefault("scheduler.tasks.process_own_posts.enabled", false)
	v.SetDefault("scheduler.tasks.process_own_posts.schedule", "0 0 6 * * *")
	v.SetDefault("scheduler.tasks.process_other_posts.enabled", false)
	v.SetDefault("scheduler.tasks.process_other_posts.schedule", "0 30 6 * * *")
}
