package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/rewired-gh/pricecheck/internal/api"
	"github.com/rewired-gh/pricecheck/internal/postgres"
	"github.com/rewired-gh/pricecheck/internal/reconcile"
	"github.com/rewired-gh/pricecheck/internal/supabase"
)

// Source kinds.
const (
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
	SourceSupabase = "supabase"
)

// Config represents the complete application configuration
type Config struct {
	Source     SourceConfig     `mapstructure:"source"`
	Validation ValidationConfig `mapstructure:"validation"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Server     api.Config       `mapstructure:"server"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SourceConfig selects and configures the price/prediction data source
type SourceConfig struct {
	Kind         string          `mapstructure:"kind"`
	SQLitePath   string          `mapstructure:"sqlite_path"`
	LookbackDays int             `mapstructure:"lookback_days"`
	Postgres     postgres.Config `mapstructure:"postgres"`
	Supabase     supabase.Config `mapstructure:"supabase"`
}

// ValidationConfig holds the default classification thresholds
type ValidationConfig struct {
	ProbabilityThreshold float64 `mapstructure:"probability_threshold"`
	ChangeThreshold      float64 `mapstructure:"change_threshold"`
}

// Params converts the thresholds to reconciliation parameters.
func (v ValidationConfig) Params() reconcile.Params {
	return reconcile.Params{
		ProbabilityThreshold: v.ProbabilityThreshold,
		ChangeThreshold:      v.ChangeThreshold,
	}
}

// BatchConfig holds batch execution settings
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// ScheduleConfig holds the recurring batch job configuration
type ScheduleConfig struct {
	Cron string   `mapstructure:"cron"`
	SKUs []string `mapstructure:"skus"`
	Step int      `mapstructure:"step"`
	// DateOffsetDays picks the prediction date relative to the run day. The
	// default of -step validates the most recent horizon whose outcome is known.
	DateOffsetDays int `mapstructure:"date_offset_days"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. An empty
// path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. PRICECHECK_SOURCE_KIND
	v.SetEnvPrefix("PRICECHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Schedule.DateOffsetDays == 0 && !v.IsSet("schedule.date_offset_days") {
		cfg.Schedule.DateOffsetDays = -cfg.Schedule.Step
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.kind", SourceSQLite)
	v.SetDefault("source.sqlite_path", "./data/pricecheck.db")
	v.SetDefault("source.lookback_days", 90)

	pg := postgres.DefaultConfig()
	v.SetDefault("source.postgres.dsn", "")
	v.SetDefault("source.postgres.max_open_conns", pg.MaxOpenConns)
	v.SetDefault("source.postgres.max_idle_conns", pg.MaxIdleConns)
	v.SetDefault("source.postgres.conn_max_lifetime", pg.ConnMaxLifetime)
	v.SetDefault("source.postgres.conn_max_idle_time", pg.ConnMaxIdleTime)
	v.SetDefault("source.postgres.query_timeout", pg.QueryTimeout)

	v.SetDefault("source.supabase.url", "")
	v.SetDefault("source.supabase.api_key", "")
	v.SetDefault("source.supabase.timeout", "30s")
	v.SetDefault("source.supabase.max_retries", 3)
	v.SetDefault("source.supabase.requests_per_second", 10)
	v.SetDefault("source.supabase.page_size", 1000)

	// Validation defaults
	params := reconcile.DefaultParams()
	v.SetDefault("validation.probability_threshold", params.ProbabilityThreshold)
	v.SetDefault("validation.change_threshold", params.ChangeThreshold)

	// Batch defaults
	v.SetDefault("batch.concurrency", 4)

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "1s")

	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.request_timeout", "60s")

	// Schedule defaults
	v.SetDefault("schedule.cron", "0 6 * * *")
	v.SetDefault("schedule.skus", []string{})
	v.SetDefault("schedule.step", 7)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Source config
	switch c.Source.Kind {
	case SourceSQLite:
		if c.Source.SQLitePath == "" {
			return fmt.Errorf("source.sqlite_path is required for the sqlite source")
		}
	case SourcePostgres:
		if c.Source.Postgres.DSN == "" {
			return fmt.Errorf("source.postgres.dsn is required for the postgres source")
		}
		if c.Source.Postgres.QueryTimeout < time.Second {
			return fmt.Errorf("source.postgres.query_timeout must be at least 1 second")
		}
	case SourceSupabase:
		if c.Source.Supabase.URL == "" {
			return fmt.Errorf("source.supabase.url is required for the supabase source")
		}
		if c.Source.Supabase.APIKey == "" {
			return fmt.Errorf("source.supabase.api_key is required for the supabase source")
		}
		if c.Source.Supabase.RequestsPerSecond < 1 {
			return fmt.Errorf("source.supabase.requests_per_second must be at least 1")
		}
	default:
		return fmt.Errorf("source.kind must be one of: sqlite, postgres, supabase")
	}
	if c.Source.LookbackDays < 0 {
		return fmt.Errorf("source.lookback_days must not be negative")
	}

	// Validate thresholds
	if err := c.Validation.Params().Validate(); err != nil {
		return fmt.Errorf("validation: %w", err)
	}

	// Validate Batch config
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be at least 1")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	// Validate Schedule config
	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		return fmt.Errorf("schedule.cron is invalid: %w", err)
	}
	if c.Schedule.Step < 1 {
		return fmt.Errorf("schedule.step must be at least 1")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
