// Package config loads engine configuration from config.json with
// environment variable overrides. Environment values take precedence over
// the file; defaults fill anything left unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/logging"
	"wyckoff-engine/internal/notification"
)

// Config is the full engine configuration tree.
type Config struct {
	AccountConfig      AccountConfig                   `json:"account"`
	FeedConfig         FeedConfig                      `json:"feed"`
	DatabaseConfig     DatabaseConfig                  `json:"database"`
	RedisConfig        RedisConfig                     `json:"redis"`
	NotificationConfig NotificationConfig              `json:"notification"`
	LoggingConfig      logging.Config                  `json:"logging"`
}

// AccountConfig holds the trading account parameters.
type AccountConfig struct {
	// Equity is the account equity used for sizing and heat, in quote
	// currency. Static until an account feed replaces it.
	Equity decimal.Decimal `json:"equity"`
}

// FeedConfig holds the bar feed connection settings.
type FeedConfig struct {
	Enabled   bool     `json:"enabled"`
	URL       string   `json:"url"`
	Symbols   []string `json:"symbols"`
	Timeframe string   `json:"timeframe"`

	// ReconnectDelay is the initial backoff; it doubles up to
	// MaxReconnectDelay.
	ReconnectDelay    time.Duration `json:"reconnect_delay"`
	MaxReconnectDelay time.Duration `json:"max_reconnect_delay"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// RedisConfig holds Redis hot-state settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// NotificationConfig groups the alert delivery channels.
type NotificationConfig struct {
	Enabled  bool                        `json:"enabled"`
	Telegram notification.TelegramConfig `json:"telegram"`
	Discord  notification.DiscordConfig  `json:"discord"`
}

// Load reads config.json if present and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Account config
	if v := os.Getenv("ACCOUNT_EQUITY"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.AccountConfig.Equity = d
		}
	}
	if cfg.AccountConfig.Equity.LessThanOrEqual(decimal.Zero) {
		cfg.AccountConfig.Equity = decimal.NewFromInt(100000)
	}

	// Feed config
	cfg.FeedConfig.Enabled = getEnvOrDefault("FEED_ENABLED", "false") == "true"
	cfg.FeedConfig.URL = getEnvOrDefault("FEED_URL", cfg.FeedConfig.URL)
	cfg.FeedConfig.Timeframe = getEnvOrDefault("FEED_TIMEFRAME", defaultString(cfg.FeedConfig.Timeframe, "1d"))
	cfg.FeedConfig.ReconnectDelay = getEnvDurationOrDefault("FEED_RECONNECT_DELAY", defaultDuration(cfg.FeedConfig.ReconnectDelay, 1*time.Second))
	cfg.FeedConfig.MaxReconnectDelay = getEnvDurationOrDefault("FEED_MAX_RECONNECT_DELAY", defaultDuration(cfg.FeedConfig.MaxReconnectDelay, 60*time.Second))

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DATABASE_ENABLED", "false") == "true"
	cfg.DatabaseConfig.URL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseConfig.URL)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Notification config
	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", "false") == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
