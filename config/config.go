// Package config reads bot settings from the environment, a .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	ErrMissingRequired   = errors.New("missing required settings")
	ErrUnsupportedDriver = errors.New("unsupported DATABASE_DRIVER")
)

type Config struct {
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	BotName          string `mapstructure:"BOT_NAME"`
	BotAdminUsername string `mapstructure:"BOT_ADMIN_USERNAME"`

	DatabaseDriver       string `mapstructure:"DATABASE_DRIVER"`
	DatabaseDSN          string `mapstructure:"DATABASE_DSN"`
	DatabaseMaxOpenConns int    `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	DatabaseLogSQL       bool   `mapstructure:"DATABASE_LOG_SQL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	WizardSessionTTL time.Duration `mapstructure:"WIZARD_SESSION_TTL"`
	ChatHistoryLimit int           `mapstructure:"CHAT_HISTORY_LIMIT"`

	TikTokAPIKey    string `mapstructure:"TIKTOK_API_KEY"`
	InstagramAPIKey string `mapstructure:"INSTAGRAM_API_KEY"`
	TikTokQuota     int    `mapstructure:"TIKTOK_QUOTA"`

	AIAPIKey      string  `mapstructure:"AI_API_KEY"`
	AIBaseURL     string  `mapstructure:"AI_BASE_URL"`
	AIModel       string  `mapstructure:"AI_MODEL"`
	AITemperature float32 `mapstructure:"AI_TEMPERATURE"`
}

var defaults = map[string]any{
	"TELEGRAM_BOT_TOKEN":      "",
	"BOT_NAME":                "",
	"BOT_ADMIN_USERNAME":      "",
	"DATABASE_DRIVER":         "sqlite",
	"DATABASE_DSN":            "data.sqlite",
	"DATABASE_MAX_OPEN_CONNS": 10,
	"DATABASE_LOG_SQL":        false,
	"REDIS_ADDR":              "",
	"REDIS_PASSWORD":          "",
	"REDIS_DB":                0,
	"WIZARD_SESSION_TTL":      15 * time.Minute,
	"CHAT_HISTORY_LIMIT":      100,
	"TIKTOK_API_KEY":          "",
	"INSTAGRAM_API_KEY":       "",
	"TIKTOK_QUOTA":            150,
	"AI_API_KEY":              "",
	"AI_BASE_URL":             "",
	"AI_MODEL":                "",
	"AI_TEMPERATURE":          0,
}

// Load reads .env into the process environment, then the optional config file at path,
// then the environment. Later sources win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("config: Failed to load .env file", "error", err)
	} else {
		slog.Debug("config: Environment variables loaded from .env file")
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			slog.Error("config: Failed to read config file", "error", err, "path", path)
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Debug("config: Config file loaded", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("config: Failed to decode settings", "error", err)
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	return &cfg, nil
}

// Validate reports all missing required settings at once.
func (c *Config) Validate() error {
	var missing []string
	if c.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.DatabaseDSN == "" {
		missing = append(missing, "DATABASE_DSN")
	}
	if c.AIAPIKey != "" && c.AIModel == "" {
		missing = append(missing, "AI_MODEL")
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", ")))
	}
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.DatabaseDriver))
	}
	return errors.Join(errs...)
}

func (c *Config) MediaEnabled() bool {
	return c.TikTokAPIKey != "" || c.InstagramAPIKey != ""
}

func (c *Config) AIEnabled() bool {
	return c.AIAPIKey != ""
}
