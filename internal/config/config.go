// Package config loads runtime configuration from a .env file (if present),
// environment variables, and defaults, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the server process.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Finnhub FinnhubConfig `mapstructure:"finnhub"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // "local" or "prod"
}

type DBConfig struct {
	// URL is the Postgres connection string. Empty selects the in-memory
	// store (data will not persist).
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	// URL enables the quote cache when set, e.g. redis://localhost:6379/0.
	URL string `mapstructure:"url"`

	QuoteTTL time.Duration `mapstructure:"quote_ttl"`
}

type FinnhubConfig struct {
	// APIKey enables the live market-data client. Empty selects the
	// deterministic mock provider.
	APIKey string `mapstructure:"api_key"`
}

// Load reads configuration. Keys map to env vars with underscores:
// app.port → APP_PORT, db.url → DB_URL, finnhub.api_key → FINNHUB_API_KEY.
func Load() (*Config, error) {
	v := viper.New()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}

	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "local")
	v.SetDefault("db.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.quote_ttl", 30*time.Second)
	v.SetDefault("finnhub.api_key", "")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"app.port", "app.env",
		"db.url",
		"redis.url", "redis.quote_ttl",
		"finnhub.api_key",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Redis.QuoteTTL <= 0 {
		return nil, fmt.Errorf("redis.quote_ttl must be positive")
	}
	return &cfg, nil
}
