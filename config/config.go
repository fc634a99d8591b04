// Package config loads the engine's environment-driven configuration.
// Kept deliberately minimal: full configuration management (feature
// flags, per-symbol overrides) is out of scope for the core.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config is the engine's environment-derived configuration.
type Config struct {
	AlpacaAPIKeyID     string
	AlpacaAPISecretKey string
	AlpacaBaseURL      string
	DBPath             string
	ActivityLogDir     string
	HTTPAddr           string
}

// Load reads a .env file if present (missing is not an error — the
// teacher's deployment relies on real environment variables in
// production and .env only in local development) and populates Config
// from the environment, applying the defaults below.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg := Config{
		AlpacaAPIKeyID:     os.Getenv("APCA_API_KEY_ID"),
		AlpacaAPISecretKey: os.Getenv("APCA_API_SECRET_KEY"),
		AlpacaBaseURL:      envOrDefault("APCA_API_BASE_URL", "https://paper-api.alpaca.markets"),
		DBPath:             envOrDefault("DB_PATH", "./data/dayrunner.db"),
		ActivityLogDir:     envOrDefault("ACTIVITY_LOG_DIR", "./data/activity"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
	}

	if cfg.AlpacaAPIKeyID == "" || cfg.AlpacaAPISecretKey == "" {
		return cfg, fmt.Errorf("config: APCA_API_KEY_ID and APCA_API_SECRET_KEY must be set")
	}
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
