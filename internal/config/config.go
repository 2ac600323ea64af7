package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"rolesync/internal/constants"
)

type Config struct {
	RiotAPIKey      string
	DiscordToken    string
	DBPath          string
	AdminPort       string
	LogLevel        string
	WorkerCmd       string
	UpdateInterval  time.Duration
	UpdateBatchSize int
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		RiotAPIKey:      getEnv("RIOT_API_KEY", ""),
		DiscordToken:    getEnv("DISCORD_TOKEN", ""),
		DBPath:          getEnv("DB_PATH", "rolesync.db"),
		AdminPort:       getEnv("ADMIN_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		WorkerCmd:       getEnv("WORKER_CMD", "./worker"),
		UpdateInterval:  getEnvDuration("UPDATE_INTERVAL", constants.UpdateInterval),
		UpdateBatchSize: getEnvInt("UPDATE_BATCH_SIZE", constants.UpdateBatchSize),
	}

	if cfg.RiotAPIKey == "" {
		return nil, fmt.Errorf("RIOT_API_KEY is required")
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("admin_port", cfg.AdminPort).
		Str("log_level", cfg.LogLevel).
		Dur("update_interval", cfg.UpdateInterval).
		Int("update_batch_size", cfg.UpdateBatchSize).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
