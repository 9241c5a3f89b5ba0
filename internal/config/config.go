package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	FrontendURL string
	PolicyFile  string

	// Location history
	LocationCap          int
	LocationHistoryLimit int
	LocationWindow       time.Duration

	SafetyLogLimit int

	// Companion replies
	CompanionChance float64
	CompanionDelay  time.Duration

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// It panics on malformed values, and in production on a missing durable store.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "3001"),
		Env:                  getEnv("ENV", "development"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		SQLitePath:           os.Getenv("SQLITE_PATH"),
		RedisURL:             os.Getenv("REDIS_URL"),
		FrontendURL:          getEnv("FRONTEND_URL", "http://localhost:3000"),
		PolicyFile:           os.Getenv("POLICY_FILE"),
		LocationCap:          getEnvInt("LOCATION_CAP", 100),
		LocationHistoryLimit: getEnvInt("LOCATION_HISTORY_LIMIT", 20),
		LocationWindow:       getEnvDuration("LOCATION_WINDOW", 24*time.Hour),
		SafetyLogLimit:       getEnvInt("SAFETY_LOG_LIMIT", 50),
		CompanionChance:      getEnvFloat("COMPANION_CHANCE", 0.1),
		CompanionDelay:       getEnvDuration("COMPANION_DELAY", 2*time.Second),
		AutoBlockEnabled:     getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	if cfg.CompanionChance < 0 || cfg.CompanionChance > 1 {
		panic(fmt.Sprintf("COMPANION_CHANCE must be within [0,1], got %v", cfg.CompanionChance))
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// Safety logs must survive a restart in production
	if cfg.Env == "production" && cfg.DatabaseURL == "" && cfg.SQLitePath == "" && cfg.RedisURL == "" {
		panic("DATABASE_URL, SQLITE_PATH or REDIS_URL is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		panic(fmt.Sprintf("%s must be a positive integer, got %q", key, value))
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		panic(fmt.Sprintf("%s must be a number, got %q", key, value))
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		panic(fmt.Sprintf("%s must be a duration like 2s or 24h, got %q", key, value))
	}
	return d
}
