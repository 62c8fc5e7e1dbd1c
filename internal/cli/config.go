package cli

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	BaseURL  string // Backend root URL (default: http://localhost:8080)
	ClientID string // OAuth2 client id presented to the backend (default: sfd-demo)

	StateFile       string        // Path to the SQLite client state file (default: ./sfd-auth.db)
	StatePassphrase string        // Optional: seals persisted credentials at rest when set
	RefreshBuffer   time.Duration // How far ahead of expiry to refresh (default: 5m)
	RequestTimeout  time.Duration // HTTP client timeout (default: 10s)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: text)
}

func LoadConfig() Config {
	return Config{
		BaseURL:         getEnvOrDefault("SFD_AUTH_URL", "http://localhost:8080"),
		ClientID:        getEnvOrDefault("SFD_AUTH_CLIENT_ID", "sfd-demo"),
		StateFile:       getEnvOrDefault("SFD_AUTH_STATE_FILE", "sfd-auth.db"),
		StatePassphrase: os.Getenv("SFD_AUTH_STATE_PASSPHRASE"), // Optional: plaintext state when unset
		RefreshBuffer:   getEnvDurationOrDefault("SFD_AUTH_REFRESH_BUFFER", 5*time.Minute),
		RequestTimeout:  getEnvDurationOrDefault("SFD_AUTH_REQUEST_TIMEOUT", 10*time.Second),
		Env:             getEnvOrDefault("ENV", "dev"),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g. "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
