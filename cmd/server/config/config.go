package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Stitch   StitchConfig
}

// StitchConfig holds the engine-specific settings that have no teacher
// equivalent: the callback base URL a Worker node's webhook request must
// embed (spec.md §6), rate limits for the webhook-callback and public-API
// surfaces, the UX-timeout sweep interval, and the list of built-in
// workerTypes to register at startup.
type StitchConfig struct {
	// BaseURL is prefixed to every generated callback URL
	// ("<BaseURL>/api/stitch/callback/:runId/:nodeId"). There is no sane
	// default for this — a worker dispatched with the wrong host can never
	// call back — so Load fails fast when it is unset.
	BaseURL string

	CallbackTimeoutMS int
	WebhookRateLimit  int
	APIRateLimit      int

	// WorkerTypes lists the in-process workerTypes to register against the
	// worker.Registry at startup, comma-separated (e.g. "echo").
	WorkerTypes []string

	// UXTimeoutHours is how long a node may sit in waiting_for_user before
	// the sweeper fails it (spec.md §5's "separate scheduled sweeper").
	UXTimeoutHours int
	// SweepIntervalMinutes is how often the sweeper cron job runs.
	SweepIntervalMinutes int
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 8080),
			Host: getEnv("HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "appuser"),
			Password: getEnv("DB_PASSWORD", "apppass"),
			Database: getEnv("DB_NAME", "appdb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", "nats://localhost:4222"),
		},
	}

	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("BASE_URL is required: worker webhook callbacks must be able to reach this server")
	}

	cfg.Stitch = StitchConfig{
		BaseURL:              baseURL,
		CallbackTimeoutMS:    getEnvInt("CALLBACK_TIMEOUT_MS", 30000),
		WebhookRateLimit:     getEnvInt("WEBHOOK_RATE_LIMIT", 10),
		APIRateLimit:         getEnvInt("API_RATE_LIMIT", 100),
		WorkerTypes:          getEnvList("WORKER_TYPES", []string{"echo"}),
		UXTimeoutHours:       getEnvInt("UX_TIMEOUT_HOURS", 72),
		SweepIntervalMinutes: getEnvInt("SWEEP_INTERVAL_MINUTES", 15),
	}

	return cfg, nil
}

// getEnvList splits a comma-separated environment variable into a trimmed,
// non-empty slice, falling back to defaultValue when unset.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// ServerAddr returns the server address
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
