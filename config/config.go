package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the invasion viewer
type Config struct {
	// Server configuration
	Host string
	Port string

	// Invasion backend
	BackendURL         string
	BackendTimeout     time.Duration
	BackendLongTimeout time.Duration

	// Simulation polling
	SimulationPollInterval    time.Duration
	SimulationPollMaxAttempts int

	// Sessions
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration

	// Database configuration, used for session snapshots
	SnapshotsEnabled bool
	DBHost           string
	DBPort           string
	DBUser           string
	DBPassword       string
	DBName           string

	// RabbitMQ; events are not published when AMQPURL is empty
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// Rate limiting per client IP
	RateLimitRPS   float64
	RateLimitBurst int

	// Bearer auth is disabled when JWTSecret is empty
	JWTSecret string

	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Host: getEnv("HOST", "0.0.0.0"),
		Port: getEnv("PORT", "8080"),

		BackendURL:         strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8000"), "/"),
		BackendTimeout:     getDurationEnv("BACKEND_TIMEOUT", 15*time.Second),
		BackendLongTimeout: getDurationEnv("BACKEND_LONG_TIMEOUT", 10*time.Minute),

		SimulationPollInterval:    getDurationEnv("SIMULATION_POLL_INTERVAL", 5*time.Second),
		SimulationPollMaxAttempts: getIntEnv("SIMULATION_POLL_MAX_ATTEMPTS", 120),

		SessionTTL:           getDurationEnv("SESSION_TTL", 2*time.Hour),
		SessionSweepInterval: getDurationEnv("SESSION_SWEEP_INTERVAL", time.Minute),

		SnapshotsEnabled: getBoolEnv("SNAPSHOTS_ENABLED", false),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "3306"),
		DBUser:           getEnv("DB_USER", "server"),
		DBPassword:       getEnv("DB_PASSWORD", "secret"),
		DBName:           getEnv("DB_NAME", "invasion"),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "invasion"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "viewer.events"),

		RateLimitRPS:   getFloatEnv("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 40),

		JWTSecret: getEnv("JWT_SECRET", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("90s") or a plain number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
