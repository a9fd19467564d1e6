// Package config provides configuration management for the ATH notification
// pipeline. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Market    MarketConfig
	Email     EmailConfig
	Detection DetectionConfig
	Queue     QueueConfig
	Logging   LoggingConfig
}

// ServerConfig holds the operational API server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration for the read-only
// users/subscriptions store owned by the account and billing subsystems
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration for the delivery archive
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// MarketConfig holds market data source configuration
type MarketConfig struct {
	BaseURL           string
	APIKey            string
	CacheTTL          time.Duration
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

// EmailConfig holds email provider configuration
type EmailConfig struct {
	BaseURL        string
	APIKey         string
	From           string
	ReplyTo        string
	RequestTimeout time.Duration
}

// DetectionConfig holds detection tick configuration
type DetectionConfig struct {
	Interval          time.Duration // how often the detection tick runs
	TopAssets         int           // how many ranked assets to fetch per tick
	MinNotifyInterval time.Duration // per-asset notification cooldown
}

// QueueConfig holds email delivery queue configuration
type QueueConfig struct {
	Interval        time.Duration // how often the queue tick runs
	BatchSize       int           // jobs processed per tick
	MaxAttempts     int           // retry budget per job
	FanoutBatchSize int           // recipients per fan-out batch
	FanoutDelay     time.Duration // pause between fan-out batches
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "coinspree"),
				User:           getEnv("POSTGRES_USER", "coinspree"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "coinspree"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Market: MarketConfig{
			BaseURL:           getEnv("MARKET_BASE_URL", "https://api.coingecko.com/api/v3"),
			APIKey:            getEnv("MARKET_API_KEY", ""),
			CacheTTL:          getEnvAsDuration("MARKET_CACHE_TTL", 60*time.Second),
			RequestTimeout:    getEnvAsDuration("MARKET_REQUEST_TIMEOUT", 10*time.Second),
			RequestsPerSecond: getEnvAsFloat("MARKET_REQUESTS_PER_SECOND", 0.5),
		},
		Email: EmailConfig{
			BaseURL:        getEnv("EMAIL_BASE_URL", "https://api.resend.com"),
			APIKey:         getEnv("EMAIL_API_KEY", ""),
			From:           getEnv("EMAIL_FROM", "CoinSpree <alerts@coinspree.cc>"),
			ReplyTo:        getEnv("EMAIL_REPLY_TO", "support@coinspree.cc"),
			RequestTimeout: getEnvAsDuration("EMAIL_REQUEST_TIMEOUT", 10*time.Second),
		},
		Detection: DetectionConfig{
			Interval:          getEnvAsDuration("DETECTION_INTERVAL", time.Minute),
			TopAssets:         getEnvAsInt("DETECTION_TOP_ASSETS", 100),
			MinNotifyInterval: getEnvAsDuration("DETECTION_MIN_NOTIFY_INTERVAL", 5*time.Minute),
		},
		Queue: QueueConfig{
			Interval:        getEnvAsDuration("QUEUE_INTERVAL", 30*time.Second),
			BatchSize:       getEnvAsInt("QUEUE_BATCH_SIZE", 10),
			MaxAttempts:     getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
			FanoutBatchSize: getEnvAsInt("QUEUE_FANOUT_BATCH_SIZE", 50),
			FanoutDelay:     getEnvAsDuration("QUEUE_FANOUT_DELAY", 100*time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
