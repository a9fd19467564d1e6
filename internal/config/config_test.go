package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("MARKET_CACHE_TTL", "90s"); err != nil {
		t.Fatalf("Failed to set MARKET_CACHE_TTL: %v", err)
	}
	if err := os.Setenv("DETECTION_MIN_NOTIFY_INTERVAL", "10m"); err != nil {
		t.Fatalf("Failed to set DETECTION_MIN_NOTIFY_INTERVAL: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("MARKET_CACHE_TTL")
		_ = os.Unsetenv("DETECTION_MIN_NOTIFY_INTERVAL")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Market.CacheTTL != 90*time.Second {
		t.Errorf("Market.CacheTTL = %v, want %v", cfg.Market.CacheTTL, 90*time.Second)
	}

	if cfg.Detection.MinNotifyInterval != 10*time.Minute {
		t.Errorf("Detection.MinNotifyInterval = %v, want %v", cfg.Detection.MinNotifyInterval, 10*time.Minute)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Queue.BatchSize != 10 {
		t.Errorf("Queue.BatchSize = %v, want 10", cfg.Queue.BatchSize)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("Queue.MaxAttempts = %v, want 3", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.FanoutBatchSize != 50 {
		t.Errorf("Queue.FanoutBatchSize = %v, want 50", cfg.Queue.FanoutBatchSize)
	}
	if cfg.Detection.MinNotifyInterval != 5*time.Minute {
		t.Errorf("Detection.MinNotifyInterval = %v, want 5m", cfg.Detection.MinNotifyInterval)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	if err := os.Setenv("TEST_DURATION", "45s"); err != nil {
		t.Fatalf("Failed to set env var: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("TEST_DURATION")
	}()

	if got := getEnvAsDuration("TEST_DURATION", time.Minute); got != 45*time.Second {
		t.Errorf("getEnvAsDuration() = %v, want 45s", got)
	}

	if got := getEnvAsDuration("TEST_DURATION_MISSING", time.Minute); got != time.Minute {
		t.Errorf("getEnvAsDuration() default = %v, want 1m", got)
	}
}
