package config

import (
	"os"
	"testing"

	"github.com/gitter-badger/DiaBLE/internal/models"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Database.Host != "localhost" {
		t.Errorf("Expected DB_HOST default 'localhost', got '%s'", cfg.Database.Host)
	}

	if cfg.Database.Port != 5432 {
		t.Errorf("Expected DB_PORT default 5432, got %d", cfg.Database.Port)
	}

	if cfg.Database.Database != "glucose" {
		t.Errorf("Expected DB_NAME default 'glucose', got '%s'", cfg.Database.Database)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR default 'localhost:6379', got '%s'", cfg.Redis.Addr)
	}

	if cfg.Glucose.ReadingInterval != 5 {
		t.Errorf("Expected READING_INTERVAL default 5, got %d", cfg.Glucose.ReadingInterval)
	}

	if cfg.Glucose.TickInterval != 1 {
		t.Errorf("Expected FRESHNESS_TICK default 1, got %d", cfg.Glucose.TickInterval)
	}

	if len(cfg.Glucose.SeriesCaps) != 0 {
		t.Errorf("Expected no cap overrides, got %v", cfg.Glucose.SeriesCaps)
	}

	if cfg.Sensor.Topics.Readings != "glucose/+/readings" {
		t.Errorf("Expected readings topic default, got '%s'", cfg.Sensor.Topics.Readings)
	}

	if cfg.HealthStore.ConsumerName != "" {
		t.Errorf("Expected empty consumer name by default, got '%s'", cfg.HealthStore.ConsumerName)
	}

	if cfg.Nightscout.Enabled() {
		t.Errorf("Expected Nightscout disabled without NIGHTSCOUT_URL")
	}

	if !cfg.Persistence.Enabled || !cfg.Cache.Enabled {
		t.Errorf("Expected persistence and cache enabled by default")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected LOG_LEVEL default 'info', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("READING_INTERVAL", "1")
	t.Setenv("SERIES_CAP_CALIBRATED_HISTORY", "64")
	t.Setenv("SERIES_CAP_TREND", "-2")
	t.Setenv("NIGHTSCOUT_URL", "https://ns.example.org")
	t.Setenv("PERSISTENCE_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Database.Host != "test-host" {
		t.Errorf("Expected DB_HOST 'test-host', got '%s'", cfg.Database.Host)
	}

	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("Expected REDIS_ADDR 'redis:6380', got '%s'", cfg.Redis.Addr)
	}

	if cfg.Glucose.ReadingInterval != 1 {
		t.Errorf("Expected READING_INTERVAL 1, got %d", cfg.Glucose.ReadingInterval)
	}

	if got := cfg.Glucose.SeriesCaps[models.SourceCalibratedHistory]; got != 64 {
		t.Errorf("Expected calibrated-history cap 64, got %d", got)
	}

	if _, ok := cfg.Glucose.SeriesCaps[models.SourceTrend]; ok {
		t.Errorf("Expected negative cap to be ignored")
	}

	if !cfg.Nightscout.Enabled() {
		t.Errorf("Expected Nightscout enabled")
	}

	if cfg.Persistence.Enabled {
		t.Errorf("Expected persistence disabled")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected LOG_LEVEL 'debug', got '%s'", cfg.Log.Level)
	}
}

func TestCapEnvKey(t *testing.T) {
	if got := capEnvKey(models.SourceRawHistory); got != "SERIES_CAP_RAW_HISTORY" {
		t.Errorf("Expected SERIES_CAP_RAW_HISTORY, got %s", got)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	if value := getEnv("TEST_VAR", "default"); value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	if value := getEnv("NON_EXISTENT_VAR", "default-value"); value != "default-value" {
		t.Errorf("Expected 'default-value', got '%s'", value)
	}
}
