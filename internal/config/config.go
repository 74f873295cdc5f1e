package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/gitter-badger/DiaBLE/common/config"
	"github.com/gitter-badger/DiaBLE/internal/models"
)

// Config glucose aggregator configuration
type Config struct {
	Database   config.DatabaseConfig
	Redis      config.RedisConfig
	MQTT       config.MQTTConfig
	Nightscout config.NightscoutConfig

	Glucose struct {
		// minutes between sensor readings, drives the countdown
		ReadingInterval int
		// seconds between freshness ticks
		TickInterval int
		// per-series cap overrides, SERIES_CAP_<NAME>
		SeriesCaps map[models.Source]int
	}

	Sensor struct {
		Enabled bool
		Topics  struct {
			Readings string // e.g. "glucose/+/readings"
			State    string // e.g. "glucose/+/state"
		}
	}

	HealthStore struct {
		Enabled       bool
		Stream        string
		ConsumerGroup string
		ConsumerName  string // empty: generated per instance
		BatchSize     int64
	}

	Events struct {
		Stream string // data-change events, empty disables publishing
	}

	Cache struct {
		Enabled   bool
		KeyPrefix string
		TTL       int // seconds, 0 = no expiry
	}

	Persistence struct {
		Enabled bool
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "glucose"
	cfg.Database.SSLMode = "disable"
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Nightscout.Count = 288
	cfg.Nightscout.PollInterval = 300
	cfg.Nightscout.Timeout = 15
	cfg.Nightscout.LoadFromEnv("NIGHTSCOUT")

	cfg.Glucose.ReadingInterval = getEnvInt("READING_INTERVAL", 5)
	cfg.Glucose.TickInterval = getEnvInt("FRESHNESS_TICK", 1)
	cfg.Glucose.SeriesCaps = make(map[models.Source]int)
	for _, source := range models.AllSources {
		if v := getEnvInt(capEnvKey(source), 0); v > 0 {
			cfg.Glucose.SeriesCaps[source] = v
		}
	}

	cfg.Sensor.Enabled = getEnv("SENSOR_ENABLED", "true") == "true"
	cfg.Sensor.Topics.Readings = getEnv("SENSOR_TOPIC_READINGS", "glucose/+/readings")
	cfg.Sensor.Topics.State = getEnv("SENSOR_TOPIC_STATE", "glucose/+/state")

	cfg.HealthStore.Enabled = getEnv("HEALTH_ENABLED", "true") == "true"
	cfg.HealthStore.Stream = getEnv("HEALTH_STREAM", "glucose:healthstore:stream")
	cfg.HealthStore.ConsumerGroup = getEnv("HEALTH_CONSUMER_GROUP", "glucose-aggregator-group")
	cfg.HealthStore.ConsumerName = getEnv("HEALTH_CONSUMER_NAME", "")
	cfg.HealthStore.BatchSize = int64(getEnvInt("HEALTH_BATCH_SIZE", 10))

	cfg.Events.Stream = getEnv("EVENT_STREAM", "glucose:events")

	cfg.Cache.Enabled = getEnv("CACHE_ENABLED", "true") == "true"
	cfg.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", "glucose:")
	cfg.Cache.TTL = getEnvInt("CACHE_TTL", 0)

	cfg.Persistence.Enabled = getEnv("PERSISTENCE_ENABLED", "true") == "true"

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// capEnvKey "calibrated-history" -> "SERIES_CAP_CALIBRATED_HISTORY"
func capEnvKey(source models.Source) string {
	return "SERIES_CAP_" + strings.ToUpper(strings.ReplaceAll(string(source), "-", "_"))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}
