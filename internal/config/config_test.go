package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/perfsentry/core/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"LISTEN_ADDR", "DATABASE_URL", "MULTIDATA_INGESTION_ENABLED",
		"KAFKA_BROKERS", "KAFKA_ALERT_TOPIC", "KAFKA_MAX_RETRIES",
		"ARCHIVE_ENABLED", "ARCHIVE_S3_BUCKET", "ARCHIVE_S3_PREFIX",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, "generate_perf_alerts", cfg.KafkaTopic)
	assert.Equal(t, 3, cfg.KafkaMaxRetries)
	assert.False(t, cfg.MultidataIngestionEnabled)
}

func TestLoadParsesKafkaBrokersCSV(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
}

func TestLoadRequiresBucketWhenArchiveEnabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("ARCHIVE_ENABLED", "true")

	_, err := config.Load()
	assert.Error(t, err)
}
