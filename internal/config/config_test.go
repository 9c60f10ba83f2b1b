package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 100.0, cfg.BaseFare)
	assert.Equal(t, 15.0, cfg.PerKmRate)
	assert.Equal(t, 50.0, cfg.MinimumFare)
	assert.Equal(t, 80.0, cfg.DeliveryBaseFare)
	assert.Equal(t, 30*time.Second, cfg.NotificationTimeout)
	assert.Equal(t, 120*time.Second, cfg.DriverSearchTimeout)
	assert.Equal(t, 150*time.Second, cfg.DispatchLockTTL, "derived from the search and offer windows")
	assert.Equal(t, 30, cfg.MaxRequestsPerMinute)
	assert.Equal(t, 300, cfg.MaxRequestsPerHour)
	assert.Empty(t, cfg.PGDSN)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("BASE_FARE", "120")
	t.Setenv("NOTIFICATION_TIMEOUT", "20s")
	t.Setenv("DRIVER_SEARCH_TIMEOUT", "1m")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("TRAFFIC", "bad")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 120.0, cfg.BaseFare)
	assert.Equal(t, 80*time.Second, cfg.DispatchLockTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, "bad", cfg.Traffic)
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("PER_KM_RATE", "-1")
	t.Setenv("NOTIFICATION_SEND_TIMEOUT", "45s")
	t.Setenv("TRAFFIC", "jammed")

	_, err := LoadServerConfig()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "invalid HTTP_READ_TIMEOUT")
	assert.Contains(t, msg, "PER_KM_RATE must be > 0")
	assert.Contains(t, msg, "NOTIFICATION_SEND_TIMEOUT")
	assert.Contains(t, msg, "TRAFFIC")
}

func TestLoadServerConfigRejectsFractionalMinimumFare(t *testing.T) {
	t.Setenv("MINIMUM_FARE", "49.5")
	_, err := LoadServerConfig()
	assert.ErrorContains(t, err, "MINIMUM_FARE must be a whole amount")

	t.Setenv("MINIMUM_FARE", "60")
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, 60.0, cfg.MinimumFare)
}

func TestLoadConsumerConfig(t *testing.T) {
	_, err := LoadConsumerConfig()
	assert.ErrorContains(t, err, "PG_DSN is required")

	t.Setenv("PG_DSN", "postgres://localhost/taxi")
	t.Setenv("KAFKA_BROKER", "k1:9092")
	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "driver-locations", cfg.KafkaTopic)
	assert.Equal(t, 3, cfg.UpdateAttempts)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")), "a missing file is fine")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TAXI_TEST_FROM_DOTENV=yes\n"), 0o600))
	t.Setenv("TAXI_TEST_FROM_DOTENV", "")
	require.NoError(t, os.Unsetenv("TAXI_TEST_FROM_DOTENV"))
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "yes", os.Getenv("TAXI_TEST_FROM_DOTENV"))
}
