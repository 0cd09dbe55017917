package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, "scrapeherd.db", cfg.SQLitePath)
	assert.Equal(t, 25*time.Second, cfg.StreamHeartbeat)
	assert.Equal(t, 8, cfg.MaxConcurrentRuns)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SCRAPEHERD_PORT", "9090")
	t.Setenv("SCRAPEHERD_STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x")
	t.Setenv("SCRAPEHERD_STREAM_HEARTBEAT", "10s")
	t.Setenv("SCRAPEHERD_MAX_CONCURRENT_RUNS", "2")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 10*time.Second, cfg.StreamHeartbeat)
	assert.Equal(t, 2, cfg.MaxConcurrentRuns)
	assert.True(t, cfg.OTELInsecure)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("SCRAPEHERD_STORE_BACKEND", "mysql")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")
}

func TestLoadRejectsNegativeHeartbeat(t *testing.T) {
	t.Setenv("SCRAPEHERD_STREAM_HEARTBEAT", "-5s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HEARTBEAT")
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("SCRAPEHERD_PORT", "not-a-number")
	t.Setenv("SCRAPEHERD_READ_TIMEOUT", "eleven")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
}
