package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"LISTEN_ADDR", "DATA_DIR", "SYNC_ENDPOINT", "SYNC_TOKEN", "SYNC_HEALTH_URL",
	"PROBE_INTERVAL", "SYNC_RETRY_INTERVAL", "SYNC_TIMEOUT", "SYNC_MAX_ATTEMPTS",
	"SYNC_BACKOFF_BASE", "SYNC_BACKOFF_MAX", "SYNC_SQUASH", "BACKGROUND_SYNC",
	"LOG_LEVEL", "LOG_FILE", "SYNC_JWT_SECRET",
	"user", "password", "host", "port", "dbname", "sslmode",
}

// clearEnv blanks every key for the duration of the test. t.Setenv restores
// the previous values afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, filepath.Join("data", "offline.db"), cfg.DBPath())
	assert.Equal(t, cfg.SyncEndpoint, cfg.HealthURL)
	assert.Equal(t, 8, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.BackoffBase)
	assert.Equal(t, time.Hour, cfg.BackoffMax)
	assert.True(t, cfg.Squash)
	assert.True(t, cfg.BackgroundSync)
	assert.Equal(t, "require", cfg.Database.SSLMode)
}

func TestOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/var/lib/texsync")
	t.Setenv("SYNC_ENDPOINT", "https://sync.example.com/api/sync")
	t.Setenv("SYNC_HEALTH_URL", "https://sync.example.com/healthz")
	t.Setenv("PROBE_INTERVAL", "5s")
	t.Setenv("SYNC_MAX_ATTEMPTS", "3")
	t.Setenv("SYNC_SQUASH", "false")
	t.Setenv("host", "  db.internal  ")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/texsync/offline.db", cfg.DBPath())
	assert.Equal(t, "https://sync.example.com/healthz", cfg.HealthURL)
	assert.Equal(t, 5*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.False(t, cfg.Squash)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestInvalidValuesAreReported(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROBE_INTERVAL", "soon")
	t.Setenv("SYNC_MAX_ATTEMPTS", "-1")
	t.Setenv("SYNC_SQUASH", "maybe")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROBE_INTERVAL")
	assert.Contains(t, err.Error(), "SYNC_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "SYNC_SQUASH")
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LISTEN_ADDR=:9999\nSYNC_TOKEN=abc\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "abc", cfg.SyncToken)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
