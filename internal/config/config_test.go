package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MYCASTLE_LISTEN_ADDR", "")
	t.Setenv("MYCASTLE_DB_DSN", "")
	t.Setenv("MYCASTLE_LOG_LEVEL", "")
	t.Setenv("MYCASTLE_JWT_SECRET", "test-secret")
	t.Setenv("MYCASTLE_JWT_EXPIRY", "")
	t.Setenv("MYCASTLE_MODE", "")
	t.Setenv("MYCASTLE_ENABLE_WRITE", "")
	t.Setenv("MYCASTLE_CORS_ORIGINS", "")
	t.Setenv("MYCASTLE_UPLOAD_DIR", "")
	t.Setenv("MYCASTLE_METRICS_ENABLED", "")
	t.Setenv("MYCASTLE_TRACES_ENABLED", "")
	t.Setenv("MYCASTLE_DEV_MODE", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, defaultListenAddr, cfg.ListenAddr)
	require.Equal(t, defaultDSN, cfg.DBDSN)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "test-secret", cfg.JWTSecret)
	require.Equal(t, defaultJWTExpiry, cfg.JWTExpiry)
	require.Equal(t, "read-write", cfg.Mode)
	require.True(t, cfg.EnableWrite)
	require.Equal(t, []string{"*"}, cfg.CORSOrigins)
	require.NotEmpty(t, cfg.UploadDir)
	require.True(t, cfg.MetricsEnabled)
	require.False(t, cfg.TracesEnabled)
	require.False(t, cfg.DevMode)
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("MYCASTLE_JWT_SECRET", "")
	t.Setenv("MYCASTLE_DEV_MODE", "")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "MYCASTLE_JWT_SECRET")
}

func TestLoad_DevModeAllowsMissingSecret(t *testing.T) {
	t.Setenv("MYCASTLE_JWT_SECRET", "")
	t.Setenv("MYCASTLE_DEV_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.DevMode)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MYCASTLE_JWT_SECRET", "s")
	t.Setenv("MYCASTLE_JWT_EXPIRY", "15m")
	t.Setenv("MYCASTLE_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MYCASTLE_ENABLE_WRITE", "no")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, cfg.JWTExpiry)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.False(t, cfg.EnableWrite)
}
