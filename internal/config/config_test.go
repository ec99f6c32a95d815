package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailflow/internal/config"
)

func TestLoad(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/mailflow")
	t.Setenv("MAILFLOW_PROVIDER", "smtp")
	t.Setenv("MAILFLOW_SMTP_HOST", "relay.internal")
	t.Setenv("MAILFLOW_SMTP_PORT", "2525")
	t.Setenv("MAILFLOW_RETRY_BASE_DELAY", "1m")
	t.Setenv("DISPATCH_MODE", "queue")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, "smtp", cfg.Mailflow.Provider)
	require.Equal(t, "relay.internal", cfg.Mailflow.SMTP.Host)
	require.Equal(t, 2525, cfg.Mailflow.SMTP.Port)
	require.Equal(t, time.Minute, cfg.Mailflow.RetryBaseDelay)
	require.Equal(t, 3, cfg.Mailflow.MaxAttempts)
	require.Equal(t, "en", cfg.Mailflow.DefaultLanguage)
	require.Equal(t, config.DispatchQueue, cfg.Dispatch.Mode)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "postgres://localhost/mailflow", cfg.DB.ConnectionString)
	require.False(t, cfg.Redis.Enabled())
	require.False(t, cfg.Storage.Enabled())
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/mailflow")

	t.Run("dispatch mode", func(t *testing.T) {
		t.Setenv("DISPATCH_MODE", "carrier-pigeon")
		_, err := config.Load()
		require.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("provider key", func(t *testing.T) {
		t.Setenv("MAILFLOW_PROVIDER", "resend")
		_, err := config.Load()
		require.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}
