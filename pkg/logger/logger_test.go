package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailflow/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestNewWithWriter_ContextExtractors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, logger.Config{Level: "debug"},
		logger.JobIDExtractor(), logger.RequestIDExtractor(), nil)

	ctx := logger.WithRequestID(logger.WithJobID(context.Background(), "job-1"), "req-9")
	log.InfoContext(ctx, "email dispatched", slog.String("provider", "brevo"))

	rec := decode(t, &buf)
	require.Equal(t, "email dispatched", rec["msg"])
	require.Equal(t, "job-1", rec["job_id"])
	require.Equal(t, "req-9", rec["request_id"])
	require.Equal(t, "brevo", rec["provider"])
}

func TestNewWithWriter_NoContextValues(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, logger.Config{}, logger.JobIDExtractor())
	log.With(slog.String("component", "webhook")).InfoContext(context.Background(), "hello")

	rec := decode(t, &buf)
	require.NotContains(t, rec, "job_id")
	require.Equal(t, "webhook", rec["component"])
}

func TestNewWithWriter_Level(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, logger.Config{Level: "warn", Format: "text"})
	log.Info("dropped")
	require.Zero(t, buf.Len())

	log.Warn("kept")
	require.Contains(t, buf.String(), "msg=kept")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, slog.LevelDebug, logger.ParseLevel("debug"))
	require.Equal(t, slog.LevelError, logger.ParseLevel("ERROR"))
	require.Equal(t, slog.LevelInfo, logger.ParseLevel("verbose"))
}

func TestNewWithSentry_NoDSN(t *testing.T) {
	t.Parallel()

	log := logger.NewWithSentry(logger.Config{}, logger.SentryConfig{})
	require.NotNil(t, log)
}

func TestNewNope(t *testing.T) {
	t.Parallel()

	log := logger.NewNope()
	require.NotPanics(t, func() { log.Error("nothing") })
}
