package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailflow/pkg/metrics"
)

func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.JobCreated("welcome")
	m.JobCreated("")
	m.Dispatch("brevo", "dispatched", 120*time.Millisecond)
	m.Dispatch("brevo", "retry_scheduled", time.Second)
	m.WebhookEvent("delivered", "applied")

	count, err := testutil.GatherAndCount(m.Registry(),
		"mailflow_jobs_created_total",
		"mailflow_dispatch_outcomes_total",
		"mailflow_webhook_events_total",
	)
	require.NoError(t, err)
	require.Equal(t, 5, count)
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.JobCreated("welcome")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `mailflow_jobs_created_total{template="welcome"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.JobCreated("x")
		m.Dispatch("p", "o", time.Second)
		m.WebhookEvent("e", "o")
		m.ObserveHTTP("GET", "/", "200", time.Millisecond)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
