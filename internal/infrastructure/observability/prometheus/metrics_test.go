package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRoute(t *testing.T) {
	tests := map[string]string{
		"/api/screenshot":      "/api/screenshot",
		"/api/screenshots":     "/api/screenshots",
		"/ws":                  "/ws",
		"/healthz":             "/healthz",
		"/static/css/app.css":  "/static/*",
		"/":                    "/",
		"/api/unknown/segment": "/api/*",
		"/wp-login.php":        "other",
	}

	for path, want := range tests {
		assert.Equal(t, want, normalizeRoute(path), path)
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	m := New(prometheus.NewRegistry())

	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/screenshot", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, scrape(t, m), `http_requests_total{method="POST",route="/api/screenshot",status="400"} 1`)
}

func TestCaptureObserver(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveStage("navigate", 2*time.Second)
	m.ObserveOutcome(port.OutcomeSuccess, "local", 4096, 3*time.Second)
	m.ObserveOutcome(port.OutcomeCaptureError, "local", 0, time.Second)
	m.ObserveOutcome(port.OutcomeCaptureError, "local", 0, time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, `screenshot_captures_total{outcome="success",provider="local"} 1`)
	assert.Contains(t, body, `screenshot_captures_total{outcome="capture_error",provider="local"} 2`)
	assert.Contains(t, body, `screenshot_stage_duration_seconds_count{stage="navigate"} 1`)
	assert.Contains(t, body, "screenshot_bytes_count 1")
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveOutcome(port.OutcomeValidationError, "remote", 0, 0)
	m.RateLimited()

	body := scrape(t, m)
	assert.True(t, strings.Contains(body, `screenshot_captures_total{outcome="validation_error",provider="remote"} 1`))
	assert.True(t, strings.Contains(body, "http_ratelimit_dropped_total 1"))
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
