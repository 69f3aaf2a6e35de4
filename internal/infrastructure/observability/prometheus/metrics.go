package prometheus

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles prometheus collectors used by the screenshot service.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestDurationSec *prometheus.HistogramVec
	CapturesTotal      *prometheus.CounterVec
	StageDurationSec   *prometheus.HistogramVec
	CaptureBytes       prometheus.Histogram
	RateLimitDropped   prometheus.Counter
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		RequestDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		CapturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screenshot_captures_total",
			Help: "Total number of screenshot requests by outcome.",
		}, []string{"outcome", "provider"}),
		StageDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screenshot_stage_duration_seconds",
			Help:    "Duration of capture pipeline stages in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"stage"}),
		CaptureBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screenshot_bytes",
			Help:    "Size of uploaded screenshots in bytes.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		}),
		RateLimitDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_ratelimit_dropped_total",
			Help: "Total number of requests dropped by rate limiter.",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDurationSec,
		m.CapturesTotal,
		m.StageDurationSec,
		m.CaptureBytes,
		m.RateLimitDropped,
	)

	return m
}

// Handler отдает метрики реестра в формате exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveStage(stage string, duration time.Duration) {
	m.StageDurationSec.WithLabelValues(stage).Observe(duration.Seconds())
}

func (m *Metrics) ObserveOutcome(outcome port.CaptureOutcome, provider string, sizeBytes int64, _ time.Duration) {
	m.CapturesTotal.WithLabelValues(string(outcome), provider).Inc()
	if outcome == port.OutcomeSuccess && sizeBytes > 0 {
		m.CaptureBytes.Observe(float64(sizeBytes))
	}
}

// RateLimited учитывает отклоненный limiter'ом запрос.
func (m *Metrics) RateLimited() {
	m.RateLimitDropped.Inc()
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)
		route := normalizeRoute(r.URL.Path)
		m.RequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		m.RequestDurationSec.WithLabelValues(route, r.Method, status).Observe(time.Since(startedAt).Seconds())
	})
}

// normalizeRoute держит кардинальность label'а route ограниченной.
func normalizeRoute(path string) string {
	switch {
	case path == "/api/screenshot":
		return "/api/screenshot"
	case path == "/api/screenshots":
		return "/api/screenshots"
	case path == "/ws":
		return "/ws"
	case path == "/healthz" || path == "/readyz" || path == "/metrics":
		return path
	case strings.HasPrefix(path, "/static/"):
		return "/static/*"
	case path == "/":
		return "/"
	case strings.HasPrefix(path, "/api/"):
		return "/api/*"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Hijack passes websocket upgrades through wrapped ResponseWriter.
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
