package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dreschagin/link-preview/internal/infrastructure/collector"
	"github.com/dreschagin/link-preview/internal/interfaces/http/middleware"
	"github.com/dreschagin/link-preview/pkg/logger"
)

// Pinger проверка доступности зависимости
type Pinger interface {
	Ping(ctx context.Context) error
}

// DependencyCheck зависимость, которую проверяет /readyz. Optional не переводит сервис в not_ready.
type DependencyCheck struct {
	Name     string
	Pinger   Pinger
	Optional bool
}

type HostSnapshotter interface {
	Snapshot(ctx context.Context) collector.HostSnapshot
}

type HealthHandler struct {
	checks  []DependencyCheck
	host    HostSnapshotter
	timeout time.Duration
	logger  *logger.Logger
}

type checkResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

type readinessResponse struct {
	Status string                  `json:"status"`
	Checks map[string]checkResult  `json:"checks"`
	Host   *collector.HostSnapshot `json:"host,omitempty"`
}

func NewHealthHandler(checks []DependencyCheck, host HostSnapshotter, log *logger.Logger) *HealthHandler {
	sort.SliceStable(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return &HealthHandler{
		checks:  checks,
		host:    host,
		timeout: 3 * time.Second,
		logger:  log,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz пингует зависимости параллельно
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		ready   = true
		results = make(map[string]checkResult, len(h.checks))
	)

	for _, check := range h.checks {
		wg.Add(1)
		go func(check DependencyCheck) {
			defer wg.Done()

			result := checkResult{Status: "ok", Optional: check.Optional}
			if err := check.Pinger.Ping(ctx); err != nil {
				result.Status = "error"
				result.Error = err.Error()
				h.logger.Warn("Readiness check failed", "dependency", check.Name, "error", err.Error())
			}

			mu.Lock()
			defer mu.Unlock()
			results[check.Name] = result
			if result.Status != "ok" && !check.Optional {
				ready = false
			}
		}(check)
	}
	wg.Wait()

	response := readinessResponse{Status: "ready", Checks: results}
	if h.host != nil {
		snapshot := h.host.Snapshot(ctx)
		response.Host = &snapshot
	}

	status := http.StatusOK
	if !ready {
		response.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, status, response)
}
