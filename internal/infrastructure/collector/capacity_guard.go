package collector

import (
	"context"
	"fmt"
	"sync"

	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/pkg/logger"
)

type CapacityConfig struct {
	MaxMemoryPercent    float64
	MaxBrowserProcesses int
}

// HostSnapshot текущее состояние хоста для readiness
type HostSnapshot struct {
	MemoryPercent    float64 `json:"memory_percent"`
	CPUPercent       float64 `json:"cpu_percent"`
	BrowserProcesses int     `json:"browser_processes"`
}

// HostCapacityGuard реализует port.CapacityGuard по памяти хоста и числу процессов браузера.
// Ошибки замера не блокируют захват: guard пропускает запрос и пишет warning.
type HostCapacityGuard struct {
	config CapacityConfig
	logger *logger.Logger

	memoryPercent func(ctx context.Context) (float64, error)
	cpuPercent    func(ctx context.Context) (float64, error)
	processCount  func() (int, error)
}

func NewHostCapacityGuard(config CapacityConfig, log *logger.Logger) *HostCapacityGuard {
	return &HostCapacityGuard{
		config:        config,
		logger:        log,
		memoryPercent: NewMemoryCollector().UsedPercent,
		cpuPercent:    NewCPUCollector().Percent,
		processCount:  NewBrowserProcessCollector().Count,
	}
}

func (g *HostCapacityGuard) Check(ctx context.Context) error {
	if g.config.MaxMemoryPercent > 0 {
		used, err := g.memoryPercent(ctx)
		switch {
		case err != nil:
			g.logger.Warn("Failed to sample memory usage", "error", err.Error())
		case used >= g.config.MaxMemoryPercent:
			return fmt.Errorf("%w: memory usage %.1f%% >= %.1f%%", port.ErrCapacityExhausted, used, g.config.MaxMemoryPercent)
		}
	}

	if g.config.MaxBrowserProcesses > 0 {
		running, err := g.processCount()
		switch {
		case err != nil:
			g.logger.Warn("Failed to count browser processes", "error", err.Error())
		case running >= g.config.MaxBrowserProcesses:
			return fmt.Errorf("%w: %d browser processes running (limit %d)", port.ErrCapacityExhausted, running, g.config.MaxBrowserProcesses)
		}
	}

	return nil
}

// Snapshot собирает все показатели параллельно; недоступные остаются нулевыми.
func (g *HostCapacityGuard) Snapshot(ctx context.Context) HostSnapshot {
	var (
		wg       sync.WaitGroup
		snapshot HostSnapshot
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		if value, err := g.memoryPercent(ctx); err == nil {
			snapshot.MemoryPercent = value
		}
	}()
	go func() {
		defer wg.Done()
		if value, err := g.cpuPercent(ctx); err == nil {
			snapshot.CPUPercent = value
		}
	}()
	go func() {
		defer wg.Done()
		if value, err := g.processCount(); err == nil {
			snapshot.BrowserProcesses = value
		}
	}()
	wg.Wait()

	return snapshot
}
