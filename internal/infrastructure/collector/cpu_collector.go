package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUCollector читает загрузку CPU
type CPUCollector struct{}

func NewCPUCollector() *CPUCollector {
	return &CPUCollector{}
}

// Percent возвращает загрузку CPU с момента предыдущего вызова.
// Интервал 0 не блокирует запрос на секунду замера.
func (c *CPUCollector) Percent(ctx context.Context) (float64, error) {
	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, nil
	}
	return percentages[0], nil
}
