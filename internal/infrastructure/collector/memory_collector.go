package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryCollector читает загрузку памяти хоста
type MemoryCollector struct{}

func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{}
}

// UsedPercent возвращает процент использованной памяти
func (c *MemoryCollector) UsedPercent(ctx context.Context) (float64, error) {
	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vmStat.UsedPercent, nil
}
