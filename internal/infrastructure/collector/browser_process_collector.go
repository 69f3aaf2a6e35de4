package collector

import (
	"strings"

	ps "github.com/mitchellh/go-ps"
)

var browserProcessNames = []string{"chrome", "chromium", "headless_shell"}

// BrowserProcessCollector считает живые процессы браузера на хосте
type BrowserProcessCollector struct {
	list func() ([]ps.Process, error)
}

func NewBrowserProcessCollector() *BrowserProcessCollector {
	return &BrowserProcessCollector{list: ps.Processes}
}

func (c *BrowserProcessCollector) Count() (int, error) {
	processes, err := c.list()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, process := range processes {
		if isBrowserProcess(process.Executable()) {
			count++
		}
	}
	return count, nil
}

func isBrowserProcess(executable string) bool {
	name := strings.ToLower(executable)
	for _, candidate := range browserProcessNames {
		if strings.Contains(name, candidate) {
			return true
		}
	}
	return false
}
