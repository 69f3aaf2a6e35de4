package valueobject

import (
	"fmt"
	"strings"
)

// Viewport размер окна страницы в CSS пикселях
type Viewport struct {
	Width  int
	Height int
}

func DefaultViewport() Viewport {
	return Viewport{Width: 1280, Height: 720}
}

func NewViewport(width, height int) (Viewport, error) {
	if width <= 0 || height <= 0 {
		return Viewport{}, fmt.Errorf("viewport must be positive, got %dx%d", width, height)
	}
	return Viewport{Width: width, Height: height}, nil
}

func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// WaitUntil условие завершения навигации
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// ParseWaitUntil принимает также puppeteer-вариант networkidle0
func ParseWaitUntil(raw string) (WaitUntil, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "networkidle", "networkidle0":
		return WaitNetworkIdle, nil
	case "load":
		return WaitLoad, nil
	case "domcontentloaded":
		return WaitDOMContentLoaded, nil
	default:
		return "", fmt.Errorf("unsupported wait condition: %s", raw)
	}
}

func (w WaitUntil) String() string {
	return string(w)
}
