package port

import (
	"context"
	"errors"

	"github.com/dreschagin/link-preview/internal/domain/valueobject"
)

// ErrNavigationTimeout возвращается страницей, когда условие навигации
// не выполнилось за отведенное время.
var ErrNavigationTimeout = errors.New("navigation timed out")

// BrowserProvider запускает изолированные браузеры (Port).
// Реализация выбирается один раз при старте: local, serverless или remote.
type BrowserProvider interface {
	Name() string

	// Launch запускает новый браузер. Вызывающий обязан вызвать Close.
	Launch(ctx context.Context) (Browser, error)

	// Close освобождает ресурсы, общие для всех запусков.
	Close() error
}

// Browser экземпляр браузера, принадлежащий одному запросу.
type Browser interface {
	NewPage(ctx context.Context, viewport valueobject.Viewport) (Page, error)

	// Close закрывает браузер. Повторный вызов безопасен.
	Close() error
}

// Page вкладка браузера.
type Page interface {
	Goto(ctx context.Context, url string, waitUntil valueobject.WaitUntil) error
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
}
