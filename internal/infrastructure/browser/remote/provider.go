package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/internal/domain/valueobject"
	"github.com/dreschagin/link-preview/pkg/logger"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const Name = "remote"

// disposeTimeout ограничивает удаление incognito-контекста при Close
const disposeTimeout = 5 * time.Second

type Config struct {
	// RemoteURL адрес DevTools (ws://host:9222 или http://host:9222)
	RemoteURL string
	// ExecutablePath используется, только если RemoteURL пуст
	ExecutablePath string
}

// Provider подключается к уже запущенному браузеру через rod.
// Каждый запрос получает отдельный incognito-контекст.
type Provider struct {
	config Config
	logger *logger.Logger

	mu       sync.Mutex
	root     *rod.Browser
	launcher *launcher.Launcher
}

func NewProvider(config Config, log *logger.Logger) *Provider {
	return &Provider{config: config, logger: log}
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) connect() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.root != nil {
		return p.root, nil
	}

	var controlURL string
	if p.config.RemoteURL != "" {
		resolved, err := launcher.ResolveURL(p.config.RemoteURL)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve devtools url: %w", err)
		}
		controlURL = resolved
	} else {
		l := launcher.New().Headless(true).NoSandbox(true)
		if p.config.ExecutablePath != "" {
			l = l.Bin(p.config.ExecutablePath)
		}
		launched, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch chromium: %w", err)
		}
		p.launcher = l
		controlURL = launched
	}

	root := rod.New().ControlURL(controlURL)
	if err := root.Connect(); err != nil {
		if p.launcher != nil {
			p.launcher.Kill()
			p.launcher = nil
		}
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	p.logger.Info("Connected to browser over CDP", "remote", p.config.RemoteURL != "")
	p.root = root
	return root, nil
}

func (p *Provider) Launch(ctx context.Context) (port.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := p.connect()
	if err != nil {
		return nil, err
	}

	incognito, err := root.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("failed to create incognito context: %w", err)
	}

	// Incognito копирует контекст запроса; Close от него не зависит
	return &Browser{browser: incognito.Context(context.Background())}, nil
}

// Close закрывает браузер, запущенный провайдером. Удаленный браузер не трогаем.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.launcher == nil {
		p.root = nil
		return nil
	}

	var err error
	if p.root != nil {
		err = p.root.Close()
	}
	p.launcher.Cleanup()
	p.launcher = nil
	p.root = nil
	if err != nil {
		return fmt.Errorf("failed to close chromium: %w", err)
	}
	return nil
}

type Browser struct {
	browser *rod.Browser

	closeOnce sync.Once
	closeErr  error
}

func (b *Browser) NewPage(ctx context.Context, viewport valueobject.Viewport) (port.Page, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewport.Width,
		Height:            viewport.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	return &Page{page: page}, nil
}

// Close удаляет incognito-контекст вместе со всеми его вкладками,
// даже если запрос уже отменен
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
		defer cancel()

		if err := b.browser.Context(ctx).Close(); err != nil {
			b.closeErr = fmt.Errorf("failed to dispose browser context: %w", err)
		}
	})
	return b.closeErr
}

type Page struct {
	page *rod.Page
}

func (p *Page) Goto(ctx context.Context, url string, waitUntil valueobject.WaitUntil) error {
	page := p.page.Context(ctx)

	wait := page.WaitNavigation(lifecycleEvent(waitUntil))
	if err := page.Navigate(url); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", port.ErrNavigationTimeout, err)
		}
		return fmt.Errorf("goto %s: %w", url, err)
	}
	wait()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: waiting for %s", port.ErrNavigationTimeout, waitUntil)
	}
	return ctx.Err()
}

func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	image, err := p.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return image, nil
}

func lifecycleEvent(waitUntil valueobject.WaitUntil) proto.PageLifecycleEventName {
	switch waitUntil {
	case valueobject.WaitLoad:
		return proto.PageLifecycleEventNameLoad
	case valueobject.WaitDOMContentLoaded:
		return proto.PageLifecycleEventNameDOMContentLoaded
	default:
		return proto.PageLifecycleEventNameNetworkIdle
	}
}
