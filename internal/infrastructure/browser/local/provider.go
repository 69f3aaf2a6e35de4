package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/internal/domain/valueobject"
	"github.com/dreschagin/link-preview/pkg/logger"
	"github.com/playwright-community/playwright-go"
)

const Name = "local"

type Config struct {
	ExecutablePath string
	ExtraArgs      []string
}

// Provider запускает Chromium через Playwright.
// Драйвер Playwright стартует один раз на процесс, браузер на каждый запрос.
type Provider struct {
	config Config
	logger *logger.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

func NewProvider(config Config, log *logger.Logger) *Provider {
	return &Provider{
		config: config,
		logger: log,
	}
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) driver() (*playwright.Playwright, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pw != nil {
		return p.pw, nil
	}

	pw, err := playwright.Run(&playwright.RunOptions{SkipInstallBrowsers: true})
	if err != nil {
		return nil, fmt.Errorf("could not start playwright: %w", err)
	}

	p.logger.Info("Playwright driver started")
	p.pw = pw
	return pw, nil
}

func (p *Provider) Launch(ctx context.Context) (port.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := p.driver()
	if err != nil {
		return nil, err
	}

	options := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     p.config.ExtraArgs,
	}
	if p.config.ExecutablePath != "" {
		options.ExecutablePath = playwright.String(p.config.ExecutablePath)
	}
	if timeout, ok := remainingMillis(ctx); ok {
		options.Timeout = playwright.Float(timeout)
	}

	browser, err := pw.Chromium.Launch(options)
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	return &Browser{browser: browser}, nil
}

// Close останавливает драйвер Playwright
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pw == nil {
		return nil
	}
	err := p.pw.Stop()
	p.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type Browser struct {
	browser playwright.Browser

	closeOnce sync.Once
	closeErr  error
}

func (b *Browser) NewPage(_ context.Context, viewport valueobject.Viewport) (port.Page, error) {
	browserContext, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  viewport.Width,
			Height: viewport.Height,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := browserContext.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &Page{page: page}, nil
}

func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		if err := b.browser.Close(); err != nil {
			b.closeErr = fmt.Errorf("failed to close chromium: %w", err)
		}
	})
	return b.closeErr
}

type Page struct {
	page playwright.Page
}

func (p *Page) Goto(ctx context.Context, url string, waitUntil valueobject.WaitUntil) error {
	options := playwright.PageGotoOptions{
		WaitUntil: waitUntilState(waitUntil),
	}
	if timeout, ok := remainingMillis(ctx); ok {
		if timeout <= 0 {
			return fmt.Errorf("%w: no time left before navigation", port.ErrNavigationTimeout)
		}
		options.Timeout = playwright.Float(timeout)
	}

	if _, err := p.page.Goto(url, options); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: %v", port.ErrNavigationTimeout, err)
		}
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	options := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
		Type:     playwright.ScreenshotTypePng,
	}
	if timeout, ok := remainingMillis(ctx); ok {
		options.Timeout = playwright.Float(timeout)
	}

	image, err := p.page.Screenshot(options)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return image, nil
}

func waitUntilState(waitUntil valueobject.WaitUntil) *playwright.WaitUntilState {
	switch waitUntil {
	case valueobject.WaitLoad:
		return playwright.WaitUntilStateLoad
	case valueobject.WaitDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	default:
		return playwright.WaitUntilStateNetworkidle
	}
}

// remainingMillis переводит дедлайн контекста в таймаут Playwright
func remainingMillis(ctx context.Context) (float64, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	return float64(remaining.Milliseconds()), true
}
