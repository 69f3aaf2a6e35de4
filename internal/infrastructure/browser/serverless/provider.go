package serverless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/internal/domain/valueobject"
	"github.com/dreschagin/link-preview/pkg/logger"
)

const Name = "serverless"

type Config struct {
	ExecutablePath string
	ExtraArgs      []string
}

// Provider запускает упакованный headless Chromium через chromedp.
// Набор флагов рассчитан на окружения без /dev/shm и без sandbox.
type Provider struct {
	config Config
	logger *logger.Logger
}

func NewProvider(config Config, log *logger.Logger) (*Provider, error) {
	if strings.TrimSpace(config.ExecutablePath) == "" {
		return nil, errors.New("serverless provider requires an executable path")
	}
	return &Provider{config: config, logger: log}, nil
}

func (p *Provider) Name() string {
	return Name
}

// Flags возвращает флаги запуска Chromium
func Flags(config Config) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":                      true,
		"no-sandbox":                    true,
		"single-process":                true,
		"no-zygote":                     true,
		"disable-dev-shm-usage":         true,
		"disable-gpu":                   true,
		"hide-scrollbars":               true,
		"mute-audio":                    true,
		"disable-web-security":          true,
		"no-first-run":                  true,
		"no-default-browser-check":      true,
		"disable-extensions":            true,
		"disable-background-networking": true,
	}

	for _, arg := range config.ExtraArgs {
		name, value, hasValue := strings.Cut(strings.TrimLeft(strings.TrimSpace(arg), "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}

	return flags
}

func allocatorOptions(config Config) []chromedp.ExecAllocatorOption {
	flags := Flags(config)
	options := make([]chromedp.ExecAllocatorOption, 0, len(flags)+1)
	options = append(options, chromedp.ExecPath(config.ExecutablePath))
	for name, value := range flags {
		options = append(options, chromedp.Flag(name, value))
	}
	return options
}

func (p *Provider) Launch(ctx context.Context) (port.Browser, error) {
	// Время жизни браузера определяет Close, а не контекст запроса
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOptions(p.config)...)
	return startBrowser(ctx, allocCtx, cancelAlloc, p.logger)
}

// startBrowser поднимает браузер из allocator'а и ждет первую вкладку
func startBrowser(ctx, allocCtx context.Context, cancelAlloc context.CancelFunc, log *logger.Logger) (*Browser, error) {
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	if err := runDetached(ctx, browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chromium start aborted: %w", err)
		}
		return nil, fmt.Errorf("failed to start chromium: %w", err)
	}

	return &Browser{
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		logger:        log,
	}, nil
}

// runDetached выполняет первый Run на target-контексте. chromedp привязывает
// цикл событий вкладки к контексту первого Run, поэтому запрос ограничивает
// только ожидание.
func runDetached(request, target context.Context) error {
	if err := request.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(target)
	}()

	select {
	case err := <-done:
		return err
	case <-request.Done():
		return request.Err()
	}
}

// Close ничего не держит между запросами
func (p *Provider) Close() error {
	return nil
}

type Browser struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	logger        *logger.Logger

	closeOnce sync.Once
	closeErr  error
}

func (b *Browser) NewPage(ctx context.Context, viewport valueobject.Viewport) (port.Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.ctx)

	if err := runDetached(ctx, tabCtx); err != nil {
		cancelTab()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	runCtx, stop := bindRequest(ctx, tabCtx)
	defer stop()

	err := chromedp.Run(runCtx, chromedp.EmulateViewport(int64(viewport.Width), int64(viewport.Height)))
	if err != nil {
		cancelTab()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	return &Page{ctx: tabCtx}, nil
}

func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("failed to close chromium: %w", err)
		}
		b.cancelBrowser()
		b.cancelAlloc()
	})
	return b.closeErr
}

type Page struct {
	ctx context.Context
}

func (p *Page) Goto(ctx context.Context, url string, waitUntil valueobject.WaitUntil) error {
	runCtx, stop := bindRequest(ctx, p.ctx)
	defer stop()

	var err error
	if waitUntil == valueobject.WaitNetworkIdle {
		err = navigateUntilIdle(runCtx, url)
	} else {
		// chromedp.Navigate ждет событие load, которое наступает после DOMContentLoaded
		err = chromedp.Run(runCtx, chromedp.Navigate(url))
	}

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", port.ErrNavigationTimeout, err)
		}
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

// navigateUntilIdle ждет lifecycle-событие networkIdle новой навигации
func navigateUntilIdle(ctx context.Context, url string) error {
	idle := make(chan struct{})
	var once sync.Once
	var navigationStarted atomic.Bool

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		event, ok := ev.(*page.EventLifecycleEvent)
		if !ok {
			return
		}
		switch event.Name {
		case "init":
			navigationStarted.Store(true)
		case "networkIdle":
			if navigationStarted.Load() {
				once.Do(func() { close(idle) })
			}
		}
	})

	if err := chromedp.Run(ctx,
		page.SetLifecycleEventsEnabled(true),
		chromedp.Navigate(url),
	); err != nil {
		return err
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	runCtx, stop := bindRequest(ctx, p.ctx)
	defer stop()

	var image []byte
	action := chromedp.CaptureScreenshot(&image)
	if fullPage {
		// quality 100 дает PNG
		action = chromedp.FullScreenshot(&image, 100)
	}

	if err := chromedp.Run(runCtx, action); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return image, nil
}

// bindRequest возвращает контекст вкладки с дедлайном и отменой запроса.
// Отмена производного контекста не закрывает саму вкладку.
func bindRequest(request, tab context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(tab)
	if deadline, ok := request.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		parentCancel := cancel
		cancel = func() {
			cancelDeadline()
			parentCancel()
		}
	}

	stopAfter := context.AfterFunc(request, cancel)
	return runCtx, func() {
		stopAfter()
		cancel()
	}
}
