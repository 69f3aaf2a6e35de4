package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreschagin/link-preview/internal/application/dto"
	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/internal/domain/entity"
	"github.com/dreschagin/link-preview/internal/domain/valueobject"
	"github.com/dreschagin/link-preview/pkg/logger"
)

var (
	ErrURLRequired = errors.New("URL is required")
	ErrInvalidURL  = errors.New("invalid URL")
)

// CaptureStage этап конвейера захвата, на котором произошла ошибка
type CaptureStage string

const (
	StageCapacity   CaptureStage = "capacity"
	StageLaunch     CaptureStage = "launch"
	StagePage       CaptureStage = "page"
	StageNavigate   CaptureStage = "navigate"
	StageScreenshot CaptureStage = "screenshot"
	StageUpload     CaptureStage = "upload"
)

var stageLabels = map[CaptureStage]string{
	StageCapacity:   "capacity check",
	StageLaunch:     "browser launch",
	StagePage:       "page setup",
	StageNavigate:   "navigation",
	StageScreenshot: "screenshot",
	StageUpload:     "upload",
}

// CaptureError ошибка одного из этапов захвата
type CaptureError struct {
	Stage CaptureStage
	Err   error
}

func (e *CaptureError) Error() string {
	label, ok := stageLabels[e.Stage]
	if !ok {
		label = string(e.Stage)
	}
	return fmt.Sprintf("%s failed: %v", label, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// IsStorageFailure сообщает, что браузер отработал, а загрузка нет
func (e *CaptureError) IsStorageFailure() bool {
	return e.Stage == StageUpload
}

type CaptureScreenshotCommand struct {
	URL string
}

type CaptureScreenshotResult struct {
	Capture *entity.Capture
}

type CaptureScreenshotConfig struct {
	Viewport          valueobject.Viewport
	WaitUntil         valueobject.WaitUntil
	NavigationTimeout time.Duration
	EventSubject      string
	SideEffectTimeout time.Duration
}

// CaptureScreenshotUseCase делает скриншот страницы и сохраняет его в хранилище
type CaptureScreenshotUseCase struct {
	provider port.BrowserProvider
	storage  port.ObjectStorage
	keys     *valueobject.KeyGenerator
	config   CaptureScreenshotConfig
	logger   *logger.Logger

	guard     port.CapacityGuard
	index     port.CaptureIndex
	cache     port.Cache
	events    port.EventPublisher
	notifier  port.NotificationService
	observers []port.CaptureObserver
}

func NewCaptureScreenshotUseCase(
	provider port.BrowserProvider,
	storage port.ObjectStorage,
	keys *valueobject.KeyGenerator,
	config CaptureScreenshotConfig,
	log *logger.Logger,
) *CaptureScreenshotUseCase {
	if config.Viewport.Width <= 0 || config.Viewport.Height <= 0 {
		config.Viewport = valueobject.DefaultViewport()
	}
	if config.WaitUntil == "" {
		config.WaitUntil = valueobject.WaitNetworkIdle
	}
	if config.NavigationTimeout <= 0 {
		config.NavigationTimeout = 30 * time.Second
	}
	if config.EventSubject == "" {
		config.EventSubject = "screenshots.captured"
	}
	if config.SideEffectTimeout <= 0 {
		config.SideEffectTimeout = 5 * time.Second
	}
	if keys == nil {
		keys = valueobject.NewKeyGenerator(valueobject.DefaultKeyFolder)
	}

	return &CaptureScreenshotUseCase{
		provider: provider,
		storage:  storage,
		keys:     keys,
		config:   config,
		logger:   log,
	}
}

func (uc *CaptureScreenshotUseCase) SetCapacityGuard(guard port.CapacityGuard) {
	uc.guard = guard
}

func (uc *CaptureScreenshotUseCase) SetIndex(index port.CaptureIndex) {
	uc.index = index
}

func (uc *CaptureScreenshotUseCase) SetCache(cache port.Cache) {
	uc.cache = cache
}

func (uc *CaptureScreenshotUseCase) SetEventPublisher(events port.EventPublisher) {
	uc.events = events
}

func (uc *CaptureScreenshotUseCase) SetNotificationService(notifier port.NotificationService) {
	uc.notifier = notifier
}

func (uc *CaptureScreenshotUseCase) AddObserver(observer port.CaptureObserver) {
	if observer != nil {
		uc.observers = append(uc.observers, observer)
	}
}

// Execute выполняет захват: браузер → навигация → скриншот → загрузка.
// Браузер закрывается на любом пути выхода после успешного запуска.
func (uc *CaptureScreenshotUseCase) Execute(
	ctx context.Context,
	cmd CaptureScreenshotCommand,
) (*CaptureScreenshotResult, error) {
	started := time.Now()

	target, err := parseTargetURL(cmd.URL)
	if err != nil {
		uc.observeOutcome(port.OutcomeValidationError, 0, time.Since(started))
		return nil, err
	}

	image, err := uc.capture(ctx, target)
	if err != nil {
		uc.logger.Error("Screenshot capture failed", err, "url", target.String())
		uc.observeOutcome(captureOutcome(err), 0, time.Since(started))
		return nil, err
	}

	key := uc.keys.Next()
	uploadStarted := time.Now()
	publicURL, err := uc.storage.PutObject(ctx, key.String(), valueobject.PNGContentType, image)
	uc.observeStage(StageUpload, time.Since(uploadStarted))
	if err == nil && publicURL == "" {
		err = errors.New("storage returned empty url")
	}
	if err != nil {
		uploadErr := &CaptureError{Stage: StageUpload, Err: err}
		uc.logger.Error("Screenshot upload failed", err,
			"url", target.String(),
			"key", key.String(),
		)
		uc.observeOutcome(captureOutcome(uploadErr), int64(len(image)), time.Since(started))
		return nil, uploadErr
	}

	capture, err := entity.NewCapture(
		target,
		key,
		publicURL,
		int64(len(image)),
		uc.provider.Name(),
		key.Timestamp(),
		time.Since(started),
	)
	if err != nil {
		uploadErr := &CaptureError{Stage: StageUpload, Err: err}
		uc.observeOutcome(captureOutcome(uploadErr), int64(len(image)), time.Since(started))
		return nil, uploadErr
	}

	uc.logger.Info("Screenshot captured",
		"url", target.String(),
		"key", capture.ObjectKey(),
		"bytes", capture.SizeBytes(),
		"provider", capture.Provider(),
		"duration_ms", capture.Duration().Milliseconds(),
	)
	uc.observeOutcome(port.OutcomeSuccess, capture.SizeBytes(), capture.Duration())

	uc.afterCapture(ctx, capture)

	return &CaptureScreenshotResult{Capture: capture}, nil
}

func (uc *CaptureScreenshotUseCase) capture(ctx context.Context, target valueobject.TargetURL) ([]byte, error) {
	if uc.guard != nil {
		if err := uc.guard.Check(ctx); err != nil {
			return nil, &CaptureError{Stage: StageCapacity, Err: err}
		}
	}

	launchStarted := time.Now()
	browser, err := uc.provider.Launch(ctx)
	uc.observeStage(StageLaunch, time.Since(launchStarted))
	if err != nil {
		return nil, &CaptureError{Stage: StageLaunch, Err: err}
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			uc.logger.Warn("Failed to close browser",
				"provider", uc.provider.Name(),
				"error", closeErr.Error(),
			)
		}
	}()

	page, err := browser.NewPage(ctx, uc.config.Viewport)
	if err != nil {
		return nil, &CaptureError{Stage: StagePage, Err: err}
	}

	navigateStarted := time.Now()
	navCtx, cancel := context.WithTimeout(ctx, uc.config.NavigationTimeout)
	err = page.Goto(navCtx, target.String(), uc.config.WaitUntil)
	navErr := navCtx.Err()
	cancel()
	uc.observeStage(StageNavigate, time.Since(navigateStarted))
	if err != nil {
		if errors.Is(err, port.ErrNavigationTimeout) ||
			errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(navErr, context.DeadlineExceeded) {
			uc.logger.Debug("Navigation deadline reached", "url", target.String(), "cause", err.Error())
			return nil, &CaptureError{
				Stage: StageNavigate,
				Err:   fmt.Errorf("%w after %s: %s", port.ErrNavigationTimeout, uc.config.NavigationTimeout, target.String()),
			}
		}
		return nil, &CaptureError{Stage: StageNavigate, Err: err}
	}

	screenshotStarted := time.Now()
	image, err := page.Screenshot(ctx, true)
	uc.observeStage(StageScreenshot, time.Since(screenshotStarted))
	if err != nil {
		return nil, &CaptureError{Stage: StageScreenshot, Err: err}
	}
	if len(image) == 0 {
		return nil, &CaptureError{Stage: StageScreenshot, Err: errors.New("browser returned empty image")}
	}

	return image, nil
}

// afterCapture индексирует, публикует и рассылает скриншот.
// Ошибки только логируются: ответ клиенту уже определен.
func (uc *CaptureScreenshotUseCase) afterCapture(ctx context.Context, capture *entity.Capture) {
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.config.SideEffectTimeout)
	defer cancel()

	if uc.index != nil {
		if err := uc.index.Save(sideCtx, capture); err != nil {
			uc.logger.Warn("Failed to index capture",
				"id", capture.ID(),
				"error", err.Error(),
			)
		}
	}

	if uc.cache != nil {
		if err := InvalidateRecentCaptures(sideCtx, uc.cache); err != nil {
			uc.logger.Warn("Failed to invalidate recent captures cache", "error", err.Error())
		}
	}

	captureDTO := dto.FromEntity(capture)

	if uc.events != nil {
		if err := uc.events.PublishEvent(sideCtx, uc.config.EventSubject, dto.NewCaptureEvent(captureDTO)); err != nil {
			uc.logger.Warn("Failed to publish capture event",
				"subject", uc.config.EventSubject,
				"error", err.Error(),
			)
		}
	}

	if uc.notifier != nil {
		uc.notifier.BroadcastCapture(captureDTO)
	}
}

// captureOutcome отделяет сбои хранилища от сбоев браузера
func captureOutcome(err error) port.CaptureOutcome {
	var captureErr *CaptureError
	if errors.As(err, &captureErr) && captureErr.IsStorageFailure() {
		return port.OutcomeStorageError
	}
	return port.OutcomeCaptureError
}

func (uc *CaptureScreenshotUseCase) observeStage(stage CaptureStage, duration time.Duration) {
	for _, observer := range uc.observers {
		observer.ObserveStage(string(stage), duration)
	}
}

func (uc *CaptureScreenshotUseCase) observeOutcome(outcome port.CaptureOutcome, sizeBytes int64, total time.Duration) {
	provider := ""
	if uc.provider != nil {
		provider = uc.provider.Name()
	}
	for _, observer := range uc.observers {
		observer.ObserveOutcome(outcome, provider, sizeBytes, total)
	}
}

func parseTargetURL(raw string) (valueobject.TargetURL, error) {
	target, err := valueobject.NewTargetURL(raw)
	if errors.Is(err, valueobject.ErrEmptyURL) {
		return valueobject.TargetURL{}, ErrURLRequired
	}
	if err != nil {
		return valueobject.TargetURL{}, fmt.Errorf("%w: %s", ErrInvalidURL, err.Error())
	}
	return target, nil
}
