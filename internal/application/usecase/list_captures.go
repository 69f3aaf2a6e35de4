package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dreschagin/link-preview/internal/application/dto"
	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/internal/domain/valueobject"
	"github.com/dreschagin/link-preview/pkg/logger"
)

const (
	// RecentCapturesCachePattern покрывает все страницы списка последних скриншотов
	RecentCapturesCachePattern = "captures:recent:*"

	// RecentCapturesVersionKey хранит поколение списка. Лежит вне
	// RecentCapturesCachePattern, чтобы переживать очистку страниц.
	RecentCapturesVersionKey = "captures:version"

	// storageScanLimit сколько объектов читаем из бакета без индекса.
	// ListObjectsV2 отдает ключи по возрастанию, поэтому берем с запасом.
	storageScanLimit = 1000
)

var ErrIndexNotConfigured = errors.New("capture index is not configured")

type ListCapturesCommand struct {
	Limit  int
	Cursor string
}

type ListCapturesConfig struct {
	DefaultLimit int
	MaxLimit     int
	KeyFolder    string
}

// ListCapturesUseCase возвращает последние скриншоты из индекса с кешированием.
// Без индекса список собирается из хранилища, если оно подключено.
type ListCapturesUseCase struct {
	index   port.CaptureIndex
	storage port.ObjectStorage
	cache   port.Cache
	config  ListCapturesConfig
	logger  *logger.Logger
}

func NewListCapturesUseCase(
	index port.CaptureIndex,
	cache port.Cache,
	config ListCapturesConfig,
	log *logger.Logger,
) *ListCapturesUseCase {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 12
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = 100
	}
	config.KeyFolder = strings.Trim(strings.TrimSpace(config.KeyFolder), "/")
	if config.KeyFolder == "" {
		config.KeyFolder = valueobject.DefaultKeyFolder
	}
	return &ListCapturesUseCase{
		index:  index,
		cache:  cache,
		config: config,
		logger: log,
	}
}

// SetStorageFallback подключает листинг бакета на случай, когда индекса нет
func (uc *ListCapturesUseCase) SetStorageFallback(storage port.ObjectStorage) {
	uc.storage = storage
}

func (uc *ListCapturesUseCase) Execute(ctx context.Context, cmd ListCapturesCommand) (*dto.CaptureListDTO, error) {
	if uc.index == nil && uc.storage == nil {
		return nil, ErrIndexNotConfigured
	}

	limit := cmd.Limit
	if limit <= 0 {
		limit = uc.config.DefaultLimit
	}
	if limit > uc.config.MaxLimit {
		limit = uc.config.MaxLimit
	}
	cursor := strings.TrimSpace(cmd.Cursor)

	// Если кеш не настроен, идем сразу в источник
	if uc.cache == nil {
		return uc.fetch(ctx, limit, cursor)
	}

	// Поколение читаем до источника: страница, собранная до инвалидации,
	// ляжет под старое поколение и больше не будет прочитана
	cacheKey := recentCapturesCacheKey(uc.cacheVersion(ctx), limit, cursor)

	var cached dto.CaptureListDTO
	if err := uc.cache.Get(ctx, cacheKey, &cached); err == nil {
		uc.logger.Debug("Cache hit for recent captures", "limit", limit, "count", len(cached.Items))
		return &cached, nil
	}

	result, err := uc.fetch(ctx, limit, cursor)
	if err != nil {
		return nil, err
	}

	if err := uc.cache.Set(ctx, cacheKey, result); err != nil {
		uc.logger.Warn("Failed to cache recent captures", "error", err.Error())
	}

	return result, nil
}

func (uc *ListCapturesUseCase) cacheVersion(ctx context.Context) string {
	var version string
	if err := uc.cache.Get(ctx, RecentCapturesVersionKey, &version); err != nil || version == "" {
		return "0"
	}
	return version
}

func (uc *ListCapturesUseCase) fetch(ctx context.Context, limit int, cursor string) (*dto.CaptureListDTO, error) {
	if uc.index == nil {
		return uc.fetchFromStorage(ctx, limit, cursor)
	}

	page, err := uc.index.ListRecent(ctx, port.CaptureListQuery{Limit: limit, Cursor: cursor})
	if err != nil {
		if errors.Is(err, port.ErrInvalidCursor) {
			return nil, err
		}
		uc.logger.Error("Failed to list captures", err)
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}

	return &dto.CaptureListDTO{
		Items:      dto.FromEntities(page.Items),
		NextCursor: page.NextCursor,
	}, nil
}

// fetchFromStorage строит список по ключам бакета. Исходный URL и провайдер
// известны только индексу, поэтому в таких элементах они пустые.
func (uc *ListCapturesUseCase) fetchFromStorage(ctx context.Context, limit int, cursor string) (*dto.CaptureListDTO, error) {
	if cursor != "" {
		return nil, fmt.Errorf("%w: pagination requires the capture index", port.ErrInvalidCursor)
	}

	objects, err := uc.storage.ListObjects(ctx, uc.config.KeyFolder+"/", storageScanLimit)
	if err != nil {
		uc.logger.Error("Failed to list stored screenshots", err, "folder", uc.config.KeyFolder)
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}

	items := make([]*dto.CaptureDTO, 0, len(objects))
	for _, object := range objects {
		items = append(items, storedObjectDTO(object))
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CapturedAt.After(items[j].CapturedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}

	return &dto.CaptureListDTO{Items: items}, nil
}

func storedObjectDTO(object port.StoredObject) *dto.CaptureDTO {
	capturedAt := object.LastModified.UTC()
	if key, err := valueobject.ParseObjectKey(object.Key); err == nil {
		capturedAt = key.Timestamp()
	}

	return &dto.CaptureDTO{
		ID:          strings.TrimSuffix(path.Base(object.Key), path.Ext(object.Key)),
		ObjectKey:   object.Key,
		URL:         object.URL,
		ContentType: valueobject.PNGContentType,
		SizeBytes:   object.SizeBytes,
		CapturedAt:  capturedAt,
	}
}

// InvalidateRecentCaptures переводит список на новое поколение и чистит старые страницы
func InvalidateRecentCaptures(ctx context.Context, cache port.Cache) error {
	version := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := cache.Set(ctx, RecentCapturesVersionKey, version); err != nil {
		return fmt.Errorf("failed to bump recent captures version: %w", err)
	}
	if err := cache.DeletePattern(ctx, RecentCapturesCachePattern); err != nil {
		return fmt.Errorf("failed to delete recent captures pages: %w", err)
	}
	return nil
}

func recentCapturesCacheKey(version string, limit int, cursor string) string {
	if cursor == "" {
		cursor = "head"
	}
	return fmt.Sprintf("captures:recent:%s:%d:%s", version, limit, cursor)
}
