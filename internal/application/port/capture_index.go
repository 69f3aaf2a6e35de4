package port

import (
	"context"
	"errors"

	"github.com/dreschagin/link-preview/internal/domain/entity"
)

// ErrInvalidCursor возвращается, когда курсор страницы не удается разобрать.
var ErrInvalidCursor = errors.New("invalid cursor")

// CaptureListQuery определяет параметры выборки последних захватов.
type CaptureListQuery struct {
	Limit  int
	Cursor string
}

// CaptureListPage содержит результат выборки и курсор следующей страницы.
type CaptureListPage struct {
	Items      []*entity.Capture
	NextCursor string
}

// CaptureIndex хранит метаданные сделанных скриншотов (Port).
// Реализации: PostgreSQL и DynamoDB.
type CaptureIndex interface {
	Save(ctx context.Context, capture *entity.Capture) error
	ListRecent(ctx context.Context, query CaptureListQuery) (CaptureListPage, error)
	Ping(ctx context.Context) error
}
