package dto

import (
	"time"

	"github.com/dreschagin/link-preview/internal/domain/entity"
)

// CaptureDTO представляет скриншот для API, WebSocket и событий
type CaptureDTO struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	ObjectKey   string    `json:"object_key"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Provider    string    `json:"provider"`
	CapturedAt  time.Time `json:"captured_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// FromEntity конвертирует Entity в DTO
func FromEntity(capture *entity.Capture) *CaptureDTO {
	if capture == nil {
		return nil
	}
	return &CaptureDTO{
		ID:          capture.ID(),
		SourceURL:   capture.SourceURL(),
		ObjectKey:   capture.ObjectKey(),
		URL:         capture.PublicURL(),
		ContentType: capture.ContentType(),
		SizeBytes:   capture.SizeBytes(),
		Provider:    capture.Provider(),
		CapturedAt:  capture.CapturedAt(),
		DurationMs:  capture.Duration().Milliseconds(),
	}
}

// FromEntities конвертирует слайс Entity в слайс DTO
func FromEntities(captures []*entity.Capture) []*CaptureDTO {
	items := make([]*CaptureDTO, 0, len(captures))
	for _, capture := range captures {
		if capture == nil {
			continue
		}
		items = append(items, FromEntity(capture))
	}
	return items
}

// CaptureListDTO страница последних скриншотов
type CaptureListDTO struct {
	Items      []*CaptureDTO `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// CaptureEventDTO событие screenshots.captured для брокера
type CaptureEventDTO struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Capture   *CaptureDTO `json:"capture"`
}

// NewCaptureEvent создает событие о новом скриншоте
func NewCaptureEvent(capture *CaptureDTO) *CaptureEventDTO {
	return &CaptureEventDTO{
		Type:      "screenshot.captured",
		Timestamp: time.Now().UTC(),
		Capture:   capture,
	}
}
