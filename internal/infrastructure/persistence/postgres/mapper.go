package postgres

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/internal/domain/entity"
)

// CaptureDBModel представляет скриншот в БД
type CaptureDBModel struct {
	ID          string
	SourceURL   string
	ObjectKey   string
	PublicURL   string
	ContentType string
	SizeBytes   int64
	Provider    string
	DurationMs  int64
	CapturedAt  time.Time
}

// ToDBModel конвертирует Domain Entity в DB Model
func ToDBModel(capture *entity.Capture) *CaptureDBModel {
	return &CaptureDBModel{
		ID:          capture.ID(),
		SourceURL:   capture.SourceURL(),
		ObjectKey:   capture.ObjectKey(),
		PublicURL:   capture.PublicURL(),
		ContentType: capture.ContentType(),
		SizeBytes:   capture.SizeBytes(),
		Provider:    capture.Provider(),
		DurationMs:  capture.Duration().Milliseconds(),
		CapturedAt:  capture.CapturedAt().UTC(),
	}
}

// ToEntity конвертирует DB Model в Domain Entity
func ToEntity(model *CaptureDBModel) *entity.Capture {
	return entity.Reconstruct(
		model.ID,
		model.SourceURL,
		model.ObjectKey,
		model.PublicURL,
		model.ContentType,
		model.SizeBytes,
		model.Provider,
		model.CapturedAt,
		time.Duration(model.DurationMs)*time.Millisecond,
	)
}

// ScanCaptureRow сканирует строку результата в DB Model
func ScanCaptureRow(rows *sql.Rows) (*CaptureDBModel, error) {
	var model CaptureDBModel
	err := rows.Scan(
		&model.ID,
		&model.SourceURL,
		&model.ObjectKey,
		&model.PublicURL,
		&model.ContentType,
		&model.SizeBytes,
		&model.Provider,
		&model.DurationMs,
		&model.CapturedAt,
	)
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// encodeCursor кодирует позицию keyset-пагинации: <unix-nanos>|<id>
func encodeCursor(capturedAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", capturedAt.UTC().UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", port.ErrInvalidCursor
	}

	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return time.Time{}, "", port.ErrInvalidCursor
	}

	parsed, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, "", port.ErrInvalidCursor
	}

	return time.Unix(0, parsed).UTC(), id, nil
}
