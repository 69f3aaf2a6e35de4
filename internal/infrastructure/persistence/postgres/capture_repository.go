package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/internal/domain/entity"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS captures (
	id           UUID PRIMARY KEY,
	source_url   TEXT        NOT NULL,
	object_key   TEXT        NOT NULL UNIQUE,
	public_url   TEXT        NOT NULL,
	content_type TEXT        NOT NULL DEFAULT 'image/png',
	size_bytes   BIGINT      NOT NULL,
	provider     TEXT        NOT NULL,
	duration_ms  BIGINT      NOT NULL DEFAULT 0,
	captured_at  TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_captures_captured_at ON captures (captured_at DESC, id DESC);
`

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open открывает пул соединений и проверяет доступность БД
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// PostgresCaptureRepository реализует port.CaptureIndex для PostgreSQL
type PostgresCaptureRepository struct {
	db *sql.DB
}

// NewPostgresCaptureRepository создает новый PostgreSQL repository
func NewPostgresCaptureRepository(db *sql.DB) *PostgresCaptureRepository {
	return &PostgresCaptureRepository{
		db: db,
	}
}

// EnsureSchema создает таблицу captures, если ее нет
func (r *PostgresCaptureRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create captures schema: %w", err)
	}
	return nil
}

// Save сохраняет один скриншот
func (r *PostgresCaptureRepository) Save(ctx context.Context, capture *entity.Capture) error {
	model := ToDBModel(capture)

	query := `
		INSERT INTO captures (id, source_url, object_key, public_url, content_type, size_bytes, provider, duration_ms, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		model.ID,
		model.SourceURL,
		model.ObjectKey,
		model.PublicURL,
		model.ContentType,
		model.SizeBytes,
		model.Provider,
		model.DurationMs,
		model.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert capture: %w", err)
	}

	return nil
}

// ListRecent возвращает скриншоты от новых к старым с keyset-пагинацией
func (r *PostgresCaptureRepository) ListRecent(ctx context.Context, query port.CaptureListQuery) (port.CaptureListPage, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 12
	}

	var (
		rows *sql.Rows
		err  error
	)

	// Запрашиваем на одну строку больше, чтобы понять, есть ли следующая страница
	if query.Cursor == "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, source_url, object_key, public_url, content_type, size_bytes, provider, duration_ms, captured_at
			FROM captures
			ORDER BY captured_at DESC, id DESC
			LIMIT $1
		`, limit+1)
	} else {
		capturedAt, id, decodeErr := decodeCursor(query.Cursor)
		if decodeErr != nil {
			return port.CaptureListPage{}, decodeErr
		}
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, source_url, object_key, public_url, content_type, size_bytes, provider, duration_ms, captured_at
			FROM captures
			WHERE (captured_at, id) < ($1, $2)
			ORDER BY captured_at DESC, id DESC
			LIMIT $3
		`, capturedAt, id, limit+1)
	}
	if err != nil {
		return port.CaptureListPage{}, fmt.Errorf("failed to query captures: %w", err)
	}
	defer rows.Close()

	models := make([]*CaptureDBModel, 0, limit+1)
	for rows.Next() {
		model, err := ScanCaptureRow(rows)
		if err != nil {
			return port.CaptureListPage{}, fmt.Errorf("failed to scan capture: %w", err)
		}
		models = append(models, model)
	}
	if err := rows.Err(); err != nil {
		return port.CaptureListPage{}, fmt.Errorf("rows iteration error: %w", err)
	}

	page := port.CaptureListPage{Items: make([]*entity.Capture, 0, limit)}
	if len(models) > limit {
		last := models[limit-1]
		page.NextCursor = encodeCursor(last.CapturedAt, last.ID)
		models = models[:limit]
	}
	for _, model := range models {
		page.Items = append(page.Items, ToEntity(model))
	}

	return page, nil
}

// Ping проверяет соединение с БД
func (r *PostgresCaptureRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
