package port

import (
	"context"
	"time"
)

// CaptureOutcome итог обработки запроса на скриншот.
type CaptureOutcome string

const (
	OutcomeSuccess         CaptureOutcome = "success"
	OutcomeValidationError CaptureOutcome = "validation_error"
	OutcomeCaptureError    CaptureOutcome = "capture_error"
	OutcomeStorageError    CaptureOutcome = "storage_error"
)

// CaptureObserver получает события жизненного цикла захвата.
// Реализации: Prometheus registry и CloudWatch publisher.
type CaptureObserver interface {
	ObserveStage(stage string, duration time.Duration)
	ObserveOutcome(outcome CaptureOutcome, provider string, sizeBytes int64, total time.Duration)
}

// MetricDatum одна точка метрики для внешней системы мониторинга.
type MetricDatum struct {
	Name       string
	Unit       string
	Value      float64
	Timestamp  time.Time
	Dimensions map[string]string
}

// MetricsPublisher defines the interface for publishing metrics to external observability platforms.
// This port allows the application layer to publish metrics without coupling to specific implementations.
type MetricsPublisher interface {
	// PublishBatch publishes multiple metrics in a single operation.
	// Implementations should handle batching constraints (e.g., CloudWatch's 1000 metrics/request limit).
	PublishBatch(ctx context.Context, metrics []MetricDatum) error

	// PublishSingle publishes a single metric immediately.
	PublishSingle(ctx context.Context, metric MetricDatum) error

	// Flush forces immediate publication of any buffered metrics.
	// Should be called during graceful shutdown to prevent data loss.
	Flush(ctx context.Context) error
}
