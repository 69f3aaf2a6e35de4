package cloudwatch

import (
	"context"
	"time"

	"github.com/dreschagin/link-preview/internal/application/port"
)

const (
	MetricCaptureCount    = "CaptureCount"
	MetricCaptureDuration = "CaptureDuration"
	MetricCaptureBytes    = "CaptureBytes"
	MetricStageDuration   = "StageDuration"
)

// CaptureMetrics переводит события захвата в точки CloudWatch.
// Точки уходят в буфер publisher'а, отправка происходит по flush.
type CaptureMetrics struct {
	publisher port.MetricsPublisher
	onError   func(error)
	now       func() time.Time
}

func NewCaptureMetrics(publisher port.MetricsPublisher, onError func(error)) *CaptureMetrics {
	return &CaptureMetrics{
		publisher: publisher,
		onError:   onError,
		now:       time.Now,
	}
}

func (m *CaptureMetrics) ObserveStage(stage string, duration time.Duration) {
	m.publish([]port.MetricDatum{{
		Name:       MetricStageDuration,
		Unit:       "ms",
		Value:      float64(duration.Milliseconds()),
		Timestamp:  m.now(),
		Dimensions: map[string]string{"Stage": stage},
	}})
}

func (m *CaptureMetrics) ObserveOutcome(outcome port.CaptureOutcome, provider string, sizeBytes int64, total time.Duration) {
	now := m.now()
	dims := map[string]string{
		"Outcome":  string(outcome),
		"Provider": provider,
	}

	batch := []port.MetricDatum{
		{Name: MetricCaptureCount, Unit: "count", Value: 1, Timestamp: now, Dimensions: dims},
		{Name: MetricCaptureDuration, Unit: "ms", Value: float64(total.Milliseconds()), Timestamp: now, Dimensions: dims},
	}
	if outcome == port.OutcomeSuccess && sizeBytes > 0 {
		batch = append(batch, port.MetricDatum{
			Name:       MetricCaptureBytes,
			Unit:       "bytes",
			Value:      float64(sizeBytes),
			Timestamp:  now,
			Dimensions: map[string]string{"Provider": provider},
		})
	}

	m.publish(batch)
}

func (m *CaptureMetrics) publish(batch []port.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.publisher.PublishBatch(ctx, batch); err != nil && m.onError != nil {
		m.onError(err)
	}
}
