package entity

import (
	"errors"
	"time"

	"github.com/dreschagin/link-preview/internal/domain/valueobject"
	"github.com/google/uuid"
)

// Capture представляет сохраненный скриншот страницы (Aggregate Root).
// Создается один раз на запрос и больше не изменяется.
type Capture struct {
	id          string
	sourceURL   string
	objectKey   string
	publicURL   string
	contentType string
	sizeBytes   int64
	provider    string
	capturedAt  time.Time
	duration    time.Duration
}

// NewCapture создает запись о новом скриншоте (Factory Method)
func NewCapture(
	target valueobject.TargetURL,
	key valueobject.ObjectKey,
	publicURL string,
	sizeBytes int64,
	provider string,
	capturedAt time.Time,
	duration time.Duration,
) (*Capture, error) {
	if target.IsZero() {
		return nil, errors.New("capture source url is required")
	}
	if publicURL == "" {
		return nil, errors.New("capture public url is required")
	}
	if sizeBytes <= 0 {
		return nil, errors.New("capture payload is empty")
	}
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	return &Capture{
		id:          uuid.New().String(),
		sourceURL:   target.String(),
		objectKey:   key.String(),
		publicURL:   publicURL,
		contentType: valueobject.PNGContentType,
		sizeBytes:   sizeBytes,
		provider:    provider,
		capturedAt:  capturedAt.UTC(),
		duration:    duration,
	}, nil
}

// Reconstruct восстанавливает запись из индекса (для Repository)
func Reconstruct(
	id, sourceURL, objectKey, publicURL, contentType string,
	sizeBytes int64,
	provider string,
	capturedAt time.Time,
	duration time.Duration,
) *Capture {
	if contentType == "" {
		contentType = valueobject.PNGContentType
	}
	return &Capture{
		id:          id,
		sourceURL:   sourceURL,
		objectKey:   objectKey,
		publicURL:   publicURL,
		contentType: contentType,
		sizeBytes:   sizeBytes,
		provider:    provider,
		capturedAt:  capturedAt.UTC(),
		duration:    duration,
	}
}

func (c *Capture) ID() string              { return c.id }
func (c *Capture) SourceURL() string       { return c.sourceURL }
func (c *Capture) ObjectKey() string       { return c.objectKey }
func (c *Capture) PublicURL() string       { return c.publicURL }
func (c *Capture) ContentType() string     { return c.contentType }
func (c *Capture) SizeBytes() int64        { return c.sizeBytes }
func (c *Capture) Provider() string        { return c.provider }
func (c *Capture) CapturedAt() time.Time   { return c.capturedAt }
func (c *Capture) Duration() time.Duration { return c.duration }
