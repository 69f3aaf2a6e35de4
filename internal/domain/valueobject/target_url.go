package valueobject

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrEmptyURL = errors.New("url is empty")

// TargetURL представляет адрес страницы для захвата (Value Object).
// Допускаются только абсолютные http/https адреса с хостом.
type TargetURL struct {
	raw    string
	parsed *url.URL
}

// NewTargetURL разбирает и валидирует адрес
func NewTargetURL(raw string) (TargetURL, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return TargetURL{}, ErrEmptyURL
	}

	parsed, err := url.Parse(value)
	if err != nil {
		return TargetURL{}, fmt.Errorf("malformed url: %w", err)
	}
	if !parsed.IsAbs() {
		return TargetURL{}, fmt.Errorf("url must be absolute: %s", value)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return TargetURL{}, fmt.Errorf("unsupported url scheme: %s", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return TargetURL{}, fmt.Errorf("url host is required: %s", value)
	}

	return TargetURL{raw: value, parsed: parsed}, nil
}

// String возвращает исходное (обрезанное) значение
func (u TargetURL) String() string {
	return u.raw
}

// Host возвращает хост без порта
func (u TargetURL) Host() string {
	if u.parsed == nil {
		return ""
	}
	return u.parsed.Hostname()
}

// IsZero сообщает, что значение не инициализировано
func (u TargetURL) IsZero() bool {
	return u.parsed == nil
}
