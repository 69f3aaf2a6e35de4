package port

import (
	"context"
	"fmt"
	"time"
)

// LogLevel уровень записи во внешнем log sink
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// Ключи логгера, которые NewLogEntry поднимает из Fields в поля записи.
// По ним в Logs Insights связывают HTTP запрос и конкретный скриншот.
const (
	LogFieldRequestID = "request_id"
	LogFieldObjectKey = "key"
	LogFieldSourceURL = "url"
)

// LogEntry запись для внешнего log sink
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string

	// Пустые, если запись не относится к запросу или скриншоту
	RequestID string
	ObjectKey string
	SourceURL string

	Fields map[string]interface{}
}

// NewLogEntry собирает запись из пар key/value логгера.
// Непарный хвост отбрасывается, как и в текстовом выводе.
func NewLogEntry(at time.Time, level LogLevel, message string, keyvals ...interface{}) LogEntry {
	entry := LogEntry{Timestamp: at, Level: level, Message: message}

	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		value := keyvals[i+1]

		switch key {
		case LogFieldRequestID:
			entry.RequestID = fmt.Sprint(value)
		case LogFieldObjectKey:
			entry.ObjectKey = fmt.Sprint(value)
		case LogFieldSourceURL:
			entry.SourceURL = fmt.Sprint(value)
		default:
			if entry.Fields == nil {
				entry.Fields = make(map[string]interface{}, len(keyvals)/2)
			}
			entry.Fields[key] = value
		}
	}

	return entry
}

// LogPublisher дублирует логи сервиса во внешнюю систему (CloudWatch Logs).
// Publish вызывается на каждую строку лога и не должен ходить в сеть,
// пока буфер не заполнен.
type LogPublisher interface {
	Publish(ctx context.Context, entry LogEntry) error

	// Flush вызывается при остановке, чтобы не потерять хвост буфера
	Flush(ctx context.Context) error
}
