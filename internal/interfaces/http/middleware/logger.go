package middleware

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dreschagin/link-preview/pkg/logger"
)

type requestFieldsKey struct{}

// requestFields поля, которые handler добавляет в строку access-лога
type requestFields struct {
	mu      sync.Mutex
	keyvals []interface{}
}

func (f *requestFields) snapshot() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}(nil), f.keyvals...)
}

// AnnotateRequest дописывает пары key/value в строку лога текущего запроса:
// ключ скриншота, стадию ошибки захвата. Вне Logger ничего не делает.
func AnnotateRequest(ctx context.Context, keyvals ...interface{}) {
	fields, ok := ctx.Value(requestFieldsKey{}).(*requestFields)
	if !ok {
		return
	}
	fields.mu.Lock()
	fields.keyvals = append(fields.keyvals, keyvals...)
	fields.mu.Unlock()
}

// Logger пишет одну строку на запрос. Ответы 5xx идут уровнем WARN,
// служебные endpoint'ы уровнем DEBUG.
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			fields := &requestFields{}
			ctx := context.WithValue(r.Context(), requestFieldsKey{}, fields)
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			if isServicePath(r.URL.Path) {
				log.Debug("HTTP Request", "path", r.URL.Path, "status", wrapped.statusCode)
				return
			}

			keyvals := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"bytes", wrapped.written,
				"duration_ms", time.Since(start).Milliseconds(),
				"client_ip", ClientIP(r),
				"request_id", RequestIDFromContext(r.Context()),
			}
			keyvals = append(keyvals, fields.snapshot()...)

			if wrapped.statusCode >= http.StatusInternalServerError {
				log.Warn("HTTP Request", keyvals...)
				return
			}
			log.Info("HTTP Request", keyvals...)
		})
	}
}

func isServicePath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Hijack нужен gorilla/websocket для /ws
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hijacker.Hijack()
}
