package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/dreschagin/link-preview/pkg/logger"
)

// Recovery превращает panic в обработчике в 500
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				// http.ErrAbortHandler используется net/http для обрыва ответа
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}

				log.Error("Panic recovered", fmt.Errorf("%v", recovered),
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
					"stack", string(debug.Stack()),
				)
				WriteJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
			}()

			next.ServeHTTP(w, r)
		})
	}
}
