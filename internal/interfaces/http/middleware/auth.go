package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreschagin/link-preview/pkg/logger"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrMissingToken = fmt.Errorf("%w: token missing", ErrUnauthorized)
	ErrInvalidToken = fmt.Errorf("%w: token mismatch", ErrUnauthorized)
)

const (
	AuthCookieName = "link_preview_auth_token"

	// DefaultAuthCookieTTL срок cookie, выданной /api/auth/login
	DefaultAuthCookieTTL = 12 * time.Hour

	authRealm = `Bearer realm="link-preview"`
)

type AuthConfig struct {
	Enabled     bool
	BearerToken string
	CookieTTL   time.Duration
}

// CookieMaxAge срок auth cookie в секундах
func (c AuthConfig) CookieMaxAge() int {
	if c.CookieTTL <= 0 {
		return int(DefaultAuthCookieTTL.Seconds())
	}
	return int(c.CookieTTL.Seconds())
}

// Auth закрывает API захвата и списка скриншотов Bearer токеном
func Auth(cfg AuthConfig, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := ValidateRequestAuth(r, cfg); err != nil {
				log.Warn("Unauthorized request",
					"path", r.URL.Path,
					"method", r.Method,
					"reason", err.Error(),
					"client_ip", ClientIP(r),
					"request_id", RequestIDFromContext(r.Context()),
				)
				WriteUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteUnauthorized отвечает 401 в формате API
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", authRealm)
	WriteJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
}

// ValidateRequestAuth возвращает ErrMissingToken или ErrInvalidToken.
// При выключенной авторизации пропускает любой запрос.
func ValidateRequestAuth(r *http.Request, cfg AuthConfig) error {
	if !cfg.Enabled {
		return nil
	}

	token := ExtractToken(r)
	if token == "" {
		return ErrMissingToken
	}
	if !TokenMatches(cfg, token) {
		return ErrInvalidToken
	}
	return nil
}

// TokenMatches сравнивает токен за постоянное время. Пустой токен в конфиге
// не совпадает ни с чем.
func TokenMatches(cfg AuthConfig, token string) bool {
	expected := strings.TrimSpace(cfg.BearerToken)
	token = strings.TrimSpace(token)
	if expected == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// ExtractToken ищет токен в Authorization, затем в cookie. Query-параметр
// token принимается только при WebSocket upgrade: new WebSocket() в браузере
// не умеет слать заголовки, а в обычных запросах токен из URL попадает в логи прокси.
func ExtractToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader != "" {
		scheme, value, found := strings.Cut(authHeader, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}

	if c, err := r.Cookie(AuthCookieName); err == nil {
		if value := strings.TrimSpace(c.Value); value != "" {
			return value
		}
	}

	if websocket.IsWebSocketUpgrade(r) {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

func WriteAuthCookie(w http.ResponseWriter, token string, secure bool, maxAgeSeconds int) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAgeSeconds,
	})
}

func ClearAuthCookie(w http.ResponseWriter, secure bool) {
	WriteAuthCookie(w, "", secure, -1)
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
