package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dreschagin/link-preview/internal/interfaces/http/middleware"
	"github.com/dreschagin/link-preview/pkg/logger"
)

// AuthAPIHandler меняет токен на HttpOnly cookie, чтобы страница и /ws
// работали без ручной передачи заголовка Authorization
type AuthAPIHandler struct {
	authConfig middleware.AuthConfig
	logger     *logger.Logger
	now        func() time.Time
}

type authLoginRequest struct {
	Token string `json:"token"`
}

type authStatusResponse struct {
	Success       bool       `json:"success,omitempty"`
	AuthEnabled   bool       `json:"auth_enabled"`
	Authenticated bool       `json:"authenticated"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func NewAuthAPIHandler(authConfig middleware.AuthConfig, log *logger.Logger) *AuthAPIHandler {
	return &AuthAPIHandler{
		authConfig: authConfig,
		logger:     log,
		now:        time.Now,
	}
}

// Login обрабатывает POST /api/auth/login {"token": "..."}
func (h *AuthAPIHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if !h.authConfig.Enabled {
		middleware.WriteJSON(w, http.StatusOK, authStatusResponse{Success: true, Authenticated: true})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 4*1024)
	defer r.Body.Close()
	var req authLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !middleware.TokenMatches(h.authConfig, req.Token) {
		h.logger.Warn("Auth login failed",
			"client_ip", middleware.ClientIP(r),
			"request_id", middleware.RequestIDFromContext(r.Context()),
		)
		writeMessage(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	maxAge := h.authConfig.CookieMaxAge()
	middleware.WriteAuthCookie(w, strings.TrimSpace(req.Token), middleware.RequestIsHTTPS(r), maxAge)

	expiresAt := h.now().Add(time.Duration(maxAge) * time.Second).UTC()
	middleware.WriteJSON(w, http.StatusOK, authStatusResponse{
		Success:       true,
		AuthEnabled:   true,
		Authenticated: true,
		ExpiresAt:     &expiresAt,
	})
}

// Logout обрабатывает POST /api/auth/logout
func (h *AuthAPIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	middleware.ClearAuthCookie(w, middleware.RequestIsHTTPS(r))
	middleware.WriteJSON(w, http.StatusOK, authStatusResponse{
		Success:     true,
		AuthEnabled: h.authConfig.Enabled,
	})
}

// Status обрабатывает GET /api/auth/status: страница решает, показывать ли форму входа
func (h *AuthAPIHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, authStatusResponse{
		AuthEnabled:   h.authConfig.Enabled,
		Authenticated: middleware.ValidateRequestAuth(r, h.authConfig) == nil,
	})
}
