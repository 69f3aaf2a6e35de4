package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	wsInfra "github.com/dreschagin/link-preview/internal/infrastructure/notification/websocket"
	"github.com/dreschagin/link-preview/internal/interfaces/http/middleware"
	"github.com/dreschagin/link-preview/pkg/logger"
)

// FeedConfig настройки live-ленты скриншотов
type FeedConfig struct {
	// AllowedOrigins схема://хост страниц, которым разрешено подключаться; "*" снимает проверку
	AllowedOrigins []string

	// MaxClients ограничивает число открытых соединений, 0 без лимита
	MaxClients int
}

// WebSocketHandler подключает страницы к live-ленте новых скриншотов (GET /ws)
type WebSocketHandler struct {
	hub        *wsInfra.Hub
	logger     *logger.Logger
	origins    map[string]struct{}
	anyOrigin  bool
	maxClients int
	authConfig middleware.AuthConfig
	upgrader   websocket.Upgrader
}

func NewWebSocketHandler(
	hub *wsInfra.Hub,
	feed FeedConfig,
	authConfig middleware.AuthConfig,
	logger *logger.Logger,
) *WebSocketHandler {
	handler := &WebSocketHandler{
		hub:        hub,
		logger:     logger,
		origins:    make(map[string]struct{}, len(feed.AllowedOrigins)),
		maxClients: feed.MaxClients,
		authConfig: authConfig,
	}
	for _, origin := range feed.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			handler.anyOrigin = true
			continue
		}
		if normalized, ok := normalizeOrigin(origin); ok {
			handler.origins[normalized] = struct{}{}
		}
	}

	// Лента только отдает JSON, большие буферы не нужны
	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  512,
		WriteBufferSize: 4096,
		CheckOrigin:     handler.checkOrigin,
	}

	return handler
}

// normalizeOrigin приводит origin к виду scheme://host в нижнем регистре
func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host), true
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin, ok := normalizeOrigin(r.Header.Get("Origin"))
	if !ok {
		return false
	}
	if h.anyOrigin {
		return true
	}
	_, allowed := h.origins[origin]
	return allowed
}

// HandleConnection обрабатывает GET /ws
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestIDFromContext(r.Context())

	if err := middleware.ValidateRequestAuth(r, h.authConfig); err != nil {
		h.logger.Warn("Feed connection unauthorized",
			"reason", err.Error(),
			"client_ip", middleware.ClientIP(r),
			"request_id", requestID,
		)
		middleware.WriteUnauthorized(w)
		return
	}

	if h.maxClients > 0 && h.hub.ClientCount() >= h.maxClients {
		h.logger.Warn("Feed is full, connection rejected",
			"clients", h.hub.ClientCount(),
			"limit", h.maxClients,
			"request_id", requestID,
		)
		w.Header().Set("Retry-After", "30")
		writeMessage(w, http.StatusServiceUnavailable, "Too many feed connections")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader уже ответил клиенту (403 на чужой origin, 400 на обычный GET)
		h.logger.Debug("Feed upgrade rejected",
			"origin", r.Header.Get("Origin"),
			"error", err.Error(),
			"request_id", requestID,
		)
		return
	}

	wsInfra.NewClient(h.hub, conn, h.logger).Serve()

	h.logger.Debug("Feed client connected",
		"client_ip", middleware.ClientIP(r),
		"request_id", requestID,
	)
}
