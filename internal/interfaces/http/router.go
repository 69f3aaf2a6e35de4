package http

import (
	"io/fs"
	"net/http"

	"github.com/dreschagin/link-preview/internal/infrastructure/observability/prometheus"
	"github.com/dreschagin/link-preview/internal/interfaces/http/handler"
	"github.com/dreschagin/link-preview/internal/interfaces/http/middleware"
	"github.com/dreschagin/link-preview/pkg/config"
	"github.com/dreschagin/link-preview/pkg/logger"
)

// Router настраивает маршруты приложения
type Router struct {
	mux                  *http.ServeMux
	pageHandler          *handler.PageHandler
	websocketHandler     *handler.WebSocketHandler
	screenshotAPIHandler *handler.ScreenshotAPIHandler
	authAPIHandler       *handler.AuthAPIHandler
	healthHandler        *handler.HealthHandler
	metrics              *prometheus.Metrics
	security             config.SecurityConfig
	logger               *logger.Logger
}

// NewRouter создает новый router. metrics может быть nil.
func NewRouter(
	pageHandler *handler.PageHandler,
	websocketHandler *handler.WebSocketHandler,
	screenshotAPIHandler *handler.ScreenshotAPIHandler,
	authAPIHandler *handler.AuthAPIHandler,
	healthHandler *handler.HealthHandler,
	metrics *prometheus.Metrics,
	security config.SecurityConfig,
	logger *logger.Logger,
) *Router {
	return &Router{
		mux:                  http.NewServeMux(),
		pageHandler:          pageHandler,
		websocketHandler:     websocketHandler,
		screenshotAPIHandler: screenshotAPIHandler,
		authAPIHandler:       authAPIHandler,
		healthHandler:        healthHandler,
		metrics:              metrics,
		security:             security,
		logger:               logger,
	}
}

// Setup настраивает все маршруты
func (rt *Router) Setup() http.Handler {
	// Static assets are embedded into the binary.
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic("failed to initialize embedded static assets: " + err.Error())
	}
	rt.mux.Handle("/static/", middleware.Compression(http.StripPrefix("/static/", http.FileServerFS(staticFS))))

	// healthz, readyz и /metrics без авторизации
	rt.mux.HandleFunc("/healthz", rt.healthHandler.Healthz)
	rt.mux.HandleFunc("/readyz", rt.healthHandler.Readyz)
	if rt.metrics != nil {
		rt.mux.Handle("/metrics", rt.metrics.Handler())
	}

	authMiddleware := middleware.Auth(middleware.AuthConfig{
		Enabled:     rt.security.AuthEnabled,
		BearerToken: rt.security.AuthToken,
		CookieTTL:   rt.security.AuthCookieTTL,
	}, rt.logger)

	// TrustedProxies уже проверены config.Validate
	clientAddress, err := middleware.NewClientIPResolver(rt.security.TrustedProxies)
	if err != nil {
		panic("invalid trusted proxies: " + err.Error())
	}

	var onDrop func()
	if rt.metrics != nil {
		onDrop = rt.metrics.RateLimited
	}
	rateLimit := middleware.RateLimit(middleware.NewPerMinuteRateLimiter(rt.security.RateLimitPerMinute), onDrop)

	// Страница сама показывает форму входа, поэтому без authMiddleware
	rt.mux.Handle("/", middleware.Compression(http.HandlerFunc(rt.pageHandler.ShowIndex)))

	// WebSocket проверяет токен внутри handler'а (query/cookie)
	rt.mux.HandleFunc("/ws", rt.websocketHandler.HandleConnection)

	// API endpoints
	// перебор токена упирается в тот же лимит, что и захват
	loginLimit := middleware.RateLimit(middleware.NewPerMinuteRateLimiter(rt.security.RateLimitPerMinute), onDrop)
	rt.mux.Handle("/api/auth/login", loginLimit(http.HandlerFunc(rt.authAPIHandler.Login)))
	rt.mux.HandleFunc("/api/auth/logout", rt.authAPIHandler.Logout)
	rt.mux.HandleFunc("/api/auth/status", rt.authAPIHandler.Status)

	rt.mux.Handle("/api/screenshot", authMiddleware(rateLimit(http.HandlerFunc(rt.screenshotAPIHandler.CaptureScreenshot))))
	rt.mux.Handle("/api/screenshots", authMiddleware(http.HandlerFunc(rt.screenshotAPIHandler.ListScreenshots)))

	// Применяем middleware
	var handler http.Handler = rt.mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = middleware.Logger(rt.logger)(handler)
	handler = middleware.Recovery(rt.logger)(handler)
	handler = middleware.ClientAddress(clientAddress)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
