package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/dreschagin/link-preview/internal/application/dto"
	"github.com/dreschagin/link-preview/internal/application/usecase"
	"github.com/dreschagin/link-preview/internal/interfaces/http/middleware"
	"github.com/dreschagin/link-preview/internal/interfaces/view"
	"github.com/dreschagin/link-preview/pkg/logger"
)

const recentOnPage = 8

// PageHandler отдает страницу с формой захвата
type PageHandler struct {
	listUC     *usecase.ListCapturesUseCase
	authConfig middleware.AuthConfig
	logger     *logger.Logger
}

func NewPageHandler(
	listUC *usecase.ListCapturesUseCase,
	authConfig middleware.AuthConfig,
	logger *logger.Logger,
) *PageHandler {
	return &PageHandler{
		listUC:     listUC,
		authConfig: authConfig,
		logger:     logger,
	}
}

// ShowIndex отображает главную страницу
func (h *PageHandler) ShowIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	authenticated := middleware.ValidateRequestAuth(r, h.authConfig) == nil
	data := view.IndexData{
		AuthEnabled:   h.authConfig.Enabled,
		Authenticated: authenticated,
	}
	if authenticated {
		data.Recent = h.recent(r.Context())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := view.Index(data).Render(r.Context(), w); err != nil {
		h.logger.Error("Failed to render index page", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
}

// recent подгружает ленту для первого рендера; без индекса страница работает и так
func (h *PageHandler) recent(ctx context.Context) []*dto.CaptureDTO {
	if h.listUC == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	page, err := h.listUC.Execute(ctx, usecase.ListCapturesCommand{Limit: recentOnPage})
	if err != nil {
		h.logger.Debug("Recent captures unavailable for page", "error", err.Error())
		return nil
	}
	return page.Items
}
