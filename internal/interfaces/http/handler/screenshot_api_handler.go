package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/internal/application/usecase"
	"github.com/dreschagin/link-preview/internal/interfaces/http/middleware"
	"github.com/dreschagin/link-preview/pkg/logger"
)

const captureSuccessMessage = "Screenshot captured successfully"

type ScreenshotAPIHandler struct {
	captureUC      *usecase.CaptureScreenshotUseCase
	listUC         *usecase.ListCapturesUseCase
	requestTimeout time.Duration
	maxBodyBytes   int64
	logger         *logger.Logger
}

type captureRequest struct {
	URL string `json:"url"`
}

type captureResponse struct {
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

func NewScreenshotAPIHandler(
	captureUC *usecase.CaptureScreenshotUseCase,
	listUC *usecase.ListCapturesUseCase,
	requestTimeout time.Duration,
	maxBodyBytes int64,
	log *logger.Logger,
) *ScreenshotAPIHandler {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 64 * 1024
	}

	return &ScreenshotAPIHandler{
		captureUC:      captureUC,
		listUC:         listUC,
		requestTimeout: requestTimeout,
		maxBodyBytes:   maxBodyBytes,
		logger:         log,
	}
}

// CaptureScreenshot обрабатывает POST /api/screenshot
func (h *ScreenshotAPIHandler) CaptureScreenshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	defer r.Body.Close()

	// Невалидный JSON и пустое тело трактуются как отсутствие URL
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, usecase.ErrURLRequired.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	result, err := h.captureUC.Execute(ctx, usecase.CaptureScreenshotCommand{URL: req.URL})
	if err != nil {
		var captureErr *usecase.CaptureError
		if errors.As(err, &captureErr) {
			middleware.AnnotateRequest(r.Context(), "capture_stage", string(captureErr.Stage))
		}

		status, message := captureErrorResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Screenshot request failed", err,
				"url", req.URL,
				"status", status,
				"request_id", middleware.RequestIDFromContext(r.Context()),
			)
		}
		writeMessage(w, status, message)
		return
	}

	middleware.AnnotateRequest(r.Context(),
		"capture_id", result.Capture.ID(),
		"key", result.Capture.ObjectKey(),
		"provider", result.Capture.Provider(),
	)
	middleware.WriteJSON(w, http.StatusOK, captureResponse{
		Message: captureSuccessMessage,
		URL:     result.Capture.PublicURL(),
	})
}

// ListScreenshots обрабатывает GET /api/screenshots?limit=&cursor=
func (h *ScreenshotAPIHandler) ListScreenshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeMessage(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.listUC.Execute(r.Context(), usecase.ListCapturesCommand{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	switch {
	case errors.Is(err, usecase.ErrIndexNotConfigured):
		writeMessage(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, port.ErrInvalidCursor):
		writeMessage(w, http.StatusBadRequest, "Invalid cursor")
		return
	case err != nil:
		writeMessage(w, http.StatusInternalServerError, "Failed to list screenshots")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, page)
}

// captureErrorResponse переводит ошибку use case в HTTP статус и сообщение
func captureErrorResponse(err error) (int, string) {
	if errors.Is(err, usecase.ErrURLRequired) {
		return http.StatusBadRequest, usecase.ErrURLRequired.Error()
	}
	if errors.Is(err, usecase.ErrInvalidURL) {
		details := strings.TrimPrefix(err.Error(), usecase.ErrInvalidURL.Error())
		details = strings.TrimPrefix(details, ": ")
		return http.StatusBadRequest, "Invalid URL: " + details
	}

	var captureErr *usecase.CaptureError
	if errors.As(err, &captureErr) && captureErr.Stage == usecase.StageCapacity {
		reason := strings.TrimPrefix(captureErr.Err.Error(), port.ErrCapacityExhausted.Error())
		reason = strings.TrimPrefix(reason, ": ")
		return http.StatusServiceUnavailable, "Capture capacity exhausted: " + reason
	}

	return http.StatusInternalServerError, "Failed to capture screenshot: " + err.Error()
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	middleware.WriteJSON(w, status, captureResponse{Message: message})
}
