// Package api exposes the local kanji database over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/japaniel/kanjidb/pkg/download"
	"github.com/japaniel/kanjidb/pkg/kanjidb"
	"github.com/japaniel/kanjidb/pkg/state"
	"github.com/japaniel/kanjidb/pkg/update"
)

// maxLookup bounds the number of characters per kanji request.
const maxLookup = 100

// Service is the part of *kanjidb.Database the handlers use.
type Service interface {
	State() kanjidb.State
	Versions() kanjidb.Versions
	UpdateState() state.UpdateState
	Update(ctx context.Context) error
	CancelUpdate() bool
	Destroy(ctx context.Context) error
	GetKanji(ctx context.Context, chars []string) ([]kanjidb.KanjiResult, error)
}

// Handler serves the kanjidb API.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(service Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// Router builds the chi router with the shared middleware stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(h.logger))
	r.Use(RecoveryMiddleware(h.logger))
	r.Use(httprate.LimitByIP(100, time.Minute))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/kanji", h.GetKanji)
		r.Post("/update", h.PostUpdate)
		r.Post("/update/cancel", h.PostCancelUpdate)
		r.Delete("/database", h.DeleteDatabase)
	})
	return r
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	State    kanjidb.State    `json:"state"`
	Versions kanjidb.Versions `json:"versions"`
	Update   UpdateStatus     `json:"update"`
}

// UpdateStatus is the JSON form of state.UpdateState.
type UpdateStatus struct {
	State     state.Kind        `json:"state"`
	Version   *download.Version `json:"version,omitempty"`
	Progress  *float64          `json:"progress,omitempty"`
	Error     string            `json:"error,omitempty"`
	LastCheck *time.Time        `json:"lastCheck,omitempty"`
}

func newUpdateStatus(s state.UpdateState) UpdateStatus {
	us := UpdateStatus{
		State:     s.Kind,
		Version:   s.DownloadVersion,
		Progress:  s.Progress,
		LastCheck: s.LastCheck,
	}
	if s.Err != nil {
		us.Error = s.Err.Error()
	}
	return us
}

// GetStatus handles GET /api/v1/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, StatusResponse{
		State:    h.service.State(),
		Versions: h.service.Versions(),
		Update:   newUpdateStatus(h.service.UpdateState()),
	})
}

// GetKanji handles GET /api/v1/kanji?c=日&c=本
func (h *Handler) GetKanji(w http.ResponseWriter, r *http.Request) {
	chars := r.URL.Query()["c"]
	if len(chars) == 0 {
		h.respondError(w, http.StatusBadRequest, "query parameter c is required")
		return
	}
	if len(chars) > maxLookup {
		h.respondError(w, http.StatusBadRequest, "too many characters")
		return
	}

	results, err := h.service.GetKanji(r.Context(), chars)
	if err != nil {
		h.logger.Error("failed to get kanji", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to get kanji")
		return
	}
	h.respondJSON(w, http.StatusOK, results)
}

// PostUpdate handles POST /api/v1/update. It blocks until the update ends.
func (h *Handler) PostUpdate(w http.ResponseWriter, r *http.Request) {
	err := h.service.Update(r.Context())

	var de *download.DownloadError
	switch {
	case err == nil:
		h.respondJSON(w, http.StatusOK, StatusResponse{
			State:    h.service.State(),
			Versions: h.service.Versions(),
			Update:   newUpdateStatus(h.service.UpdateState()),
		})
	case errors.Is(err, update.ErrUpdateCanceled):
		h.respondError(w, http.StatusConflict, "update canceled")
	case errors.As(err, &de):
		h.respondJSON(w, http.StatusBadGateway, map[string]string{"error": de.Error(), "code": string(de.Code)})
	case errors.Is(err, download.ErrIncrementalUnsupported):
		h.respondError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.respondError(w, http.StatusServiceUnavailable, "request ended before the update finished")
	default:
		h.logger.Error("update failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "update failed")
	}
}

// PostCancelUpdate handles POST /api/v1/update/cancel
func (h *Handler) PostCancelUpdate(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]bool{"canceled": h.service.CancelUpdate()})
}

// DeleteDatabase handles DELETE /api/v1/database
func (h *Handler) DeleteDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Destroy(r.Context()); err != nil {
		h.logger.Error("failed to destroy database", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to destroy database")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
