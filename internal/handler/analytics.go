package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/middleware"
	"github.com/loopreach/social-sync/internal/model"
	"github.com/loopreach/social-sync/internal/service"
)

// AnalyticsHandler serves on-demand metric syncs and the stored snapshots.
type AnalyticsHandler struct {
	metricsService *service.MetricsService
}

func NewAnalyticsHandler(metricsService *service.MetricsService) *AnalyticsHandler {
	return &AnalyticsHandler{metricsService: metricsService}
}

// Sync pulls fresh metrics from the provider and persists the snapshot. The
// token is refreshed first if it is inside its expiry buffer.
func (h *AnalyticsHandler) Sync(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.parseProvider(w, r)
	if !ok {
		return
	}
	userID := middleware.UserID(r.Context())

	metrics, err := h.metricsService.Sync(r.Context(), provider, userID)
	if err != nil {
		log.Error().Err(err).Str("provider", provider.String()).Str("userId", userID).Msg("metrics sync failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": metrics,
	})
}

// LastSnapshot returns the most recently stored metrics without contacting
// the provider.
func (h *AnalyticsHandler) LastSnapshot(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.parseProvider(w, r)
	if !ok {
		return
	}
	userID := middleware.UserID(r.Context())

	metrics, err := h.metricsService.LastSnapshot(r.Context(), provider, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": metrics,
	})
}

func (h *AnalyticsHandler) parseProvider(w http.ResponseWriter, r *http.Request) (model.Provider, bool) {
	provider, err := model.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, apperrors.ValidationError("unknown provider"))
		return "", false
	}
	return provider, true
}
