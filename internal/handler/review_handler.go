package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"login-security/internal/config"
	"login-security/internal/events"
	"login-security/internal/util"

	"github.com/go-chi/chi/v5"
)

// ReviewHandler serves the fraud-review read surface over the risk audit
// index.
type ReviewHandler struct {
	publisher *events.Publisher
	config    *config.SecurityConfig
}

func NewReviewHandler(publisher *events.Publisher, cfg *config.SecurityConfig) *ReviewHandler {
	return &ReviewHandler{publisher: publisher, config: cfg}
}

func (h *ReviewHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Get("/risky-logins", h.RecentRiskyLogins)
	})
}

// RecentRiskyLogins lists the latest events at or above min_score, which
// defaults to the step-up threshold.
func (h *ReviewHandler) RecentRiskyLogins(w http.ResponseWriter, r *http.Request) {
	minScore := h.config.StepUpThreshold
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse("min_score must be a non-negative integer"))
			return
		}
		minScore = parsed
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	riskyLogins, err := h.publisher.RecentRiskyLogins(r.Context(), minScore, limit)
	if err != nil {
		util.Error("Risky-login query failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("risk audit index unavailable"))
		return
	}

	writeJSON(w, http.StatusOK, successResponse(riskyLogins, "ok"))
}
