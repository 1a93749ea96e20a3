package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quartzlab/keysmith/internal/service"
	"github.com/quartzlab/keysmith/internal/upstream"
)

// AdminHandler serves the administrative API: policy tuning, the
// backend overview and the manual sweep trigger.
type AdminHandler struct {
	policyService *service.PolicyService
	sweeper       *service.Sweeper
	keys          upstream.KeyService
	logger        zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	policyService *service.PolicyService,
	sweeper *service.Sweeper,
	keys upstream.KeyService,
	logger zerolog.Logger,
) *AdminHandler {
	return &AdminHandler{
		policyService: policyService,
		sweeper:       sweeper,
		keys:          keys,
		logger:        logger.With().Str("handler", "admin").Logger(),
	}
}

// RegisterRoutes registers admin routes on an already-authenticated router.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/admin/policy", h.handleGetPolicy)
	r.Put("/api/admin/policy", h.handleUpdatePolicy)
	r.Get("/api/admin/overview", h.handleOverview)
	r.Get("/api/admin/sessions", h.handleSessions)
	r.Post("/api/admin/sweep", h.handleSweep)
}

func (h *AdminHandler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.policyService.Get(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load policy")
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toPolicyResponse(cfg, cfg.NextReactivation(time.Now().UTC())))
}

type updatePolicyRequest struct {
	InactivityThresholdHours int `json:"inactivity_threshold_hours"`
	DailyReactivateHour      int `json:"daily_reactivate_hour"`
	DailyReactivateMinute    int `json:"daily_reactivate_minute"`
}

func (h *AdminHandler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req updatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return
	}

	cfg, err := h.policyService.Update(r.Context(), service.UpdatePolicyInput{
		InactivityThresholdHours: req.InactivityThresholdHours,
		DailyReactivateHour:      req.DailyReactivateHour,
		DailyReactivateMinute:    req.DailyReactivateMinute,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidPolicy) {
			writeError(w, http.StatusBadRequest, CodeInvalidPolicy, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("failed to update policy")
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toPolicyResponse(cfg, cfg.NextReactivation(time.Now().UTC())))
}

// handleOverview proxies aggregate backend statistics. Backend errors
// are reported generically; the details stay in the server log.
func (h *AdminHandler) handleOverview(w http.ResponseWriter, r *http.Request) {
	stats, err := h.keys.GetOverviewStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to fetch overview stats")
		writeError(w, http.StatusBadGateway, CodeUpstreamUnavailable, "backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.keys.ListActiveSessions(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to fetch active sessions")
		writeError(w, http.StatusBadGateway, CodeUpstreamUnavailable, "backend unavailable")
		return
	}
	if sessions == nil {
		sessions = []upstream.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

type sweepResponse struct {
	Ran         bool   `json:"ran"`
	Window      string `json:"window,omitempty"`
	Attempted   int    `json:"attempted"`
	Reactivated int    `json:"reactivated"`
	Errors      int    `json:"errors"`
	DurationMS  int64  `json:"duration_ms"`
}

// handleSweep forces a reactivation sweep for the current window.
func (h *AdminHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.Force(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("manual sweep failed")
		writeError(w, http.StatusInternalServerError, CodeInternalError, "sweep failed")
		return
	}
	if result == nil {
		writeJSON(w, http.StatusConflict, sweepResponse{Ran: false})
		return
	}

	writeJSON(w, http.StatusOK, sweepResponse{
		Ran:         true,
		Window:      result.Window.Format(time.RFC3339),
		Attempted:   result.Attempted,
		Reactivated: result.Reactivated,
		Errors:      result.Errors,
		DurationMS:  result.Duration.Milliseconds(),
	})
}
