// Package handler provides the HTTP API of the key policy engine.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quartzlab/keysmith/internal/service"
)

// UserHandler serves the login callback and per-user key state.
type UserHandler struct {
	userService *service.UserService
	evaluator   *service.Evaluator
	logger      zerolog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userService *service.UserService, evaluator *service.Evaluator, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		evaluator:   evaluator,
		logger:      logger.With().Str("handler", "user").Logger(),
	}
}

// RegisterRoutes registers user-facing routes.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/login", h.handleLogin)
	r.Get("/api/users/{id}/key", h.handleKeyState)
}

type loginRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	TrustLevel int    `json:"trust_level"`
}

type loginResponse struct {
	User        userResponse   `json:"user"`
	Usage       *usageResponse `json:"usage,omitempty"`
	Provisioned bool           `json:"provisioned"`
	Reactivated bool           `json:"reactivated"`
}

// handleLogin processes a verified identity callback. Reactivation
// failure maps to its own error code so clients can distinguish "you
// are signed in but your key is still off" from a failed login.
func (h *UserHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return
	}
	if req.ExternalID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "external_id and name are required")
		return
	}

	output, err := h.userService.Login(r.Context(), service.LoginInput{
		ExternalID: req.ExternalID,
		Name:       req.Name,
		TrustLevel: req.TrustLevel,
	})
	if err != nil {
		if errors.Is(err, service.ErrReactivationFailed) {
			writeError(w, http.StatusBadGateway, CodeReactivationFailed, "key reactivation failed, try again later")
			return
		}
		h.logger.Error().Err(err).Str("external_id", req.ExternalID).Msg("login failed")
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal server error")
		return
	}

	status := http.StatusOK
	if output.Provisioned {
		status = http.StatusCreated
	}

	writeJSON(w, status, loginResponse{
		User:        toUserResponse(output.User),
		Usage:       toUsageResponse(output.Usage),
		Provisioned: output.Provisioned,
		Reactivated: output.Reactivated,
	})
}

// handleKeyState evaluates policy for one user and returns the key
// state projection. This is the hot path: every page load of a user's
// key screen drives the policy engine through here.
func (h *UserHandler) handleKeyState(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid user ID")
		return
	}

	state, err := h.evaluator.Evaluate(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "user not found")
			return
		}
		h.logger.Error().Err(err).Int64("user_id", userID).Msg("key state evaluation failed")
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toKeyStateResponse(state))
}
