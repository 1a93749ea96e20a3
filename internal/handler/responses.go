package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/quartzlab/keysmith/internal/domain"
)

// apiError is the JSON error envelope returned by every failing endpoint.
type apiError struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned to API clients.
const (
	CodeInvalidRequest      = "InvalidRequest"
	CodeNotFound            = "NotFound"
	CodeUnauthorized        = "Unauthorized"
	CodeInvalidPolicy       = "InvalidPolicy"
	CodeReactivationFailed  = "ReactivationFailed"
	CodeUpstreamUnavailable = "UpstreamUnavailable"
	CodeInternalError       = "InternalError"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: errorBody{Code: code, Message: message}})
}

// userResponse is the wire representation of a tracked user.
type userResponse struct {
	ID              int64      `json:"id"`
	ExternalID      string     `json:"external_id"`
	Name            string     `json:"name"`
	TrustLevel      int        `json:"trust_level"`
	RemoteKeyID     *int64     `json:"remote_key_id,omitempty"`
	IsBanned        bool       `json:"is_banned"`
	KeyAutoDisabled bool       `json:"key_auto_disabled"`
	AutoDisabledAt  *time.Time `json:"auto_disabled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	LastActivityAt  *time.Time `json:"last_activity_at,omitempty"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:              u.ID,
		ExternalID:      u.ExternalID,
		Name:            u.Name,
		TrustLevel:      u.TrustLevel,
		RemoteKeyID:     u.RemoteKeyID,
		IsBanned:        u.IsBanned,
		KeyAutoDisabled: u.KeyAutoDisabled,
		AutoDisabledAt:  u.AutoDisabledAt,
		CreatedAt:       u.CreatedAt,
		LastLoginAt:     u.LastLoginAt,
		LastActivityAt:  u.LastActivityAt,
	}
}

// usageResponse mirrors the backend usage counters.
type usageResponse struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

func toUsageResponse(u *domain.Usage) *usageResponse {
	if u == nil {
		return nil
	}
	return &usageResponse{Used: u.Used, Limit: u.Limit, Remaining: u.Remaining}
}

// keyStateResponse is the key state projection returned by the
// per-user key endpoint.
type keyStateResponse struct {
	Status                string         `json:"status"`
	Usage                 *usageResponse `json:"usage,omitempty"`
	AutoDisabledAt        *time.Time     `json:"auto_disabled_at,omitempty"`
	EffectiveLastActivity time.Time      `json:"effective_last_activity"`
	Policy                policyResponse `json:"policy"`
}

// policyResponse is the wire representation of the policy row. The next
// reactivation instant lives here, alongside the window settings that
// produce it.
type policyResponse struct {
	InactivityThresholdHours int        `json:"inactivity_threshold_hours"`
	ReactivateHour           int        `json:"daily_reactivate_hour"`
	ReactivateMinute         int        `json:"daily_reactivate_minute"`
	NextReactivationAt       time.Time  `json:"next_reactivation_at"`
	LastSweepAt              *time.Time `json:"last_sweep_at,omitempty"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

func toPolicyResponse(cfg *domain.PolicyConfig, nextReactivation time.Time) policyResponse {
	return policyResponse{
		InactivityThresholdHours: cfg.InactivityThresholdHours,
		ReactivateHour:           cfg.DailyReactivateHour,
		ReactivateMinute:         cfg.DailyReactivateMinute,
		NextReactivationAt:       nextReactivation,
		LastSweepAt:              cfg.LastSweepAt,
		UpdatedAt:                cfg.UpdatedAt,
	}
}

func toKeyStateResponse(state *domain.KeyState) keyStateResponse {
	return keyStateResponse{
		Status:                string(state.Status),
		Usage:                 toUsageResponse(state.Usage),
		AutoDisabledAt:        state.AutoDisabledAt,
		EffectiveLastActivity: state.EffectiveLastActivity,
		Policy:                toPolicyResponse(&state.Policy, state.NextReactivationAt),
	}
}
