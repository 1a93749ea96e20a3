// Package upstream is the boundary to the remote key service, the
// credential backend that owns actual API key material, enablement
// flags and usage counters.
package upstream

import (
	"context"

	"github.com/quartzlab/keysmith/internal/domain"
)

// KeyService defines the capability set consumed from the remote key
// service. Calls are pass-through: no retries beyond the client's
// single session refresh on auth expiry; the caller decides fallback
// behavior on failure.
type KeyService interface {
	// AddUser provisions a backend account and its API key.
	AddUser(ctx context.Context, name string) (*ProvisionedUser, error)

	// SetKeyEnabled toggles a key's enablement flag. Idempotent from
	// the caller's perspective: setting the current state is not an error.
	SetKeyEnabled(ctx context.Context, keyID int64, enabled bool) error

	// GetKeyUsage returns the usage counters for a key.
	GetKeyUsage(ctx context.Context, keyID int64) (*domain.Usage, error)

	// ListActiveSessions returns the backend's currently active sessions.
	ListActiveSessions(ctx context.Context) ([]Session, error)

	// GetOverviewStats returns aggregate backend statistics.
	GetOverviewStats(ctx context.Context) (*OverviewStats, error)
}

// ProvisionedUser is the result of provisioning a backend account.
type ProvisionedUser struct {
	// UserID is the backend's account identifier.
	UserID int64 `json:"user_id"`

	// KeyID is the backend's identifier for the issued key.
	KeyID int64 `json:"key_id"`

	// Key is the issued key material, returned once at creation.
	Key string `json:"key"`
}

// Session describes one active session on the backend.
type Session struct {
	ID        string `json:"id"`
	UserName  string `json:"user_name"`
	ClientIP  string `json:"client_ip"`
	StartedAt string `json:"started_at"`
}

// OverviewStats holds aggregate backend statistics for admin screens.
type OverviewStats struct {
	TotalUsers     int64 `json:"total_users"`
	ActiveKeys     int64 `json:"active_keys"`
	DisabledKeys   int64 `json:"disabled_keys"`
	TotalUsage     int64 `json:"total_usage"`
	ActiveSessions int64 `json:"active_sessions"`
}
