// Package domain contains the core business entities for Keysmith.
// These are pure Go structs with no external dependencies, representing
// the fundamental concepts of the key-distribution policy engine.
package domain

import (
	"time"
)

// User represents one tracked end user of the key-distribution service.
// Identity comes from an external provider; the actual API key material
// lives in the remote key service and is referenced by RemoteKeyID.
type User struct {
	// ID is the unique internal identifier for the user (auto-generated).
	ID int64 `json:"id"`

	// ExternalID is the stable identifier from the identity provider.
	ExternalID string `json:"external_id"`

	// Name is the display name reported by the identity provider.
	Name string `json:"name"`

	// TrustLevel is the trust level reported by the identity provider.
	TrustLevel int `json:"trust_level"`

	// RemoteKeyID references the user's key in the remote key service.
	// Nil means no key has been provisioned yet.
	RemoteKeyID *int64 `json:"remote_key_id,omitempty"`

	// IsBanned marks the user as banned by an external administrative flow.
	// The policy engine never disables or reactivates banned users' keys.
	IsBanned bool `json:"is_banned"`

	// KeyAutoDisabled is true when this policy engine has disabled the
	// user's key for inactivity. Cleared by the daily sweep or by a
	// login-time reactivation, never by the evaluator.
	KeyAutoDisabled bool `json:"key_auto_disabled"`

	// AutoDisabledAt is the instant the key was auto-disabled.
	AutoDisabledAt *time.Time `json:"auto_disabled_at,omitempty"`

	// LastKnownUsage is the last cumulative usage counter observed from
	// the remote key service. Not assumed monotonic: the backend may reset.
	LastKnownUsage int64 `json:"last_known_usage"`

	// CreatedAt is the timestamp when the user was first provisioned.
	CreatedAt time.Time `json:"created_at"`

	// LastLoginAt is the timestamp of the most recent login.
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	// LastActivityAt is the timestamp of the most recent observed key usage.
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`

	// UpdatedAt is the timestamp when the record was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser creates a new User provisioned at first login.
func NewUser(externalID, name string, trustLevel int) *User {
	now := time.Now().UTC()
	return &User{
		ExternalID:  externalID,
		Name:        name,
		TrustLevel:  trustLevel,
		CreatedAt:   now,
		LastLoginAt: &now,
		UpdatedAt:   now,
	}
}

// HasRemoteKey returns true if the user has a provisioned remote key.
func (u *User) HasRemoteKey() bool {
	return u.RemoteKeyID != nil
}

// EffectiveLastActivity resolves the timestamp used for inactivity
// computation: the first non-nil of LastActivityAt, LastLoginAt and
// CreatedAt, in that precedence.
func (u *User) EffectiveLastActivity() time.Time {
	if u.LastActivityAt != nil {
		return *u.LastActivityAt
	}
	if u.LastLoginAt != nil {
		return *u.LastLoginAt
	}
	return u.CreatedAt
}
