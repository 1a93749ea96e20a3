package domain

import (
	"time"
)

// KeyStatus represents the aggregate status of a user's API key as seen
// by the policy engine.
type KeyStatus string

const (
	// KeyStatusActive indicates the key is usable.
	KeyStatusActive KeyStatus = "active"

	// KeyStatusDisabled indicates the key has been auto-disabled.
	KeyStatusDisabled KeyStatus = "disabled"
)

// Usage holds the usage counters reported by the remote key service for
// a single key.
type Usage struct {
	// Used is the cumulative usage counter.
	Used int64 `json:"used"`

	// Limit is the configured quota limit.
	Limit int64 `json:"limit"`

	// Remaining is the remaining quota.
	Remaining int64 `json:"remaining"`
}

// KeyState is the policy-state projection returned to callers after an
// evaluation. It is the only externally observable contract of the
// core. The HTTP layer owns the wire shape; this struct is not
// serialized directly.
type KeyState struct {
	// Usage is the current usage snapshot, nil when the user has no key
	// or the usage fetch failed this cycle.
	Usage *Usage

	// Status is the aggregate key status.
	Status KeyStatus

	// AutoDisabledAt is the instant the key was auto-disabled, if it is.
	AutoDisabledAt *time.Time

	// EffectiveLastActivity is the resolved activity timestamp used for
	// the inactivity computation.
	EffectiveLastActivity time.Time

	// NextReactivationAt is the boundary instant of the next
	// reactivation window, always in the future.
	NextReactivationAt time.Time

	// Policy is the configuration the evaluation was made against.
	Policy PolicyConfig
}
