package domain

import (
	"time"
)

// PolicyConfigID is the fixed row ID of the singleton policy configuration.
const PolicyConfigID int64 = 1

// Inactivity threshold bounds, in hours.
const (
	MinInactivityThresholdHours = 1
	MaxInactivityThresholdHours = 168
)

// ReactivateZone is the fixed civil-time zone (+08:00) in which the daily
// reactivation boundary time-of-day is interpreted.
var ReactivateZone = time.FixedZone("UTC+08", 8*60*60)

// PolicyConfig is the singleton tunable configuration of the policy engine.
// All numeric fields are kept clamped into their valid ranges; out-of-range
// stored values are silently corrected on read.
type PolicyConfig struct {
	// ID is always PolicyConfigID.
	ID int64 `json:"-"`

	// InactivityThresholdHours is the inactivity duration after which a
	// user's key is auto-disabled. Valid range [1,168].
	InactivityThresholdHours int `json:"inactivity_threshold_hours"`

	// DailyReactivateHour is the hour-of-day (in ReactivateZone) of the
	// daily reactivation window boundary. Valid range [0,23].
	DailyReactivateHour int `json:"daily_reactivate_hour"`

	// DailyReactivateMinute is the minute-of-hour of the boundary.
	// Valid range [0,59].
	DailyReactivateMinute int `json:"daily_reactivate_minute"`

	// LastSweepAt is the boundary instant of the most recent window for
	// which the reactivation sweep completed. Nil means no sweep has run.
	LastSweepAt *time.Time `json:"last_sweep_at,omitempty"`

	// UpdatedAt is the timestamp when the configuration was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPolicyConfig returns the configuration created on first access.
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		ID:                       PolicyConfigID,
		InactivityThresholdHours: 72,
		DailyReactivateHour:      8,
		DailyReactivateMinute:    0,
		UpdatedAt:                time.Now().UTC(),
	}
}

// Clamp corrects out-of-range values in place and reports whether
// anything changed. Used for silently repairing stored configuration.
func (c *PolicyConfig) Clamp() bool {
	changed := false
	if v := clampInt(c.InactivityThresholdHours, MinInactivityThresholdHours, MaxInactivityThresholdHours); v != c.InactivityThresholdHours {
		c.InactivityThresholdHours = v
		changed = true
	}
	if v := clampInt(c.DailyReactivateHour, 0, 23); v != c.DailyReactivateHour {
		c.DailyReactivateHour = v
		changed = true
	}
	if v := clampInt(c.DailyReactivateMinute, 0, 59); v != c.DailyReactivateMinute {
		c.DailyReactivateMinute = v
		changed = true
	}
	return changed
}

// Validate checks the range constraints without correcting them.
// Administrative updates reject invalid input instead of clamping it.
func (c *PolicyConfig) Validate() error {
	if c.InactivityThresholdHours < MinInactivityThresholdHours || c.InactivityThresholdHours > MaxInactivityThresholdHours {
		return ErrInvalidThreshold
	}
	if c.DailyReactivateHour < 0 || c.DailyReactivateHour > 23 {
		return ErrInvalidReactivateTime
	}
	if c.DailyReactivateMinute < 0 || c.DailyReactivateMinute > 59 {
		return ErrInvalidReactivateTime
	}
	return nil
}

// InactivityThreshold returns the threshold as a duration.
func (c *PolicyConfig) InactivityThreshold() time.Duration {
	return time.Duration(c.InactivityThresholdHours) * time.Hour
}

// LatestBoundary computes the most recent reactivation window boundary
// instant that is not after now. The configured time-of-day is taken on
// now's civil date in ReactivateZone; if that instant is still in the
// future, the boundary falls on the previous day.
func (c *PolicyConfig) LatestBoundary(now time.Time) time.Time {
	local := now.In(ReactivateZone)
	boundary := time.Date(
		local.Year(), local.Month(), local.Day(),
		c.DailyReactivateHour, c.DailyReactivateMinute, 0, 0,
		ReactivateZone,
	)
	if boundary.After(now) {
		boundary = boundary.Add(-24 * time.Hour)
	}
	return boundary
}

// NextReactivation returns the boundary instant of the next window,
// always strictly after now.
func (c *PolicyConfig) NextReactivation(now time.Time) time.Time {
	return c.LatestBoundary(now).Add(24 * time.Hour)
}

// SweepDoneFor reports whether the sweep has already completed for the
// window identified by the given boundary instant.
func (c *PolicyConfig) SweepDoneFor(boundary time.Time) bool {
	return c.LastSweepAt != nil && !c.LastSweepAt.Before(boundary)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
