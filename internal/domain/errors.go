// Package domain contains the core business entities for Keysmith.
package domain

import (
	"errors"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same external ID exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrUserBanned indicates the user is banned and outside policy scope.
	ErrUserBanned = errors.New("user is banned")

	// ErrNoRemoteKey indicates the user has no provisioned remote key.
	ErrNoRemoteKey = errors.New("user has no remote key")

	// ErrPolicyNotFound indicates the policy configuration row does not exist.
	ErrPolicyNotFound = errors.New("policy configuration not found")

	// ErrInvalidThreshold indicates the inactivity threshold is out of range.
	ErrInvalidThreshold = errors.New("inactivity threshold must be between 1 and 168 hours")

	// ErrInvalidReactivateTime indicates the daily reactivation time-of-day is invalid.
	ErrInvalidReactivateTime = errors.New("daily reactivation time must be a valid hour and minute")
)
