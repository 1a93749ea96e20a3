// Package service provides the business logic of the Keysmith policy engine.
package service

import "errors"

// Common service errors.
var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrReactivationFailed indicates the login-time reactivation call to
	// the remote key service failed. Surfaced to the login flow as its
	// own failure category, distinct from generic auth failure.
	ErrReactivationFailed = errors.New("key reactivation failed")

	// ErrInvalidPolicy indicates an administrative policy update was
	// rejected for out-of-range values.
	ErrInvalidPolicy = errors.New("invalid policy configuration")

	// ErrInternalError indicates an unexpected infrastructure failure.
	ErrInternalError = errors.New("internal server error")
)
