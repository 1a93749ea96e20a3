// Package lock provides distributed and local locking abstractions.
// For single-node deployments, memory-based locks are used.
// For multi-instance deployments, Redis-based locks can be used.
package lock

import (
	"context"
	"fmt"
	"time"
)

// Locker defines the interface for advisory locking.
// This abstraction allows switching between in-memory locks (single node)
// and Redis-based locks (multi instance) without changing business logic.
type Locker interface {
	// Acquire attempts to acquire a lock.
	// Returns true if the lock was acquired, false if it is held elsewhere.
	// The lock automatically expires after the specified TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release releases a lock.
	// Returns true if the lock was released, false if it wasn't held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend extends the TTL of a held lock.
	// Returns true if the lock was extended, false if it's not held.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld checks if the lock is currently held.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Keys provides lock key generation for common scenarios.
var Keys = lockKeys{}

type lockKeys struct{}

// Sweep is the lock guarding the daily reactivation sweep.
func (lockKeys) Sweep() string {
	return "keysmith:sweep"
}

// User is the per-user advisory lock key.
func (lockKeys) User(id int64) string {
	return fmt.Sprintf("keysmith:user:%d", id)
}
