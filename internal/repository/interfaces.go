// Package repository defines data access interfaces for Keysmith.
// These interfaces abstract database operations, allowing for different
// implementations (SQLite, PostgreSQL, in-memory for testing) while
// keeping the service layer clean.
package repository

import (
	"context"
	"time"

	"github.com/quartzlab/keysmith/internal/domain"
)

// UserRepository defines the interface for tracked-user data access.
// The store is assumed to provide atomic read-modify-write at row
// granularity; there is no cross-request mutual exclusion.
type UserRepository interface {
	// Create creates a new tracked user.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by internal ID.
	GetByID(ctx context.Context, id int64) (*domain.User, error)

	// GetByExternalID retrieves a user by identity-provider ID.
	GetByExternalID(ctx context.Context, externalID string) (*domain.User, error)

	// Update updates an existing user record.
	Update(ctx context.Context, user *domain.User) error

	// UpdateActivity persists the usage counter and, when lastActivityAt
	// is non-nil, the activity timestamp in one write.
	UpdateActivity(ctx context.Context, id int64, lastKnownUsage int64, lastActivityAt *time.Time) error

	// UpdateLastLogin persists the last login timestamp.
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error

	// SetAutoDisabled marks the user's key as auto-disabled at the given instant.
	SetAutoDisabled(ctx context.Context, id int64, at time.Time) error

	// ClearAutoDisabled clears the auto-disabled flag and timestamp.
	ClearAutoDisabled(ctx context.Context, id int64) error

	// ListWithRemoteKey returns all non-banned users that have a
	// provisioned remote key. This is the reactivation sweep population.
	ListWithRemoteKey(ctx context.Context) ([]*domain.User, error)
}

// PolicyRepository defines the interface for the singleton policy
// configuration row.
type PolicyRepository interface {
	// Get retrieves the configuration row.
	// Returns domain.ErrPolicyNotFound if it has not been created yet.
	Get(ctx context.Context) (*domain.PolicyConfig, error)

	// Create inserts the configuration row. A concurrent create of the
	// singleton must not fail the caller; last write wins.
	Create(ctx context.Context, cfg *domain.PolicyConfig) error

	// Update persists the tunable fields. Last write wins.
	Update(ctx context.Context, cfg *domain.PolicyConfig) error

	// CompleteSweep conditionally records the sweep as done for the
	// window identified by boundary: last_sweep_at is set to boundary
	// only when it is currently null or older than boundary. Returns
	// whether the row was updated, which makes the sweep idempotent
	// per window across process instances.
	CompleteSweep(ctx context.Context, boundary time.Time) (bool, error)
}

// Repositories holds all repository instances for one database backend.
type Repositories struct {
	Users  UserRepository
	Policy PolicyRepository
}

// DatabaseHealth is an interface for database health checks.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Close() error
}
